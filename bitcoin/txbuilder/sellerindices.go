// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// ErrUnknownHelpingKey defines that the helping key is unknown.
var ErrUnknownHelpingKey = errors.New("unknown inputs helping key")

// InputsHelpingKey defines type for additional data in PSBT Unknowns field
// to distinguish which input indexes each party must sign.
type InputsHelpingKey byte

const (
	// SellerInputsHelpingKey defines key for the seller's inscription inputs.
	SellerInputsHelpingKey InputsHelpingKey = 0x10
	// OperatorInputsHelpingKey defines key for the operator's funding inputs.
	OperatorInputsHelpingKey InputsHelpingKey = 0x20
)

// Bytes returns InputsHelpingKey as bytes array.
func (k InputsHelpingKey) Bytes() []byte {
	return []byte{byte(k)}
}

// Byte returns InputsHelpingKey as byte.
func (k InputsHelpingKey) Byte() byte {
	return byte(k)
}

// embedInputIndexes records the given input indexes in the packet Unknowns
// under the provided helping key so wallets can discover them from the PSBT
// itself, in addition to the explicit index list in the build result.
func embedInputIndexes(packet *psbt.Packet, key InputsHelpingKey, indexes []int) {
	value := make([]byte, len(indexes))
	for i, idx := range indexes {
		value[i] = byte(idx)
	}

	packet.Unknowns = append(packet.Unknowns, &psbt.Unknown{Key: key.Bytes(), Value: value})
}

// ExtractInputIndexesFromPSBT returns the input indexes recorded in the PSBT
// Unknowns per helping key. Used by wallet integrations to learn which
// indexes are theirs to sign without trusting an out-of-band list.
func ExtractInputIndexesFromPSBT(data []byte) (map[InputsHelpingKey][]int, error) {
	var result = make(map[InputsHelpingKey][]int, 2)
	p, err := psbt.NewFromRawBytes(bytes.NewBuffer(data), false)
	if err != nil {
		return nil, err
	}

	for _, unknown := range p.Unknowns {
		if len(unknown.Key) != 1 {
			continue
		}

		var key InputsHelpingKey
		switch unknown.Key[0] {
		case SellerInputsHelpingKey.Byte():
			key = SellerInputsHelpingKey
		case OperatorInputsHelpingKey.Byte():
			key = OperatorInputsHelpingKey
		default:
			return nil, ErrUnknownHelpingKey
		}

		result[key] = make([]int, len(unknown.Value))
		for idx, val := range unknown.Value {
			result[key][idx] = int(val)
		}
	}

	return result, nil
}
