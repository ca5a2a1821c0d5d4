// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/harvy-btc/harvy/bitcoin"
)

// ErrPSBTInputBuilder defines errors class for prepare input data methods.
var ErrPSBTInputBuilder = errors.New("prepare psbt input")

const (
	// P2WPKH defines P2WPKH (witness public key hash) script type over which the address is built.
	P2WPKH = "P2WPKH"
	// P2TR defines P2TR (taproot) script type over which the address is built.
	P2TR = "P2TR"
)

// PSBTInputBuilder is a helping tool to prepare psbt inputs based on the
// owning address type. Inscription-holding and operator funding outputs are
// expected to be taproot, operator wallets on P2WPKH remain supported.
type PSBTInputBuilder struct {
	params      *chaincfg.Params
	scriptType  string
	address     btcutil.Address
	xOnlyPubKey []byte
}

// NewPSBTInputBuilder is a constructor for PSBTInputBuilder. pubKey may be
// empty when the counterparty wallet fills its own key material.
func NewPSBTInputBuilder(pubKey, address string, networkParams *chaincfg.Params) (pib *PSBTInputBuilder, err error) {
	pib = &PSBTInputBuilder{params: networkParams}

	defer func(err *error) {
		if err != nil && *err != nil {
			*err = errors.Join(ErrPSBTInputBuilder, *err)
		}
	}(&err)

	if pubKey != "" {
		publicKeyBytes, err := hex.DecodeString(pubKey)
		if err != nil {
			return pib, err
		}

		switch len(publicKeyBytes) {
		case 33:
			pib.xOnlyPubKey = publicKeyBytes[1:]
		case 32:
			pib.xOnlyPubKey = publicKeyBytes
		default:
			return pib, errors.New("unexpected public key length")
		}
	}

	pib.address, err = btcutil.DecodeAddress(address, pib.params)
	if err != nil {
		return pib, err
	}

	switch pib.address.(type) {
	case *btcutil.AddressTaproot:
		pib.scriptType = P2TR
	case *btcutil.AddressWitnessPubKeyHash:
		pib.scriptType = P2WPKH
	default:
		return pib, btcutil.ErrUnknownAddressType
	}

	return pib, nil
}

// PrepareInput fills the psbt input with witness data, the raw containing
// transaction and key material based on the owning address type.
func (pib *PSBTInputBuilder) PrepareInput(input *psbt.PInput, utxo *bitcoin.UTXO) error {
	input.WitnessUtxo = wire.NewTxOut(utxo.Amount, utxo.Script)
	input.SighashType = signHashType

	if len(utxo.RawTx) != 0 {
		rawTx := wire.NewMsgTx(txVersion)
		if err := rawTx.Deserialize(bytes.NewReader(utxo.RawTx)); err != nil {
			return errors.Join(ErrPSBTInputBuilder, err)
		}

		input.NonWitnessUtxo = rawTx
	}

	switch pib.scriptType {
	case P2TR:
		input.TaprootInternalKey = pib.xOnlyPubKey
	case P2WPKH:
		script, err := txscript.PayToAddrScript(pib.address)
		if err != nil {
			return errors.Join(ErrPSBTInputBuilder, err)
		}

		input.WitnessScript = script
	}

	return nil
}

// ScriptType returns underlying script type.
func (pib *PSBTInputBuilder) ScriptType() string {
	return pib.scriptType
}
