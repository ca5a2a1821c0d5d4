// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package inscriptions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// idSeparator defines separator between TxID and Index in inscription ID.
const idSeparator string = "i"

// ID describes inscription identifier.
type ID struct {
	TxID  *chainhash.Hash // Reveal transaction ID.
	Index uint32          // The index of new inscriptions being inscribed in the reveal transaction.
}

// NewIDFromString parses inscription ID from string.
func NewIDFromString(idStr string) (*ID, error) {
	parts := strings.Split(idStr, idSeparator)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid ID format: %s", idStr)
	}

	if len(parts[0]) != chainhash.MaxHashStringSize {
		return nil, fmt.Errorf("invalid TxID format: %s", idStr)
	}

	txID, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return nil, err
	}

	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, err
	}

	return &ID{TxID: txID, Index: uint32(index)}, nil
}

// String returns inscription ID as string.
func (id *ID) String() string {
	return fmt.Sprintf("%s%s%d", id.TxID.String(), idSeparator, id.Index)
}

// OutPoint returns the coordinates of the UTXO that currently holds the inscription.
func (id *ID) OutPoint() wire.OutPoint {
	return *wire.NewOutPoint(id.TxID, id.Index)
}

// TxHashString returns the reveal transaction ID as string.
func (id *ID) TxHashString() string {
	return id.TxID.String()
}
