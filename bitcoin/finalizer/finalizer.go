// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package finalizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/harvy-btc/harvy/bitcoin"
)

// maxTotalOutputSats caps the total value a finalized transaction may move,
// a last-resort guard against a catastrophic accounting bug.
const maxTotalOutputSats = 10 * bitcoin.SatoshiPerBitcoin

// Broadcaster submits a finalized raw transaction to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// Finalizer validates a fully-signed PSBT's structural sanity, finalizes it
// into a raw transaction and submits it to the network. It performs
// structural checks only, semantic verification against the original intent
// is the separate VerifyExpected step.
type Finalizer struct {
	networkParams *chaincfg.Params
	caster        Broadcaster
}

// NewFinalizer is a constructor for Finalizer.
func NewFinalizer(networkParams *chaincfg.Params, caster Broadcaster) *Finalizer {
	return &Finalizer{
		networkParams: networkParams,
		caster:        caster,
	}
}

// FinalizeAndBroadcast checks, finalizes and submits a fully-signed PSBT.
// The PSBT is consumed exactly once, a broadcast rejection is surfaced
// verbatim and never retried here.
func (f *Finalizer) FinalizeAndBroadcast(ctx context.Context, psbtBase64 string) (string, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(psbtBase64), true)
	if err != nil {
		return "", errors.Join(bitcoin.ErrSanityCheck, err)
	}

	if err := SanityCheck(packet); err != nil {
		return "", err
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return "", errors.Join(bitcoin.ErrFinalization, err)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return "", errors.Join(bitcoin.ErrFinalization, err)
	}

	w := bytes.NewBuffer(nil)
	if err := tx.Serialize(w); err != nil {
		return "", err
	}

	txID, err := f.caster.Broadcast(ctx, fmt.Sprintf("%x", w.Bytes()))
	if err != nil {
		return "", err
	}

	return txID, nil
}

// SanityCheck runs the mandatory structural checks: at least one input, at
// least two outputs, and a bounded total output value.
func SanityCheck(packet *psbt.Packet) error {
	if len(packet.Inputs) < 1 {
		return errors.Join(bitcoin.ErrSanityCheck, errors.New("no inputs"))
	}

	if len(packet.UnsignedTx.TxOut) < 2 {
		return errors.Join(bitcoin.ErrSanityCheck, errors.New("less than two outputs"))
	}

	var totalOut int64
	for _, out := range packet.UnsignedTx.TxOut {
		totalOut += out.Value
	}
	if totalOut >= maxTotalOutputSats {
		return errors.Join(bitcoin.ErrSanityCheck, fmt.Errorf("total output %d sat above ceiling", totalOut))
	}

	return nil
}

// VerifyExpected re-derives outputs from the PSBT's own contents and compares
// them against the recorded swap intent. Run by the service layer right
// before broadcast when a commitment for the PSBT exists.
func (f *Finalizer) VerifyExpected(psbtBase64 string, expected bitcoin.ExpectedSwap) error {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(psbtBase64), true)
	if err != nil {
		return errors.Join(bitcoin.ErrIntentMismatch, err)
	}

	outs := packet.UnsignedTx.TxOut
	if len(outs) != len(expected.Outputs) {
		return errors.Join(bitcoin.ErrIntentMismatch,
			fmt.Errorf("output count %d, expected %d", len(outs), len(expected.Outputs)))
	}

	for i, want := range expected.Outputs {
		script, err := f.addressScript(want.Address)
		if err != nil {
			return errors.Join(bitcoin.ErrIntentMismatch, err)
		}

		if outs[i].Value != want.AmountSats || !bytes.Equal(outs[i].PkScript, script) {
			return errors.Join(bitcoin.ErrIntentMismatch, fmt.Errorf("output %d diverges from intent", i))
		}
	}

	return nil
}

// addressScript returns the ScriptPubKey paying to the given address.
func (f *Finalizer) addressScript(address string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, f.networkParams)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(decoded)
}
