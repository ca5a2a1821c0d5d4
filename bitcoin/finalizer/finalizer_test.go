// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package finalizer_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/harvy-btc/harvy/bitcoin"
	"github.com/harvy-btc/harvy/bitcoin/finalizer"
	"github.com/harvy-btc/harvy/bitcoin/signer"
)

type stubBroadcaster struct {
	calls int
	txID  string
	err   error
}

func (s *stubBroadcaster) Broadcast(_ context.Context, _ string) (string, error) {
	s.calls++

	return s.txID, s.err
}

type psbtFixture struct {
	key     *btcec.PrivateKey
	address btcutil.Address
	script  []byte
}

func newPSBTFixture(t *testing.T) *psbtFixture {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	address, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(txscript.ComputeTaprootKeyNoScript(key.PubKey())), &chaincfg.MainNetParams)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(address)
	require.NoError(t, err)

	return &psbtFixture{key: key, address: address, script: script}
}

// packet builds a PSBT spending one taproot output of the fixture key into
// the given output values, signed when sign is set.
func (f *psbtFixture) packet(t *testing.T, sign bool, outValues ...int64) string {
	var prevHash chainhash.Hash
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	for _, value := range outValues {
		tx.AddTxOut(wire.NewTxOut(value, f.script))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(100000, f.script)
	packet.Inputs[0].SighashType = txscript.SigHashAll
	packet.Inputs[0].TaprootInternalKey = f.key.PubKey().SerializeCompressed()[1:]

	buf := bytes.NewBuffer(nil)
	require.NoError(t, packet.Serialize(buf))

	serialized := buf.Bytes()
	if sign {
		serialized, err = signer.NewSigner(&chaincfg.MainNetParams).SignTaproot(signer.SignTaprootParams{
			SerializedPSBT: serialized,
			Inputs:         []int{0},
			PrivateKey:     f.key,
		})
		require.NoError(t, err)
	}

	return base64.StdEncoding.EncodeToString(serialized)
}

func TestFinalizeAndBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newPSBTFixture(t)

	t.Run("happy path", func(t *testing.T) {
		caster := &stubBroadcaster{txID: "accepted-txid"}
		fin := finalizer.NewFinalizer(&chaincfg.MainNetParams, caster)

		txID, err := fin.FinalizeAndBroadcast(ctx, f.packet(t, true, 40000, 50000))
		require.NoError(t, err)
		require.Equal(t, "accepted-txid", txID)
		require.Equal(t, 1, caster.calls)
	})

	t.Run("rejects single output before broadcast", func(t *testing.T) {
		caster := &stubBroadcaster{}
		fin := finalizer.NewFinalizer(&chaincfg.MainNetParams, caster)

		_, err := fin.FinalizeAndBroadcast(ctx, f.packet(t, true, 90000))
		require.ErrorIs(t, err, bitcoin.ErrSanityCheck)
		require.Zero(t, caster.calls)
	})

	t.Run("rejects excessive total value", func(t *testing.T) {
		caster := &stubBroadcaster{}
		fin := finalizer.NewFinalizer(&chaincfg.MainNetParams, caster)

		_, err := fin.FinalizeAndBroadcast(ctx, f.packet(t, true, 6*bitcoin.SatoshiPerBitcoin, 5*bitcoin.SatoshiPerBitcoin))
		require.ErrorIs(t, err, bitcoin.ErrSanityCheck)
		require.Zero(t, caster.calls)
	})

	t.Run("rejects unsigned packet", func(t *testing.T) {
		caster := &stubBroadcaster{}
		fin := finalizer.NewFinalizer(&chaincfg.MainNetParams, caster)

		_, err := fin.FinalizeAndBroadcast(ctx, f.packet(t, false, 40000, 50000))
		require.ErrorIs(t, err, bitcoin.ErrFinalization)
		require.Zero(t, caster.calls)
	})

	t.Run("rejects garbage input", func(t *testing.T) {
		caster := &stubBroadcaster{}
		fin := finalizer.NewFinalizer(&chaincfg.MainNetParams, caster)

		_, err := fin.FinalizeAndBroadcast(ctx, "not a psbt")
		require.ErrorIs(t, err, bitcoin.ErrSanityCheck)
		require.Zero(t, caster.calls)
	})

	t.Run("broadcast rejection is surfaced once", func(t *testing.T) {
		caster := &stubBroadcaster{err: bitcoin.ErrBroadcastRejected}
		fin := finalizer.NewFinalizer(&chaincfg.MainNetParams, caster)

		_, err := fin.FinalizeAndBroadcast(ctx, f.packet(t, true, 40000, 50000))
		require.ErrorIs(t, err, bitcoin.ErrBroadcastRejected)
		require.Equal(t, 1, caster.calls)
	})
}

func TestVerifyExpected(t *testing.T) {
	f := newPSBTFixture(t)
	fin := finalizer.NewFinalizer(&chaincfg.MainNetParams, &stubBroadcaster{})

	packet := f.packet(t, true, 40000, 50000)
	address := f.address.EncodeAddress()

	t.Run("matching intent", func(t *testing.T) {
		err := fin.VerifyExpected(packet, bitcoin.ExpectedSwap{Outputs: []bitcoin.ExpectedOutput{
			{Address: address, AmountSats: 40000},
			{Address: address, AmountSats: 50000},
		}})
		require.NoError(t, err)
	})

	t.Run("diverging value", func(t *testing.T) {
		err := fin.VerifyExpected(packet, bitcoin.ExpectedSwap{Outputs: []bitcoin.ExpectedOutput{
			{Address: address, AmountSats: 40000},
			{Address: address, AmountSats: 99999},
		}})
		require.ErrorIs(t, err, bitcoin.ErrIntentMismatch)
	})

	t.Run("diverging output count", func(t *testing.T) {
		err := fin.VerifyExpected(packet, bitcoin.ExpectedSwap{Outputs: []bitcoin.ExpectedOutput{
			{Address: address, AmountSats: 40000},
		}})
		require.ErrorIs(t, err, bitcoin.ErrIntentMismatch)
	})
}
