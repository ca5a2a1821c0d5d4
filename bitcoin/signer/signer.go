// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/harvy-btc/harvy/bitcoin"
)

// SignTaprootParams defines parameters for SignTaproot method.
type SignTaprootParams struct {
	SerializedPSBT []byte
	Inputs         []int // inputs indexes.
	PrivateKey     *btcec.PrivateKey
}

// Signer provides transaction signing related logic for taproot key-spend
// inputs. One party signs only its own input indexes, the PSBT travels to the
// counterparty for the rest.
type Signer struct {
	networkParams *chaincfg.Params
}

// NewSigner is a constructor for Signer.
func NewSigner(networkParams *chaincfg.Params) *Signer {
	return &Signer{
		networkParams: networkParams,
	}
}

// SignTaproot signs taproot inputs by provided indexes, returns updated serialized PSBT.
func (signer *Signer) SignTaproot(params SignTaprootParams) ([]byte, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewBuffer(params.SerializedPSBT), false)
	if err != nil {
		return nil, err
	}

	inputFetcher := prevOutputFetcher(packet)
	for _, input := range params.Inputs {
		if input < 0 || len(packet.Inputs) <= input {
			return nil, errors.New("invalid input index")
		}

		err = signTaprootInput(packet, input, inputFetcher, params.PrivateKey)
		if err != nil {
			return nil, err
		}
	}

	w := bytes.NewBuffer(nil)
	err = packet.Serialize(w)
	if err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

// VerifyTaproot checks that every listed input carries a schnorr signature
// that validates against the input's own prevout key for the exact sighash of
// this transaction. A failure here means the signing key does not control the
// spent outputs, which is fatal misconfiguration rather than a transient condition.
func (signer *Signer) VerifyTaproot(serializedPSBT []byte, inputs []int) error {
	packet, err := psbt.NewFromRawBytes(bytes.NewBuffer(serializedPSBT), false)
	if err != nil {
		return errors.Join(bitcoin.ErrSignatureValidation, err)
	}

	var (
		tx           = packet.UnsignedTx
		inputFetcher = prevOutputFetcher(packet)
		sigHashes    = txscript.NewTxSigHashes(tx, inputFetcher)
	)
	for _, input := range inputs {
		if input < 0 || len(packet.Inputs) <= input {
			return errors.Join(bitcoin.ErrSignatureValidation, errors.New("invalid input index"))
		}

		err = verifyTaprootInput(packet, input, sigHashes, inputFetcher)
		if err != nil {
			return errors.Join(bitcoin.ErrSignatureValidation, fmt.Errorf("input %d: %w", input, err))
		}
	}

	return nil
}

// signTaprootInput signs a taproot key-spend input in place.
func signTaprootInput(packet *psbt.Packet, input int, inputFetcher txscript.PrevOutputFetcher, privateKey *btcec.PrivateKey) error {
	var (
		in          = &packet.Inputs[input]
		sigHashes   = txscript.NewTxSigHashes(packet.UnsignedTx, inputFetcher)
		value       = in.WitnessUtxo.Value
		pkScript    = in.WitnessUtxo.PkScript
		sigHashType = in.SighashType
	)

	witness, err := txscript.TaprootWitnessSignature(
		packet.UnsignedTx, sigHashes, input,
		value, pkScript, sigHashType, privateKey)
	if err != nil {
		return err
	}

	in.TaprootKeySpendSig = witness[0]

	return nil
}

// verifyTaprootInput validates one key-spend signature against the output key
// embedded in the prevout script.
func verifyTaprootInput(packet *psbt.Packet, input int, sigHashes *txscript.TxSigHashes, inputFetcher txscript.PrevOutputFetcher) error {
	in := &packet.Inputs[input]
	if in.WitnessUtxo == nil {
		return errors.New("missing witness utxo")
	}

	sig := in.TaprootKeySpendSig
	switch len(sig) {
	case schnorr.SignatureSize:
	case schnorr.SignatureSize + 1:
		// trailing sighash type byte.
		sig = sig[:schnorr.SignatureSize]
	default:
		return errors.New("missing key-spend signature")
	}

	pkScript := in.WitnessUtxo.PkScript
	if len(pkScript) != 34 || pkScript[0] != txscript.OP_1 {
		return errors.New("prevout is not a v1 taproot output")
	}

	outputKey, err := schnorr.ParsePubKey(pkScript[2:])
	if err != nil {
		return err
	}

	sigHash, err := txscript.CalcTaprootSignatureHash(sigHashes, in.SighashType, packet.UnsignedTx, input, inputFetcher)
	if err != nil {
		return err
	}

	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return err
	}

	if !parsedSig.Verify(sigHash, outputKey) {
		return errors.New("signature does not verify against prevout key")
	}

	return nil
}

// prevOutputFetcher builds a fetcher over every input's witness utxo.
func prevOutputFetcher(packet *psbt.Packet) txscript.PrevOutputFetcher {
	fetcherMap := make(map[wire.OutPoint]*wire.TxOut, len(packet.Inputs))
	for idx, in := range packet.Inputs {
		fetcherMap[packet.UnsignedTx.TxIn[idx].PreviousOutPoint] = in.WitnessUtxo
	}

	return txscript.NewMultiPrevOutFetcher(fetcherMap)
}
