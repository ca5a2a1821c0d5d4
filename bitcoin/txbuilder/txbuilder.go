// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/harvy-btc/harvy/bitcoin"
	"github.com/harvy-btc/harvy/bitcoin/ord/inscriptions"
	"github.com/harvy-btc/harvy/bitcoin/signer"
	"github.com/harvy-btc/harvy/pricing"
)

// UTXOSource is the lookup oracle for unspent outputs and raw transactions.
// It is the only shared state between concurrent builds, double-spend of
// overlapping outputs is resolved at broadcast time by the network.
type UTXOSource interface {
	UTXOs(ctx context.Context, address string) ([]bitcoin.UTXO, error)
	RawTransaction(ctx context.Context, txID string) ([]byte, error)
}

// Config holds the immutable swap construction parameters, loaded once at
// process start and passed in explicitly.
type Config struct {
	NetworkParams     *chaincfg.Params
	OperatorAddress   string
	SellerPaymentSats int64 // fixed payment per inscription.
	DustLimitSats     int64
	SatsPerVByte      int64
	MaxLossSats       int64 // per-build realized loss ceiling.
	MaxFeeUSD         float64
	MaxBatchSize      int
}

// SwapIntent describes one inscription position offered for sale.
type SwapIntent struct {
	InscriptionID     string
	PurchasePriceSats int64
	CurrentPriceSats  int64
}

// SwapRequest describes what is being sold, by whom, and at which BTC/USD
// reference price. The only caller-supplied input, everything downstream is derived.
type SwapRequest struct {
	Intents       []SwapIntent
	SellerAddress string
	SellerPubKey  string // optional x-only or compressed public key hex for seller input metadata.
	BTCPriceUSD   float64
}

// Amounts enumerates every value computed for one swap transaction.
type Amounts struct {
	SellerPaymentSats int64
	InscriptionSats   int64 // total preserved inscription value.
	ServiceFeeSats    int64
	ChangeSats        int64
	NetworkFeeSats    int64 // implied by input/output accounting.
	TaxLossSats       int64
	TaxLossUSD        float64
	TaxSavingsUSD     float64
	FeeQuote          pricing.FeeQuote
}

// SwapResult is the partially signed swap ready for the seller's wallet.
// UnsignedTxID identifies the underlying transaction and stays stable while
// the seller adds key-spend signatures, witness data is excluded from the
// txid. ExpectedOutputs records every output in transaction order for
// pre-broadcast re-validation.
type SwapResult struct {
	PSBTBase64         string
	PSBTHex            string
	UnsignedTxID       string
	SellerSignIndices  []int
	OperatorInputCount int
	InputCount         int
	OutputCount        int
	ExpectedOutputs    []bitcoin.ExpectedOutput
	Amounts            Amounts
}

// SwapBuilder assembles atomic swap transactions moving inscriptions from a
// seller to the operator against a payment plus service fee. Each build is a
// self-contained request-scoped computation with no state shared between
// concurrent builds.
type SwapBuilder struct {
	cfg            Config
	source         UTXOSource
	calc           *pricing.Calculator
	signer         *signer.Signer
	operatorKey    *btcec.PrivateKey
	operatorPubKey string // x-only internal key hex.
}

// NewSwapBuilder is a constructor for SwapBuilder. Missing operator wallet
// configuration is fatal misconfiguration, reported immediately.
func NewSwapBuilder(cfg Config, source UTXOSource, calc *pricing.Calculator, operatorKey *btcec.PrivateKey) (*SwapBuilder, error) {
	if cfg.OperatorAddress == "" || operatorKey == nil {
		return nil, bitcoin.ErrMissingOperatorConfig
	}

	addr, err := btcutil.DecodeAddress(cfg.OperatorAddress, cfg.NetworkParams)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrMissingOperatorConfig, err)
	}
	if _, ok := addr.(*btcutil.AddressTaproot); !ok {
		return nil, errors.Join(bitcoin.ErrMissingOperatorConfig, errors.New("operator address must be taproot"))
	}

	if cfg.SellerPaymentSats < cfg.DustLimitSats {
		return nil, errors.Join(bitcoin.ErrBelowDustLimit, errors.New("seller payment below dust limit"))
	}

	return &SwapBuilder{
		cfg:            cfg,
		source:         source,
		calc:           calc,
		signer:         signer.NewSigner(cfg.NetworkParams),
		operatorKey:    operatorKey,
		operatorPubKey: hex.EncodeToString(operatorKey.PubKey().SerializeCompressed()[1:]),
	}, nil
}

// BuildSwap assembles one PSBT moving one inscription from seller to operator
// against one payment plus fee from operator to seller. Only losing positions
// are purchasable.
func (b *SwapBuilder) BuildSwap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if len(req.Intents) != 1 {
		return nil, errors.Join(bitcoin.ErrInvalidTrade, errors.New("single swap requires exactly one intent"))
	}

	intent := req.Intents[0]
	if intent.PurchasePriceSats < 0 || intent.CurrentPriceSats < 0 {
		return nil, errors.Join(bitcoin.ErrInvalidTrade, errors.New("negative price"))
	}

	lossSats := intent.PurchasePriceSats - intent.CurrentPriceSats
	if lossSats <= 0 {
		return nil, bitcoin.ErrInvalidTrade
	}

	return b.build(ctx, req, lossSats)
}

// BuildBatchSwap generalizes BuildSwap to N inscriptions in one transaction.
// The aggregate loss across the whole batch must be positive.
func (b *SwapBuilder) BuildBatchSwap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if len(req.Intents) > b.cfg.MaxBatchSize {
		return nil, bitcoin.ErrBatchTooLarge
	}

	var lossSats int64
	for _, intent := range req.Intents {
		if intent.PurchasePriceSats < 0 || intent.CurrentPriceSats < 0 {
			return nil, errors.Join(bitcoin.ErrInvalidTrade, errors.New("negative price"))
		}

		lossSats += intent.PurchasePriceSats - intent.CurrentPriceSats
	}
	if lossSats <= 0 {
		return nil, bitcoin.ErrNoLossToHarvest
	}

	return b.build(ctx, req, lossSats)
}

// build runs the shared construction pass.
//
//	Tx struct
//	inputs:
//	┌─────────┬───────────────────┬────────────────────────────────────────┐
//	│  index  │       type        │             description                │
//	├=========┼===================┼========================================┤
//	│ 0 - k-1 │ operator funding  │ selected operator utxos, k of them     │
//	├─────────┼───────────────────┼────────────────────────────────────────┤
//	│ k - k+N │ inscription utxos │ seller's utxos holding the N           │
//	│         │                   │ inscriptions, in caller order          │
//	└─────────┴───────────────────┴────────────────────────────────────────┘
//
//	outputs:
//	┌─────────┬───────────────────┬────────────────────────────────────────┐
//	│  index  │       type        │             description                │
//	├=========┼===================┼========================================┤
//	│       0 │ seller payment    │ fixed payment × N, to seller           │
//	├─────────┼───────────────────┼────────────────────────────────────────┤
//	│ 1 - N   │ inscriptions      │ one per inscription, value preserved   │
//	│         │                   │ exactly, to operator, in input order   │
//	├─────────┼───────────────────┼────────────────────────────────────────┤
//	│     N+1 │ service fee       │ to operator. omitted if zero           │
//	├─────────┼───────────────────┼────────────────────────────────────────┤
//	│     N+2 │ operator change   │ omitted if below dust limit            │
//	└─────────┴───────────────────┴────────────────────────────────────────┘
//
// Signing indices depend on this order, it must never change without a
// protocol bump.
func (b *SwapBuilder) build(ctx context.Context, req SwapRequest, lossSats int64) (*SwapResult, error) {
	if lossSats > b.cfg.MaxLossSats {
		return nil, bitcoin.ErrLimitExceeded
	}

	if err := b.validateSellerAddress(req.SellerAddress); err != nil {
		return nil, err
	}

	ids := make([]*inscriptions.ID, len(req.Intents))
	seen := make(map[string]struct{}, len(req.Intents))
	for i, intent := range req.Intents {
		id, err := inscriptions.NewIDFromString(intent.InscriptionID)
		if err != nil {
			return nil, errors.Join(bitcoin.ErrInscriptionNotFound, err)
		}

		// duplicates would spend the same outpoint twice, consensus-invalid.
		if _, dup := seen[id.String()]; dup {
			return nil, errors.Join(bitcoin.ErrInvalidTrade, fmt.Errorf("duplicate inscription %s", id))
		}
		seen[id.String()] = struct{}{}

		ids[i] = id
	}

	lossUSD, err := pricing.SatsToUSD(lossSats, req.BTCPriceUSD)
	if err != nil {
		return nil, err
	}

	savingsUSD := b.calc.TaxSavings(lossUSD)
	quote := b.calc.ServiceFee(savingsUSD)
	if quote.FeeUSD > b.cfg.MaxFeeUSD {
		return nil, bitcoin.ErrFeeExceedsLimit
	}

	serviceFeeSats, err := pricing.USDToSats(quote.FeeUSD, req.BTCPriceUSD)
	if err != nil {
		return nil, err
	}

	// validation is done, network phase starts here. any lookup failure
	// aborts the whole build, a partial PSBT is never returned.
	inscriptionUTXOs, err := b.locateInscriptionUTXOs(ctx, req.SellerAddress, ids)
	if err != nil {
		return nil, err
	}

	operatorUTXOs, err := b.source.UTXOs(ctx, b.cfg.OperatorAddress)
	if err != nil {
		return nil, fmt.Errorf("operator utxo lookup: %w", err)
	}

	var (
		n            = len(req.Intents)
		paymentTotal = b.cfg.SellerPaymentSats * int64(n)
		target       = paymentTotal + serviceFeeSats
	)

	// payment + N preservation outputs + optional fee + assumed change.
	outCount := 2 + n
	if serviceFeeSats > 0 {
		outCount++
	}

	selected, changeSats, feeEstimate, err := b.selectFunding(operatorUTXOs, target, n, outCount)
	if err != nil {
		return nil, err
	}

	if err := b.attachRawTransactions(ctx, selected); err != nil {
		return nil, err
	}

	tx, amounts, expected, err := b.assemble(req, selected, inscriptionUTXOs, paymentTotal, serviceFeeSats, changeSats, feeEstimate)
	if err != nil {
		return nil, err
	}

	amounts.TaxLossSats = lossSats
	amounts.TaxLossUSD = lossUSD
	amounts.TaxSavingsUSD = savingsUSD
	amounts.FeeQuote = quote

	signedPSBT, sellerIndices, err := b.toSignedPSBT(req, tx, selected, inscriptionUTXOs)
	if err != nil {
		return nil, err
	}

	return &SwapResult{
		PSBTBase64:         base64.StdEncoding.EncodeToString(signedPSBT),
		PSBTHex:            hex.EncodeToString(signedPSBT),
		UnsignedTxID:       tx.TxHash().String(),
		SellerSignIndices:  sellerIndices,
		OperatorInputCount: len(selected),
		InputCount:         len(tx.TxIn),
		OutputCount:        len(tx.TxOut),
		ExpectedOutputs:    expected,
		Amounts:            *amounts,
	}, nil
}

// validateSellerAddress enforces the taproot address invariant for the active network.
func (b *SwapBuilder) validateSellerAddress(address string) error {
	prefix := b.cfg.NetworkParams.Bech32HRPSegwit + "1p"
	if !strings.HasPrefix(address, prefix) {
		return errors.Join(bitcoin.ErrInvalidAddress, fmt.Errorf("expected %s prefix", prefix))
	}

	decoded, err := btcutil.DecodeAddress(address, b.cfg.NetworkParams)
	if err != nil {
		return errors.Join(bitcoin.ErrInvalidAddress, err)
	}

	if _, ok := decoded.(*btcutil.AddressTaproot); !ok {
		return errors.Join(bitcoin.ErrInvalidAddress, errors.New("not a taproot address"))
	}

	return nil
}

// locateInscriptionUTXOs resolves each inscription ID to the seller's UTXO at
// those coordinates and attaches the raw containing transaction. The UTXO is
// assumed to still carry exactly that inscription, content verification is
// delegated to the caller.
func (b *SwapBuilder) locateInscriptionUTXOs(ctx context.Context, sellerAddress string, ids []*inscriptions.ID) ([]*bitcoin.UTXO, error) {
	sellerUTXOs, err := b.source.UTXOs(ctx, sellerAddress)
	if err != nil {
		return nil, fmt.Errorf("seller utxo lookup: %w", err)
	}

	located := make([]*bitcoin.UTXO, len(ids))
	for i, id := range ids {
		var (
			probe = bitcoin.UTXO{TxHash: id.TxHashString(), Index: id.Index}
			found *bitcoin.UTXO
		)
		for idx := range sellerUTXOs {
			if sellerUTXOs[idx].SameOutPoint(probe) {
				found = &sellerUTXOs[idx]
				break
			}
		}
		if found == nil {
			return nil, errors.Join(bitcoin.ErrInscriptionNotFound, fmt.Errorf("inscription %s", id))
		}

		located[i] = found
	}

	if err := b.attachRawTransactions(ctx, located); err != nil {
		return nil, err
	}

	return located, nil
}

// attachRawTransactions fetches the raw containing transaction for every
// UTXO and refreshes amount and script from it, the raw bytes are the
// authoritative source for PSBT input construction.
func (b *SwapBuilder) attachRawTransactions(ctx context.Context, utxos []*bitcoin.UTXO) error {
	for _, utxo := range utxos {
		if len(utxo.RawTx) != 0 {
			continue
		}

		rawTx, err := b.source.RawTransaction(ctx, utxo.TxHash)
		if err != nil {
			return fmt.Errorf("raw transaction %s: %w", utxo.TxHash, err)
		}

		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
			return fmt.Errorf("raw transaction %s: %w", utxo.TxHash, err)
		}

		if int(utxo.Index) >= len(tx.TxOut) {
			return errors.Join(bitcoin.ErrInscriptionNotFound, fmt.Errorf("output %d out of range in %s", utxo.Index, utxo.TxHash))
		}

		out := tx.TxOut[utxo.Index]
		utxo.RawTx = rawTx
		utxo.Amount = out.Value
		utxo.Script = out.PkScript
	}

	return nil
}

// selectFunding picks operator funding UTXOs, iterating the fee estimate until
// the assumed input count matches the selection.
func (b *SwapBuilder) selectFunding(operatorUTXOs []bitcoin.UTXO, target int64, inscriptionInputs, outCount int) (selected []*bitcoin.UTXO, changeSats, feeEstimate int64, err error) {
	var totalSats int64
	fundingInputs := 1
	for attempt := 0; attempt <= len(operatorUTXOs); attempt++ {
		feeEstimate = EstimateNetworkFee(fundingInputs+inscriptionInputs, outCount, b.cfg.SatsPerVByte)

		selected, totalSats, changeSats, err = SelectUTXOs(operatorUTXOs, target, feeEstimate)
		if err != nil {
			return nil, 0, 0, err
		}

		if len(selected) == fundingInputs {
			return selected, changeSats, feeEstimate, nil
		}

		fundingInputs = len(selected)
	}

	// the estimate grows with every extra input, so the loop either reaches a
	// fixpoint or runs the candidate set dry and fails selection above.
	return nil, 0, 0, NewInsufficientError(target+feeEstimate, totalSats)
}

// assemble builds the unsigned transaction in the fixed input/output order,
// records the expected output commitment alongside it and checks that no
// value is created or destroyed.
func (b *SwapBuilder) assemble(req SwapRequest, selected, inscriptionUTXOs []*bitcoin.UTXO, paymentTotal, serviceFeeSats, changeSats, feeEstimate int64) (*wire.MsgTx, *Amounts, []bitcoin.ExpectedOutput, error) {
	tx := wire.NewMsgTx(txVersion)

	var operatorInputSum int64
	for _, utxo := range selected {
		utxoHash, err := chainhash.NewHashFromStr(utxo.TxHash)
		if err != nil {
			return nil, nil, nil, err
		}

		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(utxoHash, utxo.Index), nil, nil))
		operatorInputSum += utxo.Amount
	}

	var inscriptionSum int64
	for _, utxo := range inscriptionUTXOs {
		utxoHash, err := chainhash.NewHashFromStr(utxo.TxHash)
		if err != nil {
			return nil, nil, nil, err
		}

		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(utxoHash, utxo.Index), nil, nil))
		inscriptionSum += utxo.Amount
	}

	sellerScript, err := payToAddressScript(req.SellerAddress, b.cfg.NetworkParams)
	if err != nil {
		return nil, nil, nil, err
	}

	operatorScript, err := payToAddressScript(b.cfg.OperatorAddress, b.cfg.NetworkParams)
	if err != nil {
		return nil, nil, nil, err
	}

	var expected []bitcoin.ExpectedOutput

	// seller payment output (#0).
	tx.AddTxOut(wire.NewTxOut(paymentTotal, sellerScript))
	expected = append(expected, bitcoin.ExpectedOutput{Address: req.SellerAddress, AmountSats: paymentTotal})

	// inscription preservation outputs (#1..N), values preserved exactly.
	for _, utxo := range inscriptionUTXOs {
		tx.AddTxOut(wire.NewTxOut(utxo.Amount, operatorScript))
		expected = append(expected, bitcoin.ExpectedOutput{Address: b.cfg.OperatorAddress, AmountSats: utxo.Amount})
	}

	// service fee output, omitted entirely if zero.
	if serviceFeeSats > 0 {
		tx.AddTxOut(wire.NewTxOut(serviceFeeSats, operatorScript))
		expected = append(expected, bitcoin.ExpectedOutput{Address: b.cfg.OperatorAddress, AmountSats: serviceFeeSats})
	}

	// operator change output, omitted if below dust, the remainder is then
	// left to the network fee.
	if changeSats >= b.cfg.DustLimitSats {
		tx.AddTxOut(wire.NewTxOut(changeSats, operatorScript))
		expected = append(expected, bitcoin.ExpectedOutput{Address: b.cfg.OperatorAddress, AmountSats: changeSats})
	} else {
		changeSats = 0
	}

	var outputSum int64
	for _, out := range tx.TxOut {
		outputSum += out.Value
	}

	networkFeeSats := operatorInputSum + inscriptionSum - outputSum
	if networkFeeSats < feeEstimate {
		return nil, nil, nil, fmt.Errorf("accounting mismatch: implied fee %d below estimate %d", networkFeeSats, feeEstimate)
	}

	return tx, &Amounts{
		SellerPaymentSats: paymentTotal,
		InscriptionSats:   inscriptionSum,
		ServiceFeeSats:    serviceFeeSats,
		ChangeSats:        changeSats,
		NetworkFeeSats:    networkFeeSats,
	}, expected, nil
}

// toSignedPSBT converts the unsigned transaction into a PSBT, applies the
// operator's signatures to its own inputs and self-checks every one of them
// before the packet ever leaves the process.
func (b *SwapBuilder) toSignedPSBT(req SwapRequest, tx *wire.MsgTx, selected, inscriptionUTXOs []*bitcoin.UTXO) ([]byte, []int, error) {
	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, nil, err
	}

	operatorPIB, err := NewPSBTInputBuilder(b.operatorPubKey, b.cfg.OperatorAddress, b.cfg.NetworkParams)
	if err != nil {
		return nil, nil, err
	}

	sellerPIB, err := NewPSBTInputBuilder(req.SellerPubKey, req.SellerAddress, b.cfg.NetworkParams)
	if err != nil {
		return nil, nil, err
	}

	operatorIndices := make([]int, len(selected))
	for i, utxo := range selected {
		if err := operatorPIB.PrepareInput(&packet.Inputs[i], utxo); err != nil {
			return nil, nil, err
		}

		operatorIndices[i] = i
	}

	sellerIndices := make([]int, len(inscriptionUTXOs))
	for i, utxo := range inscriptionUTXOs {
		idx := len(selected) + i
		if err := sellerPIB.PrepareInput(&packet.Inputs[idx], utxo); err != nil {
			return nil, nil, err
		}

		sellerIndices[i] = idx
	}

	embedInputIndexes(packet, OperatorInputsHelpingKey, operatorIndices)
	embedInputIndexes(packet, SellerInputsHelpingKey, sellerIndices)

	w := bytes.NewBuffer(nil)
	if err := packet.Serialize(w); err != nil {
		return nil, nil, err
	}

	signedPSBT, err := b.signer.SignTaproot(signer.SignTaprootParams{
		SerializedPSBT: w.Bytes(),
		Inputs:         operatorIndices,
		PrivateKey:     b.operatorKey,
	})
	if err != nil {
		return nil, nil, errors.Join(bitcoin.ErrSignatureValidation, err)
	}

	if err := b.signer.VerifyTaproot(signedPSBT, operatorIndices); err != nil {
		return nil, nil, err
	}

	return signedPSBT, sellerIndices, nil
}

// payToAddressScript returns the ScriptPubKey paying to the given address.
func payToAddressScript(address string, networkParams *chaincfg.Params) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, networkParams)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(decoded)
}
