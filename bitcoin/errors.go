// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"errors"
)

var (
	// ErrInvalidAddress defines that the seller address is not a valid taproot address for the active network.
	ErrInvalidAddress = errors.New("invalid seller address")
	// ErrInvalidTrade defines that the position is in profit, only losses are purchasable.
	ErrInvalidTrade = errors.New("position has no realized loss")
	// ErrLimitExceeded defines that the claimed loss is above the configured ceiling.
	ErrLimitExceeded = errors.New("loss exceeds configured ceiling")
	// ErrFeeExceedsLimit defines that the computed service fee is above the configured ceiling.
	ErrFeeExceedsLimit = errors.New("service fee exceeds configured ceiling")
	// ErrBelowDustLimit defines that a required output would be below the network dust limit.
	ErrBelowDustLimit = errors.New("output below dust limit")
	// ErrInsufficientFunds defines that the operator wallet cannot cover the payment plus fee.
	ErrInsufficientFunds = errors.New("insufficient operator funds")
	// ErrInscriptionNotFound defines that the inscription outpoint is absent from the seller's unspent set.
	ErrInscriptionNotFound = errors.New("inscription utxo not found")
	// ErrBatchTooLarge defines that the batch holds more inscriptions than allowed.
	ErrBatchTooLarge = errors.New("batch size exceeds ceiling")
	// ErrNoLossToHarvest defines that the batch as a whole is not at a loss.
	ErrNoLossToHarvest = errors.New("batch has no aggregate loss")
	// ErrSignatureValidation defines that an operator-produced signature did not
	// verify, which points at a key or network misconfiguration.
	ErrSignatureValidation = errors.New("operator signature validation failed")
	// ErrFinalization defines that one or more inputs miss a valid, complete signature set.
	ErrFinalization = errors.New("psbt finalization failed")
	// ErrSanityCheck defines that the PSBT failed pre-broadcast structural checks.
	ErrSanityCheck = errors.New("psbt failed structural sanity check")
	// ErrBroadcastRejected defines that the network refused the finalized transaction.
	ErrBroadcastRejected = errors.New("broadcast rejected")
	// ErrIntentMismatch defines that the PSBT outputs diverge from the recorded swap intent.
	ErrIntentMismatch = errors.New("psbt does not match recorded swap intent")
	// ErrMissingOperatorConfig defines that the operator wallet is not configured.
	ErrMissingOperatorConfig = errors.New("operator wallet is not configured")
)
