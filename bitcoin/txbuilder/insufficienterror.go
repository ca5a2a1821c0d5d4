// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"fmt"

	"github.com/harvy-btc/harvy/bitcoin"
)

// InsufficientError is the error type to describe insufficient operator
// balance with details.
type InsufficientError struct {
	Need int64 // in Satoshi.
	Have int64 // in Satoshi.
}

// NewInsufficientError is a constructor for InsufficientError.
func NewInsufficientError(need, have int64) *InsufficientError {
	return &InsufficientError{Need: need, Have: have}
}

// Error returns error description.
func (e *InsufficientError) Error() string {
	return fmt.Sprintf("%s: need %d sat, have %d sat", bitcoin.ErrInsufficientFunds, e.Need, e.Have)
}

// Is implements comparator method for [errors] package.
func (e *InsufficientError) Is(target error) bool {
	return target == bitcoin.ErrInsufficientFunds
}
