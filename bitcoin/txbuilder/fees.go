// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"github.com/btcsuite/btcd/txscript"
)

const (
	// txVersion defines transaction version for this builder.
	txVersion int32 = 2
	// signHashType defines signature hash type for input signing.
	signHashType = txscript.SigHashAll
)

const (
	// headerSizeVBytes defines rough tx header size in vBytes.
	headerSizeVBytes int64 = 11
	// inputSizeVBytes defines rough tx input size in vBytes.
	inputSizeVBytes int64 = 90
	// outputSizeVBytes defines rough tx output size in vBytes.
	outputSizeVBytes int64 = 30
)

// RoughTxSizeEstimate returns tx rough estimated size in vBytes using the
// linear model overhead + perInput*inputs + perOutput*outputs.
func RoughTxSizeEstimate(inputs, outputs int) int64 {
	return headerSizeVBytes + inputSizeVBytes*int64(inputs) + outputSizeVBytes*int64(outputs)
}

// EstimateNetworkFee returns the estimated network fee in satoshi for a
// transaction of the given shape at the given fee rate. Used only to size the
// selector's target, the real fee is whatever the output accounting implies.
func EstimateNetworkFee(inputs, outputs int, satsPerVByte int64) int64 {
	return RoughTxSizeEstimate(inputs, outputs) * satsPerVByte
}
