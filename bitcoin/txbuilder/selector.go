// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"sort"

	"github.com/harvy-btc/harvy/bitcoin"
)

// SelectUTXOs picks a subset of the candidate set covering targetSats plus
// feeEstimateSats, accumulating smallest-first and stopping as soon as the
// threshold is met, consolidating small outputs first.
// Returns the selected UTXOs, their total amount and the leftover change.
func SelectUTXOs(utxos []bitcoin.UTXO, targetSats, feeEstimateSats int64) (selected []*bitcoin.UTXO, totalSats, changeSats int64, err error) {
	need := targetSats + feeEstimateSats

	order := make([]int, len(utxos))
	for i := range utxos {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return utxos[order[a]].Amount < utxos[order[b]].Amount
	})

	selected = make([]*bitcoin.UTXO, 0, len(utxos))
	for _, idx := range order {
		selected = append(selected, &utxos[idx])
		totalSats += utxos[idx].Amount
		if totalSats >= need {
			return selected, totalSats, totalSats - need, nil
		}
	}

	return nil, 0, 0, NewInsufficientError(need, totalSats)
}
