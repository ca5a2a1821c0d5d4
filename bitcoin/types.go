// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

// SatoshiPerBitcoin defines the amount of satoshi in one bitcoin.
const SatoshiPerBitcoin int64 = 100_000_000

// UTXO describes unspent transaction output data.
type UTXO struct {
	TxHash  string
	Index   uint32 // output index in transaction outputs.
	Amount  int64  // in Satoshi.
	Script  []byte // ScriptPubKey.
	Address string // output recipient address.
	RawTx   []byte // serialized transaction that holds this output.
}

// SameOutPoint reports whether two UTXOs point to the same transaction output.
// Amounts are not compared, identity is (TxHash, Index) only.
func (u UTXO) SameOutPoint(other UTXO) bool {
	return u.TxHash == other.TxHash && u.Index == other.Index
}

// ExpectedOutput describes one output a built swap committed to.
type ExpectedOutput struct {
	Address    string `json:"address"`
	AmountSats int64  `json:"amountSats"`
}

// ExpectedSwap is the commitment carried alongside a built swap so its
// outputs can be re-validated immediately before broadcast.
type ExpectedSwap struct {
	Outputs []ExpectedOutput `json:"outputs"`
}
