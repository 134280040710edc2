package types

// TxFee prices a transaction. The full GasLimit*GasPrice is locked at spend
// time; whatever the call does not consume is refunded as a note owned by
// Refund.
type TxFee struct {
	GasLimit uint64
	GasPrice uint64
	Refund   [32]byte
}

// ContractCall is an optional call attached to a transaction. Transfer is
// the value moved from the spent notes into the target contract before the
// call is dispatched; both legs succeed or neither does.
type ContractCall struct {
	Contract ContractID
	Method   string
	Arg      []byte
	Transfer uint64
}

// Transaction spends a set of notes, produces outputs, and optionally calls
// a contract.
type Transaction struct {
	Nullifiers [][32]byte
	Outputs    []Note
	Fee        TxFee
	Call       *ContractCall `rlp:"nil"`
}

// SpentTransaction pairs an included transaction with its execution outcome.
// Err is set when the attached contract call failed; the transaction is
// still spent and charged its full gas limit.
type SpentTransaction struct {
	Tx          Transaction
	GasSpent    uint64
	BlockHeight uint64
	Err         string
}

// CallResult carries a contract call's outcome across the spend boundary.
// A failed call is a spendable-but-charged transaction, distinct from a
// spend failure, which discards the transaction entirely.
type CallResult struct {
	Ok   bool
	Data []byte
	Err  string
}
