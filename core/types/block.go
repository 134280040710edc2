package types

import "github.com/omahs/rusk/crypto"

// BlockHeader carries the fields the core needs to execute and check a
// block. StateRoot and EventHash are the generator's claimed verification
// output; acceptance compares them against the locally produced one.
type BlockHeader struct {
	Height    uint64
	GasLimit  uint64
	Generator crypto.PublicKey
	Seed      [32]byte
	StateRoot [32]byte
	EventHash [32]byte
}

// Block is the unit of acceptance and finalization.
type Block struct {
	Header           BlockHeader
	Txs              []Transaction
	MissedGenerators []crypto.PublicKey
}

// ClaimedOutput returns the verification output the block header commits to.
func (b *Block) ClaimedOutput() VerificationOutput {
	return VerificationOutput{StateRoot: b.Header.StateRoot, EventHash: b.Header.EventHash}
}
