package types

import (
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

// Note is a transparent output held by the transfer contract. Spending a
// note consumes its nullifier; the note itself is never removed from the
// registry, only marked spent.
type Note struct {
	Height uint64
	Owner  [32]byte
	Value  uint64
}

// Nullifier derives the note's unique spend tag from its canonical encoding.
func (n *Note) Nullifier() [32]byte {
	encoded, err := rlp.EncodeToBytes(n)
	if err != nil {
		// All fields are fixed-width scalars; encoding cannot fail.
		panic(err)
	}
	return blake3.Sum256(encoded)
}
