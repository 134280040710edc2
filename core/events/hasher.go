package events

import (
	"hash"

	"golang.org/x/crypto/sha3"

	"github.com/omahs/rusk/core/types"
)

// Hasher folds session events into a rolling SHA3-256 digest. The digest
// binds both the content and the order of every event it absorbs, and
// becomes part of the block's verification output. The chain feeds it the
// events of the block's transactions; the coinbase epilogue's events are
// not absorbed.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns an empty rolling hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha3.New256()}
}

// Update absorbs a single event: source id, then topic, then payload.
func (eh *Hasher) Update(ev types.Event) {
	eh.h.Write(ev.Source[:])
	eh.h.Write([]byte(ev.Topic))
	eh.h.Write(ev.Data)
}

// Sum finalizes the digest.
func (eh *Hasher) Sum() [32]byte {
	var out [32]byte
	copy(out[:], eh.h.Sum(nil))
	return out
}
