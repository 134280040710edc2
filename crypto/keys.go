package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/btcsuite/btcutil/bech32"
)

// KeyPrefix is the human-readable part used when rendering provisioner keys.
const KeyPrefix = "rusk"

// PublicKey identifies a provisioner. The raw 32 bytes double as the
// canonical ordering key: everything that iterates over provisioners sorts
// by these bytes so that every node observes the same order.
type PublicKey [32]byte

// SecretKey signs stake management messages for a provisioner.
type SecretKey struct {
	key ed25519.PrivateKey
}

// GenerateKey creates a new provisioner key pair from the given source of
// entropy. A nil reader falls back to crypto/rand.
func GenerateKey(r io.Reader) (PublicKey, *SecretKey, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return PublicKey{}, nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	var pk PublicKey
	copy(pk[:], pub)
	return pk, &SecretKey{key: priv}, nil
}

// PublicKeyFromBytes parses a 32-byte provisioner key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != 32 {
		return PublicKey{}, fmt.Errorf("crypto: public key must be 32 bytes long, got %d", len(b))
	}
	var pk PublicKey
	copy(pk[:], b)
	return pk, nil
}

// Bytes returns a copy of the canonical key encoding.
func (pk PublicKey) Bytes() []byte {
	return append([]byte(nil), pk[:]...)
}

// IsZero reports whether the key is the all-zero key.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Compare orders keys by their canonical byte encoding.
func (pk PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(pk[:], other[:])
}

// String renders the key as a bech32 address with the rusk prefix.
func (pk PublicKey) String() string {
	conv, err := bech32.ConvertBits(pk[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(KeyPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Public returns the public half of the key pair.
func (sk *SecretKey) Public() PublicKey {
	var pk PublicKey
	copy(pk[:], sk.key.Public().(ed25519.PublicKey))
	return pk
}

// Sign produces a signature over the given message.
func (sk *SecretKey) Sign(msg []byte) []byte {
	return ed25519.Sign(sk.key, msg)
}

// Verify reports whether sig is a valid signature over msg by pk.
func Verify(pk PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig)
}
