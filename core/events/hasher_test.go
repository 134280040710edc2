package events

import (
	"testing"

	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/crypto"
)

func TestHasherDeterministic(t *testing.T) {
	ev := types.Event{Source: types.ContractID{0x2}, Topic: TopicStake, Data: []byte{1, 2, 3}}

	a := NewHasher()
	a.Update(ev)
	b := NewHasher()
	b.Update(ev)
	if a.Sum() != b.Sum() {
		t.Fatalf("identical events hash differently")
	}
}

func TestHasherBindsOrder(t *testing.T) {
	first := types.Event{Source: types.ContractID{0x2}, Topic: TopicStake, Data: []byte{1}}
	second := types.Event{Source: types.ContractID{0x2}, Topic: TopicReward, Data: []byte{2}}

	a := NewHasher()
	a.Update(first)
	a.Update(second)

	b := NewHasher()
	b.Update(second)
	b.Update(first)

	if a.Sum() == b.Sum() {
		t.Fatalf("event order must be part of the digest")
	}
}

func TestHasherBindsSource(t *testing.T) {
	a := NewHasher()
	a.Update(types.Event{Source: types.ContractID{0x1}, Topic: TopicSlash, Data: []byte{9}})
	b := NewHasher()
	b.Update(types.Event{Source: types.ContractID{0x2}, Topic: TopicSlash, Data: []byte{9}})
	if a.Sum() == b.Sum() {
		t.Fatalf("event source must be part of the digest")
	}
}

func TestStakePayloadRoundTrip(t *testing.T) {
	pk, _, err := crypto.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	data := EncodeStakePayload(pk, 42)
	payload, err := DecodeStakePayload(data)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PublicKey != pk || payload.Value != 42 {
		t.Fatalf("payload mismatch: %+v", payload)
	}
}
