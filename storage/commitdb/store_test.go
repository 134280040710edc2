package commitdb

import (
	"testing"

	"github.com/omahs/rusk/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return New(db)
}

func TestPutIsContentAddressed(t *testing.T) {
	store := newStore(t)

	id1, err := store.Put([]byte("payload"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	id2, err := store.Put([]byte("payload"))
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("identical payloads produced different ids")
	}

	other, err := store.Put([]byte("other"))
	if err != nil {
		t.Fatalf("put other: %v", err)
	}
	if other == id1 {
		t.Fatalf("distinct payloads share an id")
	}
}

func TestGetRoundTrip(t *testing.T) {
	store := newStore(t)
	id, err := store.Put([]byte("state"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	payload, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(payload) != "state" {
		t.Fatalf("unexpected payload %q", payload)
	}
	if !store.Has(id) {
		t.Fatalf("has reported false for a stored commit")
	}
}

func TestDeleteRemovesCommit(t *testing.T) {
	store := newStore(t)
	id, err := store.Put([]byte("gc me"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.Has(id) {
		t.Fatalf("commit survived deletion")
	}
	if _, err := store.Get(id); err == nil {
		t.Fatalf("get of a deleted commit must fail")
	}
}

func TestCommitsEnumeration(t *testing.T) {
	store := newStore(t)
	want := make(map[[32]byte]bool)
	for _, payload := range []string{"a", "b", "c"} {
		id, err := store.Put([]byte(payload))
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		want[id] = true
	}
	ids, err := store.Commits()
	if err != nil {
		t.Fatalf("commits: %v", err)
	}
	if len(ids) != len(want) {
		t.Fatalf("enumerated %d commits, want %d", len(ids), len(want))
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected commit %x", id)
		}
	}
}
