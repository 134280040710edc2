package commitdb

import (
	"bytes"
	"fmt"
	"sort"

	"lukechampine.com/blake3"

	"github.com/omahs/rusk/storage"
)

var commitPrefix = []byte("commit/")

// Store is a content-addressed set of commits. A commit is nothing more
// than a 32-byte blake3 digest of its payload plus the payload itself, so
// identical states always share an id and re-storing is a no-op.
type Store struct {
	db storage.Database
}

// New wraps the given database as a commit store.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

func commitKey(id [32]byte) []byte {
	return append(append([]byte(nil), commitPrefix...), id[:]...)
}

// Put stores the payload and returns its content id.
func (s *Store) Put(payload []byte) ([32]byte, error) {
	id := blake3.Sum256(payload)
	if err := s.db.Put(commitKey(id), payload); err != nil {
		return [32]byte{}, fmt.Errorf("commitdb: store commit: %w", err)
	}
	return id, nil
}

// Get retrieves a commit payload by id.
func (s *Store) Get(id [32]byte) ([]byte, error) {
	payload, err := s.db.Get(commitKey(id))
	if err != nil {
		return nil, fmt.Errorf("commitdb: load commit %x: %w", id, err)
	}
	return payload, nil
}

// Has reports whether the commit exists.
func (s *Store) Has(id [32]byte) bool {
	ok, err := s.db.Has(commitKey(id))
	return err == nil && ok
}

// Delete removes a commit. Only finalization garbage-collects commits;
// revert never does.
func (s *Store) Delete(id [32]byte) error {
	if err := s.db.Delete(commitKey(id)); err != nil {
		return fmt.Errorf("commitdb: delete commit %x: %w", id, err)
	}
	return nil
}

// Commits enumerates every stored commit id in lexicographic order.
func (s *Store) Commits() ([][32]byte, error) {
	keys, err := s.db.Keys(commitPrefix)
	if err != nil {
		return nil, fmt.Errorf("commitdb: list commits: %w", err)
	}
	ids := make([][32]byte, 0, len(keys))
	for _, key := range keys {
		raw := bytes.TrimPrefix(key, commitPrefix)
		if len(raw) != 32 {
			continue
		}
		var id [32]byte
		copy(id[:], raw)
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids, nil
}
