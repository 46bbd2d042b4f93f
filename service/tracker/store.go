package tracker

import (
	"errors"
	"sort"
	"sync"

	"github.com/brojonat/aurora/service/txn"
)

var (
	// ErrAlreadyTracked is returned when creating a record for a known signature.
	ErrAlreadyTracked = errors.New("signature already tracked")
	// ErrNotTracked is returned when an operation targets an unknown signature.
	ErrNotTracked = errors.New("signature not tracked")
)

// DefaultListLimit is the number of records List returns when no limit is given.
const DefaultListLimit = 200

// Store is the keyed in-memory record set. Records are never deleted.
// All reads return deep copies.
type Store struct {
	mu      sync.RWMutex
	records map[string]txn.Record
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]txn.Record)}
}

// Insert adds rec, failing with ErrAlreadyTracked if its signature exists.
func (s *Store) Insert(rec txn.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Signature]; ok {
		return ErrAlreadyTracked
	}
	s.records[rec.Signature] = rec.Clone()
	return nil
}

// Put replaces the record for rec's signature.
func (s *Store) Put(rec txn.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Signature] = rec.Clone()
}

// Get returns the record for signature.
func (s *Store) Get(signature string) (txn.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[signature]
	if !ok {
		return txn.Record{}, false
	}
	return rec.Clone(), true
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// List returns up to limit records, most recently updated first.
// A non-positive limit means DefaultListLimit.
func (s *Store) List(limit int) []txn.Record {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	out := make([]txn.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Signature < out[j].Signature
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}
