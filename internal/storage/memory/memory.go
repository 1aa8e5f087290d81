// Package memory is an in-process storage collaborator. It backs the
// server when no database is configured, and the CLI in dry runs.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// Store keeps records keyed by domain type and natural key.
type Store struct {
	mu      sync.RWMutex
	seq     int
	records map[string]entry
}

type entry struct {
	ref    string
	record *core.Record
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]entry)}
}

func storeKey(t core.DomainType, key string) string {
	return string(t) + "|" + key
}

// FindExistingByNaturalKey returns a copy of the stored record, or nil.
func (s *Store) FindExistingByNaturalKey(ctx context.Context, t core.DomainType, key string) (*core.ExistingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[storeKey(t, key)]
	if !ok {
		return nil, nil
	}
	return &core.ExistingRecord{Ref: e.ref, Record: e.record.Clone()}, nil
}

// Persist inserts new records and merges or overwrites existing ones.
// Records without a natural key are stored under their core.StorageKey.
func (s *Store) Persist(ctx context.Context, records []*core.Record) (core.PersistResult, error) {
	start := time.Now()
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = storeKey(r.Type, core.StorageKey(r))
	}
	if err := ctx.Err(); err != nil {
		return core.PersistResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var res core.PersistResult
	for i, r := range records {
		stored := r.Clone()
		stored.Overwrite = false
		e, ok := s.records[keys[i]]
		if !ok {
			s.seq++
			s.records[keys[i]] = entry{ref: "mem:" + strconv.Itoa(s.seq), record: stored}
			res.Inserted++
			continue
		}
		if !r.Overwrite {
			stored.Fields = core.MergeFields(e.record.Fields, r.Fields)
		}
		s.records[keys[i]] = entry{ref: e.ref, record: stored}
		res.Updated++
	}
	res.Duration = time.Since(start)
	return res, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns copies of the stored records of type t ordered by reference.
func (s *Store) All(t core.DomainType) []*core.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type ref struct {
		n int
		r *core.Record
	}
	var refs []ref
	for _, e := range s.records {
		if e.record.Type != t {
			continue
		}
		n, _ := strconv.Atoi(e.ref[len("mem:"):])
		refs = append(refs, ref{n, e.record.Clone()})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].n < refs[j].n })
	out := make([]*core.Record, len(refs))
	for i, r := range refs {
		out[i] = r.r
	}
	return out
}
