// Package results accumulates structured metric records per measurement
// tool. Parser workers for disjoint runners write concurrently; a store
// serializes appends so entries never corrupt each other.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Record is one timestamped metric sample, field values kept as the
// tool reported them.
type Record map[string]string

// Store holds records for one tool category, keyed by source namespace
// and destination. Per-destination record order is preserved; ordering
// across destinations is not meaningful.
type Store struct {
	tool string

	mu   sync.Mutex
	data map[string]map[string][]Record
}

func NewStore(tool string) *Store {
	return &Store{
		tool: tool,
		data: make(map[string]map[string][]Record),
	}
}

// Tool returns the tool category this store belongs to.
func (s *Store) Tool() string { return s.tool }

// Add appends records for one namespace/destination pair.
func (s *Store) Add(nsID, destKey string, recs ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDest, ok := s.data[nsID]
	if !ok {
		byDest = make(map[string][]Record)
		s.data[nsID] = byDest
	}
	byDest[destKey] = append(byDest[destKey], recs...)
}

// Empty reports whether nothing was collected.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data) == 0
}

// Snapshot returns a deep copy of the collected results.
func (s *Store) Snapshot() map[string]map[string][]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string][]Record, len(s.data))
	for ns, byDest := range s.data {
		cp := make(map[string][]Record, len(byDest))
		for dest, recs := range byDest {
			dup := make([]Record, len(recs))
			for i, rec := range recs {
				r := make(Record, len(rec))
				for k, v := range rec {
					r[k] = v
				}
				dup[i] = r
			}
			cp[dest] = dup
		}
		out[ns] = cp
	}
	return out
}

// ToJSON serializes the store as one JSON document mapping
// namespace-id -> destination -> ordered records.
func (s *Store) ToJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.data, "", "  ")
}

// Clear drops everything collected so far.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]map[string][]Record)
}

// WriteFile dumps the store as <tool>.json under dir. Empty stores
// write nothing.
func (s *Store) WriteFile(dir string) error {
	if s.Empty() {
		return nil
	}
	raw, err := s.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize %s results: %w", s.tool, err)
	}
	path := filepath.Join(dir, s.tool+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s results: %w", s.tool, err)
	}
	return nil
}

// Stores bundles one store per tool category.
type Stores struct {
	Netperf *Store
	Iperf3  *Store
	Ss      *Store
	Ping    *Store
	Tc      *Store
	Coap    *Store
}

func NewStores() *Stores {
	return &Stores{
		Netperf: NewStore("netperf"),
		Iperf3:  NewStore("iperf3"),
		Ss:      NewStore("ss"),
		Ping:    NewStore("ping"),
		Tc:      NewStore("tc"),
		Coap:    NewStore("coap"),
	}
}

// All returns every store in a fixed order.
func (s *Stores) All() []*Store {
	return []*Store{s.Netperf, s.Iperf3, s.Ss, s.Ping, s.Tc, s.Coap}
}

// ClearAll empties every store.
func (s *Stores) ClearAll() {
	for _, store := range s.All() {
		store.Clear()
	}
}

// WriteFiles dumps every non-empty store under dir, one JSON document
// per tool category.
func (s *Stores) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, store := range s.All() {
		if err := store.WriteFile(dir); err != nil {
			return err
		}
	}
	return nil
}
