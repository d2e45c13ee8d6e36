package tle

import (
	"sync"
	"sync/atomic"
	"time"
)

type snapshot struct {
	dataset *Dataset
	byNORAD map[int]int
}

// Store provides thread-safe access to the current TLE dataset.
type Store struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes fetch operations
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	if snap := s.current.Load(); snap != nil {
		return snap.dataset
	}
	return nil
}

// Set atomically replaces the current dataset and its NORAD index.
// When an id appears more than once the last entry wins.
func (s *Store) Set(ds *Dataset) {
	idx := make(map[int]int, len(ds.Satellites))
	for i, e := range ds.Satellites {
		idx[e.NORADID] = i
	}
	s.current.Store(&snapshot{dataset: ds, byNORAD: idx})
}

// Lookup returns the entry for a NORAD catalog number.
func (s *Store) Lookup(noradID int) (Entry, bool) {
	snap := s.current.Load()
	if snap == nil {
		return Entry{}, false
	}
	i, ok := snap.byNORAD[noradID]
	if !ok {
		return Entry{}, false
	}
	return snap.dataset.Satellites[i], true
}

// AgeSeconds returns the age of the current dataset in seconds.
// Returns -1 if no dataset is loaded.
func (s *Store) AgeSeconds() float64 {
	ds := s.Get()
	if ds == nil {
		return -1
	}
	return time.Since(ds.FetchedAt).Seconds()
}

// Lock acquires the fetch mutex for serializing fetch operations.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the fetch mutex.
func (s *Store) Unlock() {
	s.mu.Unlock()
}
