package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Repository used when no database is configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[string]Pool
	snapshots map[string][]Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[string]Pool),
		snapshots: make(map[string][]Snapshot),
	}
}

// UpsertPool replaces the row for pool.Address.
func (s *MemoryStore) UpsertPool(_ context.Context, pool Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.Address] = pool
	return nil
}

// ListPools returns every pool ordered by TVL descending, address ascending on ties.
func (s *MemoryStore) ListPools(_ context.Context) ([]Pool, error) {
	s.mu.RLock()
	pools := make([]Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.RUnlock()

	sort.Slice(pools, func(i, j int) bool {
		if pools[i].TVLUSD != pools[j].TVLUSD {
			return pools[i].TVLUSD > pools[j].TVLUSD
		}
		return pools[i].Address < pools[j].Address
	})
	return pools, nil
}

// GetPool returns one pool or ErrNotFound.
func (s *MemoryStore) GetPool(_ context.Context, address string) (Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[address]
	if !ok {
		return Pool{}, ErrNotFound
	}
	return p, nil
}

// RecordSnapshot appends one observation, keeping each series sorted by timestamp.
func (s *MemoryStore) RecordSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.snapshots[snap.PoolAddress]
	// 插入位置取最后一个不晚于 snap 的元素之后，同一时间戳保持写入顺序
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(snap.Timestamp)
	})
	series = append(series, Snapshot{})
	copy(series[idx+1:], series[idx:])
	series[idx] = snap
	s.snapshots[snap.PoolAddress] = series
	return nil
}

// History returns a copy of the pool's snapshots ordered by timestamp ascending.
func (s *MemoryStore) History(_ context.Context, address string) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.snapshots[address]
	out := make([]Snapshot, len(series))
	copy(out, series)
	return out, nil
}

var _ Repository = (*MemoryStore)(nil)
