package contract

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-process concurrency safety. Used in
// tests and for single-node runs without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Contract
	byRef map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Contract),
		byRef: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, c *Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byRef[c.Reference]; ok {
		return ErrReferenceTaken
	}
	cp := *c
	s.byID[c.ID] = &cp
	s.byRef[c.Reference] = c.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, c *Contract, expect Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expect {
		return ErrStatusConflict
	}
	cp := *c
	cp.OfferCount = cur.OfferCount // counter is owned by IncrementOfferCount
	s.byID[c.ID] = &cp
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []Contract
	for _, c := range s.byID {
		if c.Deleted {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.ClientID != "" && c.ClientID != f.ClientID {
			continue
		}
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		all = append(all, *c)
	}
	// newest first, stable across calls
	sortContracts(all)
	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

func (s *MemoryStore) IncrementOfferCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	c.OfferCount++
	return nil
}

func sortContracts(cs []Contract) {
	// ULIDs sort chronologically, so descending ID is newest-first.
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID > cs[j].ID })
}
