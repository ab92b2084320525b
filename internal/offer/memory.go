package offer

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"contractflow.org/internal/ids"
)

// MemoryStore implements Store and ProviderStore in process.
type MemoryStore struct {
	mu         sync.RWMutex
	offers     map[string]*Offer
	byPair     map[string]string // contractID+"/"+providerID -> offerID
	byContract map[string][]string
	providers  map[string]*Provider
	byEmail    map[string]string
}

var (
	_ Store         = (*MemoryStore)(nil)
	_ ProviderStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		offers:     make(map[string]*Offer),
		byPair:     make(map[string]string),
		byContract: make(map[string][]string),
		providers:  make(map[string]*Provider),
		byEmail:    make(map[string]string),
	}
}

func pairKey(contractID, providerID string) string {
	return contractID + "/" + providerID
}

func (s *MemoryStore) Create(ctx context.Context, o *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(o.ContractID, o.ProviderID)
	if _, ok := s.byPair[key]; ok {
		return ErrDuplicateOffer
	}
	cp := *o
	s.offers[o.ID] = &cp
	s.byPair[key] = o.ID
	s.byContract[o.ContractID] = append(s.byContract[o.ContractID], o.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, o *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offers[o.ID]; !ok {
		return ErrNotFound
	}
	cp := *o
	s.offers[o.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByContract(ctx context.Context, contractID string) ([]Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idsList := s.byContract[contractID]
	out := make([]Offer, 0, len(idsList))
	for _, id := range idsList {
		out = append(out, *s.offers[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FinalizeSelection(ctx context.Context, contractID, offerID, selectedBy string, at time.Time, notes, siblingReason string) (*Offer, []Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chosen, ok := s.offers[offerID]
	if !ok || chosen.ContractID != contractID {
		return nil, nil, ErrNotFound
	}
	if chosen.Status != StatusPending {
		return nil, nil, ErrNotSelectable
	}

	chosen.Status = StatusSelected
	chosen.SelectedBy = selectedBy
	chosen.SelectedAt = &at
	chosen.SelectionNotes = notes
	chosen.UpdatedAt = at

	var rejected []Offer
	for _, id := range s.byContract[contractID] {
		if id == offerID {
			continue
		}
		sib := s.offers[id]
		if sib.Status != StatusPending {
			continue
		}
		sib.Status = StatusRejected
		sib.RejectedAt = &at
		sib.RejectionReason = siblingReason
		sib.UpdatedAt = at
		rejected = append(rejected, *sib)
	}

	cp := *chosen
	return &cp, rejected, nil
}

func (s *MemoryStore) FindOrCreateByEmail(ctx context.Context, p *Provider) (*Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if id, ok := s.byEmail[email]; ok {
		cp := *s.providers[id]
		return &cp, nil
	}
	cp := *p
	cp.ID = ids.New()
	cp.Email = email
	cp.CreatedAt = time.Now().UTC()
	s.providers[cp.ID] = &cp
	s.byEmail[email] = cp.ID
	out := cp
	return &out, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.providers[id]
	return &cp, nil
}
