package offer

import (
	"context"
	"time"
)

// Store persists offers. Create must enforce the (contract, provider)
// uniqueness constraint with ErrDuplicateOffer; implementations that can see
// contract state additionally refuse inserts on contracts no longer open for
// offers with ErrNotOpenForOffers. FinalizeSelection is the one
// multi-row write in the system and must be atomic per implementation: mark
// the chosen offer SELECTED and every other PENDING sibling REJECTED, after
// re-checking the chosen offer is still PENDING.
type Store interface {
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id string) (*Offer, error)
	Update(ctx context.Context, o *Offer) error
	ListByContract(ctx context.Context, contractID string) ([]Offer, error)
	FinalizeSelection(ctx context.Context, contractID, offerID, selectedBy string, at time.Time, notes, siblingReason string) (*Offer, []Offer, error)
}

// ProviderStore resolves and persists provider identities.
type ProviderStore interface {
	FindOrCreateByEmail(ctx context.Context, p *Provider) (*Provider, error)
	FindByEmail(ctx context.Context, email string) (*Provider, error)
}
