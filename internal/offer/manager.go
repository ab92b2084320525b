package offer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractflow.org/internal/audit"
	"contractflow.org/internal/auth"
	"contractflow.org/internal/contract"
	"contractflow.org/internal/ids"
	"contractflow.org/internal/obs"
)

// SubmitInput is the public offer-submission payload. The contact email
// doubles as the provider identity: the provider record is looked up or
// created from it.
type SubmitInput struct {
	ContractID   string        `json:"contract_id"`
	CompanyName  string        `json:"company_name"`
	ContactEmail string        `json:"contact_email"`
	ContactRole  string        `json:"contact_role"`
	Category     string        `json:"category"`
	Amount       Money         `json:"amount"`
	Timeline     Timeline      `json:"timeline"`
	Description  string        `json:"description"`
	Deliverables []Deliverable `json:"deliverables"`
	Terms        string        `json:"terms"`
}

// Validate checks the submission payload and returns all offending fields.
func (in SubmitInput) Validate() error {
	var bad []string
	if strings.TrimSpace(in.ContractID) == "" {
		bad = append(bad, "contract_id")
	}
	if strings.TrimSpace(in.CompanyName) == "" {
		bad = append(bad, "company_name")
	}
	if e := strings.TrimSpace(in.ContactEmail); e == "" || !strings.Contains(e, "@") {
		bad = append(bad, "contact_email")
	}
	if in.Amount.Amount <= 0 {
		bad = append(bad, "amount")
	}
	if c := strings.TrimSpace(in.Amount.Currency); c == "" || len(c) > 8 {
		bad = append(bad, "amount.currency")
	}
	if in.Timeline.Start.IsZero() || in.Timeline.End.IsZero() || !in.Timeline.Start.Before(in.Timeline.End) {
		bad = append(bad, "timeline")
	}
	if strings.TrimSpace(in.Description) == "" {
		bad = append(bad, "description")
	}
	for i, d := range in.Deliverables {
		if strings.TrimSpace(d.Title) == "" {
			bad = append(bad, fmt.Sprintf("deliverables[%d].title", i))
		}
	}
	if len(bad) > 0 {
		return &ValidationError{Fields: bad}
	}
	return nil
}

// Manager owns the offer lifecycle and the select-one-reject-rest rule. It
// reads contract state through the Engine and never touches the status field
// except via Engine transitions.
type Manager struct {
	offers    Store
	providers ProviderStore
	contracts *contract.Engine
	recorder  *audit.Recorder
}

func NewManager(offers Store, providers ProviderStore, contracts *contract.Engine, recorder *audit.Recorder) (*Manager, error) {
	if offers == nil || providers == nil {
		return nil, errors.New("offer stores are required")
	}
	if contracts == nil {
		return nil, errors.New("contract engine is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	return &Manager{offers: offers, providers: providers, contracts: contracts, recorder: recorder}, nil
}

// Submit creates a PENDING offer from an unauthenticated provider. The audit
// entry carries no actor: the public submission path is the one place where
// performedBy is legitimately empty.
func (m *Manager) Submit(ctx context.Context, in SubmitInput, meta audit.Metadata) (*Offer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	c, err := m.contracts.Get(ctx, in.ContractID)
	if err != nil {
		return nil, err
	}
	if !c.AcceptsOffers() {
		return nil, ErrNotOpenForOffers
	}

	prov, err := m.providers.FindOrCreateByEmail(ctx, &Provider{
		Email:       in.ContactEmail,
		CompanyName: in.CompanyName,
		ContactRole: in.ContactRole,
		Category:    in.Category,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &Offer{
		ID:         ids.New(),
		ContractID: c.ID,
		ProviderID: prov.ID,
		Provider: ProviderSnapshot{
			CompanyName: in.CompanyName,
			ContactRole: in.ContactRole,
			Email:       prov.Email,
			Category:    in.Category,
		},
		Amount:       in.Amount,
		Timeline:     in.Timeline,
		Description:  in.Description,
		Deliverables: in.Deliverables,
		Terms:        in.Terms,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.offers.Create(ctx, o); err != nil {
		return nil, err
	}

	// A concurrent selection can close the contract between the check above
	// and the insert. Any selection finalized after the insert sweeps this
	// offer as a competing sibling; one finalized before it is caught here,
	// and the late row is backed out.
	c, err = m.contracts.Get(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if !c.AcceptsOffers() {
		if cur, err := m.offers.Get(ctx, o.ID); err == nil && cur.Status == StatusPending {
			ts := time.Now().UTC()
			cur.Status = StatusRejected
			cur.RejectedAt = &ts
			cur.RejectionReason = SiblingRejectionReason
			cur.UpdatedAt = ts
			if err := m.offers.Update(ctx, cur); err != nil {
				return nil, err
			}
		}
		return nil, ErrNotOpenForOffers
	}

	if err := m.contracts.NoteOfferSubmitted(ctx, c.ID); err != nil {
		return nil, err
	}

	if _, err := m.recorder.Log(ctx, audit.Entry{
		Action:      "offer.submit",
		EntityType:  "offer",
		EntityID:    o.ID,
		After:       audit.Snapshot(o),
		Description: fmt.Sprintf("offer submitted by %s for contract %s", prov.Email, c.Reference),
		Metadata:    meta,
	}); err != nil {
		return nil, err
	}
	obs.ObserveOfferOutcome("submitted")
	return o, nil
}

// Select marks one offer SELECTED, rejects every other PENDING sibling and
// moves the contract through OFFER_SELECTED to PENDING_FINAL_APPROVAL as one
// externally-visible action.
//
// The first engine transition is a compare-and-swap on the contract status,
// so of two racing Select calls exactly one passes it; the loser sees
// ErrNotSelectable and no offer rows change.
func (m *Manager) Select(ctx context.Context, actor auth.Principal, contractID, offerID, notes string) (*contract.Contract, *Offer, error) {
	c, err := m.contracts.Get(ctx, contractID)
	if err != nil {
		return nil, nil, err
	}
	if !c.AcceptsOffers() {
		return nil, nil, ErrNotSelectable
	}
	o, err := m.offers.Get(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	if o.ContractID != contractID || o.Status != StatusPending {
		return nil, nil, ErrNotSelectable
	}

	if _, err := m.contracts.StartOfferSelection(ctx, actor, contractID, offerID, notes); err != nil {
		var ite *contract.InvalidTransitionError
		if errors.As(err, &ite) {
			return nil, nil, ErrNotSelectable
		}
		return nil, nil, err
	}

	now := time.Now().UTC()
	selected, rejected, err := m.offers.FinalizeSelection(ctx, contractID, offerID, actor.UserID, now, notes, SiblingRejectionReason)
	if err != nil {
		return nil, nil, err
	}

	updated, err := m.contracts.FinishOfferSelection(ctx, actor, contractID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := m.recorder.Log(ctx, audit.Entry{
		Action:      "offer.select",
		EntityType:  "offer",
		EntityID:    selected.ID,
		PerformedBy: actor.UserID,
		After:       audit.Snapshot(selected),
		Description: fmt.Sprintf("offer selected for contract %s, %d competing offers rejected", updated.Reference, len(rejected)),
		Metadata:    audit.Metadata{Reason: notes},
	}); err != nil {
		return nil, nil, err
	}
	obs.ObserveOfferOutcome("selected")
	for range rejected {
		obs.ObserveOfferOutcome("rejected")
	}
	return updated, selected, nil
}

// Withdraw is provider self-service on a still-PENDING offer.
func (m *Manager) Withdraw(ctx context.Context, offerID, providerID string) (*Offer, error) {
	o, err := m.offers.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.ProviderID != providerID {
		return nil, ErrForbidden
	}
	if o.Status != StatusPending {
		return nil, ErrNotWithdrawable
	}

	now := time.Now().UTC()
	before := audit.Snapshot(o)
	o.Status = StatusWithdrawn
	o.WithdrawnAt = &now
	o.UpdatedAt = now
	if err := m.offers.Update(ctx, o); err != nil {
		return nil, err
	}

	if _, err := m.recorder.Log(ctx, audit.Entry{
		Action:      "offer.withdraw",
		EntityType:  "offer",
		EntityID:    o.ID,
		PerformedBy: providerID,
		Before:      before,
		After:       audit.Snapshot(o),
		Description: "offer withdrawn by provider",
	}); err != nil {
		return nil, err
	}
	obs.ObserveOfferOutcome("withdrawn")
	return o, nil
}

// Reject is a reviewer rejecting a single PENDING offer outright, without
// selecting a sibling. The contract stays OPEN_FOR_OFFERS.
func (m *Manager) Reject(ctx context.Context, actor auth.Principal, offerID, reason string) (*Offer, error) {
	if !actor.HasRole(auth.RoleCoordinator, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	o, err := m.offers.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, ErrNotSelectable
	}

	now := time.Now().UTC()
	before := audit.Snapshot(o)
	o.Status = StatusRejected
	o.RejectedAt = &now
	o.RejectionReason = reason
	o.UpdatedAt = now
	if err := m.offers.Update(ctx, o); err != nil {
		return nil, err
	}

	if _, err := m.recorder.Log(ctx, audit.Entry{
		Action:      "offer.reject",
		EntityType:  "offer",
		EntityID:    o.ID,
		PerformedBy: actor.UserID,
		Before:      before,
		After:       audit.Snapshot(o),
		Description: "offer rejected by reviewer",
		Metadata:    audit.Metadata{Reason: reason},
	}); err != nil {
		return nil, err
	}
	obs.ObserveOfferOutcome("rejected")
	return o, nil
}

// Get returns one offer.
func (m *Manager) Get(ctx context.Context, id string) (*Offer, error) {
	return m.offers.Get(ctx, id)
}

// ListByContract returns all offers on a contract.
func (m *Manager) ListByContract(ctx context.Context, contractID string) ([]Offer, error) {
	return m.offers.ListByContract(ctx, contractID)
}

// ResolveProvider looks up a provider identity by email, for the withdraw
// path where the caller proves ownership through their provider account.
func (m *Manager) ResolveProvider(ctx context.Context, email string) (*Provider, error) {
	return m.providers.FindByEmail(ctx, email)
}
