package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contractflow.org/internal/audit"
	"contractflow.org/internal/auth"
	"contractflow.org/internal/ids"
	"contractflow.org/internal/obs"
	"contractflow.org/internal/stream"
)

// Store persists contracts. Update performs a compare-and-swap on the status
// column: it must fail with ErrStatusConflict when the persisted status no
// longer matches expect. That CAS is what serialises concurrent transitions.
type Store interface {
	Create(ctx context.Context, c *Contract) error
	Get(ctx context.Context, id string) (*Contract, error)
	Update(ctx context.Context, c *Contract, expect Status) error
	List(ctx context.Context, f Filter) ([]Contract, error)
	IncrementOfferCount(ctx context.Context, id string) error
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	Status   Status
	ClientID string
	Type     Type
	Limit    int
	Offset   int
}

// Engine owns the contract status field. Every status change flows through
// transition(), which checks the stage-ownership table, the transition table,
// stamps the status-specific fields, persists under CAS and writes its own
// audit entry. Callers cannot forget to log a state change.
type Engine struct {
	store    Store
	recorder *audit.Recorder
	events   *stream.Stream
}

func NewEngine(store Store, recorder *audit.Recorder, events *stream.Stream) (*Engine, error) {
	if store == nil {
		return nil, errors.New("contract store is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	return &Engine{store: store, recorder: recorder, events: events}, nil
}

// Create validates the input and persists a new DRAFT owned by the actor.
func (e *Engine) Create(ctx context.Context, actor auth.Principal, in CreateInput) (*Contract, error) {
	if !actor.HasRole(auth.RoleClient, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Contract{
		ID:               ids.New(),
		Reference:        ids.NewReference("CTR"),
		Title:            in.Title,
		Type:             in.Type,
		Description:      in.Description,
		TargetConditions: in.TargetConditions,
		TargetPersons:    in.TargetPersons,
		Budget:           in.Budget,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		Status:           StatusDraft,
		ClientID:         actor.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.Create(ctx, c); err != nil {
		return nil, err
	}

	if _, err := e.recorder.Log(ctx, audit.Entry{
		Action:      "contract.create",
		EntityType:  "contract",
		EntityID:    c.ID,
		PerformedBy: actor.UserID,
		After:       audit.Snapshot(c),
		Description: fmt.Sprintf("contract %s created", c.Reference),
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the contract, including soft-deleted ones; callers decide how
// to surface the Deleted flag.
func (e *Engine) Get(ctx context.Context, id string) (*Contract, error) {
	return e.store.Get(ctx, id)
}

// List returns non-deleted contracts matching the filter.
func (e *Engine) List(ctx context.Context, f Filter) ([]Contract, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	return e.store.List(ctx, f)
}

// Update edits descriptive fields. Allowed only while the contract is
// editable and only for the owner, the pending stage's reviewer, or admin.
// The status field is never writable here.
func (e *Engine) Update(ctx context.Context, actor auth.Principal, id string, in UpdateInput) (*Contract, error) {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Deleted {
		return nil, ErrNotFound
	}
	if !c.CanBeEdited() {
		return nil, ErrNotEditable
	}
	if !editAllowed(actor, c) {
		return nil, ErrForbidden
	}

	merged := in.apply(c)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	before := audit.Snapshot(c)
	c.Title = merged.Title
	c.Type = merged.Type
	c.Description = merged.Description
	c.TargetConditions = merged.TargetConditions
	c.TargetPersons = merged.TargetPersons
	c.Budget = merged.Budget
	c.StartDate = merged.StartDate
	c.EndDate = merged.EndDate
	c.UpdatedAt = time.Now().UTC()

	if err := e.store.Update(ctx, c, c.Status); err != nil {
		return nil, err
	}
	if _, err := e.recorder.Log(ctx, audit.Entry{
		Action:      "contract.update",
		EntityType:  "contract",
		EntityID:    c.ID,
		PerformedBy: actor.UserID,
		Before:      before,
		After:       audit.Snapshot(c),
		Description: fmt.Sprintf("contract %s fields updated", c.Reference),
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete soft-deletes. The record is never removed from storage.
func (e *Engine) Delete(ctx context.Context, actor auth.Principal, id string) error {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Deleted {
		return ErrNotFound
	}
	if !actor.HasRole(auth.RoleAdmin) && actor.UserID != c.ClientID {
		return ErrForbidden
	}

	before := audit.Snapshot(c)
	now := time.Now().UTC()
	c.Deleted = true
	c.DeletedAt = &now
	c.DeletedBy = actor.UserID
	c.UpdatedAt = now
	if err := e.store.Update(ctx, c, c.Status); err != nil {
		return err
	}
	_, err = e.recorder.Log(ctx, audit.Entry{
		Action:      "contract.delete",
		EntityType:  "contract",
		EntityID:    c.ID,
		PerformedBy: actor.UserID,
		Before:      before,
		After:       audit.Snapshot(c),
		Description: fmt.Sprintf("contract %s soft-deleted", c.Reference),
	})
	return err
}

// Submit moves a DRAFT into the review chain.
func (e *Engine) Submit(ctx context.Context, actor auth.Principal, id string) (*Contract, error) {
	return e.TransitionTo(ctx, actor, id, StatusPendingProcurement, "")
}

// ReviewProcurement records the procurement decision and advances or rejects.
func (e *Engine) ReviewProcurement(ctx context.Context, actor auth.Principal, id string, approve bool, notes string) (*Contract, error) {
	target := StatusPendingLegal
	outcome := ReviewApproved
	if !approve {
		target = StatusRejected
		outcome = ReviewRejected
	}
	return e.transitionByID(ctx, actor, id, target, notes, func(c *Contract, now time.Time) {
		c.Workflow.Procurement = Review{ReviewedBy: actor.UserID, ReviewedAt: &now, Status: outcome, Notes: notes}
	})
}

// ReviewLegal records the legal decision and opens for offers or rejects.
func (e *Engine) ReviewLegal(ctx context.Context, actor auth.Principal, id string, approve bool, notes string) (*Contract, error) {
	target := StatusOpenForOffers
	outcome := ReviewApproved
	if !approve {
		target = StatusRejected
		outcome = ReviewRejected
	}
	return e.transitionByID(ctx, actor, id, target, notes, func(c *Contract, now time.Time) {
		c.Workflow.Legal = Review{ReviewedBy: actor.UserID, ReviewedAt: &now, Status: outcome, Notes: notes}
	})
}

// Finalize records the admin decision on a PENDING_FINAL_APPROVAL contract.
func (e *Engine) Finalize(ctx context.Context, actor auth.Principal, id string, approve bool, notes string) (*Contract, error) {
	target := StatusFinalApproved
	outcome := ReviewApproved
	if !approve {
		target = StatusRejected
		outcome = ReviewRejected
	}
	return e.transitionByID(ctx, actor, id, target, notes, func(c *Contract, now time.Time) {
		c.Workflow.FinalApproval = Review{ReviewedBy: actor.UserID, ReviewedAt: &now, Status: outcome, Notes: notes}
	})
}

// Cancel moves the contract to CANCELLED where the table allows it.
func (e *Engine) Cancel(ctx context.Context, actor auth.Principal, id, reason string) (*Contract, error) {
	return e.TransitionTo(ctx, actor, id, StatusCancelled, reason)
}

// Complete closes out a FINAL_APPROVED contract.
func (e *Engine) Complete(ctx context.Context, actor auth.Principal, id string) (*Contract, error) {
	return e.TransitionTo(ctx, actor, id, StatusCompleted, "")
}

// StartOfferSelection stamps the coordinator record and performs the
// OPEN_FOR_OFFERS -> OFFER_SELECTED transition. The CAS inside makes this the
// serialisation point for concurrent selections: exactly one caller wins.
func (e *Engine) StartOfferSelection(ctx context.Context, actor auth.Principal, contractID, offerID, notes string) (*Contract, error) {
	return e.transitionByID(ctx, actor, contractID, StatusOfferSelected, "", func(c *Contract, now time.Time) {
		c.Workflow.Coordinator = Selection{SelectedBy: actor.UserID, SelectedAt: &now, SelectedOfferID: offerID, Notes: notes}
	})
}

// FinishOfferSelection performs OFFER_SELECTED -> PENDING_FINAL_APPROVAL,
// the second half of the externally-atomic selection action.
func (e *Engine) FinishOfferSelection(ctx context.Context, actor auth.Principal, contractID string) (*Contract, error) {
	return e.TransitionTo(ctx, actor, contractID, StatusPendingFinalApproval, "")
}

// NoteOfferSubmitted bumps the contract's offer counter.
func (e *Engine) NoteOfferSubmitted(ctx context.Context, contractID string) error {
	return e.store.IncrementOfferCount(ctx, contractID)
}

// TransitionTo is the raw transition operation. A reason is carried onto the
// contract for REJECTED and CANCELLED targets; the engine does not insist on
// one (HTTP routes do).
func (e *Engine) TransitionTo(ctx context.Context, actor auth.Principal, id string, to Status, reason string) (*Contract, error) {
	return e.transitionByID(ctx, actor, id, to, reason, nil)
}

func (e *Engine) transitionByID(ctx context.Context, actor auth.Principal, id string, to Status, reason string, mutate func(*Contract, time.Time)) (*Contract, error) {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.transition(ctx, actor, c, to, reason, mutate)
}

func (e *Engine) transition(ctx context.Context, actor auth.Principal, c *Contract, to Status, reason string, mutate func(*Contract, time.Time)) (*Contract, error) {
	if c.Deleted {
		return nil, ErrNotFound
	}
	from := c.Status
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}
	if !allowedFor(actor, c, from, to) {
		return nil, ErrForbidden
	}

	before := audit.Snapshot(c)
	now := time.Now().UTC()
	c.Status = to
	c.UpdatedAt = now
	stampStatus(c, from, to, reason, now)
	if mutate != nil {
		mutate(c, now)
	}

	if err := e.store.Update(ctx, c, from); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			// Someone else moved the contract first; report it as the
			// transition that is no longer possible.
			return nil, &InvalidTransitionError{From: from, To: to}
		}
		return nil, err
	}

	if _, err := e.recorder.Log(ctx, audit.Entry{
		Action:      "contract.transition",
		EntityType:  "contract",
		EntityID:    c.ID,
		PerformedBy: actor.UserID,
		Before:      before,
		After:       audit.Snapshot(c),
		Description: fmt.Sprintf("contract %s moved %s -> %s", c.Reference, from, to),
		Metadata:    audit.Metadata{Reason: reason},
	}); err != nil {
		return nil, err
	}

	obs.ObserveTransition(string(from), string(to))
	if e.events != nil {
		e.events.Publish(stream.ContractEvent{
			ContractID: c.ID,
			Reference:  c.Reference,
			From:       string(from),
			To:         string(to),
			Actor:      actor.UserID,
			Reason:     reason,
			Timestamp:  now,
		})
	}
	return c, nil
}

// stampStatus sets the timestamp fields owned by each target status and
// clears stage records on backward transitions.
func stampStatus(c *Contract, from, to Status, reason string, now time.Time) {
	switch to {
	case StatusOpenForOffers:
		c.OpenForOffersAt = &now
	case StatusCompleted:
		c.CompletedAt = &now
	case StatusCancelled:
		c.CancelledAt = &now
		c.CancellationReason = reason
	case StatusRejected:
		c.RejectedAt = &now
		c.RejectionReason = reason
		c.RejectionStage = rejectionStage(from)
	}

	// Backward transitions reopen a stage; its previous stamp no longer holds.
	switch {
	case from == StatusPendingProcurement && to == StatusDraft:
		c.Workflow.Procurement = Review{}
	case from == StatusPendingLegal && to == StatusPendingProcurement:
		c.Workflow.Procurement = Review{}
		c.Workflow.Legal = Review{}
	case from == StatusPendingFinalApproval && to == StatusOfferSelected:
		c.Workflow.FinalApproval = Review{}
	}
}

func editAllowed(actor auth.Principal, c *Contract) bool {
	if actor.HasRole(auth.RoleAdmin) {
		return true
	}
	switch c.Status {
	case StatusDraft, StatusPendingApproval:
		return actor.UserID == c.ClientID
	case StatusPendingProcurement:
		return actor.HasRole(auth.RoleProcurement)
	case StatusPendingLegal:
		return actor.HasRole(auth.RoleLegal)
	}
	return false
}
