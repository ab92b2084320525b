package contract

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates every contract state, current workflow and legacy set
// combined. The legacy states predate the multi-role review chain and are
// kept so records persisted under the old workflow stay navigable.
type Status string

const (
	StatusDraft                Status = "DRAFT"
	StatusPendingProcurement   Status = "PENDING_PROCUREMENT"
	StatusPendingLegal         Status = "PENDING_LEGAL"
	StatusOpenForOffers        Status = "OPEN_FOR_OFFERS"
	StatusOfferSelected        Status = "OFFER_SELECTED"
	StatusPendingFinalApproval Status = "PENDING_FINAL_APPROVAL"
	StatusFinalApproved        Status = "FINAL_APPROVED"
	StatusRejected             Status = "REJECTED"
	StatusCancelled            Status = "CANCELLED"
	StatusCompleted            Status = "COMPLETED"

	// Legacy workflow, retained for data predating the review chain.
	StatusPendingApproval   Status = "PENDING_APPROVAL"
	StatusPublished         Status = "PUBLISHED"
	StatusSearchingProvider Status = "SEARCHING_PROVIDER"
	StatusProviderAssigned  Status = "PROVIDER_ASSIGNED"
	StatusInProgress        Status = "IN_PROGRESS"
)

// Type classifies what is being contracted.
type Type string

const (
	TypeService      Type = "SERVICE"
	TypeSupply       Type = "SUPPLY"
	TypeConsulting   Type = "CONSULTING"
	TypeConstruction Type = "CONSTRUCTION"
)

// ValidType reports whether t is one of the four contract types.
func ValidType(t Type) bool {
	switch t {
	case TypeService, TypeSupply, TypeConsulting, TypeConstruction:
		return true
	}
	return false
}

// Budget is a money range in minor units (e.g. cents). No floats.
type Budget struct {
	Minimum  int64  `json:"minimum"`
	Maximum  int64  `json:"maximum"`
	Currency string `json:"currency"`
}

// Review is the stamp a reviewer role leaves on its workflow stage.
type Review struct {
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	Status     string     `json:"status,omitempty"` // "approved" or "rejected"
	Notes      string     `json:"notes,omitempty"`
}

// Selection records the coordinator's offer choice.
type Selection struct {
	SelectedBy      string     `json:"selected_by,omitempty"`
	SelectedAt      *time.Time `json:"selected_at,omitempty"`
	SelectedOfferID string     `json:"selected_offer_id,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// Workflow holds the per-stage review metadata. Each record is populated only
// once its stage is reached and cleared only on a backward transition.
type Workflow struct {
	Procurement   Review    `json:"procurement"`
	Legal         Review    `json:"legal"`
	Coordinator   Selection `json:"coordinator"`
	FinalApproval Review    `json:"final_approval"`
}

const (
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Contract is the aggregate the workflow engine owns. The status field is
// mutated only through Engine transitions; nothing else writes it.
type Contract struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`

	Title            string `json:"title"`
	Type             Type   `json:"type"`
	Description      string `json:"description"`
	TargetConditions string `json:"target_conditions,omitempty"`
	TargetPersons    int    `json:"target_persons"`
	Budget           Budget `json:"budget"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	Status   Status   `json:"status"`
	Workflow Workflow `json:"workflow"`

	ClientID   string `json:"client_id"`
	OfferCount int    `json:"offer_count"`

	OpenForOffersAt    *time.Time `json:"open_for_offers_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	RejectionStage     string     `json:"rejection_stage,omitempty"`

	Deleted   bool       `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanBeEdited reports whether contract fields may still be changed.
func (c *Contract) CanBeEdited() bool {
	switch c.Status {
	case StatusDraft, StatusPendingProcurement, StatusPendingLegal, StatusPendingApproval:
		return true
	}
	return false
}

// AcceptsOffers reports whether providers may still submit offers.
func (c *Contract) AcceptsOffers() bool {
	return c.Status == StatusOpenForOffers && !c.Deleted
}

var (
	ErrNotFound       = errors.New("contract: not found")
	ErrForbidden      = errors.New("contract: forbidden")
	ErrNotEditable    = errors.New("contract: not editable in current status")
	ErrReferenceTaken = errors.New("contract: reference already exists")

	// ErrStatusConflict is returned by stores when the compare-and-swap
	// status guard fails during an update.
	ErrStatusConflict = errors.New("contract: status changed concurrently")
)

// InvalidTransitionError reports a (from, to) pair absent from the
// transition table. The contract is left untouched.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("contract: invalid transition from %s to %s", e.From, e.To)
}

// ValidationError lists the fields that failed create/update validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "contract: validation failed: " + strings.Join(e.Fields, ", ")
}
