package offer

import (
	"errors"
	"strings"
	"time"
)

// Status enumerates the offer lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSelected  Status = "SELECTED"
	StatusRejected  Status = "REJECTED"
	StatusWithdrawn Status = "WITHDRAWN"
)

// SiblingRejectionReason is stamped on competing offers when one is selected.
const SiblingRejectionReason = "Another offer was selected"

// Money is an amount in minor units. No floats.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Timeline is the provider's proposed execution window.
type Timeline struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Deliverable is one promised work item.
type Deliverable struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueDate     time.Time `json:"due_date"`
}

// Provider is the external identity submitting offers. Resolved by email on
// first submission; rating aggregates are maintained by the review subsystem.
type Provider struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	CompanyName   string    `json:"company_name"`
	ContactRole   string    `json:"contact_role,omitempty"`
	Category      string    `json:"category,omitempty"`
	RatingAverage float64   `json:"rating_average"`
	RatingCount   int       `json:"rating_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProviderSnapshot is the provider display data frozen at submission time.
// It deliberately does not track later provider changes.
type ProviderSnapshot struct {
	CompanyName string `json:"company_name"`
	ContactRole string `json:"contact_role,omitempty"`
	Email       string `json:"email"`
	Category    string `json:"category,omitempty"`
}

// Offer is one provider's bid on one contract. At most one offer exists per
// (contract, provider) pair, and at most one per contract is ever SELECTED.
type Offer struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`
	ProviderID string `json:"provider_id"`

	Provider     ProviderSnapshot `json:"provider"`
	Amount       Money            `json:"amount"`
	Timeline     Timeline         `json:"timeline"`
	Description  string           `json:"description"`
	Deliverables []Deliverable    `json:"deliverables,omitempty"`
	Terms        string           `json:"terms,omitempty"`

	Status Status `json:"status"`

	SelectedBy     string     `json:"selected_by,omitempty"`
	SelectedAt     *time.Time `json:"selected_at,omitempty"`
	SelectionNotes string     `json:"selection_notes,omitempty"`

	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrNotFound         = errors.New("offer: not found")
	ErrNotOpenForOffers = errors.New("offer: contract is not open for offers")
	ErrDuplicateOffer   = errors.New("offer: provider already submitted an offer for this contract")
	ErrNotSelectable    = errors.New("offer: not selectable")
	ErrNotWithdrawable  = errors.New("offer: not withdrawable")
	ErrForbidden        = errors.New("offer: forbidden")
)

// ValidationError lists the submission fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "offer: validation failed: " + strings.Join(e.Fields, ", ")
}
