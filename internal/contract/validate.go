package contract

import (
	"strings"
	"time"
)

const (
	maxTitleLen      = 200
	maxWordCount     = 150
	minTargetPersons = 1
	maxTargetPersons = 20
)

// CreateInput carries the client-supplied fields for a new contract.
type CreateInput struct {
	Title            string    `json:"title"`
	Type             Type      `json:"type"`
	Description      string    `json:"description"`
	TargetConditions string    `json:"target_conditions"`
	TargetPersons    int       `json:"target_persons"`
	Budget           Budget    `json:"budget"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
}

// UpdateInput carries optional field changes; nil means "leave unchanged".
type UpdateInput struct {
	Title            *string    `json:"title,omitempty"`
	Type             *Type      `json:"type,omitempty"`
	Description      *string    `json:"description,omitempty"`
	TargetConditions *string    `json:"target_conditions,omitempty"`
	TargetPersons    *int       `json:"target_persons,omitempty"`
	Budget           *Budget    `json:"budget,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
}

// Validate checks every field and returns the full offending list, not just
// the first failure, so clients can fix a form in one round-trip.
func (in CreateInput) Validate() error {
	var bad []string

	if t := strings.TrimSpace(in.Title); t == "" || len(t) > maxTitleLen {
		bad = append(bad, "title")
	}
	if !ValidType(in.Type) {
		bad = append(bad, "type")
	}
	if wc := wordCount(in.Description); wc == 0 || wc > maxWordCount {
		bad = append(bad, "description")
	}
	if wordCount(in.TargetConditions) > maxWordCount {
		bad = append(bad, "target_conditions")
	}
	if in.TargetPersons < minTargetPersons || in.TargetPersons > maxTargetPersons {
		bad = append(bad, "target_persons")
	}
	bad = append(bad, in.Budget.validate()...)
	if in.StartDate.IsZero() || in.EndDate.IsZero() || !in.StartDate.Before(in.EndDate) {
		bad = append(bad, "start_date")
	}

	if len(bad) > 0 {
		return &ValidationError{Fields: bad}
	}
	return nil
}

func (b Budget) validate() []string {
	var bad []string
	if b.Minimum < 0 || b.Maximum <= 0 || b.Minimum > b.Maximum {
		bad = append(bad, "budget")
	}
	if c := strings.TrimSpace(b.Currency); c == "" || len(c) > 8 {
		bad = append(bad, "budget.currency")
	}
	return bad
}

// apply merges the update onto an input snapshot of the contract, which is
// then re-validated as a whole.
func (in UpdateInput) apply(c *Contract) CreateInput {
	merged := CreateInput{
		Title:            c.Title,
		Type:             c.Type,
		Description:      c.Description,
		TargetConditions: c.TargetConditions,
		TargetPersons:    c.TargetPersons,
		Budget:           c.Budget,
		StartDate:        c.StartDate,
		EndDate:          c.EndDate,
	}
	if in.Title != nil {
		merged.Title = *in.Title
	}
	if in.Type != nil {
		merged.Type = *in.Type
	}
	if in.Description != nil {
		merged.Description = *in.Description
	}
	if in.TargetConditions != nil {
		merged.TargetConditions = *in.TargetConditions
	}
	if in.TargetPersons != nil {
		merged.TargetPersons = *in.TargetPersons
	}
	if in.Budget != nil {
		merged.Budget = *in.Budget
	}
	if in.StartDate != nil {
		merged.StartDate = *in.StartDate
	}
	if in.EndDate != nil {
		merged.EndDate = *in.EndDate
	}
	return merged
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
