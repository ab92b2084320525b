package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"contractflow.org/internal/ids"
	"contractflow.org/internal/obs"
)

// Entry is one immutable record of "who did what to which entity and when".
// Entries are append-only: nothing in the codebase updates or deletes them.
type Entry struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	PerformedBy string          `json:"performed_by,omitempty"` // empty for public, unauthenticated actions
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Description string          `json:"description,omitempty"`
	Metadata    Metadata        `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Metadata carries request-scoped context captured alongside the action.
type Metadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Store persists entries. Append must never mutate existing rows.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	EntityHistory(ctx context.Context, entityType, entityID string) ([]Entry, error)
	UserActivity(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// Recorder is the audit front door used by the workflow engine and the offer
// manager. A storage failure is surfaced to the caller, never retried here.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	return &Recorder{store: store}, nil
}

// Log fills in identity and timing, appends the entry and mirrors it to the
// structured log so operators can tail audit activity without a DB query.
func (r *Recorder) Log(ctx context.Context, e Entry) (*Entry, error) {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return nil, errors.New("audit: action is required")
	}
	if e.EntityType == "" || e.EntityID == "" {
		return nil, errors.New("audit: entity reference is required")
	}
	e.ID = ids.New()
	e.CreatedAt = time.Now().UTC()
	if e.Metadata.RequestID == "" {
		e.Metadata.RequestID = requestIDFromContext(ctx)
	}

	if err := r.store.Append(ctx, &e); err != nil {
		return nil, err
	}
	emitLine(&e)
	return &e, nil
}

// EntityHistory returns all entries for an entity, newest first.
func (r *Recorder) EntityHistory(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	if entityType == "" || entityID == "" {
		return nil, errors.New("audit: entity reference is required")
	}
	return r.store.EntityHistory(ctx, entityType, entityID)
}

// UserActivity returns entries performed by the actor, newest first, capped.
func (r *Recorder) UserActivity(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if userID == "" {
		return nil, errors.New("audit: user id is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.store.UserActivity(ctx, userID, limit)
}

// Snapshot marshals a value for the before/after fields. Marshal failures
// degrade to null rather than blocking the audited operation.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

func emitLine(e *Entry) {
	line := map[string]any{
		"ts":          e.CreatedAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"action":      e.Action,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
	}
	if e.PerformedBy != "" {
		line["performed_by"] = e.PerformedBy
	}
	if e.Metadata.RequestID != "" {
		line["request_id"] = e.Metadata.RequestID
	}
	if e.Description != "" {
		line["description"] = e.Description
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}
