package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"contractflow.org/internal/audit"
)

// Audit is the append-only trail. There is deliberately no update or delete
// statement in this file.
type Audit struct {
	db *sql.DB
}

var _ audit.Store = (*Audit)(nil)

const auditColumns = `id, action, entity_type, entity_id, performed_by, before, after, description, metadata, created_at`

func (s *Audit) Append(ctx context.Context, e *audit.Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_entries (`+auditColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		e.ID, e.Action, e.EntityType, e.EntityID, nullIfEmpty(e.PerformedBy),
		nullIfEmptyJSON(e.Before), nullIfEmptyJSON(e.After),
		nullIfEmpty(e.Description), meta, e.CreatedAt,
	)
	return err
}

func (s *Audit) EntityHistory(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	return s.query(ctx, `
		select `+auditColumns+`
		from audit_entries
		where entity_type=$1 and entity_id=$2
		order by created_at desc, id desc
	`, entityType, entityID)
}

func (s *Audit) UserActivity(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	return s.query(ctx, `
		select `+auditColumns+`
		from audit_entries
		where performed_by=$1
		order by created_at desc, id desc
		limit $2
	`, userID, limit)
}

func (s *Audit) query(ctx context.Context, q string, args ...any) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e                        audit.Entry
			performedBy, description sql.NullString
			before, after, meta      []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID,
			&performedBy, &before, &after, &description, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.PerformedBy = performedBy.String
		e.Description = description.String
		e.Before = json.RawMessage(before)
		e.After = json.RawMessage(after)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func nullIfEmptyJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
