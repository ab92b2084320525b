package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"contractflow.org/internal/contract"
)

// Contracts persists contract aggregates. Workflow stamps live in a jsonb
// column; everything queried on gets its own column.
type Contracts struct {
	db *sql.DB
}

var _ contract.Store = (*Contracts)(nil)

const contractColumns = `
	id, reference, title, type, description, target_conditions, target_persons,
	budget_minimum, budget_maximum, budget_currency, start_date, end_date,
	status, workflow, client_id, offer_count,
	open_for_offers_at, completed_at, cancelled_at, cancellation_reason,
	rejected_at, rejection_reason, rejection_stage,
	deleted, deleted_at, deleted_by, created_at, updated_at`

func (s *Contracts) Create(ctx context.Context, c *contract.Contract) error {
	wf, err := json.Marshal(c.Workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into contracts (`+strings.TrimSpace(contractColumns)+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
		        $17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
	`,
		c.ID, c.Reference, c.Title, string(c.Type), c.Description,
		nullIfEmpty(c.TargetConditions), c.TargetPersons,
		c.Budget.Minimum, c.Budget.Maximum, c.Budget.Currency,
		c.StartDate, c.EndDate,
		string(c.Status), wf, c.ClientID, c.OfferCount,
		nullTime(c.OpenForOffersAt), nullTime(c.CompletedAt),
		nullTime(c.CancelledAt), nullIfEmpty(c.CancellationReason),
		nullTime(c.RejectedAt), nullIfEmpty(c.RejectionReason), nullIfEmpty(c.RejectionStage),
		c.Deleted, nullTime(c.DeletedAt), nullIfEmpty(c.DeletedBy),
		c.CreatedAt, c.UpdatedAt,
	)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return contract.ErrReferenceTaken
	}
	return err
}

func (s *Contracts) Get(ctx context.Context, id string) (*contract.Contract, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+strings.TrimSpace(contractColumns)+`
		from contracts where id = $1
	`, id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contract.ErrNotFound
	}
	return c, err
}

// Update writes the full row guarded by a compare-and-swap on the status
// column. Zero rows updated with the row still present means another writer
// changed the status first.
func (s *Contracts) Update(ctx context.Context, c *contract.Contract, expect contract.Status) error {
	wf, err := json.Marshal(c.Workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update contracts set
			title=$3, type=$4, description=$5, target_conditions=$6, target_persons=$7,
			budget_minimum=$8, budget_maximum=$9, budget_currency=$10,
			start_date=$11, end_date=$12,
			status=$13, workflow=$14,
			open_for_offers_at=$15, completed_at=$16,
			cancelled_at=$17, cancellation_reason=$18,
			rejected_at=$19, rejection_reason=$20, rejection_stage=$21,
			deleted=$22, deleted_at=$23, deleted_by=$24,
			updated_at=$25
		where id=$1 and status=$2
	`,
		c.ID, string(expect),
		c.Title, string(c.Type), c.Description, nullIfEmpty(c.TargetConditions), c.TargetPersons,
		c.Budget.Minimum, c.Budget.Maximum, c.Budget.Currency,
		c.StartDate, c.EndDate,
		string(c.Status), wf,
		nullTime(c.OpenForOffersAt), nullTime(c.CompletedAt),
		nullTime(c.CancelledAt), nullIfEmpty(c.CancellationReason),
		nullTime(c.RejectedAt), nullIfEmpty(c.RejectionReason), nullIfEmpty(c.RejectionStage),
		c.Deleted, nullTime(c.DeletedAt), nullIfEmpty(c.DeletedBy),
		c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from contracts where id=$1)`, c.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return contract.ErrNotFound
	}
	return contract.ErrStatusConflict
}

func (s *Contracts) List(ctx context.Context, f contract.Filter) ([]contract.Contract, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, cond+"$"+strconv.Itoa(len(args)))
	}
	where = append(where, "not deleted")
	if f.Status != "" {
		add("status=", string(f.Status))
	}
	if f.ClientID != "" {
		add("client_id=", f.ClientID)
	}
	if f.Type != "" {
		add("type=", string(f.Type))
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	q := `select ` + strings.TrimSpace(contractColumns) + `
		from contracts
		where ` + strings.Join(where, " and ") + `
		order by created_at desc, id desc
		limit $` + strconv.Itoa(len(args)-1) + ` offset $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []contract.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *Contracts) IncrementOfferCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update contracts set offer_count = offer_count + 1, updated_at = now()
		where id=$1
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return contract.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*contract.Contract, error) {
	var (
		c          contract.Contract
		typ, st    string
		targetCond sql.NullString
		wf         []byte

		openAt, completedAt, cancelledAt, rejectedAt, deletedAt sql.NullTime
		cancelReason, rejectReason, rejectStage, deletedBy      sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.Reference, &c.Title, &typ, &c.Description, &targetCond, &c.TargetPersons,
		&c.Budget.Minimum, &c.Budget.Maximum, &c.Budget.Currency, &c.StartDate, &c.EndDate,
		&st, &wf, &c.ClientID, &c.OfferCount,
		&openAt, &completedAt, &cancelledAt, &cancelReason,
		&rejectedAt, &rejectReason, &rejectStage,
		&c.Deleted, &deletedAt, &deletedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Type = contract.Type(typ)
	c.Status = contract.Status(st)
	c.TargetConditions = targetCond.String
	if len(wf) > 0 {
		if err := json.Unmarshal(wf, &c.Workflow); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
	}
	c.OpenForOffersAt = timePtr(openAt)
	c.CompletedAt = timePtr(completedAt)
	c.CancelledAt = timePtr(cancelledAt)
	c.CancellationReason = cancelReason.String
	c.RejectedAt = timePtr(rejectedAt)
	c.RejectionReason = rejectReason.String
	c.RejectionStage = rejectStage.String
	c.DeletedAt = timePtr(deletedAt)
	c.DeletedBy = deletedBy.String
	return &c, nil
}
