package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"contractflow.org/internal/contract"
	"contractflow.org/internal/offer"
)

// Offers persists offers. The (contract_id, provider_id) unique index
// enforces one offer per provider per contract at the database level.
type Offers struct {
	db *sql.DB
}

var _ offer.Store = (*Offers)(nil)

const offerColumns = `
	id, contract_id, provider_id, provider, amount_value, amount_currency,
	timeline_start, timeline_end, description, deliverables, terms, status,
	selected_by, selected_at, selection_notes,
	rejected_at, rejection_reason, withdrawn_at, created_at, updated_at`

func (s *Offers) Create(ctx context.Context, o *offer.Offer) error {
	prov, err := json.Marshal(o.Provider)
	if err != nil {
		return fmt.Errorf("marshal provider snapshot: %w", err)
	}
	deliv, err := json.Marshal(o.Deliverables)
	if err != nil {
		return fmt.Errorf("marshal deliverables: %w", err)
	}
	// The insert carries its own openness check so an offer cannot land after
	// a concurrent selection moved the contract out of OPEN_FOR_OFFERS.
	res, err := s.db.ExecContext(ctx, `
		insert into offers (id, contract_id, provider_id, provider,
			amount_value, amount_currency, timeline_start, timeline_end,
			description, deliverables, terms, status, created_at, updated_at)
		select $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
		where exists (
			select 1 from contracts where id = $2 and status = $15 and not deleted
		)
	`,
		o.ID, o.ContractID, o.ProviderID, prov,
		o.Amount.Amount, o.Amount.Currency, o.Timeline.Start, o.Timeline.End,
		o.Description, deliv, nullIfEmpty(o.Terms), string(o.Status),
		o.CreatedAt, o.UpdatedAt, string(contract.StatusOpenForOffers),
	)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return offer.ErrDuplicateOffer
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return offer.ErrNotOpenForOffers
	}
	return nil
}

func (s *Offers) Get(ctx context.Context, id string) (*offer.Offer, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+offerColumns+`
		from offers where id=$1
	`, id)
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, offer.ErrNotFound
	}
	return o, err
}

func (s *Offers) Update(ctx context.Context, o *offer.Offer) error {
	res, err := s.db.ExecContext(ctx, `
		update offers set
			status=$2, selected_by=$3, selected_at=$4, selection_notes=$5,
			rejected_at=$6, rejection_reason=$7, withdrawn_at=$8, updated_at=$9
		where id=$1
	`,
		o.ID, string(o.Status),
		nullIfEmpty(o.SelectedBy), nullTime(o.SelectedAt), nullIfEmpty(o.SelectionNotes),
		nullTime(o.RejectedAt), nullIfEmpty(o.RejectionReason),
		nullTime(o.WithdrawnAt), o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return offer.ErrNotFound
	}
	return nil
}

func (s *Offers) ListByContract(ctx context.Context, contractID string) ([]offer.Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+offerColumns+`
		from offers where contract_id=$1
		order by created_at asc, id asc
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []offer.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// FinalizeSelection stamps one offer SELECTED and every other still-PENDING
// offer on the contract REJECTED, inside a single serializable transaction.
// The chosen row is locked and re-checked; a concurrent writer that already
// resolved it makes the whole call fail with ErrNotSelectable.
func (s *Offers) FinalizeSelection(ctx context.Context, contractID, offerID, selectedBy string, at time.Time, notes, siblingReason string) (*offer.Offer, []offer.Offer, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		select status from offers where id=$1 and contract_id=$2 for update
	`, offerID, contractID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, offer.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if offer.Status(status) != offer.StatusPending {
		return nil, nil, offer.ErrNotSelectable
	}

	// Postgres truncates timestamps to microseconds on write, so both result
	// sets come back via returning rather than a re-read timestamp match.
	row := tx.QueryRowContext(ctx, `
		update offers set status=$3, selected_by=$4, selected_at=$5, selection_notes=$6, updated_at=$5
		where id=$1 and contract_id=$2
		returning `+offerColumns+`
	`, offerID, contractID, string(offer.StatusSelected), selectedBy, at, nullIfEmpty(notes))
	selected, err := scanOffer(row)
	if err != nil {
		return nil, nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		update offers set status=$3, rejected_at=$4, rejection_reason=$5, updated_at=$4
		where contract_id=$1 and id <> $2 and status=$6
		returning `+offerColumns+`
	`, contractID, offerID, string(offer.StatusRejected), at, siblingReason, string(offer.StatusPending))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var rejected []offer.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, nil, err
		}
		rejected = append(rejected, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return selected, rejected, nil
}

func scanOffer(row rowScanner) (*offer.Offer, error) {
	var (
		o           offer.Offer
		prov, deliv []byte
		terms       sql.NullString
		status      string

		selectedBy, selectionNotes, rejectionReason sql.NullString
		selectedAt, rejectedAt, withdrawnAt         sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.ContractID, &o.ProviderID, &prov, &o.Amount.Amount, &o.Amount.Currency,
		&o.Timeline.Start, &o.Timeline.End, &o.Description, &deliv, &terms, &status,
		&selectedBy, &selectedAt, &selectionNotes,
		&rejectedAt, &rejectionReason, &withdrawnAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(prov) > 0 {
		if err := json.Unmarshal(prov, &o.Provider); err != nil {
			return nil, fmt.Errorf("decode provider snapshot: %w", err)
		}
	}
	if len(deliv) > 0 {
		if err := json.Unmarshal(deliv, &o.Deliverables); err != nil {
			return nil, fmt.Errorf("decode deliverables: %w", err)
		}
	}
	o.Terms = terms.String
	o.Status = offer.Status(status)
	o.SelectedBy = selectedBy.String
	o.SelectedAt = timePtr(selectedAt)
	o.SelectionNotes = selectionNotes.String
	o.RejectedAt = timePtr(rejectedAt)
	o.RejectionReason = rejectionReason.String
	o.WithdrawnAt = timePtr(withdrawnAt)
	return &o, nil
}
