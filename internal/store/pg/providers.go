package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"contractflow.org/internal/ids"
	"contractflow.org/internal/offer"
)

// Providers persists provider identities keyed by normalized email.
type Providers struct {
	db *sql.DB
}

var _ offer.ProviderStore = (*Providers)(nil)

const providerColumns = `id, email, company_name, contact_role, category, rating_average, rating_count, created_at`

// FindOrCreateByEmail upserts on the email unique index so two concurrent
// first submissions from the same provider converge on one row.
func (s *Providers) FindOrCreateByEmail(ctx context.Context, p *offer.Provider) (*offer.Provider, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	row := s.db.QueryRowContext(ctx, `
		insert into providers (id, email, company_name, contact_role, category)
		values ($1, $2, $3, $4, $5)
		on conflict (email) do update set email = excluded.email
		returning `+providerColumns+`
	`, ids.New(), email, p.CompanyName, nullIfEmpty(p.ContactRole), nullIfEmpty(p.Category))
	return scanProvider(row)
}

func (s *Providers) FindByEmail(ctx context.Context, email string) (*offer.Provider, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+providerColumns+`
		from providers where email=$1
	`, strings.ToLower(strings.TrimSpace(email)))
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, offer.ErrNotFound
	}
	return p, err
}

func scanProvider(row rowScanner) (*offer.Provider, error) {
	var (
		p                     offer.Provider
		contactRole, category sql.NullString
	)
	err := row.Scan(&p.ID, &p.Email, &p.CompanyName, &contactRole, &category,
		&p.RatingAverage, &p.RatingCount, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.ContactRole = contactRole.String
	p.Category = category.String
	return &p, nil
}
