package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"contractflow.org/internal/auth"
)

// Users persists staff accounts. Roles are stored as a text array read back
// into the typed role slice.
type Users struct {
	db *sql.DB
}

var _ auth.UserStore = (*Users)(nil)

const userColumns = `id, email, name, password_hash, roles, status, created_at, updated_at`

func (s *Users) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.Email, u.Name, u.PasswordHash, roleArray(u.Roles), u.Status, u.CreatedAt, u.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrAlreadyExists
	}
	return err
}

func (s *Users) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.find(ctx, `select `+userColumns+` from users where id=$1`, id)
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.find(ctx, `select `+userColumns+` from users where email=$1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Users) find(ctx context.Context, q string, arg any) (*auth.User, error) {
	var (
		u     auth.User
		roles string
	)
	err := s.db.QueryRowContext(ctx, q, arg).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &roles, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Roles = parseRoleArray(roles)
	return &u, nil
}

// Postgres text[] literals cross database/sql as strings. The role names are
// plain identifiers, no quoting needed.
func roleArray(roles []auth.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func parseRoleArray(raw string) []auth.Role {
	raw = strings.Trim(raw, "{}")
	if raw == "" {
		return nil
	}
	var roles []auth.Role
	for _, p := range strings.Split(raw, ",") {
		r := auth.Role(strings.TrimSpace(p))
		if auth.ValidRole(r) {
			roles = append(roles, r)
		}
	}
	return roles
}
