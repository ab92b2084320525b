package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractflow.org/internal/ids"
)

const defaultTokenTTL = 12 * time.Hour

// Service registers users, verifies credentials and issues bearer tokens.
// It is the Role Gateway: everything downstream trusts the (actor, roles)
// pair this service resolves.
type Service struct {
	store    UserStore
	tokenTTL time.Duration
}

func NewService(store UserStore) (*Service, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	return &Service{store: store, tokenTTL: defaultTokenTTL}, nil
}

// TokenTTL returns the lifetime stamped on issued tokens.
func (s *Service) TokenTTL() time.Duration { return s.tokenTTL }

// Register creates a user with the given roles. Role assignment is an admin
// concern at the HTTP layer; the service only validates the values.
func (s *Service) Register(ctx context.Context, email, name, password string, roles []Role) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	roles = dedupeRoles(roles)
	if len(roles) == 0 {
		roles = []Role{RoleClient}
	}
	for _, r := range roles {
		if !ValidRole(r) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, r)
		}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &User{
		ID:           ids.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Roles:        roles,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and returns a signed bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrUnauthorized
		}
		return "", nil, err
	}
	if u.Status != UserStatusActive {
		return "", nil, ErrUnauthorized
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return "", nil, ErrUnauthorized
	}
	token, err := GenerateToken(u.ID, u.Roles, s.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// AuthenticateToken validates a bearer token and resolves the principal.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	claims, err := ParseAndValidate(token)
	if err != nil {
		return Principal{}, err
	}
	return PrincipalFromClaims(claims), nil
}
