package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func setupSecret(t *testing.T) {
	t.Helper()
	t.Setenv("CONTRACTFLOW_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidateToken(t *testing.T) {
	setupSecret(t)

	token, err := GenerateToken("user-42", []Role{RoleAdmin, RoleAdmin, RoleLegal}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}

	principal := PrincipalFromClaims(claims)
	if principal.UserID != "user-42" {
		t.Fatalf("unexpected principal user: %s", principal.UserID)
	}
	if len(principal.Roles) != 2 {
		t.Fatalf("expected deduped roles, got %v", principal.Roles)
	}
	if !principal.HasRole(RoleAdmin) || !principal.HasRole(RoleLegal) {
		t.Fatalf("roles were not preserved: %v", principal.Roles)
	}
	if principal.HasRole(RoleCoordinator) {
		t.Fatal("unexpected coordinator role")
	}
}

func TestParseRejectsGarbageAndExpired(t *testing.T) {
	setupSecret(t)

	if _, err := ParseAndValidate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	token, err := GenerateToken("user-1", []Role{RoleClient}, time.Millisecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestPrincipalDropsUnknownRoles(t *testing.T) {
	claims := &Claims{Roles: []string{"admin", "superuser", "legal"}}
	claims.Subject = "user-9"
	p := PrincipalFromClaims(claims)
	if len(p.Roles) != 2 {
		t.Fatalf("expected unknown roles dropped, got %v", p.Roles)
	}
}

func TestServiceRegisterAndLogin(t *testing.T) {
	setupSecret(t)

	svc, err := NewService(NewMemoryStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	u, err := svc.Register(ctx, "Client@Example.org", "Test Client", "s3cret", []Role{RoleClient})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "client@example.org" {
		t.Fatalf("email not normalised: %s", u.Email)
	}

	if _, err := svc.Register(ctx, "client@example.org", "Dup", "x", nil); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	token, logged, err := svc.Login(ctx, "client@example.org", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if logged.ID != u.ID {
		t.Fatalf("unexpected user: %s", logged.ID)
	}

	principal, err := svc.AuthenticateToken(ctx, token)
	if err != nil {
		t.Fatalf("AuthenticateToken: %v", err)
	}
	if principal.UserID != u.ID || !principal.HasRole(RoleClient) {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	if _, _, err := svc.Login(ctx, "client@example.org", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "ghost@example.org", "s3cret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown user, got %v", err)
	}
}
