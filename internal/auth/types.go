package auth

import "time"

// Role identifies a workflow actor class. The set is closed: the review chain
// is fixed, so roles are compile-time constants rather than database rows.
type Role string

const (
	RoleClient      Role = "client"
	RoleProcurement Role = "procurement"
	RoleLegal       Role = "legal"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
	RoleProvider    Role = "provider"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleClient, RoleProcurement, RoleLegal, RoleCoordinator, RoleAdmin, RoleProvider:
		return true
	}
	return false
}

// User is an authenticated account operating against the workflow.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Principal represents a verified caller with resolved roles.
type Principal struct {
	UserID string
	Roles  []Role
}

// HasRole reports whether the principal holds any of the given roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, want := range roles {
		for _, have := range p.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
