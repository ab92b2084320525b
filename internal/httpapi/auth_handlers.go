package httpapi

import (
	"net/http"
	"strings"
	"time"

	"contractflow.org/internal/audit"
	"contractflow.org/internal/auth"
)

type registerRequest struct {
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

type userView struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func viewOf(u *auth.User) userView {
	roles := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		roles[i] = string(r)
	}
	return userView{ID: u.ID, Email: u.Email, Name: u.Name, Roles: roles}
}

func (a *API) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	roles := make([]auth.Role, 0, len(req.Roles))
	for _, raw := range req.Roles {
		role := auth.Role(strings.TrimSpace(strings.ToLower(raw)))
		if role == "" {
			continue
		}
		if !auth.ValidRole(role) {
			writeError(w, r, http.StatusBadRequest, "unknown role: "+raw)
			return
		}
		roles = append(roles, role)
	}

	u, err := a.users.Register(r.Context(), req.Email, req.Name, req.Password, roles)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if _, err := a.recorder.Log(r.Context(), audit.Entry{
		Action:      "user.register",
		EntityType:  "user",
		EntityID:    u.ID,
		PerformedBy: u.ID,
		Metadata:    requestMetadata(r),
	}); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(u))
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	token, u, err := a.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if _, err := a.recorder.Log(r.Context(), audit.Entry{
		Action:      "user.login",
		EntityType:  "user",
		EntityID:    u.ID,
		PerformedBy: u.ID,
		Metadata:    requestMetadata(r),
	}); err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(a.users.TokenTTL()),
		User:      viewOf(u),
	})
}
