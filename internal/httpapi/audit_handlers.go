package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

var auditEntityTypes = map[string]bool{
	"contract": true,
	"offer":    true,
	"user":     true,
}

func (a *API) entityHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalOrFail(w, r); !ok {
		return
	}
	entityType := trimmedParam(r, "entity_type")
	if !auditEntityTypes[entityType] {
		writeError(w, r, http.StatusBadRequest, "unknown entity type")
		return
	}
	entries, err := a.recorder.EntityHistory(r.Context(), entityType, trimmedParam(r, "entity_id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) userActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalOrFail(w, r); !ok {
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 500 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = v
	}
	entries, err := a.recorder.UserActivity(r.Context(), trimmedParam(r, "user_id"), limit)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
