package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"contractflow.org/internal/auth"
	"contractflow.org/internal/contract"
)

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes,omitempty"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (a *API) createContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrFail(w, r)
	if !ok {
		return
	}
	var in contract.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.contracts.Create(r.Context(), actor, in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/contracts/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) listContracts(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalOrFail(w, r); !ok {
		return
	}
	q := r.URL.Query()
	f := contract.Filter{
		Status:   contract.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		ClientID: strings.TrimSpace(q.Get("client_id")),
		Type:     contract.Type(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 200 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		f.Limit = v
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		f.Offset = v
	}

	items, err := a.contracts.List(r.Context(), f)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getContract(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalOrFail(w, r); !ok {
		return
	}
	c, err := a.contracts.Get(r.Context(), trimmedParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) updateContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrFail(w, r)
	if !ok {
		return
	}
	var in contract.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.contracts.Update(r.Context(), actor, trimmedParam(r, "id"), in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrFail(w, r)
	if !ok {
		return
	}
	if err := a.contracts.Delete(r.Context(), actor, trimmedParam(r, "id")); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) submitContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrFail(w, r)
	if !ok {
		return
	}
	c, err := a.contracts.Submit(r.Context(), actor, trimmedParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) reviewProcurement(w http.ResponseWriter, r *http.Request) {
	a.review(w, r, a.contracts.ReviewProcurement)
}

func (a *API) reviewLegal(w http.ResponseWriter, r *http.Request) {
	a.review(w, r, a.contracts.ReviewLegal)
}

func (a *API) finalizeContract(w http.ResponseWriter, r *http.Request) {
	a.review(w, r, a.contracts.Finalize)
}

func (a *API) review(w http.ResponseWriter, r *http.Request, do func(ctx context.Context, actor auth.Principal, id string, approve bool, notes string) (*contract.Contract, error)) {
	actor, ok := principalOrFail(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Approve && strings.TrimSpace(req.Notes) == "" {
		writeError(w, r, http.StatusBadRequest, "notes are required when rejecting")
		return
	}
	c, err := do(r.Context(), actor, trimmedParam(r, "id"), req.Approve, req.Notes)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) cancelContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrFail(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, r, http.StatusBadRequest, "reason is required")
		return
	}
	c, err := a.contracts.Cancel(r.Context(), actor, trimmedParam(r, "id"), req.Reason)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) completeContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrFail(w, r)
	if !ok {
		return
	}
	c, err := a.contracts.Complete(r.Context(), actor, trimmedParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
