package httpapi

import (
	"net/http"
	"strings"

	"contractflow.org/internal/offer"
)

type withdrawRequest struct {
	Email string `json:"email"`
}

type selectRequest struct {
	Notes string `json:"notes,omitempty"`
}

// submitOffer is the public provider endpoint; no bearer token involved.
func (a *API) submitOffer(w http.ResponseWriter, r *http.Request) {
	var in offer.SubmitInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in.ContractID = trimmedParam(r, "id")

	o, err := a.offers.Submit(r.Context(), in, requestMetadata(r))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/offers/"+o.ID)
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) listOffers(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalOrFail(w, r); !ok {
		return
	}
	if _, err := a.contracts.Get(r.Context(), trimmedParam(r, "id")); err != nil {
		handleDomainError(w, r, err)
		return
	}
	items, err := a.offers.ListByContract(r.Context(), trimmedParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getOffer(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalOrFail(w, r); !ok {
		return
	}
	o, err := a.offers.Get(r.Context(), trimmedParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) selectOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrFail(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, o, err := a.offers.Select(r.Context(), actor, trimmedParam(r, "id"), trimmedParam(r, "offer_id"), req.Notes)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contract": c,
		"offer":    o,
	})
}

// withdrawOffer is public like submission: the provider proves identity by
// the email their offer was submitted under.
func (a *API) withdrawOffer(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}
	prov, err := a.offers.ResolveProvider(r.Context(), req.Email)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	o, err := a.offers.Withdraw(r.Context(), trimmedParam(r, "id"), prov.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) rejectOffer(w http.ResponseWriter, r *http.Request) {
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
	o, err := a.offers.Reject(r.Context(), actor, trimmedParam(r, "id"), req.Reason)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
