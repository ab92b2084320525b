package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"contractflow.org/api/spec"
	"contractflow.org/internal/audit"
	"contractflow.org/internal/auth"
	"contractflow.org/internal/contract"
	"contractflow.org/internal/obs"
	"contractflow.org/internal/offer"
	"contractflow.org/internal/stream"
)

// ReadyProbe reports readiness, typically by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	readyProbe ReadyProbe
	version    string

	contracts *contract.Engine
	offers    *offer.Manager
	users     *auth.Service
	recorder  *audit.Recorder
	stream    *stream.Stream

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, contracts *contract.Engine, offers *offer.Manager, users *auth.Service, recorder *audit.Recorder, st *stream.Stream) *API {
	a := &API{
		router:     chi.NewRouter(),
		readyProbe: rp,
		version:    version,
		contracts:  contracts,
		offers:     offers,
		users:      users,
		recorder:   recorder,
		stream:     st,
		rateBurst:  20,
		ratePerSec: 10,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/openapi.yaml", a.OpenAPISpec)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)

		r.Post("/auth/register", a.registerUser)
		r.Post("/auth/token", a.issueToken)

		r.Route("/contracts", func(r chi.Router) {
			r.Post("/", a.createContract)
			r.Get("/", a.listContracts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getContract)
				r.Patch("/", a.updateContract)
				r.Delete("/", a.deleteContract)

				r.Post("/submit", a.submitContract)
				r.Post("/review/procurement", a.reviewProcurement)
				r.Post("/review/legal", a.reviewLegal)
				r.Post("/finalize", a.finalizeContract)
				r.Post("/cancel", a.cancelContract)
				r.Post("/complete", a.completeContract)

				r.Post("/offers", a.submitOffer)
				r.Get("/offers", a.listOffers)
				r.Post("/offers/{offer_id}/select", a.selectOffer)
			})
		})

		r.Route("/offers/{id}", func(r chi.Router) {
			r.Get("/", a.getOffer)
			r.Post("/withdraw", a.withdrawOffer)
			r.Post("/reject", a.rejectOffer)
		})

		r.Get("/audit/{entity_type}/{entity_id}", a.entityHistory)
		r.Get("/audit/users/{user_id}", a.userActivity)

		r.Get("/stream/contracts", a.Stream)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler assembles the middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.router)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- info handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "contractflow-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "contractflow-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps domain errors onto HTTP statuses. Validation errors
// carry the offending field list so clients can render per-field feedback.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var cverr *contract.ValidationError
	var overr *offer.ValidationError
	var ite *contract.InvalidTransitionError

	switch {
	case errors.As(err, &cverr):
		writeValidationError(w, r, cverr.Fields)
	case errors.As(err, &overr):
		writeValidationError(w, r, overr.Fields)
	case errors.As(err, &ite):
		writeError(w, r, http.StatusConflict, ite.Error())
	case errors.Is(err, contract.ErrNotFound),
		errors.Is(err, offer.ErrNotFound),
		errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, contract.ErrForbidden), errors.Is(err, offer.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, contract.ErrNotEditable),
		errors.Is(err, contract.ErrReferenceTaken),
		errors.Is(err, contract.ErrStatusConflict),
		errors.Is(err, offer.ErrNotOpenForOffers),
		errors.Is(err, offer.ErrDuplicateOffer),
		errors.Is(err, offer.ErrNotSelectable),
		errors.Is(err, offer.ErrNotWithdrawable),
		errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeValidationError(w http.ResponseWriter, r *http.Request, fields []string) {
	payload := map[string]any{
		"error":  "validation failed",
		"fields": fields,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}

func requestMetadata(r *http.Request) audit.Metadata {
	return audit.Metadata{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: RequestIDFromContext(r.Context()),
	}
}

func principalOrFail(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return p, true
}

func trimmedParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
