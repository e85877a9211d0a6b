// Package api exposes the engine's operations over HTTP for operators
// and dashboards: triggering work items, inspecting their phase and
// checkpoint history, cancelling, and starting approved
// implementations.
//
// The tenant is carried in the X-Tenant-ID header on every call, never
// inferred. The API is read-mostly; the only mutations are the ones the
// engine itself offers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/engine"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// TenantHeader names the header carrying the tenant identifier.
const TenantHeader = "X-Tenant-ID"

// API wires HTTP handlers over an engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API from an engine.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns the assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/items", a.triggerItem)
	mux.HandleFunc("GET /v1/items", a.listItems)
	mux.HandleFunc("GET /v1/items/{itemID}", a.getItem)
	mux.HandleFunc("POST /v1/items/{itemID}/cancel", a.cancelItem)
	mux.HandleFunc("POST /v1/items/{itemID}/implement", a.implementItem)
	mux.HandleFunc("GET /v1/items/{itemID}/checkpoints", a.itemCheckpoints)
	return mux
}

// tenant extracts the tenant header, writing a 400 when absent.
func (a *API) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	t := r.Header.Get(TenantHeader)
	if t == "" {
		a.writeError(w, http.StatusBadRequest, "missing "+TenantHeader+" header")
		return "", false
	}
	return t, true
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("api: encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, code int, msg string) {
	a.writeJSON(w, code, map[string]string{"error": msg})
}

// storeError maps sentinel errors onto HTTP status codes. Anything
// unrecognized is a 500.
func (a *API) storeError(w http.ResponseWriter, err error) {
	var ite *state.InvalidTransitionError
	switch {
	case errors.Is(err, prfactory.ErrWorkItemNotFound),
		errors.Is(err, prfactory.ErrCheckpointNotFound),
		errors.Is(err, prfactory.ErrRequestNotFound):
		a.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, prfactory.ErrWorkItemExists),
		errors.Is(err, prfactory.ErrPendingRequest):
		a.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &ite):
		a.writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error("api: request failed", slog.String("error", err.Error()))
		a.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
