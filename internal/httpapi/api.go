// Package httpapi exposes the auth subsystem over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"authgate.org/internal/access"
	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
	"authgate.org/internal/stream"
)

// ReadyProbe reports whether the service's dependencies are reachable.
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
	mux        *http.ServeMux
	orch       *auth.Orchestrator
	resolver   *access.Resolver
	events     *stream.Stream
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
}

// New assembles the API around its collaborators. The resolver and events
// stream may be nil; the corresponding endpoints then reject or no-op.
func New(rp ReadyProbe, version string, orch *auth.Orchestrator, resolver *access.Resolver, events *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		orch:       orch,
		resolver:   resolver,
		events:     events,
		readyProbe: rp,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/auth", a.handleLogin)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/logout", a.withAuth(a.handleLogout))
	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/reset", a.handleReset)
	a.mux.HandleFunc("/auth/me", a.withAuth(a.handleMe))

	a.mux.HandleFunc("/v1/sessions/stream", a.withAuth(a.handleSessionStream))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authgate-api",
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
		"name":    "authgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// mapAuthError translates the orchestrator's error taxonomy onto HTTP
// status codes. ErrEmailUnverified is handled by the login handler and never
// reaches here.
func mapAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingDeviceID):
		writeError(w, http.StatusBadRequest,
			`device id is required. set in http header request ["Device-Uuid" = <uuid>]`)
	case errors.Is(err, auth.ErrMissingCredentials):
		writeError(w, http.StatusBadRequest, "email and password are required")
	case errors.Is(err, auth.ErrValidation), errors.Is(err, auth.ErrVerificationDispatch):
		writeError(w, http.StatusBadRequest, userFacing(err))
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "your authentication expired")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// userFacing strips the package prefix from wrapped taxonomy errors.
func userFacing(err error) string {
	return strings.TrimPrefix(err.Error(), "auth: ")
}
