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

	"gatehouse.org/internal/authz"
	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/session"
	"gatehouse.org/internal/token"
)

// ReadyProbe checks backing-store readiness (DB ping when present).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the session manager and authorization gateway.
type API struct {
	mux        *http.ServeMux
	sessions   *session.Manager
	gateway    *authz.Gateway
	directory  identity.Directory
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
}

// New wires the routes.
func New(rp ReadyProbe, version string, sessions *session.Manager, gateway *authz.Gateway, directory identity.Directory) *API {
	a := &API{
		mux:        http.NewServeMux(),
		sessions:   sessions,
		gateway:    gateway,
		directory:  directory,
		readyProbe: rp,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/admin/users", a.handleAdminUsers)
	a.mux.HandleFunc("/v1/superadmin/users", a.handleSuperAdminUsers)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped server handler.
func (a *API) Handler() http.Handler {
	h := a.withAuth(http.Handler(a.mux))
	h = RequestID(h)
	h = Logging(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatehouse-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
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

// writeValidationError reports field-level detail; validation failures are
// the only errors safe to describe precisely.
func writeValidationError(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	payload := map[string]any{
		"error":  "validation failed",
		"fields": fields,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
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

// handleCoreError maps core errors onto the response taxonomy. Security
// failures stay generic; only validation detail is surfaced.
func handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrAuthenticationFailed),
		errors.Is(err, session.ErrPrincipalDeleted):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, token.ErrTokenInvalid):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, session.ErrRefreshTokenInvalid):
		writeError(w, r, http.StatusUnauthorized, "refresh token invalid")
	case errors.Is(err, authz.ErrDenied):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, identity.ErrEmailTaken):
		writeValidationError(w, r, map[string]string{"email": "already registered"})
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// tokenResponse is the shape every issuance endpoint returns.
type tokenResponse struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	ExpiresAt    time.Time           `json:"expires_at"`
	User         *identity.Principal `json:"user"`
}

func newTokenResponse(sess session.Session, p *identity.Principal) tokenResponse {
	return tokenResponse{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.ExpiresAt,
		User:         p,
	}
}
