// Package httpapi is the HTTP gateway: routing, session resolution, route
// classification with per-class rate limits, and request handlers.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"certiscan.io/internal/auth"
	"certiscan.io/internal/obs"
	"certiscan.io/internal/product"
	"certiscan.io/internal/qrid"
	"certiscan.io/internal/ratelimit"
	"certiscan.io/internal/stream"
)

// ReadyProbe checks downstream readiness (database ping when configured).
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
	svc        *product.Service
	users      auth.UserStore
	limiter    *ratelimit.Limiter
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string
	tokenTTL   time.Duration

	backstopPerSecond int
	backstopBurst     int
}

// Options carries the API's collaborators.
type Options struct {
	Service    *product.Service
	Users      auth.UserStore
	Limiter    *ratelimit.Limiter
	Stream     *stream.Stream
	ReadyProbe ReadyProbe
	Version    string
	TokenTTL   time.Duration

	// Backstop token bucket in front of the whole mux; zero disables it.
	BackstopPerSecond int
	BackstopBurst     int
}

// New wires routes. The returned API still needs Handler() for the full
// middleware chain.
func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        opts.Service,
		users:      opts.Users,
		limiter:    opts.Limiter,
		stream:     opts.Stream,
		readyProbe: opts.ReadyProbe,
		version:    opts.Version,
		tokenTTL:   opts.TokenTTL,

		backstopPerSecond: opts.BackstopPerSecond,
		backstopBurst:     opts.BackstopBurst,
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = 15 * time.Minute
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/signin", a.handleSignIn)

	a.mux.HandleFunc("/v1/products", a.handleProductsCollection)
	a.mux.HandleFunc("/v1/products/", a.handleProductResource)
	a.mux.HandleFunc("/v1/factories", a.handleFactoriesCollection)
	a.mux.HandleFunc("/v1/factories/", a.handleFactoryResource)
	a.mux.HandleFunc("/v1/batches", a.handleBatchesCollection)
	a.mux.HandleFunc("/v1/batches/", a.handleBatchResource)
	a.mux.HandleFunc("/v1/qrcodes", a.handleMintCodes)

	a.mux.HandleFunc("/v1/admin/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/admin/users/", a.handleUserResource)

	a.mux.HandleFunc("/v1/stream/scans", a.StreamScans)

	// Public verification page lookup.
	a.mux.HandleFunc("/product/", a.handleVerify)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler composes the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = a.gateway(h)
	if a.backstopPerSecond > 0 && a.backstopBurst > 0 {
		h = Backstop(h, a.backstopPerSecond, a.backstopBurst)
	}
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// --- health / info ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "certiscan-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "certiscan-api",
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

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
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

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("value must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("value out of range")
	}
	return val, nil
}

// handleDomainError maps service errors to HTTP responses.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, product.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
	case errors.Is(err, product.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, product.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, product.ErrCodeTaken), errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, product.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, qrid.ErrExhausted):
		writeError(w, r, http.StatusServiceUnavailable, "identifier space exhausted, try again later")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
