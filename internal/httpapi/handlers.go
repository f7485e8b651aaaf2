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

	"agora.org/internal/audit"
	"agora.org/internal/obs"
	"agora.org/internal/ranked"
	"agora.org/internal/stream"
)

// ReadyProbe reports whether backing services accept work.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the ranked collections.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	ranked     *ranked.Service
	stream     *stream.Stream

	maxBodyBytes int64
	rateBurst    int
	ratePerSec   float64
}

// Option tunes API limits.
type Option func(*API)

// WithStream publishes change events to s instead of a private stream.
func WithStream(s *stream.Stream) Option {
	return func(a *API) {
		if s != nil {
			a.stream = s
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithRateLimit sets the per client token bucket. A zero rate disables it.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

func New(rp ReadyProbe, version string, svc *ranked.Service, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		ranked:       svc,
		stream:       stream.New(),
		maxBodyBytes: 1 << 20,
		rateBurst:    100,
		ratePerSec:   50,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())
	a.mux.HandleFunc("/v1/events", a.Events)

	for _, kind := range []ranked.Kind{ranked.KindRole, ranked.KindBoard} {
		h := a.handleKind(kind)
		a.mux.HandleFunc(collectionPath(kind), h)
		a.mux.HandleFunc(collectionPath(kind)+"/", h)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	if a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = Logging(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "agora-api",
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
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "agora-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event string, kind ranked.Kind, id string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["kind"] = string(kind)
	if id != "" {
		fields["id"] = id
	}
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Logger().Error().Err(err).Str("event", event).Msg("audit.failed")
	}
}

func (a *API) publish(ctx context.Context, kind ranked.Kind, op string, size int, ids ...string) {
	a.stream.Publish(stream.ChangeEvent{
		Kind:      string(kind),
		Op:        op,
		IDs:       ids,
		Size:      size,
		RequestID: RequestIDFromContext(ctx),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
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

func handleRankedError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ranked.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ranked.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ranked.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "ranked operation failed")
	}
}
