// Package http exposes the check service over HTTP.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/rpcspec/adapters/metrics"
	"github.com/artpar/rpcspec/adapters/yamlforms"
	"github.com/artpar/rpcspec/app"
	"github.com/artpar/rpcspec/pkg/jsonapi"
	"github.com/artpar/rpcspec/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	defaultMaxBody   = 1 << 20
	defaultListLimit = 20
	maxListLimit     = 200
)

// CheckHandler serves check requests and run history.
type CheckHandler struct {
	checks  *app.CheckService
	runs    ports.RunStore // nil when history is disabled
	logger  zerolog.Logger
	maxBody int64
}

// NewCheckHandler creates a new check handler. runs may be nil.
func NewCheckHandler(checks *app.CheckService, runs ports.RunStore, logger zerolog.Logger, maxBody int64) *CheckHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &CheckHandler{
		checks:  checks,
		runs:    runs,
		logger:  logger,
		maxBody: maxBody,
	}
}

type runAttributes struct {
	Source     string             `json:"source"`
	Outcome    string             `json:"outcome"`
	Checked    int                `json:"checked"`
	Accepted   int                `json:"accepted"`
	Rejected   int                `json:"rejected"`
	Errors     int                `json:"errors"`
	FirstIndex int                `json:"first_index,omitempty"`
	FirstError string             `json:"first_error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	DurationMs float64            `json:"duration_ms"`
	Results    []resultAttributes `json:"results,omitempty"`
}

type resultAttributes struct {
	Index   int    `json:"index"`
	Line    int    `json:"line,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Name    string `json:"name,omitempty"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

func runResource(run ports.Run) jsonapi.Resource {
	attrs := runAttributes{
		Source:     run.Source,
		Outcome:    run.Outcome,
		Checked:    run.Checked,
		Accepted:   run.Accepted,
		Rejected:   run.Rejected,
		Errors:     run.Errors,
		FirstIndex: run.FirstIndex,
		FirstError: run.FirstError,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		DurationMs: float64(run.Duration().Microseconds()) / 1000,
	}
	for _, r := range run.Results {
		attrs.Results = append(attrs.Results, resultAttributes(r))
	}
	return jsonapi.Resource{
		Type:       "runs",
		ID:         run.ID,
		Attributes: attrs,
		Links:      &jsonapi.Links{Self: "/v1/runs/" + run.ID},
	}
}

// Check runs the declarations in the request body.
// Query parameters: source (label stored with the run), keep_going and unique_names (booleans).
func (h *CheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var opts []app.CheckOption
	if v := q.Get("keep_going"); v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			jsonapi.WriteError(w, jsonapi.ErrBadRequest("keep_going must be a boolean"))
			return
		}
		opts = append(opts, app.WithStopOnFailure(!keep))
	}
	if v := q.Get("unique_names"); v != "" {
		unique, err := strconv.ParseBool(v)
		if err != nil {
			jsonapi.WriteError(w, jsonapi.ErrBadRequest("unique_names must be a boolean"))
			return
		}
		opts = append(opts, app.WithUniqueNames(unique))
	}

	source := q.Get("source")
	if source == "" {
		source = "http"
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonapi.WriteError(w, jsonapi.ErrTooLarge(tooLarge.Limit))
			return
		}
		jsonapi.WriteError(w, jsonapi.ErrBadRequest("failed to read request body"))
		return
	}

	run, err := h.checks.Check(r.Context(), source, yamlforms.NewDecoder(bytes.NewReader(body)), opts...)
	switch {
	case errors.Is(err, app.ErrSource):
		jsonapi.WriteError(w, jsonapi.ErrUnprocessable("invalid_document", err.Error()).WithMeta("run_id", run.ID))
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusServiceUnavailable, "cancelled", err.Error()))
		return
	case err != nil:
		h.logger.Error().Err(err).Str("run_id", run.ID).Msg("check failed")
		jsonapi.WriteError(w, jsonapi.ErrInternal(""))
		return
	}

	w.Header().Set("X-Check-Outcome", run.Outcome)
	jsonapi.WriteResource(w, http.StatusOK, runResource(run))
}

// ListRuns returns recent runs, newest first. Query parameter: limit.
func (h *CheckHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		jsonapi.WriteError(w, historyDisabled())
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonapi.WriteError(w, jsonapi.ErrBadRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("list runs failed")
		jsonapi.WriteError(w, jsonapi.ErrInternal(""))
		return
	}

	resources := make([]jsonapi.Resource, 0, len(runs))
	for _, run := range runs {
		resources = append(resources, runResource(run))
	}
	jsonapi.WriteCollection(w, resources, jsonapi.Meta{"limit": limit})
}

// GetRun returns one run with its results.
func (h *CheckHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		jsonapi.WriteError(w, historyDisabled())
		return
	}

	id := chi.URLParam(r, "id")
	run, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, ports.ErrNotFound) {
		jsonapi.WriteError(w, jsonapi.ErrNotFound("run", id))
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", id).Msg("get run failed")
		jsonapi.WriteError(w, jsonapi.ErrInternal(""))
		return
	}
	jsonapi.WriteResource(w, http.StatusOK, runResource(run))
}

func historyDisabled() jsonapi.Error {
	return jsonapi.NewError(http.StatusNotFound, "history_disabled", "run history is not enabled")
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	db Pinger // optional
}

// NewHealthHandler creates a new health handler. db may be nil.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Liveness returns OK while the process is serving.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks the database, if any.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RouterConfig configures optional router features.
type RouterConfig struct {
	Version        string
	RequestTimeout time.Duration // 0 disables
	RateLimit      float64       // requests per second on /v1, 0 disables
	RateBurst      int
	Metrics        *metrics.Collector // optional
	MetricsHandler http.Handler       // served at MetricsPath when set
	MetricsPath    string             // defaults to /metrics
}

// NewRouter creates the HTTP router.
func NewRouter(checks *CheckHandler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = defaultMetricsPath
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger, metricsPath))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, metricsPath))
	}

	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.MetricsHandler != nil {
		r.Handle(metricsPath, cfg.MetricsHandler)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "rpcspec"})
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(NewRateLimitMiddleware(cfg.RateLimit, cfg.RateBurst, cfg.Metrics))
		}
		r.Post("/check", checks.Check)
		r.Get("/runs", checks.ListRuns)
		r.Get("/runs/{id}", checks.GetRun)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusNotFound, "not_found", "no route for "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusMethodNotAllowed, "method_not_allowed",
			r.Method+" is not allowed on "+r.URL.Path))
	})

	return r
}
