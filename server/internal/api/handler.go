package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"

	"github.com/obsidianstack/umpire/server/internal/auth"
	"github.com/obsidianstack/umpire/server/internal/backend"
	"github.com/obsidianstack/umpire/server/internal/check"
	"github.com/obsidianstack/umpire/server/internal/composite"
	"github.com/obsidianstack/umpire/server/internal/telemetry"
	"github.com/obsidianstack/umpire/server/internal/threshold"
)

// Options configures the router.
type Options struct {
	// DefaultBackend is used when a request has no backend parameter.
	DefaultBackend string

	// ForceHTTPS redirects plain-HTTP requests to https.
	ForceHTTPS bool

	// Logger receives access logs. slog.Default() when nil.
	Logger *slog.Logger
}

// Handler serves /check, /health and /metrics.
type Handler struct {
	checks         *check.Service
	counters       *telemetry.Counters
	defaultBackend string
	backends       map[string]bool
	router         chi.Router
}

// New builds the HTTP handler. scopes guards /check; counters may be nil.
func New(svc *check.Service, scopes *auth.Scopes, counters *telemetry.Counters, opts Options) http.Handler {
	h := &Handler{
		checks:         svc,
		counters:       counters,
		defaultBackend: opts.DefaultBackend,
		backends:       make(map[string]bool),
	}
	for _, name := range svc.Backends() {
		h.backends[name] = true
	}
	if h.defaultBackend == "" {
		h.defaultBackend = backend.Graphite
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:             slog.LevelDebug,
		Schema:            httplog.SchemaECS.Concise(true),
		LogRequestHeaders: []string{},
	}))
	r.Use(requestID)
	r.Use(recoverer)
	r.Use(tracing)
	if opts.ForceHTTPS {
		r.Use(forceHTTPS)
	}

	r.With(scopes.Middleware).Get("/check", h.check)
	r.Get("/health", h.health)
	r.Get("/metrics", h.metrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, msgRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, msgMethodNotAllow)
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// check runs GET /check and answers according to the outcome.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	backendName := r.URL.Query().Get("backend")
	if backendName == "" {
		backendName = h.defaultBackend
	}
	if scope := auth.ScopeFrom(r.Context()); scope != "" {
		httplog.SetAttrs(r.Context(), slog.String("scope", scope))
	}

	req, err := check.ParseRequest(r.URL.Query(), h.defaultBackend)
	if err != nil {
		h.respond(w, r, backendName, statusForError(r, err))
		return
	}

	outcome, err := h.checks.Run(r.Context(), req)
	if err != nil {
		h.respond(w, r, req.Backend, statusForError(r, err))
		return
	}
	h.respond(w, r, req.Backend, statusForOutcome(outcome, req.EmptyOK))
}

// health returns GET /health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, HealthResponse{Health: "ok"})
}

// metrics returns GET /metrics in the Prometheus text format.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", string(telemetry.Format))
	w.WriteHeader(http.StatusOK)
	if err := h.counters.WriteText(w); err != nil {
		slog.Error("api: write metrics", "error", err)
	}
}

// --- outcome mapping --------------------------------------------------------

type reply struct {
	code int
	body any
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, backendName string, rep reply) {
	code := jsonResp(w, rep.code, rep.body)
	h.counters.ObserveCheck(h.backendLabel(backendName), code)
}

// backendLabel bounds the counter label set to the configured backends.
func (h *Handler) backendLabel(name string) string {
	if h.backends[name] {
		return name
	}
	return unknownBackend
}

// statusForOutcome maps an evaluation to its response.
func statusForOutcome(o threshold.Outcome, emptyOK bool) reply {
	switch {
	case o.NoData && emptyOK:
		return reply{http.StatusOK, errorResponse{Error: msgNoValues}}
	case o.NoData:
		return reply{http.StatusNotFound, errorResponse{Error: msgNoValues}}
	case o.Violated:
		return reply{http.StatusInternalServerError, ValueResponse{Value: o.Value}}
	default:
		return reply{http.StatusOK, ValueResponse{Value: o.Value}}
	}
}

// statusForError maps a parse or fetch failure to its response.
// Unclassified errors are logged and answered without detail.
func statusForError(r *http.Request, err error) reply {
	var (
		ve *check.ValidationError
		ue *composite.UnknownFunctionError
	)
	switch {
	case errors.As(err, &ve):
		return reply{http.StatusBadRequest, errorResponse{Error: ve.Msg}}
	case errors.Is(err, composite.ErrTooFewMetrics):
		return reply{http.StatusBadRequest, errorResponse{Error: composite.ErrTooFewMetrics.Error()}}
	case errors.Is(err, composite.ErrTooManyMetrics):
		return reply{http.StatusBadRequest, errorResponse{Error: composite.ErrTooManyMetrics.Error()}}
	case errors.Is(err, composite.ErrArity):
		return reply{http.StatusBadRequest, errorResponse{Error: composite.ErrArity.Error()}}
	case errors.As(err, &ue):
		return reply{http.StatusBadRequest, errorResponse{Error: ue.Error()}}
	case errors.Is(err, backend.ErrMetricNotFound):
		return reply{http.StatusNotFound, errorResponse{Error: msgNotFound}}
	case errors.Is(err, backend.ErrServiceUnavailable):
		slog.Warn("api: backend unavailable",
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		return reply{http.StatusServiceUnavailable, errorResponse{Error: msgUnavailable}}
	default:
		slog.Error("api: check failed",
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		return reply{http.StatusInternalServerError, errorResponse{Error: msgInternal}}
	}
}

// --- helpers ----------------------------------------------------------------

// jsonResp writes v as a newline-terminated JSON body and returns the
// status actually sent. A value that cannot be encoded becomes a 500.
func jsonResp(w http.ResponseWriter, code int, v interface{}) int {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("api: encode response", "status", code, "err", err)
		code = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: msgInternal})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n')) //nolint:errcheck
	return code
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
