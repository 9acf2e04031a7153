package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	applog "fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/services"
)

// Options tunes the server. Zero values pick defaults.
type Options struct {
	Logger *applog.Logger
	// RequestTimeout bounds the context of every API request.
	RequestTimeout time.Duration
	// RateLimit is mutating requests per minute per client; 0 disables it.
	RateLimit int
	// BlockSuspicious rejects requests the detector flags instead of only
	// logging them.
	BlockSuspicious bool
}

type Server struct {
	http.Server
	svc    *services.FinanceService
	logger *applog.Logger
	start  time.Time

	traceMiddleware  *trace.Middleware
	securityDetector *security.Detector
	rateLimiter      *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, svc *services.FinanceService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	detector := security.NewDetector()
	s := &Server{
		svc:              svc,
		logger:           logger,
		start:            time.Now(),
		traceMiddleware:  trace.NewMiddleware(logger, detector.ExtractClientIP),
		securityDetector: detector,
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		NotFoundError("route not found").Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(timeoutMiddleware(opts.RequestTimeout))

	api.HandleFunc("/categories", s.handleCategories).Methods(http.MethodGet)

	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions", s.handleCreateTransaction).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", s.handleUpdateTransaction).Methods(http.MethodPut)
	api.HandleFunc("/transactions/{id}", s.handleDeleteTransaction).Methods(http.MethodDelete)

	api.HandleFunc("/budgets", s.handleGetBudget).Methods(http.MethodGet)
	api.HandleFunc("/budgets", s.handleSaveBudget).Methods(http.MethodPost, http.MethodPut)

	analytics := api.PathPrefix("/analytics").Subrouter()
	analytics.HandleFunc("/totals", s.handleTotals).Methods(http.MethodGet)
	analytics.HandleFunc("/insights", s.handleInsights).Methods(http.MethodGet)
	analytics.HandleFunc("/top", s.handleTopCategories).Methods(http.MethodGet)
	analytics.HandleFunc("/breakdown", s.handleBreakdown).Methods(http.MethodGet)
	analytics.HandleFunc("/comparison", s.handleComparison).Methods(http.MethodGet)
	analytics.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)

	// Outermost first: tracing sees every response, including rejections
	var h http.Handler = r
	if opts.RateLimit > 0 {
		s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimit})
		h = s.rateLimiter.Middleware(detector.ExtractClientIP, ratelimit.MutatingOnly, func(w http.ResponseWriter, r *http.Request) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
				applog.FieldComponent, applog.ComponentRateLimit,
				applog.FieldClientIP, detector.ExtractClientIP(r))
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
		})(h)
	}
	h = detector.Middleware(opts.BlockSuspicious)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.traceMiddleware.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      opts.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s
}

// timeoutMiddleware bounds the request context; handlers pass it down to
// the store.
func timeoutMiddleware(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		err = s.Server.Shutdown(ctx)
	})
	return err
}
