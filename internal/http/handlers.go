package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	applog "fintrack/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.start).Round(time.Second).String(),
	}).Write(w)
}

// handleReady reports ready only when the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]string{"storage": "ok"}
	if err := s.svc.Ping(ctx); err != nil {
		applog.LogError(ctx, "Readiness check failed", err, applog.ErrorTypeDatabase, applog.OpRead, nil)
		checks["storage"] = "failed"
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	NewJSONResponse().Status(code).Body(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()
	svcStats := s.svc.Stats()

	fmt.Fprintf(w, "# fintrack metrics\n")
	fmt.Fprintf(w, "uptime_seconds %d\n", int64(time.Since(s.start).Seconds()))
	fmt.Fprintf(w, "http_requests_total %d\n", traceMetrics.TotalRequests)
	fmt.Fprintf(w, "http_client_errors_total %d\n", traceMetrics.ClientErrors)
	fmt.Fprintf(w, "http_server_errors_total %d\n", traceMetrics.ServerErrors)
	fmt.Fprintf(w, "http_response_time_avg_microseconds %d\n", traceMetrics.AverageResponseTime)
	fmt.Fprintf(w, "security_suspicious_requests_total %d\n", securityMetrics.SuspiciousRequests)
	fmt.Fprintf(w, "security_blocked_requests_total %d\n", securityMetrics.BlockedRequests)
	fmt.Fprintf(w, "security_invalid_ip_total %d\n", securityMetrics.InvalidIPAttempts)
	if s.rateLimiter != nil {
		rl := s.rateLimiter.GetMetrics()
		fmt.Fprintf(w, "rate_limit_rejected_total %d\n", rl.Rejected)
		fmt.Fprintf(w, "rate_limit_clients %d\n", rl.ClientCount)
	}
	fmt.Fprintf(w, "analytics_cache_hits_total %d\n", svcStats.Cache.Hits)
	fmt.Fprintf(w, "analytics_cache_misses_total %d\n", svcStats.Cache.Misses)
	fmt.Fprintf(w, "analytics_cache_entries %d\n", svcStats.Cache.Size)
	fmt.Fprintf(w, "events_published_total %d\n", svcStats.EventsPublished)
	fmt.Fprintf(w, "events_failed_total %d\n", svcStats.EventsFailed)
}

// handleCategories exposes the registry, read-only, in registry order.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.svc.Registry().Categories()).Write(w)
}
