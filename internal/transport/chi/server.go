// Package chi is the HTTP transport: hand-written handlers on a chi router,
// JSON in and out, sentinel errors mapped to status codes.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/query"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
	healthuc "github.com/atriumhq/omnisearch/internal/usecase/health"
)

// Error response codes.
const (
	codeBadRequest    = "bad_request"
	codeInvalidQuery  = "invalid_query"
	codeUnknownEntity = "unknown_entity"
	codeUnauthorized  = "unauthorized"
	codeForbidden     = "forbidden"
	codeRateLimited   = "rate_limited"
	codeUnavailable   = "unavailable"
	codeInternal      = "internal_error"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
	TenantID          string `json:"tenantId,omitempty"`
}

// searchRequest is the POST /search body.
type searchRequest struct {
	Query    string                       `json:"query"`
	Entities []string                     `json:"entities,omitempty"`
	Filters  map[string]map[string]string `json:"filters,omitempty"`
	Limit    int                          `json:"limit,omitempty"`
}

// invalidateRequest is the POST /invalidate body.
type invalidateRequest struct {
	Entities []string `json:"entities,omitempty"`
}

// searcher is the consumer interface for the aggregation pipeline (ISP).
type searcher interface {
	Search(ctx context.Context, q *query.Query) (result.Response, error)
}

// invalidator is the consumer interface for cache version bumps (ISP).
type invalidator interface {
	Invalidate(ctx context.Context, tenantID string, entities []domain.Entity) error
}

// checker is the consumer interface for health reporting (ISP).
type checker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the search API over HTTP.
type Server struct {
	search        searcher
	cache         invalidator
	health        checker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search searcher, cache invalidator, health checker, logger *zap.Logger) *Server {
	s := &Server{
		search: search,
		cache:  cache,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, codeInvalidQuery),
		sentinelHandler(domain.ErrUnknownEntity, http.StatusBadRequest, codeUnknownEntity),
		sentinelHandler(domain.ErrPermissionDenied, http.StatusForbidden, codeForbidden),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrCacheUnavailable, http.StatusServiceUnavailable, codeUnavailable),
		sentinelHandler(domain.ErrAggregationFailed, http.StatusBadGateway, codeUnavailable),
	}
	return s
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "no principal")
		return
	}

	entities, err := parseEntities(req.Entities)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	q, err := query.New(
		Sanitize(req.Query),
		entities,
		parseFilters(req.Filters),
		req.Limit,
		p.TenantID,
		p,
	)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp, err := s.search.Search(r.Context(), &q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	// A degraded response (every source failed) keeps the envelope but
	// signals the outage in the status code.
	status := http.StatusOK
	if resp.Error != "" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

// Invalidate handles POST /invalidate. It bumps the caller tenant's version
// tokens for the named entity types (all types when none are named).
func (s *Server) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	p, ok := PrincipalFromContext(r.Context())
	if !ok || p.TenantID == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "tenant is required")
		return
	}
	if p.IsAnonymous() {
		writeError(w, http.StatusForbidden, codeForbidden, "invalidation requires authentication")
		return
	}

	entities, err := parseEntities(req.Entities)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if err := s.cache.Invalidate(r.Context(), p.TenantID, entities); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func parseEntities(names []string) ([]domain.Entity, error) {
	entities := make([]domain.Entity, 0, len(names))
	for _, n := range names {
		e := domain.Entity(n)
		if !e.IsValid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEntity, n)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func parseFilters(raw map[string]map[string]string) query.Filters {
	if len(raw) == 0 {
		return nil
	}
	filters := make(query.Filters, len(raw))
	for k, v := range raw {
		filters[domain.Entity(k)] = v
	}
	return filters
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidQuery,
		domain.ErrUnknownEntity,
		domain.ErrPermissionDenied,
		domain.ErrRateLimited,
		domain.ErrCacheUnavailable,
		domain.ErrAggregationFailed,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
