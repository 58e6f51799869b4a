// Package chi is the HTTP transport: routing, DTO mapping, and domain error
// translation for the coursedex API.
package chi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/coursedex/internal/domain"
	"github.com/kailas-cloud/coursedex/internal/domain/course"
	"github.com/kailas-cloud/coursedex/internal/domain/rec"
	domusage "github.com/kailas-cloud/coursedex/internal/domain/usage"
	"github.com/kailas-cloud/coursedex/internal/metrics"
	healthuc "github.com/kailas-cloud/coursedex/internal/usecase/health"
	recommenduc "github.com/kailas-cloud/coursedex/internal/usecase/recommend"
)

// Error codes returned in the JSON error body.
const (
	codeBadRequest        = "bad_request"
	codeEmptyQuery        = "empty_query"
	codeQueryTooLong      = "query_too_long"
	codeInvalidTopK       = "invalid_top_k"
	codeInvalidFilter     = "invalid_filter"
	codeIndexNotReady     = "index_not_ready"
	codeRetrievalDown     = "retrieval_unavailable"
	codeQuotaExceeded     = "embedding_quota_exceeded"
	codeProviderError     = "embedding_provider_error"
	codeInternalError     = "internal_error"
	codeReloadFailed      = "reload_failed"
	codeStreamUnsupported = "streaming_unsupported"
)

// Recommender is the retrieval engine surface the API serves.
type Recommender interface {
	Recommend(ctx context.Context, req *rec.Request) ([]rec.Recommendation, error)
	Filters() (recommenduc.FilterOptions, error)
	Info() (recommenduc.CatalogInfo, error)
	Reload(ctx context.Context) error
}

// Adviser streams an LLM advising answer for a query.
type Adviser interface {
	Advise(ctx context.Context, req *rec.Request,
		onCourses func(recs []rec.Recommendation) error,
		onDelta func(delta string) error) error
}

// UsageReporter builds token usage reports.
type UsageReporter interface {
	GetReport(ctx context.Context, period domusage.Period) domusage.Report
}

// HealthService runs component health checks.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// Server is the coursedex HTTP API server.
type Server struct {
	recommender Recommender
	adviser     Adviser
	usage       UsageReporter
	health      HealthService
	logger      *zap.Logger
}

// NewServer creates an HTTP API server. adviser can be nil (advising disabled).
func NewServer(
	recommender Recommender,
	adviser Adviser,
	usage UsageReporter,
	health HealthService,
	logger *zap.Logger,
) *Server {
	return &Server{
		recommender: recommender,
		adviser:     adviser,
		usage:       usage,
		health:      health,
		logger:      logger,
	}
}

// Routes mounts all API handlers on the router.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/recommend", s.handleRecommend)
		r.Get("/filters", s.handleFilters)
		r.Post("/advise", s.handleAdvise)
		r.Post("/reload", s.handleReload)
		r.Get("/usage", s.handleUsage)
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

// --- DTOs ---

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type recommendRequest struct {
	Query   string            `json:"query"`
	Filters map[string]string `json:"filters,omitempty"`
	TopK    *int              `json:"top_k,omitempty"`
}

type prerequisiteDTO struct {
	Description string `json:"description"`
}

type recommendationDTO struct {
	Offering      string            `json:"offering"`
	Section       string            `json:"section"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Department    string            `json:"department,omitempty"`
	School        string            `json:"school,omitempty"`
	Level         string            `json:"level,omitempty"`
	Instructors   string            `json:"instructors,omitempty"`
	Credits       string            `json:"credits,omitempty"`
	Status        string            `json:"status,omitempty"`
	Seats         string            `json:"seats,omitempty"`
	Meetings      string            `json:"meetings,omitempty"`
	Areas         string            `json:"areas,omitempty"`
	Prerequisites []prerequisiteDTO `json:"prerequisites,omitempty"`
	CombinedScore float64           `json:"combined_score"`
	LexicalScore  float64           `json:"lexical_score"`
	SemanticScore float64           `json:"semantic_score"`
}

type recommendResponse struct {
	Query          string              `json:"query"`
	Count          int                 `json:"count"`
	CatalogVersion string              `json:"catalog_version,omitempty"`
	Results        []recommendationDTO `json:"results"`
}

type filtersResponse struct {
	Schools        []string `json:"schools"`
	Departments    []string `json:"departments"`
	Levels         []string `json:"levels"`
	CatalogVersion string   `json:"catalog_version,omitempty"`
	Courses        int      `json:"courses"`
}

type reloadResponse struct {
	Status         string `json:"status"`
	Courses        int    `json:"courses"`
	CatalogVersion string `json:"catalog_version"`
	VectorDim      int    `json:"vector_dim"`
	ElapsedMs      int64  `json:"elapsed_ms"`
}

type usageResponse struct {
	Period          string  `json:"period"`
	PeriodStartAt   *string `json:"period_start_at,omitempty"`
	PeriodEndAt     *string `json:"period_end_at,omitempty"`
	TokensUsed      int64   `json:"tokens_used"`
	TokensLimit     int64   `json:"tokens_limit"`
	TokensRemaining int64   `json:"tokens_remaining"`
	IsExhausted     bool    `json:"is_exhausted"`
	ResetsAt        *string `json:"resets_at,omitempty"`
}

// --- Handlers ---

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRanking(w, r)
	if !ok {
		metrics.RecommendRequestsTotal.WithLabelValues("invalid").Inc()
		return
	}

	recs, err := s.recommender.Recommend(r.Context(), req)
	if err != nil {
		metrics.RecommendRequestsTotal.WithLabelValues(recommendStatus(err)).Inc()
		s.handleDomainError(w, err)
		return
	}
	metrics.RecommendRequestsTotal.WithLabelValues("ok").Inc()

	results := make([]recommendationDTO, len(recs))
	for i := range recs {
		results[i] = recommendationToDTO(&recs[i])
	}

	resp := recommendResponse{
		Query:   req.Query(),
		Count:   len(results),
		Results: results,
	}
	if info, err := s.recommender.Info(); err == nil {
		resp.CatalogVersion = info.Version
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	opts, err := s.recommender.Filters()
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp := filtersResponse{
		Schools:     opts.Schools,
		Departments: opts.Departments,
		Levels:      opts.Levels,
	}
	if info, err := s.recommender.Info(); err == nil {
		resp.CatalogVersion = info.Version
		resp.Courses = info.Courses
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleAdvise streams the advising answer over SSE. Events in order: one
// "courses" event with the grounding list, "delta" events with answer chunks,
// and a final "done" event. Errors before the first byte map to JSON; errors
// mid-stream become an "error" event since the status line is already sent.
func (s *Server) handleAdvise(w http.ResponseWriter, r *http.Request) {
	if s.adviser == nil {
		writeError(w, http.StatusNotImplemented, codeInternalError, "advising is not configured")
		return
	}

	req, ok := s.decodeRanking(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeStreamUnsupported, "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The courses event is the point of no return for the HTTP status:
	// retrieval errors before it map to JSON, anything after becomes an
	// "error" event on the open stream.
	started := false
	count := 0
	err := s.adviser.Advise(r.Context(), req,
		func(recs []rec.Recommendation) error {
			w.WriteHeader(http.StatusOK)
			started = true
			count = len(recs)
			dtos := make([]recommendationDTO, len(recs))
			for i := range recs {
				dtos[i] = recommendationToDTO(&recs[i])
			}
			if err := writeSSE(w, "courses", dtos); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		func(delta string) error {
			if err := writeSSE(w, "delta", map[string]string{"text": delta}); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})

	if err != nil {
		if !started {
			s.handleDomainError(w, err)
			return
		}
		s.logger.Warn("advising stream failed", zap.Error(err))
		_ = writeSSE(w, "error", errorResponse{Code: codeInternalError, Message: "advising stream failed"})
		flusher.Flush()
		return
	}

	_ = writeSSE(w, "done", map[string]int{"courses": count})
	flusher.Flush()
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.recommender.Reload(r.Context()); err != nil {
		s.logger.Error("Catalog reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeReloadFailed, "catalog reload failed")
		return
	}

	info, err := s.recommender.Info()
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reloadResponse{
		Status:         "ok",
		Courses:        info.Courses,
		CatalogVersion: info.Version,
		VectorDim:      info.VectorDim,
		ElapsedMs:      time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	period := domusage.PeriodMonth
	switch r.URL.Query().Get("period") {
	case "day":
		period = domusage.PeriodDay
	case "total":
		period = domusage.PeriodTotal
	case "", "month":
	default:
		writeError(w, http.StatusBadRequest, codeBadRequest, "period must be day, month, or total")
		return
	}

	report := s.usage.GetReport(r.Context(), period)

	resp := usageResponse{
		Period:          string(report.Period()),
		TokensUsed:      report.TokensUsed(),
		TokensLimit:     report.Budget().TokensLimit(),
		TokensRemaining: report.Budget().TokensRemaining(),
		IsExhausted:     report.Budget().IsExhausted(),
	}
	if report.PeriodStart() > 0 {
		start := time.UnixMilli(report.PeriodStart()).UTC().Format(time.RFC3339)
		end := time.UnixMilli(report.PeriodEnd()).UTC().Format(time.RFC3339)
		resp.PeriodStartAt = &start
		resp.PeriodEndAt = &end
	}
	if report.Budget().ResetsAt() > 0 {
		resets := time.UnixMilli(report.Budget().ResetsAt()).UTC().Format(time.RFC3339)
		resp.ResetsAt = &resets
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
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

// --- Helpers ---

// decodeRanking parses and validates the shared recommend/advise body.
func (s *Server) decodeRanking(w http.ResponseWriter, r *http.Request) (*rec.Request, bool) {
	var body recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return nil, false
	}

	topK := rec.DefaultTopK
	if body.TopK != nil {
		topK = *body.TopK
	}

	req, err := rec.New(body.Query, body.Filters, topK)
	if err != nil {
		s.handleDomainError(w, err)
		return nil, false
	}
	return &req, true
}

func recommendationToDTO(r *rec.Recommendation) recommendationDTO {
	c := r.Course()
	return recommendationDTO{
		Offering:      c.Offering,
		Section:       c.Section,
		Title:         c.Title,
		Description:   c.Description,
		Department:    c.Department,
		School:        c.School,
		Level:         c.Level,
		Instructors:   c.Instructors,
		Credits:       c.Credits,
		Status:        c.Status,
		Seats:         c.Seats,
		Meetings:      c.Meetings,
		Areas:         c.Areas,
		Prerequisites: prerequisitesToDTO(c.Prerequisites),
		CombinedScore: r.CombinedScore(),
		LexicalScore:  r.LexicalScore(),
		SemanticScore: r.SemanticScore(),
	}
}

func prerequisitesToDTO(ps []course.Prerequisite) []prerequisiteDTO {
	if len(ps) == 0 {
		return nil
	}
	out := make([]prerequisiteDTO, len(ps))
	for i, p := range ps {
		out[i] = prerequisiteDTO{Description: p.Description}
	}
	return out
}

func recommendStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrIndexNotReady):
		return "not_ready"
	case errors.Is(err, domain.ErrRetrievalUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrEmptyQuery),
		errors.Is(err, domain.ErrQueryTooLong),
		errors.Is(err, domain.ErrInvalidTopK),
		errors.Is(err, domain.ErrInvalidFilter):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))

	var ife *domain.InvalidFilterError
	if errors.As(err, &ife) {
		writeError(w, http.StatusBadRequest, codeInvalidFilter, ife.Error())
		return
	}

	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, codeEmptyQuery, domain.ErrEmptyQuery.Error())
	case errors.Is(err, domain.ErrQueryTooLong):
		writeError(w, http.StatusBadRequest, codeQueryTooLong, err.Error())
	case errors.Is(err, domain.ErrInvalidTopK):
		writeError(w, http.StatusBadRequest, codeInvalidTopK, domain.ErrInvalidTopK.Error())
	case errors.Is(err, domain.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, codeInvalidFilter, domain.ErrInvalidFilter.Error())
	case errors.Is(err, domain.ErrIndexNotReady):
		writeError(w, http.StatusServiceUnavailable, codeIndexNotReady, domain.ErrIndexNotReady.Error())
	case errors.Is(err, domain.ErrEmbeddingQuotaExceeded):
		writeError(w, http.StatusPaymentRequired, codeQuotaExceeded, domain.ErrEmbeddingQuotaExceeded.Error())
	case errors.Is(err, domain.ErrRetrievalUnavailable):
		writeError(w, http.StatusBadGateway, codeRetrievalDown, domain.ErrRetrievalUnavailable.Error())
	case errors.Is(err, domain.ErrEmbeddingProviderError):
		writeError(w, http.StatusBadGateway, codeProviderError, domain.ErrEmbeddingProviderError.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	return nil
}
