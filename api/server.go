// Package api provides the HTTP API server for the cost advisor. It exposes
// the recommendation feed, the user lifecycle actions, admin rule settings,
// and the run trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"costadvisor/internal/engine"
	"costadvisor/internal/recstore"
	"costadvisor/internal/rules"
	"costadvisor/pkg/catalog"
	"costadvisor/pkg/platform"
)

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	store      *recstore.Store
	registry   *rules.Registry
	catalog    catalog.Store
	logger     *zap.Logger
	config     *Config
}

// Config holds server configuration
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
	CORSOrigins    []string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxRequestSize: 1 * 1024 * 1024, // 1MB
		CORSOrigins:    []string{"*"},
	}
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, store *recstore.Store, registry *rules.Registry, cat catalog.Store, logger *zap.Logger, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:   eng,
		store:    store,
		registry: registry,
		catalog:  cat,
		logger:   logger,
		config:   config,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/api/v1/recommendations", s.handleListRecommendations)
	mux.HandleFunc("/api/v1/recommendations/", s.handleRecommendationAction)
	mux.HandleFunc("/api/v1/summary", s.handleSummary)
	mux.HandleFunc("/api/v1/runs", platform.APIKeyMiddleware(s.handleRuns))
	mux.HandleFunc("/api/v1/rules", s.handleListRules)
	mux.HandleFunc("/api/v1/rules/settings", platform.APIKeyMiddleware(s.handleRuleSettings))

	// Wrap with middleware
	handler := s.corsMiddleware(s.loggingMiddleware(mux))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("API server starting", zap.Int("port", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown starts server with graceful shutdown handling
func (s *Server) StartWithGracefulShutdown() error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
		s.logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, o := range s.config.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.catalog.Ping(ctx); err != nil {
		s.jsonError(w, http.StatusServiceUnavailable, "price catalog not ready")
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

// RecommendationResponse is one feed entry.
type RecommendationResponse struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	ResourceID     string          `json:"resource_id"`
	Type           string          `json:"type"`
	Provider       string          `json:"provider"`
	ResourceType   string          `json:"resource_type"`
	Category       string          `json:"category"`
	Severity       string          `json:"severity"`
	Status         string          `json:"status"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Savings        string          `json:"savings"`
	Currency       string          `json:"currency"`
	Confidence     float64         `json:"confidence"`
	TargetProvider string          `json:"target_provider,omitempty"`
	TargetSKU      string          `json:"target_sku,omitempty"`
	TargetRegion   string          `json:"target_region,omitempty"`
	Insights       json.RawMessage `json:"insights,omitempty"`
	FirstSeenAt    string          `json:"first_seen_at"`
	LastVerifiedAt string          `json:"last_verified_at"`
	SnoozedUntil   string          `json:"snoozed_until,omitempty"`
	DismissReason  string          `json:"dismiss_reason,omitempty"`
}

func toRecommendationResponse(rec *recstore.Recommendation) RecommendationResponse {
	resp := RecommendationResponse{
		ID:             rec.ID.String(),
		RuleID:         rec.RuleID,
		ResourceID:     rec.ResourceID,
		Type:           rec.Type,
		Provider:       rec.Provider,
		ResourceType:   rec.ResourceType,
		Category:       rec.Category,
		Severity:       rec.Severity,
		Status:         string(rec.Status),
		Title:          rec.Title,
		Description:    rec.Description,
		Savings:        rec.Savings.StringFixed(2),
		Currency:       rec.Currency,
		Confidence:     rec.Confidence,
		TargetProvider: rec.TargetProvider,
		TargetSKU:      rec.TargetSKU,
		TargetRegion:   rec.TargetRegion,
		Insights:       json.RawMessage(rec.Insights),
		FirstSeenAt:    rec.FirstSeenAt.Format(time.RFC3339),
		LastVerifiedAt: rec.LastVerifiedAt.Format(time.RFC3339),
		DismissReason:  rec.DismissReason,
	}
	if rec.SnoozedUntil != nil {
		resp.SnoozedUntil = rec.SnoozedUntil.Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		s.jsonError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	filter := recstore.Filter{
		Category:   r.URL.Query().Get("category"),
		Provider:   r.URL.Query().Get("provider"),
		ResourceID: r.URL.Query().Get("resource_id"),
		RuleID:     r.URL.Query().Get("rule_id"),
	}
	for _, status := range strings.Split(r.URL.Query().Get("status"), ",") {
		if status != "" {
			filter.Statuses = append(filter.Statuses, recstore.Status(status))
		}
	}
	if len(filter.Statuses) == 0 {
		// The default feed is what needs attention, not the full history.
		filter.Statuses = []recstore.Status{recstore.StatusPending, recstore.StatusSeen}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			filter.Offset = n
		}
	}

	recs, err := s.store.List(r.Context(), tenantID, filter)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list recommendations: %v", err))
		return
	}

	resp := make([]RecommendationResponse, len(recs))
	for i := range recs {
		resp[i] = toRecommendationResponse(&recs[i])
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleRecommendationAction serves GET /api/v1/recommendations/{id} and
// POST /api/v1/recommendations/{id}/{seen|dismiss|implement|snooze}.
func (s *Server) handleRecommendationAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/recommendations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.jsonError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid recommendation id")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			s.jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rec, err := s.store.Get(r.Context(), id)
		if err != nil {
			s.actionError(w, err)
			return
		}
		s.jsonResponse(w, http.StatusOK, toRecommendationResponse(rec))
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		s.jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var rec *recstore.Recommendation
	switch parts[1] {
	case "seen":
		rec, err = s.store.MarkSeen(r.Context(), id)
	case "dismiss":
		var body struct {
			Reason string `json:"reason"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		rec, err = s.store.Dismiss(r.Context(), id, body.Reason)
	case "implement":
		rec, err = s.store.Implement(r.Context(), id)
	case "snooze":
		var body struct {
			Until time.Time `json:"until"`
			Days  int       `json:"days"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.jsonError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
		until := body.Until
		if until.IsZero() && body.Days > 0 {
			until = time.Now().Add(time.Duration(body.Days) * 24 * time.Hour)
		}
		rec, err = s.store.Snooze(r.Context(), id, until)
	default:
		s.jsonError(w, http.StatusNotFound, fmt.Sprintf("unknown action: %s", parts[1]))
		return
	}

	if err != nil {
		s.actionError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, toRecommendationResponse(rec))
}

func (s *Server) actionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recstore.ErrNotFound):
		s.jsonError(w, http.StatusNotFound, "recommendation not found")
	case errors.Is(err, recstore.ErrInvalidTransition):
		s.jsonError(w, http.StatusConflict, "action not allowed in current status")
	default:
		s.jsonError(w, http.StatusInternalServerError, err.Error())
	}
}

// =============================================================================
// SUMMARY
// =============================================================================

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		s.jsonError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	summary, err := s.store.Summarize(r.Context(), tenantID)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to summarize: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

// =============================================================================
// RUNS
// =============================================================================

// RunResponse is one engine-run record.
type RunResponse struct {
	ID                   string          `json:"id"`
	Status               string          `json:"status"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	StartedAt            string          `json:"started_at"`
	FinishedAt           string          `json:"finished_at,omitempty"`
	DurationMS           int64           `json:"duration_ms"`
	ResourcesEvaluated   int             `json:"resources_evaluated"`
	OutputsProduced      int             `json:"outputs_produced"`
	RecordsCreated       int             `json:"records_created"`
	RecordsUpdated       int             `json:"records_updated"`
	OutputsSuppressed    int             `json:"outputs_suppressed"`
	RuleFailures         int             `json:"rule_failures"`
	AutoDismissedStale   int             `json:"auto_dismissed_stale"`
	AutoDismissedIgnored int             `json:"auto_dismissed_ignored"`
	SnoozesExpired       int             `json:"snoozes_expired"`
	RuleMetrics          json.RawMessage `json:"rule_metrics,omitempty"`
}

func toRunResponse(run *recstore.EngineRun) RunResponse {
	resp := RunResponse{
		ID:                   run.ID.String(),
		Status:               string(run.Status),
		FailureReason:        run.FailureReason,
		StartedAt:            run.StartedAt.Format(time.RFC3339),
		DurationMS:           run.DurationMS,
		ResourcesEvaluated:   run.ResourcesEvaluated,
		OutputsProduced:      run.OutputsProduced,
		RecordsCreated:       run.RecordsCreated,
		RecordsUpdated:       run.RecordsUpdated,
		OutputsSuppressed:    run.OutputsSuppressed,
		RuleFailures:         run.RuleFailures,
		AutoDismissedStale:   run.AutoDismissedStale,
		AutoDismissedIgnored: run.AutoDismissedIgnored,
		SnoozesExpired:       run.SnoozesExpired,
		RuleMetrics:          json.RawMessage(run.RuleMetrics),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// handleRuns triggers a run on POST and lists recent runs on GET.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		s.jsonError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	switch r.Method {
	case http.MethodPost:
		run, err := s.engine.Run(r.Context(), tenantID)
		if err != nil && run == nil {
			s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start run: %v", err))
			return
		}
		status := http.StatusOK
		if run.Status == recstore.RunStatusFailed {
			status = http.StatusBadGateway
		}
		s.jsonResponse(w, status, toRunResponse(run))

	case http.MethodGet:
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}
		runs, err := s.store.ListRuns(r.Context(), tenantID, limit)
		if err != nil {
			s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list runs: %v", err))
			return
		}
		resp := make([]RunResponse, len(runs))
		for i := range runs {
			resp[i] = toRunResponse(&runs[i])
		}
		s.jsonResponse(w, http.StatusOK, resp)

	default:
		s.jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// =============================================================================
// RULES
// =============================================================================

// RuleResponse describes one registered rule.
type RuleResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Category      string   `json:"category"`
	Severity      string   `json:"severity"`
	Scope         string   `json:"scope"`
	ResourceTypes []string `json:"resource_types,omitempty"`
	Providers     []string `json:"providers,omitempty"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	all := s.registry.All()
	resp := make([]RuleResponse, len(all))
	for i, rule := range all {
		meta := rule.Meta()
		resp[i] = RuleResponse{
			ID:            meta.ID,
			Name:          meta.Name,
			Category:      string(meta.Category),
			Severity:      string(meta.Severity),
			Scope:         string(meta.Scope),
			ResourceTypes: meta.ResourceTypes,
			Providers:     meta.Providers,
		}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// RuleSettingRequest is an admin enable/disable override. Provider and
// resource_type narrow the scope; omitting both makes the setting global.
type RuleSettingRequest struct {
	RuleID       string  `json:"rule_id"`
	Provider     *string `json:"provider,omitempty"`
	ResourceType *string `json:"resource_type,omitempty"`
	Enabled      bool    `json:"enabled"`
}

func (s *Server) handleRuleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		s.jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var req RuleSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.RuleID == "" {
		s.jsonError(w, http.StatusBadRequest, "rule_id is required")
		return
	}

	known := false
	for _, rule := range s.registry.All() {
		if rule.Meta().ID == req.RuleID {
			known = true
			break
		}
	}
	if !known {
		s.jsonError(w, http.StatusNotFound, fmt.Sprintf("unknown rule: %s", req.RuleID))
		return
	}

	setting := &recstore.RuleSetting{
		RuleID:       req.RuleID,
		Provider:     req.Provider,
		ResourceType: req.ResourceType,
		Enabled:      req.Enabled,
	}
	if err := s.store.SaveRuleSetting(r.Context(), setting); err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save setting: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, req)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{
		"error": message,
	})
}
