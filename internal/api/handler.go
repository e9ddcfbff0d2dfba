package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// maxBodyBytes bounds a scoring request body.
const maxBodyBytes = 1 << 20

// Deps are the collaborators of the API. Only Service is required.
type Deps struct {
	Service     *assessment.Service
	Store       domain.BundleStore
	Cache       domain.Cache
	Bus         domain.EventBus
	Metrics     *metrics.Metrics
	MetricsPath string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	service *assessment.Service
	store   domain.BundleStore
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{
		service: deps.Service,
		store:   deps.Store,
		cache:   deps.Cache,
		bus:     deps.Bus,
		version: version,
	}
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest = assessment.Request

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	AssessmentID string              `json:"assessmentId"`
	ApplicantID  string              `json:"applicantId,omitempty"`
	Probability  float64             `json:"probability"`
	CreditScore  int                 `json:"creditScore"`
	Rating       domain.Rating       `json:"rating"`
	Status       string              `json:"status"`
	Reasons      []string            `json:"reasons,omitempty"`
	RuleResults  []domain.RuleResult `json:"ruleResults,omitempty"`
	Metadata     ResponseMetadata    `json:"metadata"`
}

// ResponseMetadata is the metadata block of a ScoreResponse.
type ResponseMetadata struct {
	domain.AssessmentMetadata
	Version string `json:"version"`
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	req.TraceID = GetTraceID(ctx)

	a, err := h.service.Assess(ctx, &req)
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("assessment failed", "error", err, "trace_id", req.TraceID)
		}
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		AssessmentID: a.ID,
		ApplicantID:  a.ApplicantID,
		Probability:  a.Score.DefaultProbability,
		CreditScore:  a.Score.CreditScore,
		Rating:       a.Score.Rating,
		Status:       a.Status,
		Reasons:      a.Reasons,
		RuleResults:  a.RuleResults,
		Metadata: ResponseMetadata{
			AssessmentMetadata: a.Metadata,
			Version:            h.version,
		},
	})
}

// errorStatus maps pipeline errors to an HTTP status and client message.
// Invalid input is the caller's fault; a schema mismatch means the loaded
// bundle and the feature builder disagree, which is ours.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrSchemaMismatch):
		return http.StatusInternalServerError, "model bundle does not match the feature schema"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "assessment failed"
	}
}

// Model returns a summary of the loaded bundle.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Bundle().Info())
}

// ListRules returns the loaded policy rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.service.Rules()
	if loaded == nil {
		loaded = []*domain.RuleConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule returns one loaded policy rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.service.Rules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.store != nil {
		check("registry", h.store.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports ready once a bundle is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	b := h.service.Bundle()
	writeJSON(w, http.StatusOK, map[string]string{
		"ready":         "true",
		"bundleId":      b.ID(),
		"bundleVersion": b.Version(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
