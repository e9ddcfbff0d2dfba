// Package assessment runs one credit application through the whole
// pipeline: validation, features, scoring, velocity, policy rules, the
// decision, the completion event and metrics.
package assessment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

var tracer = otel.Tracer("kestrel-assessment")

// Request is one scoring call.
type Request struct {
	domain.Application

	// ApplicantID is optional. When present it drives the enquiry counter.
	ApplicantID string `json:"applicantId,omitempty"`

	// TraceID is used when no tracing span is active.
	TraceID string `json:"-"`
}

// Deps are the collaborators of a Service. Only Scorer is required.
type Deps struct {
	Scorer    *scoring.Scorer
	Engine    *rules.Engine
	Processor *decision.Processor
	Cache     domain.Cache
	CacheTTL  time.Duration // scores are cached only when positive
	Velocity  *velocity.Service
	Bus       domain.EventBus
	Metrics   *metrics.Metrics
	Schema    features.CategoricalSchema
}

// Service assesses applications against one loaded bundle. It is safe for
// concurrent use.
type Service struct {
	scorer    *scoring.Scorer
	engine    *rules.Engine
	processor *decision.Processor
	cache     domain.Cache
	cacheTTL  time.Duration
	velocity  *velocity.Service
	bus       domain.EventBus
	metrics   *metrics.Metrics
	schema    features.CategoricalSchema
}

// NewService wires a Service.
func NewService(deps Deps) (*Service, error) {
	if deps.Scorer == nil {
		return nil, fmt.Errorf("%w: assessment service needs a scorer", domain.ErrConfiguration)
	}
	if deps.Processor == nil {
		deps.Processor = decision.NewProcessor("")
	}
	if deps.Schema == nil {
		deps.Schema = features.DefaultSchema
	}
	return &Service{
		scorer:    deps.Scorer,
		engine:    deps.Engine,
		processor: deps.Processor,
		cache:     deps.Cache,
		cacheTTL:  deps.CacheTTL,
		velocity:  deps.Velocity,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		schema:    deps.Schema,
	}, nil
}

// Bundle returns the bundle scores are computed with.
func (s *Service) Bundle() *model.Bundle {
	return s.scorer.Bundle()
}

// Rules returns the loaded policy rules.
func (s *Service) Rules() []*domain.RuleConfig {
	if s.engine == nil {
		return nil
	}
	return s.engine.GetLoadedRules()
}

// Assess scores req and evaluates policy rules against it.
//
// Errors wrap domain.ErrInvalidInput when the application fails validation
// and domain.ErrSchemaMismatch when the bundle cannot be applied. Cache,
// velocity and bus failures are logged and do not fail the assessment.
func (s *Service) Assess(ctx context.Context, req *Request) (*domain.Assessment, error) {
	start := time.Now()
	bundle := s.scorer.Bundle()

	ctx, span := tracer.Start(ctx, "assessment.Assess",
		trace.WithAttributes(
			attribute.String("bundle.id", bundle.ID()),
			attribute.String("bundle.version", bundle.Version()),
		),
	)
	defer span.End()

	if err := req.Application.Validate(); err != nil {
		s.fail(span, "invalid_input", err)
		return nil, err
	}

	vec := features.Build(&req.Application, bundle.Placeholders(), s.schema)

	scoreStart := time.Now()
	score, cached, err := s.score(ctx, &req.Application, vec)
	if err != nil {
		kind := "internal"
		if errors.Is(err, domain.ErrSchemaMismatch) {
			kind = "schema_mismatch"
		}
		s.fail(span, kind, err)
		return nil, err
	}
	scoreMs := time.Since(scoreStart).Milliseconds()

	enquiries := s.recordEnquiry(ctx, req.ApplicantID)

	rulesStart := time.Now()
	var results []domain.RuleResult
	if s.engine != nil {
		results, err = s.engine.EvaluateAll(ctx, &rules.EvaluateInput{
			Application:     &req.Application,
			Features:        vec,
			Score:           score,
			RecentEnquiries: enquiries,
		})
		if err != nil {
			s.fail(span, "cancelled", err)
			return nil, fmt.Errorf("policy rules: %w", err)
		}
	}
	rulesMs := time.Since(rulesStart).Milliseconds()

	traceID := req.TraceID
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	a := s.processor.Process(ctx, &decision.Input{
		ApplicantID:   req.ApplicantID,
		TraceID:       traceID,
		BundleID:      bundle.ID(),
		BundleVersion: bundle.Version(),
		Score:         score,
		Cached:        cached,
		RuleResults:   results,
		ScoreMs:       scoreMs,
		RulesMs:       rulesMs,
		StartTime:     start,
	})

	span.SetAttributes(
		attribute.String("assessment.id", a.ID),
		attribute.String("assessment.status", a.Status),
		attribute.Int("credit.score", score.CreditScore),
		attribute.String("credit.rating", string(score.Rating)),
		attribute.Bool("score.cached", cached),
	)

	if s.bus != nil {
		if err := bus.PublishJSON(ctx, s.bus, domain.TopicAssessmentCompleted, a.ToEvent()); err != nil {
			slog.Warn("failed to publish assessment event", "assessment_id", a.ID, "error", err)
		}
	}

	s.metrics.ObserveAssessment(a, time.Since(start))

	slog.Debug("assessment completed",
		"assessment_id", a.ID,
		"status", a.Status,
		"credit_score", score.CreditScore,
		"rating", score.Rating,
		"cached", cached,
		"total_ms", a.Metadata.TotalMs,
	)

	return a, nil
}

// Score runs validation, feature building and scoring only.
func (s *Service) Score(ctx context.Context, app *domain.Application) (domain.ScoreResult, error) {
	if err := app.Validate(); err != nil {
		return domain.ScoreResult{}, err
	}
	vec := features.Build(app, s.scorer.Bundle().Placeholders(), s.schema)
	score, _, err := s.score(ctx, app, vec)
	return score, err
}

func (s *Service) score(ctx context.Context, app *domain.Application, vec *features.Vector) (domain.ScoreResult, bool, error) {
	if s.cache == nil || s.cacheTTL <= 0 {
		score, err := s.scorer.Score(vec)
		return score, false, err
	}

	namespace := s.scorer.Bundle().ID()
	key, err := s.inputHash(app)
	if err != nil {
		return domain.ScoreResult{}, false, err
	}

	if hit, err := s.cache.GetScore(ctx, namespace, key); err != nil {
		slog.Warn("score cache read failed", "error", err)
	} else if hit != nil {
		s.metrics.ScoreCache(true)
		return *hit, true, nil
	}
	s.metrics.ScoreCache(false)

	score, err := s.scorer.Score(vec)
	if err != nil {
		return domain.ScoreResult{}, false, err
	}

	if err := s.cache.SetScore(ctx, namespace, key, &score, s.cacheTTL); err != nil {
		slog.Warn("score cache write failed", "error", err)
	}
	return score, false, nil
}

// inputHash identifies an application under the current bundle digest and
// score scale, so a re-imported bundle with the same id never hits stale entries.
func (s *Service) inputHash(app *domain.Application) (string, error) {
	data, err := json.Marshal(app)
	if err != nil {
		return "", fmt.Errorf("hash application: %w", err)
	}
	scale := s.scorer.Scale()

	h := sha256.New()
	h.Write([]byte(s.scorer.Bundle().Digest()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(scale.Base, 'g', -1, 64) + "/" + strconv.FormatFloat(scale.Span, 'g', -1, 64)))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Service) recordEnquiry(ctx context.Context, applicantID string) int64 {
	if s.velocity == nil || applicantID == "" {
		return 0
	}
	count, err := s.velocity.Record(ctx, applicantID)
	if err != nil {
		slog.Warn("failed to record enquiry", "error", err)
		return 0
	}
	return count
}

func (s *Service) fail(span trace.Span, kind string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	s.metrics.AssessmentError(kind)
}
