// Package decision turns a score and its policy rule outcomes into an
// assessment.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultEngineVersion is stamped on assessments when none is configured.
const DefaultEngineVersion = "kestrel-1.0"

// Processor assembles assessments.
type Processor struct {
	EngineVersion string

	// now is swapped in tests.
	now func() time.Time
}

// NewProcessor creates a processor stamping assessments with engineVersion.
func NewProcessor(engineVersion string) *Processor {
	if engineVersion == "" {
		engineVersion = DefaultEngineVersion
	}
	return &Processor{EngineVersion: engineVersion, now: time.Now}
}

// Input contains all data needed for an assessment.
type Input struct {
	ApplicantID   string
	TraceID       string
	BundleID      string
	BundleVersion string
	Score         domain.ScoreResult
	Cached        bool
	RuleResults   []domain.RuleResult
	ScoreMs       int64
	RulesMs       int64
	StartTime     time.Time
}

// Process builds the assessment. The score is copied through untouched;
// rules only decide between CLEAR and REFER.
func (p *Processor) Process(_ context.Context, input *Input) *domain.Assessment {
	now := p.now()

	a := &domain.Assessment{
		ID:          uuid.New().String(),
		ApplicantID: input.ApplicantID,
		Status:      domain.StatusClear,
		Score:       input.Score,
		Timestamp:   now.UTC(),
		RuleResults: input.RuleResults,
	}

	if Refers(input.RuleResults) {
		a.Status = domain.StatusRefer
	}
	a.Reasons = Reasons(input.RuleResults)

	var totalMs int64
	if !input.StartTime.IsZero() {
		totalMs = now.Sub(input.StartTime).Milliseconds()
	}

	a.Metadata = domain.AssessmentMetadata{
		TraceID:        input.TraceID,
		BundleID:       input.BundleID,
		BundleVersion:  input.BundleVersion,
		Cached:         input.Cached,
		ScoreMs:        input.ScoreMs,
		RulesMs:        input.RulesMs,
		TotalMs:        totalMs,
		RulesEvaluated: len(input.RuleResults),
		EngineVersion:  p.EngineVersion,
	}

	return a
}

// Refers reports whether any rule failed, errored or asked for review.
func Refers(results []domain.RuleResult) bool {
	for _, r := range results {
		switch r.SubRuleRef {
		case domain.RuleOutcomeFail, domain.RuleOutcomeReview, domain.RuleOutcomeError:
			return true
		}
	}
	return false
}

// Reasons extracts the reasons of referring rules in rule order.
func Reasons(results []domain.RuleResult) []string {
	var reasons []string
	for _, r := range results {
		switch r.SubRuleRef {
		case domain.RuleOutcomeFail, domain.RuleOutcomeReview, domain.RuleOutcomeError:
			if r.Reason != "" {
				reasons = append(reasons, r.Reason)
			}
		}
	}
	return reasons
}
