package domain

import (
	"time"
)

// Rating is the qualitative bucket a credit score falls into.
type Rating string

const (
	RatingPoor      Rating = "Poor"
	RatingAverage   Rating = "Average"
	RatingGood      Rating = "Good"
	RatingExcellent Rating = "Excellent"
	RatingUndefined Rating = "Undefined"
)

// ScoreResult is the output of the scoring pipeline for one application.
type ScoreResult struct {
	DefaultProbability float64 `json:"probability"`
	CreditScore        int     `json:"creditScore"`
	Rating             Rating  `json:"rating"`
}

// Assessment is a scored application annotated with policy rule outcomes.
type Assessment struct {
	ID          string       `json:"id"`
	ApplicantID string       `json:"applicantId,omitempty"`
	Status      string       `json:"status"` // "CLEAR" or "REFER"
	Score       ScoreResult  `json:"score"`
	Timestamp   time.Time    `json:"timestamp"`
	Reasons     []string     `json:"reasons,omitempty"`
	RuleResults []RuleResult `json:"ruleResults,omitempty"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	BundleID       string `json:"bundleId"`
	BundleVersion  string `json:"bundleVersion"`
	Cached         bool   `json:"cached"`
	ScoreMs        int64  `json:"scoreMs"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// Assessment status constants
const (
	StatusClear = "CLEAR" // No policy rule asked for review
	StatusRefer = "REFER" // At least one policy rule failed, errored or asked for review
)

// AssessmentEvent is the payload published after every completed assessment.
type AssessmentEvent struct {
	AssessmentID  string    `json:"assessmentId"`
	ApplicantID   string    `json:"applicantId,omitempty"`
	Status        string    `json:"status"`
	Probability   float64   `json:"probability"`
	CreditScore   int       `json:"creditScore"`
	Rating        Rating    `json:"rating"`
	BundleID      string    `json:"bundleId"`
	BundleVersion string    `json:"bundleVersion"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToEvent converts an Assessment to its bus event.
func (a *Assessment) ToEvent() *AssessmentEvent {
	return &AssessmentEvent{
		AssessmentID:  a.ID,
		ApplicantID:   a.ApplicantID,
		Status:        a.Status,
		Probability:   a.Score.DefaultProbability,
		CreditScore:   a.Score.CreditScore,
		Rating:        a.Score.Rating,
		BundleID:      a.Metadata.BundleID,
		BundleVersion: a.Metadata.BundleVersion,
		Timestamp:     a.Timestamp,
	}
}
