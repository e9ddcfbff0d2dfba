package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestObserveAssessment(t *testing.T) {
	m := New()

	a := &domain.Assessment{
		Status: domain.StatusRefer,
		Score:  domain.ScoreResult{CreditScore: 344, Rating: domain.RatingPoor},
		RuleResults: []domain.RuleResult{
			{RuleID: "lti", SubRuleRef: domain.RuleOutcomeReview},
			{RuleID: "enquiries", SubRuleRef: domain.RuleOutcomePass},
		},
	}
	m.ObserveAssessment(a, 3*time.Millisecond)
	m.ObserveAssessment(a, 4*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.assessments.WithLabelValues("REFER", "Poor")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ruleOutcomes.WithLabelValues("lti", ".review")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.assessmentTime))
}

func TestCounters(t *testing.T) {
	m := New()

	m.ScoreCache(true)
	m.ScoreCache(false)
	m.ScoreCache(false)
	m.AssessmentError("invalid_input")
	m.ObserveRequest("POST", "/score", 200, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scoreCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scoreCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.assessmentErrors.WithLabelValues("invalid_input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/score", "200")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ScoreCache(true)
		m.AssessmentError("x")
		m.ObserveRequest("GET", "/", 200, 0)
		m.ObserveAssessment(&domain.Assessment{}, 0)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ScoreCache(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `kestrel_score_cache_total{result="hit"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
