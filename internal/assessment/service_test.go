package assessment

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

func loadScorer(t *testing.T) *scoring.Scorer {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "artifacts", "model_data.json"))
	require.NoError(t, err)
	b, err := model.Parse(data)
	require.NoError(t, err)
	return scoring.New(b, scoring.DefaultScale)
}

func poorRequest() *Request {
	return &Request{
		ApplicantID: "applicant-42",
		Application: domain.Application{
			Age:                    30,
			Income:                 50000,
			LoanAmount:             300000,
			LoanTenureMonths:       36,
			AvgDPDPerDelinquency:   20,
			DelinquencyRatio:       30,
			CreditUtilizationRatio: 30,
			NumberOfOpenAccounts:   2,
			ResidenceType:          domain.ResidenceOwned,
			LoanPurpose:            domain.PurposeEducation,
			LoanType:               domain.LoanUnsecured,
		},
	}
}

func ptr(v float64) *float64 { return &v }

func newEngine(t *testing.T) *rules.Engine {
	t.Helper()
	engine, err := rules.NewEngine(4)
	require.NoError(t, err)
	require.NoError(t, engine.ReloadRules([]*domain.RuleConfig{
		{
			ID:         "lti",
			Expression: `features["loan_to_income"]`,
			Bands: []domain.RuleBand{
				{UpperLimit: ptr(4), SubRuleRef: domain.RuleOutcomePass},
				{LowerLimit: ptr(4), SubRuleRef: domain.RuleOutcomeReview, Reason: "loan above four times income"},
			},
			Enabled: true,
		},
		{
			ID:         "enquiries",
			Expression: "recent_enquiries",
			Bands: []domain.RuleBand{
				{UpperLimit: ptr(3), SubRuleRef: domain.RuleOutcomePass},
				{LowerLimit: ptr(3), SubRuleRef: domain.RuleOutcomeFail, Reason: "too many enquiries"},
			},
			Enabled: true,
		},
	}))
	return engine
}

func TestAssess(t *testing.T) {
	lru := cache.NewLRUCache(100)
	m := metrics.New()
	svc, err := NewService(Deps{
		Scorer:   loadScorer(t),
		Engine:   newEngine(t),
		Cache:    lru,
		CacheTTL: time.Minute,
		Velocity: velocity.NewService(lru, time.Hour),
		Metrics:  m,
	})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.Assess(ctx, poorRequest())
	require.NoError(t, err)

	assert.InDelta(t, 0.9260956012011868, first.Score.DefaultProbability, 1e-12)
	assert.Equal(t, 344, first.Score.CreditScore)
	assert.Equal(t, domain.RatingPoor, first.Score.Rating)
	assert.Equal(t, domain.StatusRefer, first.Status)
	assert.Equal(t, []string{"loan above four times income"}, first.Reasons)
	assert.Equal(t, "applicant-42", first.ApplicantID)
	assert.Equal(t, "credit-risk-lr", first.Metadata.BundleID)
	assert.Equal(t, "1.0.0", first.Metadata.BundleVersion)
	assert.Equal(t, 2, first.Metadata.RulesEvaluated)
	assert.False(t, first.Metadata.Cached)
	assert.Equal(t, decision.DefaultEngineVersion, first.Metadata.EngineVersion)

	second, err := svc.Assess(ctx, poorRequest())
	require.NoError(t, err)
	assert.True(t, second.Metadata.Cached)
	assert.Equal(t, first.Score, second.Score, "cached score must equal computed score")
	assert.NotEqual(t, first.ID, second.ID)

	third, err := svc.Assess(ctx, poorRequest())
	require.NoError(t, err)
	assert.Equal(t, first.Score, third.Score, "velocity never changes the score")
	assert.Contains(t, third.Reasons, "too many enquiries")

	body := scrape(t, m)
	assert.Contains(t, body, `kestrel_assessments_total{rating="Poor",status="REFER"} 3`)
	assert.Contains(t, body, `kestrel_score_cache_total{result="hit"} 2`)
	assert.Contains(t, body, `kestrel_score_cache_total{result="miss"} 1`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestAssessWithoutOptionalDeps(t *testing.T) {
	svc, err := NewService(Deps{Scorer: loadScorer(t)})
	require.NoError(t, err)

	req := poorRequest()
	req.Application = domain.Application{
		Age:                    45,
		Income:                 2000000,
		LoanAmount:             1500000,
		LoanTenureMonths:       24,
		AvgDPDPerDelinquency:   0,
		DelinquencyRatio:       0,
		CreditUtilizationRatio: 10,
		NumberOfOpenAccounts:   1,
		ResidenceType:          domain.ResidenceOwned,
		LoanPurpose:            domain.PurposeHome,
		LoanType:               domain.LoanSecured,
	}
	req.TraceID = "req-trace"

	a, err := svc.Assess(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 899, a.Score.CreditScore)
	assert.Equal(t, domain.RatingExcellent, a.Score.Rating)
	assert.Equal(t, domain.StatusClear, a.Status)
	assert.Equal(t, "req-trace", a.Metadata.TraceID)
	assert.Empty(t, a.RuleResults)
	assert.Empty(t, svc.Rules())
}

func TestAssessErrors(t *testing.T) {
	t.Run("invalid input", func(t *testing.T) {
		m := metrics.New()
		svc, err := NewService(Deps{Scorer: loadScorer(t), Metrics: m})
		require.NoError(t, err)

		req := poorRequest()
		req.Age = 17
		_, err = svc.Assess(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Contains(t, scrape(t, m), `kestrel_assessment_errors_total{kind="invalid_input"} 1`)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		svc, err := NewService(Deps{Scorer: loadScorer(t), Schema: features.CategoricalSchema{}})
		require.NoError(t, err)

		_, err = svc.Assess(context.Background(), poorRequest())
		assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	})

	t.Run("no scorer", func(t *testing.T) {
		_, err := NewService(Deps{})
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})
}

func TestAssessPublishesEvent(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	var (
		mu     sync.Mutex
		events []domain.AssessmentEvent
		done   = make(chan struct{}, 1)
	)
	_, err := b.Subscribe(context.Background(), domain.TopicAssessmentCompleted, func(_ context.Context, msg *domain.Message) error {
		var ev domain.AssessmentEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	svc, err := NewService(Deps{Scorer: loadScorer(t), Bus: b})
	require.NoError(t, err)

	a, err := svc.Assess(context.Background(), poorRequest())
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no assessment event received")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, a.ID, events[0].AssessmentID)
	assert.Equal(t, 344, events[0].CreditScore)
	assert.Equal(t, "credit-risk-lr", events[0].BundleID)
}

func TestScoreOnly(t *testing.T) {
	svc, err := NewService(Deps{Scorer: loadScorer(t), Cache: cache.NewLRUCache(10), CacheTTL: time.Minute})
	require.NoError(t, err)

	req := poorRequest()
	score, err := svc.Score(context.Background(), &req.Application)
	require.NoError(t, err)
	assert.Equal(t, 344, score.CreditScore)

	again, err := svc.Score(context.Background(), &req.Application)
	require.NoError(t, err)
	assert.Equal(t, score, again)
}

func TestAssessConcurrent(t *testing.T) {
	svc, err := NewService(Deps{Scorer: loadScorer(t), Engine: newEngine(t), Cache: cache.NewLRUCache(100), CacheTTL: time.Minute})
	require.NoError(t, err)

	var wg sync.WaitGroup
	scores := make([]int, 32)
	for i := range scores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := svc.Assess(context.Background(), poorRequest())
			if err == nil {
				scores[i] = a.Score.CreditScore
			}
		}(i)
	}
	wg.Wait()

	for _, s := range scores {
		assert.Equal(t, 344, s)
	}
}

func TestZeroCacheTTLDisablesScoreCache(t *testing.T) {
	lru := cache.NewLRUCache(10)
	svc, err := NewService(Deps{Scorer: loadScorer(t), Cache: lru})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		a, err := svc.Assess(context.Background(), poorRequest())
		require.NoError(t, err)
		assert.False(t, a.Metadata.Cached)
	}
	assert.Equal(t, 0, lru.Stats().Size)
}
