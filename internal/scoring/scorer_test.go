package scoring

import (
	"encoding/json"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/model"
)

func loadBundle(t *testing.T) *model.Bundle {
	t.Helper()
	data, err := os.ReadFile("../../artifacts/model_data.json")
	require.NoError(t, err)
	b, err := model.Parse(data)
	require.NoError(t, err)
	return b
}

func zeroBundle(t *testing.T) *model.Bundle {
	t.Helper()
	names := features.Columns(features.DefaultPlaceholders(), features.DefaultSchema)
	b, err := model.New(model.Artifact{
		Model:    model.Classifier{Coefficients: make([]float64, len(names))},
		Scaler:   model.Scaler{FeatureRange: [2]float64{0, 1}},
		Features: names,
	})
	require.NoError(t, err)
	return b
}

func exampleApplication() *domain.Application {
	return &domain.Application{
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
	}
}

// referenceApplication is the documented worked example: a secured personal
// loan of six times monthly income.
func referenceApplication() *domain.Application {
	return &domain.Application{
		Age:                    30,
		Income:                 50000,
		LoanAmount:             300000,
		LoanTenureMonths:       60,
		AvgDPDPerDelinquency:   20,
		DelinquencyRatio:       5,
		CreditUtilizationRatio: 30,
		NumberOfOpenAccounts:   3,
		ResidenceType:          domain.ResidenceOwned,
		LoanPurpose:            domain.PurposePersonal,
		LoanType:               domain.LoanSecured,
	}
}

func TestScore(t *testing.T) {
	scorer := New(loadBundle(t), Scale{})

	cases := []struct {
		name   string
		app    domain.Application
		p      float64
		score  int
		rating domain.Rating
	}{
		{
			name:   "high risk education loan",
			app:    *exampleApplication(),
			p:      0.9260956012011868,
			score:  344,
			rating: domain.RatingPoor,
		},
		{
			name: "home loan near even odds",
			app: domain.Application{
				Age: 28, Income: 1200000, LoanAmount: 2560000, LoanTenureMonths: 36,
				AvgDPDPerDelinquency: 20, DelinquencyRatio: 30, CreditUtilizationRatio: 30,
				NumberOfOpenAccounts: 2, ResidenceType: domain.ResidenceOwned,
				LoanPurpose: domain.PurposeHome, LoanType: domain.LoanUnsecured,
			},
			p:      0.515132854636557,
			score:  590,
			rating: domain.RatingAverage,
		},
		{
			name: "renter personal loan",
			app: domain.Application{
				Age: 35, Income: 900000, LoanAmount: 2500000, LoanTenureMonths: 48,
				AvgDPDPerDelinquency: 10, DelinquencyRatio: 20, CreditUtilizationRatio: 50,
				NumberOfOpenAccounts: 2, ResidenceType: domain.ResidenceRented,
				LoanPurpose: domain.PurposePersonal, LoanType: domain.LoanUnsecured,
			},
			p:      0.3190694372603076,
			score:  708,
			rating: domain.RatingGood,
		},
		{
			name: "clean secured borrower",
			app: domain.Application{
				Age: 45, Income: 2000000, LoanAmount: 1500000, LoanTenureMonths: 24,
				AvgDPDPerDelinquency: 0, DelinquencyRatio: 0, CreditUtilizationRatio: 10,
				NumberOfOpenAccounts: 1, ResidenceType: domain.ResidenceOwned,
				LoanPurpose: domain.PurposeHome, LoanType: domain.LoanSecured,
			},
			p:      0.00011530822585785445,
			score:  899,
			rating: domain.RatingExcellent,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := tc.app
			require.NoError(t, app.Validate())

			got, err := scorer.Score(features.Build(&app, scorer.Bundle().Placeholders(), features.DefaultSchema))
			require.NoError(t, err)
			assert.InDelta(t, tc.p, got.DefaultProbability, 1e-12)
			assert.Equal(t, tc.score, got.CreditScore)
			assert.Equal(t, tc.rating, got.Rating)
		})
	}
}

func TestScoreEndToEnd(t *testing.T) {
	scorer := New(loadBundle(t), DefaultScale)
	app := referenceApplication()

	v := features.BuildDefault(app)
	lti, _ := v.Get(features.LoanToIncome)
	assert.Equal(t, 6.0, lti)

	first, err := scorer.Score(v)
	require.NoError(t, err)
	assert.InDelta(t, 0.8393923029350912, first.DefaultProbability, 1e-12)
	assert.Equal(t, 396, first.CreditScore)
	assert.Equal(t, domain.RatingPoor, first.Rating)

	for i := 0; i < 5; i++ {
		again, err := scorer.Score(features.BuildDefault(app))
		require.NoError(t, err)

		a, _ := json.Marshal(first)
		b, _ := json.Marshal(again)
		assert.Equal(t, string(a), string(b))
	}

	// the caller's vector is left unscaled
	age, _ := v.Get(features.Age)
	assert.Equal(t, 30.0, age)
}

func TestScoreZeroBundle(t *testing.T) {
	scorer := New(zeroBundle(t), DefaultScale)

	got, err := scorer.Score(features.BuildDefault(exampleApplication()))
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.DefaultProbability)
	assert.Equal(t, 600, got.CreditScore)
	assert.Equal(t, domain.RatingUndefined, got.Rating)
}

func TestScoreConcurrent(t *testing.T) {
	scorer := New(loadBundle(t), DefaultScale)
	want, err := scorer.Score(features.BuildDefault(exampleApplication()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := scorer.Score(features.BuildDefault(exampleApplication()))
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestTransform(t *testing.T) {
	scorer := New(loadBundle(t), DefaultScale)

	t.Run("superset succeeds", func(t *testing.T) {
		v := features.BuildDefault(exampleApplication())
		v.Set("unused_extra", 42)

		out, err := scorer.Transform(v)
		require.NoError(t, err)
		assert.Len(t, out, len(scorer.Bundle().Features()))

		// age is scaled with min 18 and max 70
		assert.InDelta(t, (30.0-18)/(70-18), out[0], 1e-15)
	})

	t.Run("missing features are all named", func(t *testing.T) {
		v := features.NewVector(2)
		v.Set(features.Age, 30)
		v.Set(features.LoanToIncome, 6)

		_, err := scorer.Transform(v)
		require.ErrorIs(t, err, domain.ErrSchemaMismatch)
		assert.Contains(t, err.Error(), "loan_tenure_months")
		assert.Contains(t, err.Error(), "loan_type_Unsecured")
		assert.Contains(t, err.Error(), "enquiry_count")
		assert.NotContains(t, err.Error(), "age,")
	})

	t.Run("zero data range divides by one", func(t *testing.T) {
		b, err := model.New(model.Artifact{
			Model:       model.Classifier{Coefficients: []float64{1}},
			Scaler:      model.Scaler{FeatureRange: [2]float64{0, 1}, DataMin: []float64{5}, DataMax: []float64{5}},
			Features:    []string{features.Age},
			ColsToScale: []string{features.Age},
		})
		require.NoError(t, err)

		v := features.NewVector(1)
		v.Set(features.Age, 8)
		out, err := New(b, DefaultScale).Transform(v)
		require.NoError(t, err)
		assert.Equal(t, 3.0, out[0])
	})

	t.Run("out of range values are not clipped", func(t *testing.T) {
		v := features.BuildDefault(exampleApplication())
		v.Set(features.Age, 122)

		out, err := scorer.Transform(v)
		require.NoError(t, err)
		assert.Equal(t, 2.0, out[0])
	})
}

func TestProbability(t *testing.T) {
	cases := []struct {
		name string
		x    float64
		want float64
	}{
		{"zero", 0, 0.5},
		{"positive infinity", math.Inf(1), 1},
		{"negative infinity", math.Inf(-1), 0},
		{"nan", math.NaN(), 1},
		{"large positive", 1000, 1},
		{"large negative", -1000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Probability(tc.x)
			assert.Equal(t, tc.want, p)
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
		})
	}

	for x := -20.0; x <= 20; x += 0.5 {
		p := Probability(x)
		assert.True(t, p >= 0 && p <= 1, "x=%v p=%v", x, p)
	}
}

func TestCreditScore(t *testing.T) {
	assert.Equal(t, 900, CreditScore(0, DefaultScale))
	assert.Equal(t, 300, CreditScore(1, DefaultScale))
	assert.Equal(t, 600, CreditScore(0.5, DefaultScale))
	// truncation, not rounding
	assert.Equal(t, 344, CreditScore(0.9260956012011868, DefaultScale))

	prev := CreditScore(0, DefaultScale)
	for i := 1; i <= 1000; i++ {
		s := CreditScore(float64(i)/1000, DefaultScale)
		assert.LessOrEqual(t, s, prev)
		assert.GreaterOrEqual(t, s, 300)
		assert.LessOrEqual(t, s, 900)
		prev = s
	}

	assert.Equal(t, 1000, CreditScore(0, Scale{Base: 0, Span: 1000}))
}

func TestRatingFor(t *testing.T) {
	cases := []struct {
		score int
		want  domain.Rating
	}{
		{299, domain.RatingUndefined},
		{300, domain.RatingPoor},
		{499, domain.RatingPoor},
		{500, domain.RatingAverage},
		{599, domain.RatingAverage},
		{600, domain.RatingUndefined},
		{625, domain.RatingUndefined},
		{649, domain.RatingUndefined},
		{650, domain.RatingGood},
		{749, domain.RatingGood},
		{750, domain.RatingExcellent},
		{899, domain.RatingExcellent},
		{900, domain.RatingUndefined},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RatingFor(tc.score), "score %d", tc.score)
	}
}
