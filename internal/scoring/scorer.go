// Package scoring applies a model bundle to a feature vector and maps the
// resulting default probability onto a credit score and rating.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/model"
)

// Scale maps a non-default probability onto the credit score range.
type Scale struct {
	Base float64
	Span float64
}

// DefaultScale yields scores between 300 and 900.
var DefaultScale = Scale{Base: 300, Span: 600}

// Scorer scores feature vectors against one bundle. It holds no mutable
// state and is safe for concurrent use.
type Scorer struct {
	bundle *model.Bundle
	scale  Scale

	features     []string
	coefficients []float64
	intercept    float64
	rangeMin     float64
	rangeMax     float64
	scaleCols    []model.ScaleColumn
}

// New returns a Scorer for bundle. A zero Scale means DefaultScale.
func New(bundle *model.Bundle, scale Scale) *Scorer {
	if scale == (Scale{}) {
		scale = DefaultScale
	}
	lo, hi := bundle.FeatureRange()
	return &Scorer{
		bundle:       bundle,
		scale:        scale,
		features:     bundle.Features(),
		coefficients: bundle.Coefficients(),
		intercept:    bundle.Intercept(),
		rangeMin:     lo,
		rangeMax:     hi,
		scaleCols:    bundle.ScaleColumns(),
	}
}

// Bundle returns the bundle this scorer was built from.
func (s *Scorer) Bundle() *model.Bundle {
	return s.bundle
}

// Scale returns the score mapping in use.
func (s *Scorer) Scale() Scale {
	return s.scale
}

// Score runs the full pipeline on v. v itself is not modified.
func (s *Scorer) Score(v *features.Vector) (domain.ScoreResult, error) {
	projected, err := s.Transform(v)
	if err != nil {
		return domain.ScoreResult{}, err
	}

	x := s.intercept + dot(projected, s.coefficients)
	p := Probability(x)
	score := CreditScore(p, s.scale)

	return domain.ScoreResult{
		DefaultProbability: p,
		CreditScore:        score,
		Rating:             RatingFor(score),
	}, nil
}

// Transform scales the bundle's scale subset and projects the result onto
// the model's feature order. The returned values align with the bundle's
// features. Every feature missing from v is reported in one ErrSchemaMismatch.
func (s *Scorer) Transform(v *features.Vector) ([]float64, error) {
	scaled := v.Clone()

	var missing []string
	seen := make(map[string]bool)
	note := func(name string) {
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
	}

	for _, col := range s.scaleCols {
		x, ok := scaled.Get(col.Name)
		if !ok {
			note(col.Name)
			continue
		}
		scaled.Set(col.Name, s.minMax(x, col))
	}

	out := make([]float64, len(s.features))
	for i, name := range s.features {
		x, ok := scaled.Get(name)
		if !ok {
			note(name)
			continue
		}
		out[i] = x
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: feature vector is missing %s", domain.ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return out, nil
}

// minMax applies the fitted transform. A zero data range divides by one and
// values outside the fitted range are not clipped.
func (s *Scorer) minMax(x float64, col model.ScaleColumn) float64 {
	dataRange := col.Max - col.Min
	if dataRange == 0 {
		dataRange = 1
	}
	return (x-col.Min)*(s.rangeMax-s.rangeMin)/dataRange + s.rangeMin
}

func dot(values, coefficients []float64) float64 {
	var sum float64
	for i, v := range values {
		sum += v * coefficients[i]
	}
	return sum
}

// Probability is the logistic function clamped to [0, 1]. NaN maps to 1,
// the most conservative default estimate.
func Probability(x float64) float64 {
	p := 1 / (1 + math.Exp(-x))
	switch {
	case math.IsNaN(p):
		return 1
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// CreditScore converts a default probability to an integer score,
// truncating toward zero.
func CreditScore(p float64, scale Scale) int {
	return int(scale.Base + (1-p)*scale.Span)
}

// RatingFor buckets a credit score. Scores in [600, 650), at or above 900,
// or below 300 are Undefined.
func RatingFor(score int) domain.Rating {
	switch {
	case score >= 300 && score < 500:
		return domain.RatingPoor
	case score >= 500 && score < 600:
		return domain.RatingAverage
	case score >= 650 && score < 750:
		return domain.RatingGood
	case score >= 750 && score < 900:
		return domain.RatingExcellent
	default:
		return domain.RatingUndefined
	}
}
