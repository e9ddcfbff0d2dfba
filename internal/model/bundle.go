// Package model holds the pre-fit credit risk model bundle: a logistic
// regression classifier, the min-max scaler it was trained behind, and the
// feature lists that tie them to the feature builder.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Artifact is the serialized form of a bundle.
type Artifact struct {
	ID          string `json:"id,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`

	Model       Classifier `json:"model"`
	Scaler      Scaler     `json:"scaler"`
	Features    []string   `json:"features"`
	ColsToScale []string   `json:"cols_to_scale"`

	// Placeholders overrides entries of the default placeholder table.
	Placeholders map[string]float64 `json:"placeholders,omitempty"`
}

// Classifier is a fitted binary logistic regression.
// Coefficients align with Artifact.Features.
type Classifier struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Scaler is a fitted min-max scaler. DataMin and DataMax align with
// Artifact.ColsToScale.
type Scaler struct {
	FeatureRange [2]float64 `json:"feature_range"`
	DataMin      []float64  `json:"data_min"`
	DataMax      []float64  `json:"data_max"`
}

// ScaleColumn is the fitted range of one scaled feature.
type ScaleColumn struct {
	Name string
	Min  float64
	Max  float64
}

// Bundle is a validated, immutable model bundle.
// All accessors return copies, so a *Bundle can be shared freely.
type Bundle struct {
	id          string
	version     string
	description string

	features     []string
	coefficients []float64
	intercept    float64

	rangeMin float64
	rangeMax float64
	scale    []ScaleColumn

	placeholders features.Placeholders
	digest       string
}

// New validates an artifact and freezes it into a Bundle.
func New(a Artifact) (*Bundle, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}

	placeholders := features.DefaultPlaceholders().WithAll(a.Placeholders)
	built := make(map[string]bool)
	for _, name := range features.Columns(placeholders, features.DefaultSchema) {
		built[name] = true
	}
	if unknown := missingFrom(built, a.Features); len(unknown) > 0 {
		return nil, fmt.Errorf("%w: model features not produced by the feature builder: %s",
			domain.ErrConfiguration, strings.Join(unknown, ", "))
	}
	if unknown := missingFrom(built, a.ColsToScale); len(unknown) > 0 {
		return nil, fmt.Errorf("%w: scaled columns not produced by the feature builder: %s",
			domain.ErrConfiguration, strings.Join(unknown, ", "))
	}

	b := &Bundle{
		id:           a.ID,
		version:      a.Version,
		description:  a.Description,
		features:     append([]string(nil), a.Features...),
		coefficients: append([]float64(nil), a.Model.Coefficients...),
		intercept:    a.Model.Intercept,
		rangeMin:     a.Scaler.FeatureRange[0],
		rangeMax:     a.Scaler.FeatureRange[1],
		placeholders: placeholders,
	}
	b.scale = make([]ScaleColumn, len(a.ColsToScale))
	for i, name := range a.ColsToScale {
		b.scale[i] = ScaleColumn{Name: name, Min: a.Scaler.DataMin[i], Max: a.Scaler.DataMax[i]}
	}
	if b.id == "" {
		b.id = "default"
	}
	if b.version == "" {
		b.version = "0"
	}
	return b, nil
}

func missingFrom(built map[string]bool, names []string) []string {
	var missing []string
	for _, name := range names {
		if !built[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// Parse decodes, schema-checks and validates a JSON artifact.
func Parse(data []byte) (*Bundle, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: decode artifact: %v", domain.ErrConfiguration, err)
	}
	b, err := New(a)
	if err != nil {
		return nil, err
	}
	b.digest = Digest(data)
	return b, nil
}

func (a *Artifact) validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{domain.ErrConfiguration}, args...)...)
	}

	if len(a.Features) == 0 {
		return fail("bundle has no features")
	}
	if err := unique("features", a.Features); err != nil {
		return fail("%v", err)
	}
	if len(a.Model.Coefficients) != len(a.Features) {
		return fail("model has %d coefficients for %d features", len(a.Model.Coefficients), len(a.Features))
	}
	for i, c := range a.Model.Coefficients {
		if !finite(c) {
			return fail("coefficient for %s is not finite", a.Features[i])
		}
	}
	if !finite(a.Model.Intercept) {
		return fail("intercept is not finite")
	}

	if err := unique("cols_to_scale", a.ColsToScale); err != nil {
		return fail("%v", err)
	}
	if len(a.Scaler.DataMin) != len(a.ColsToScale) || len(a.Scaler.DataMax) != len(a.ColsToScale) {
		return fail("scaler has %d/%d min/max entries for %d columns",
			len(a.Scaler.DataMin), len(a.Scaler.DataMax), len(a.ColsToScale))
	}
	lo, hi := a.Scaler.FeatureRange[0], a.Scaler.FeatureRange[1]
	if !finite(lo) || !finite(hi) || lo >= hi {
		return fail("invalid feature range [%v, %v]", lo, hi)
	}
	for i, name := range a.ColsToScale {
		mn, mx := a.Scaler.DataMin[i], a.Scaler.DataMax[i]
		if !finite(mn) || !finite(mx) {
			return fail("scaler range for %s is not finite", name)
		}
		if mn > mx {
			return fail("scaler range for %s has min %v above max %v", name, mn, mx)
		}
	}
	for name, v := range a.Placeholders {
		if !finite(v) {
			return fail("placeholder %s is not finite", name)
		}
	}
	return nil
}

func unique(field string, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("%s contains an empty name", field)
		}
		if seen[n] {
			return fmt.Errorf("%s lists %s twice", field, n)
		}
		seen[n] = true
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ID returns the bundle identifier.
func (b *Bundle) ID() string { return b.id }

// Version returns the bundle version.
func (b *Bundle) Version() string { return b.version }

// Description returns the free-form description.
func (b *Bundle) Description() string { return b.description }

// Digest returns the sha256 of the artifact bytes, or "" for bundles built with New.
func (b *Bundle) Digest() string { return b.digest }

// Features returns the model's ordered feature names.
func (b *Bundle) Features() []string {
	return append([]string(nil), b.features...)
}

// Coefficients returns the model coefficients in feature order.
func (b *Bundle) Coefficients() []float64 {
	return append([]float64(nil), b.coefficients...)
}

// Intercept returns the model intercept.
func (b *Bundle) Intercept() float64 { return b.intercept }

// FeatureRange returns the scaler's target range.
func (b *Bundle) FeatureRange() (lo, hi float64) { return b.rangeMin, b.rangeMax }

// ScaleColumns returns the scaled subset with its fitted ranges.
func (b *Bundle) ScaleColumns() []ScaleColumn {
	return append([]ScaleColumn(nil), b.scale...)
}

// ColsToScale returns the names of the scaled subset.
func (b *Bundle) ColsToScale() []string {
	names := make([]string, len(b.scale))
	for i, c := range b.scale {
		names[i] = c.Name
	}
	return names
}

// Placeholders returns the placeholder table to build features with.
func (b *Bundle) Placeholders() features.Placeholders { return b.placeholders }

// Info is the public summary of a bundle.
type Info struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	SHA256      string   `json:"sha256,omitempty"`
	Features    []string `json:"features"`
	ColsToScale []string `json:"colsToScale"`
	Intercept   float64  `json:"intercept"`
}

// Info summarises the bundle for display.
func (b *Bundle) Info() Info {
	return Info{
		ID:          b.id,
		Version:     b.version,
		Description: b.description,
		SHA256:      b.digest,
		Features:    b.Features(),
		ColsToScale: b.ColsToScale(),
		Intercept:   b.intercept,
	}
}
