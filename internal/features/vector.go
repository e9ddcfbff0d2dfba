// Package features turns a raw credit application into the named feature
// vector consumed by the scorer.
package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Vector is an insertion-ordered mapping from feature name to value.
// The zero value is ready to use.
type Vector struct {
	names  []string
	values map[string]float64
}

// NewVector returns an empty vector with room for n features.
func NewVector(n int) *Vector {
	return &Vector{
		names:  make([]string, 0, n),
		values: make(map[string]float64, n),
	}
}

// Set stores a value. A new name is appended; an existing one keeps its position.
func (v *Vector) Set(name string, value float64) {
	if v.values == nil {
		v.values = make(map[string]float64)
	}
	if _, ok := v.values[name]; !ok {
		v.names = append(v.names, name)
	}
	v.values[name] = value
}

// Get returns the value for name and whether it is present.
func (v *Vector) Get(name string) (float64, bool) {
	val, ok := v.values[name]
	return val, ok
}

// Has reports whether name is present.
func (v *Vector) Has(name string) bool {
	_, ok := v.values[name]
	return ok
}

// Len returns the number of features.
func (v *Vector) Len() int {
	return len(v.names)
}

// Names returns the feature names in insertion order.
func (v *Vector) Names() []string {
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}

// Values returns the values in insertion order.
func (v *Vector) Values() []float64 {
	out := make([]float64, len(v.names))
	for i, name := range v.names {
		out[i] = v.values[name]
	}
	return out
}

// Clone returns an independent copy.
func (v *Vector) Clone() *Vector {
	c := NewVector(len(v.names))
	for _, name := range v.names {
		c.Set(name, v.values[name])
	}
	return c
}

// Map returns the features as a plain map.
func (v *Vector) Map() map[string]float64 {
	out := make(map[string]float64, len(v.names))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// MarshalJSON encodes the vector as an object whose keys keep insertion order.
// JSON has no NaN or Inf, so a non-finite value is an error.
func (v *Vector) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range v.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		val := v.values[name]
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("feature %s has non-finite value %v", name, val)
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
