package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// artifactSchema describes the JSON layout of a bundle artifact.
const artifactSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["model", "scaler", "features", "cols_to_scale"],
  "properties": {
    "id": {"type": "string"},
    "version": {"type": "string"},
    "description": {"type": "string"},
    "model": {
      "type": "object",
      "required": ["coefficients", "intercept"],
      "properties": {
        "coefficients": {"type": "array", "items": {"type": "number"}},
        "intercept": {"type": "number"}
      }
    },
    "scaler": {
      "type": "object",
      "required": ["feature_range", "data_min", "data_max"],
      "properties": {
        "feature_range": {"type": "array", "items": {"type": "number"}, "minItems": 2, "maxItems": 2},
        "data_min": {"type": "array", "items": {"type": "number"}},
        "data_max": {"type": "array", "items": {"type": "number"}}
      }
    },
    "features": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
    "cols_to_scale": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "placeholders": {"type": "object", "additionalProperties": {"type": "number"}}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(artifactSchema)

// ValidateSchema checks raw artifact JSON against the artifact schema.
func ValidateSchema(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: artifact is not valid JSON: %v", domain.ErrConfiguration, err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%w: artifact failed schema validation: %s", domain.ErrConfiguration, strings.Join(errs, "; "))
	}

	return nil
}

// Digest returns the hex sha256 of an artifact.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
