package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ruleFile is the on-disk layout of a policy rule file.
type ruleFile struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Version     string            `yaml:"version"`
	Expression  string            `yaml:"expression"`
	Bands       []domain.RuleBand `yaml:"bands"`
	Enabled     *bool             `yaml:"enabled"`
}

// LoadFile reads policy rules from a YAML file.
func LoadFile(path string) ([]*domain.RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read rule file: %v", domain.ErrConfiguration, err)
	}
	return Parse(data)
}

// Parse decodes policy rules from YAML. Rules are enabled unless they say
// otherwise, and every rule needs an id, an expression and at least one band.
func Parse(data []byte) ([]*domain.RuleConfig, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode rule file: %v", domain.ErrConfiguration, err)
	}

	configs := make([]*domain.RuleConfig, 0, len(f.Rules))
	for i, r := range f.Rules {
		switch {
		case r.ID == "":
			return nil, fmt.Errorf("%w: rule %d has no id", domain.ErrConfiguration, i)
		case r.Expression == "":
			return nil, fmt.Errorf("%w: rule %s has no expression", domain.ErrConfiguration, r.ID)
		case len(r.Bands) == 0:
			return nil, fmt.Errorf("%w: rule %s has no bands", domain.ErrConfiguration, r.ID)
		}

		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		name := r.Name
		if name == "" {
			name = r.ID
		}

		configs = append(configs, &domain.RuleConfig{
			ID:          r.ID,
			Name:        name,
			Description: r.Description,
			Version:     r.Version,
			Expression:  r.Expression,
			Bands:       r.Bands,
			Enabled:     enabled,
		})
	}
	return configs, nil
}

// NewEngineFromFile builds an engine loaded with the rules in path.
// An empty path yields an engine with no rules.
func NewEngineFromFile(path string, maxWorkers int) (*Engine, error) {
	engine, err := NewEngine(maxWorkers)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return engine, nil
	}

	configs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := engine.ReloadRules(configs); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return engine, nil
}
