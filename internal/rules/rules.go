// Package rules loads and serves the per-category field rules: parse
// templates, component databases, enum aliases, normalizers and constraint
// expressions. The engine is loaded once per run and read-only afterwards, so
// it is safe to share across goroutines.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/mouse.yaml
var defaultMouseRules []byte

// =============================================================================
// RULE TYPES
// =============================================================================

// Pattern is one regex extraction template. Group selects the capture group
// that carries the value (default 1).
type Pattern struct {
	Regex string `yaml:"regex"`
	Group int    `yaml:"group"`

	compiled *regexp.Regexp
}

// Compiled returns the case-insensitive compiled regex.
func (p *Pattern) Compiled() *regexp.Regexp { return p.compiled }

// FieldRule describes how one spec field is extracted, normalized and ranked.
type FieldRule struct {
	Key string `yaml:"-"`

	// Classification
	Type          string  `yaml:"type"`           // string | number | boolean | enum | list
	RequiredLevel string  `yaml:"required_level"` // identity | critical | required | optional
	Unit          string  `yaml:"unit"`
	Helpfulness   float64 `yaml:"helpfulness"`

	// Matching surface
	ContextKeywords  []string  `yaml:"context_keywords"`
	NegativeKeywords []string  `yaml:"negative_keywords"`
	Synonyms         []string  `yaml:"synonyms"`
	SearchHints      []string  `yaml:"search_hints"`
	Labels           []string  `yaml:"labels"`
	Patterns         []Pattern `yaml:"patterns"`
	JSONLDPath       string    `yaml:"json_ld_path"`

	// Value shaping
	Enum       []string            `yaml:"enum"`
	Aliases    map[string][]string `yaml:"aliases"` // canonical -> aliases
	Normalizer string              `yaml:"normalizer"`

	// Component inference
	ComponentDBRef string  `yaml:"component_db_ref"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// Ranking
	TierPreference  []int `yaml:"tier_preference"`
	SourceDependent bool  `yaml:"source_dependent"`
}

// IsIdentityOrCritical reports whether the identity filter applies to this field.
func (r *FieldRule) IsIdentityOrCritical() bool {
	return r.RequiredLevel == "identity" || r.RequiredLevel == "critical"
}

// Required reports whether the field counts toward required-field planner boosts.
func (r *FieldRule) Required() bool {
	switch r.RequiredLevel {
	case "identity", "critical", "required":
		return true
	}
	return false
}

// ComponentEntity is one entry of a component database (a sensor, a switch).
// Properties hold spec values keyed by property name; VariancePolicies tag how
// trustworthy each property is across product integrations.
type ComponentEntity struct {
	Name             string            `yaml:"name"`
	Aliases          []string          `yaml:"aliases"`
	Properties       map[string]string `yaml:"properties"`
	VariancePolicies map[string]string `yaml:"variance_policies"` // authoritative | upper_bound | lower_bound | range | override_allowed
	Constraints      []string          `yaml:"constraints"`
}

type componentDB struct {
	Entities []ComponentEntity `yaml:"entities"`
}

type rulesFile struct {
	Category     string                 `yaml:"category"`
	Fields       map[string]FieldRule   `yaml:"fields"`
	ComponentDBs map[string]componentDB `yaml:"component_dbs"`
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine serves compiled field rules for one category.
type Engine struct {
	category  string
	fields    map[string]*FieldRule
	fieldKeys []string // sorted
	dbs       map[string][]ComponentEntity
}

// Default returns the engine built from the embedded mouse rules.
func Default() *Engine {
	eng, err := Load(defaultMouseRules)
	if err != nil {
		// The embedded file is validated by tests; a parse failure here is a
		// build defect, not a runtime condition.
		panic(fmt.Sprintf("embedded rules invalid: %v", err))
	}
	return eng
}

// LoadFile loads rules from a YAML file on disk.
func LoadFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Load(data)
}

// Load parses and compiles a rules document.
func Load(data []byte) (*Engine, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	eng := &Engine{
		category: file.Category,
		fields:   make(map[string]*FieldRule, len(file.Fields)),
		dbs:      make(map[string][]ComponentEntity, len(file.ComponentDBs)),
	}
	for key, rule := range file.Fields {
		r := rule
		r.Key = key
		for i := range r.Patterns {
			p := &r.Patterns[i]
			if p.Group <= 0 {
				p.Group = 1
			}
			re, err := regexp.Compile("(?i)" + p.Regex)
			if err != nil {
				return nil, fmt.Errorf("field %s pattern %d: %w", key, i, err)
			}
			p.compiled = re
		}
		eng.fields[key] = &r
		eng.fieldKeys = append(eng.fieldKeys, key)
	}
	sort.Strings(eng.fieldKeys)

	for name, db := range file.ComponentDBs {
		eng.dbs[name] = db.Entities
	}
	return eng, nil
}

// Category returns the rules category.
func (e *Engine) Category() string { return e.category }

// Fields returns every field key, sorted.
func (e *Engine) Fields() []string { return e.fieldKeys }

// Rule returns the rule for a field key.
func (e *Engine) Rule(key string) (*FieldRule, bool) {
	r, ok := e.fields[key]
	return r, ok
}

// RequiredFields returns the sorted keys of identity, critical and required fields.
func (e *Engine) RequiredFields() []string {
	var out []string
	for _, key := range e.fieldKeys {
		if e.fields[key].Required() {
			out = append(out, key)
		}
	}
	return out
}

// Helpfulness returns the helpfulness weight of a field, 0 if unknown.
func (e *Engine) Helpfulness(key string) float64 {
	if r, ok := e.fields[key]; ok {
		return r.Helpfulness
	}
	return 0
}
