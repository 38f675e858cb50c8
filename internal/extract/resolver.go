package extract

import (
	"sort"

	"specfactory/internal/rules"
	"specfactory/internal/types"
)

// propertyFieldMap maps component DB property names that are not themselves
// rule keys onto their spec field. Unmapped properties never emit.
var propertyFieldMap = map[string]string{
	"max_dpi":     "dpi",
	"max_ips":     "ips",
	"sensor_year": "sensor_date",
	"max_accel":   "acceleration",
}

// Base confidence per variance policy (§ how trustworthy a component property
// is across product integrations).
var varianceConfidence = map[string]float64{
	"authoritative":    0.85,
	"upper_bound":      0.80,
	"lower_bound":      0.80,
	"range":            0.75,
	"override_allowed": 0.60,
}

// Resolver infers field candidates from the component database: a matched
// sensor entity implies its max DPI, IPS and release year.
type Resolver struct {
	rules *rules.Engine
}

// NewResolver creates a resolver bound to a rules engine.
func NewResolver(eng *rules.Engine) *Resolver {
	return &Resolver{rules: eng}
}

// Resolve inspects the existing candidates for every component-backed field,
// fuzzy-matches the best one against its component DB, and emits inferred
// candidates for the entity's properties. Constraint violations demote the
// affected inferences.
func (r *Resolver) Resolve(candidates []types.Candidate) []types.Candidate {
	bestByField := bestCandidates(candidates)
	var inferred []types.Candidate

	for _, field := range r.rules.Fields() {
		rule, _ := r.rules.Rule(field)
		if rule.ComponentDBRef == "" {
			continue
		}
		trigger, ok := bestByField[field]
		if !ok {
			continue
		}
		match, ok := r.rules.FuzzyMatchComponent(rule.ComponentDBRef, trigger.Value, rule.FuzzyThreshold)
		if !ok {
			continue
		}
		inferred = append(inferred, r.inferFromEntity(match, trigger, bestByField)...)
	}
	return inferred
}

func (r *Resolver) inferFromEntity(match rules.ComponentMatch, trigger types.Candidate, bestByField map[string]types.Candidate) []types.Candidate {
	scale := 0.85 + 0.15*match.Score

	// Deterministic property order.
	props := make([]string, 0, len(match.Entity.Properties))
	for prop := range match.Entity.Properties {
		props = append(props, prop)
	}
	sort.Strings(props)

	emitted := make(map[string]int) // target field -> index into out
	var out []types.Candidate
	for _, prop := range props {
		target := r.targetField(prop)
		if target == "" {
			continue
		}
		conf := varianceConfidence[match.Entity.VariancePolicies[prop]]
		if conf == 0 {
			conf = varianceConfidence["range"]
		}
		conf *= scale
		if existing, ok := bestByField[target]; ok && existing.Confidence >= conf {
			continue
		}
		emitted[prop] = len(out)
		out = append(out, types.Candidate{
			Field:        target,
			Value:        r.rules.Normalize(target, match.Entity.Properties[prop]),
			Method:       types.MethodComponentDBInference,
			EvidenceRefs: trigger.EvidenceRefs,
			SnippetID:    trigger.SnippetID,
			Quote:        trigger.Quote,
			Confidence:   conf,
			Source:       trigger.Source,
			InferredFrom: &types.InferredFrom{Field: trigger.Field, Value: trigger.Value},
		})
	}

	r.applyConstraints(match.Entity, bestByField, emitted, out)
	return out
}

// applyConstraints demotes inferred candidates when entity constraints fail:
// the violated property's own candidate is halved (floor 0.1); other emitted
// candidates of the entity take a warning demotion (x0.85, floor 0.3).
func (r *Resolver) applyConstraints(entity rules.ComponentEntity, bestByField map[string]types.Candidate, emitted map[string]int, out []types.Candidate) {
	values := make(map[string]string, len(bestByField))
	for field, cand := range bestByField {
		values[field] = cand.Value
	}
	for _, violation := range rules.EvaluateConstraints(entity, values) {
		if idx, ok := emitted[violation.Subject]; ok {
			c := &out[idx]
			c.Confidence *= 0.5
			if c.Confidence < 0.1 {
				c.Confidence = 0.1
			}
			c.ConstraintViolations = append(c.ConstraintViolations, violation.Expr)
			continue
		}
		for i := range out {
			c := &out[i]
			c.Confidence *= 0.85
			if c.Confidence < 0.3 {
				c.Confidence = 0.3
			}
			c.ConstraintWarnings = append(c.ConstraintWarnings, violation.Expr)
		}
	}
}

// targetField maps a component property onto a rule field: the property name
// itself when it is a rule key, else the legacy mapping.
func (r *Resolver) targetField(prop string) string {
	if _, ok := r.rules.Rule(prop); ok {
		return prop
	}
	return propertyFieldMap[prop]
}

// bestCandidates picks the strongest candidate per field, preferring
// spec_table_match over parse_template over json_ld over everything else,
// then higher confidence.
func bestCandidates(candidates []types.Candidate) map[string]types.Candidate {
	rank := func(m types.Method) int {
		switch m {
		case types.MethodSpecTableMatch:
			return 0
		case types.MethodParseTemplate:
			return 1
		case types.MethodJSONLD:
			return 2
		default:
			return 3
		}
	}
	best := make(map[string]types.Candidate)
	for _, c := range candidates {
		cur, ok := best[c.Field]
		if !ok {
			best[c.Field] = c
			continue
		}
		if rank(c.Method) < rank(cur.Method) ||
			(rank(c.Method) == rank(cur.Method) && c.Confidence > cur.Confidence) {
			best[c.Field] = c
		}
	}
	return best
}
