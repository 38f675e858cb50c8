package rules

import (
	"strconv"
	"strings"
)

// ConstraintViolation is one failed constraint expression. Subject is the
// left-hand property name, used by the resolver to decide which inferred
// candidate to demote.
type ConstraintViolation struct {
	Expr    string
	Subject string
}

var constraintOps = []string{"<=", ">=", "!=", "==", "<", ">"}

// EvaluateConstraints checks every constraint expression of an entity against
// its properties plus the current product values. Expressions are of the form
// `lhs op rhs` where each side is a property name or a numeric literal.
// Unresolvable or malformed expressions are skipped, never reported.
func EvaluateConstraints(entity ComponentEntity, productValues map[string]string) []ConstraintViolation {
	var violations []ConstraintViolation
	for _, expr := range entity.Constraints {
		lhs, op, rhs, ok := splitConstraint(expr)
		if !ok {
			continue
		}
		lv, lok := resolveOperand(lhs, entity, productValues)
		rv, rok := resolveOperand(rhs, entity, productValues)
		if !lok || !rok {
			continue
		}
		if !compare(lv, rv, op) {
			violations = append(violations, ConstraintViolation{Expr: expr, Subject: lhs})
		}
	}
	return violations
}

func splitConstraint(expr string) (lhs, op, rhs string, ok bool) {
	for _, candidate := range constraintOps {
		if idx := strings.Index(expr, candidate); idx > 0 {
			lhs = strings.TrimSpace(expr[:idx])
			rhs = strings.TrimSpace(expr[idx+len(candidate):])
			if lhs == "" || rhs == "" {
				return "", "", "", false
			}
			return lhs, candidate, rhs, true
		}
	}
	return "", "", "", false
}

func resolveOperand(token string, entity ComponentEntity, productValues map[string]string) (float64, bool) {
	if v, err := strconv.ParseFloat(token, 64); err == nil {
		return v, true
	}
	if raw, ok := entity.Properties[token]; ok {
		return parseNumeric(raw)
	}
	if raw, ok := productValues[token]; ok {
		return parseNumeric(raw)
	}
	return 0, false
}

func parseNumeric(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(normalizeNumber(raw), 64)
	return v, err == nil
}

func compare(l, r float64, op string) bool {
	switch op {
	case "<=":
		return l <= r
	case ">=":
		return l >= r
	case "<":
		return l < r
	case ">":
		return l > r
	case "==":
		return l == r
	case "!=":
		return l != r
	}
	return false
}
