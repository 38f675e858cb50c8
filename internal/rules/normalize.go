package rules

import (
	"strings"
)

// Normalize applies the field rule's normalizer to a raw extracted value.
// Unknown fields or normalizers fall through to whitespace cleanup.
func (e *Engine) Normalize(field, raw string) string {
	raw = collapseSpace(raw)
	rule, ok := e.fields[field]
	if !ok {
		return raw
	}
	switch rule.Normalizer {
	case "number":
		return normalizeNumber(raw)
	case "enum":
		return rule.normalizeEnum(raw)
	case "boolean":
		return normalizeBoolean(raw)
	case "sensor":
		return normalizeSensor(raw)
	default:
		return raw
	}
}

// Sensor maker prefixes dropped so values align with component DB entity names.
var sensorMakerPrefixes = []string{"pixart ", "avago ", "logitech "}

func normalizeSensor(raw string) string {
	for _, prefix := range sensorMakerPrefixes {
		if len(raw) > len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
			return strings.TrimSpace(raw[len(prefix):])
		}
	}
	return raw
}

// normalizeNumber extracts the first numeric run, dropping thousands
// separators and trailing units: "30,000 DPI" -> "30000", "8000Hz" -> "8000".
func normalizeNumber(raw string) string {
	var b strings.Builder
	started := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
			started = true
			b.WriteByte(c)
		case started && c == ',':
			// thousands separator inside a number
		case started && c == '.' && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '9':
			b.WriteByte(c)
		case started:
			return b.String()
		}
	}
	if !started {
		return raw
	}
	return b.String()
}

func (r *FieldRule) normalizeEnum(raw string) string {
	lowered := strings.ToLower(raw)
	for canonical, aliases := range r.Aliases {
		if strings.EqualFold(canonical, lowered) {
			return canonical
		}
		for _, alias := range aliases {
			if strings.EqualFold(alias, lowered) {
				return canonical
			}
		}
	}
	for _, value := range r.Enum {
		if strings.EqualFold(value, lowered) {
			return value
		}
	}
	return lowered
}

func normalizeBoolean(raw string) string {
	switch strings.ToLower(raw) {
	case "yes", "true", "1", "y", "supported":
		return "true"
	case "no", "false", "0", "n", "unsupported":
		return "false"
	}
	return strings.ToLower(raw)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
