// Package catalog is the single source of truth for which products exist,
// their identities, and their owned artifacts. It owns slug construction,
// identity normalization, catalog CRUD, the rename migration protocol, and the
// input-file reconciler.
package catalog

import (
	"strings"
	"unicode"
)

// asciiFold maps common precomposed Latin letters to their base ASCII letter.
// This covers the Latin-1 Supplement and Latin Extended-A ranges that appear
// in brand and model names; anything else non-ASCII is dropped by the slug
// character filter below.
var asciiFold = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a', 'ā': 'a', 'ă': 'a', 'ą': 'a',
	'ç': 'c', 'ć': 'c', 'ĉ': 'c', 'č': 'c',
	'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e', 'ē': 'e', 'ĕ': 'e', 'ė': 'e', 'ę': 'e', 'ě': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i', 'ĩ': 'i', 'ī': 'i', 'į': 'i', 'ı': 'i',
	'ñ': 'n', 'ń': 'n', 'ņ': 'n', 'ň': 'n',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o', 'ō': 'o', 'ŏ': 'o', 'ő': 'o', 'ø': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u', 'ũ': 'u', 'ū': 'u', 'ŭ': 'u', 'ů': 'u', 'ű': 'u', 'ų': 'u',
	'ý': 'y', 'ÿ': 'y',
	'ś': 's', 'ŝ': 's', 'ş': 's', 'š': 's', 'ß': 's',
	'ź': 'z', 'ż': 'z', 'ž': 'z',
	'ĝ': 'g', 'ğ': 'g', 'ġ': 'g', 'ģ': 'g',
	'ĥ': 'h', 'ħ': 'h',
	'ĵ': 'j',
	'ķ': 'k',
	'ĺ': 'l', 'ļ': 'l', 'ľ': 'l', 'ł': 'l',
	'ŕ': 'r', 'ŗ': 'r', 'ř': 'r',
	'ţ': 't', 'ť': 't',
	'ŵ': 'w',
	'đ': 'd', 'ď': 'd',
}

// Slugify derives the canonical URL-safe identifier: decompose and strip
// diacritics, trim, lowercase, spaces to '-', drop anything outside
// [a-z0-9-_], collapse '-' runs, strip leading/trailing '-'.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		r = unicode.ToLower(r)
		if folded, ok := asciiFold[r]; ok {
			r = folded
		}
		if unicode.Is(unicode.Mn, r) {
			continue // combining mark from already-decomposed input
		}
		switch {
		case r == ' ' || r == '\t':
			b.WriteRune('-')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	slug := b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}

// BuildProductID composes the canonical product slug. The variant segment is
// omitted when empty.
func BuildProductID(category, brand, model, variant string) string {
	parts := []string{Slugify(category), Slugify(brand), Slugify(model)}
	if v := Slugify(variant); v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, "-")
}

// IsFabricatedVariant reports whether a variant adds no information over the
// model: its slug is a substring of the model slug, or every hyphen-token of
// the variant slug already appears among the model slug's tokens.
func IsFabricatedVariant(model, variant string) bool {
	vs := Slugify(variant)
	if vs == "" {
		return false
	}
	ms := Slugify(model)
	if strings.Contains(ms, vs) {
		return true
	}
	modelTokens := make(map[string]bool)
	for _, tok := range strings.Split(ms, "-") {
		modelTokens[tok] = true
	}
	for _, tok := range strings.Split(vs, "-") {
		if !modelTokens[tok] {
			return false
		}
	}
	return true
}

// NormalizeResult reports what identity cleanup did.
type NormalizeResult struct {
	WasCleaned bool   `json:"wasCleaned"`
	Reason     string `json:"reason,omitempty"`
}

// ReasonFabricatedVariantStripped marks a variant dropped by normalization.
const ReasonFabricatedVariantStripped = "fabricated_variant_stripped"

// NormalizeIdentity strips fabricated variants. The returned variant is ""
// when the input variant carried no information beyond the model.
func NormalizeIdentity(brand, model, variant string) (string, string, string, NormalizeResult) {
	brand = strings.TrimSpace(brand)
	model = strings.TrimSpace(model)
	variant = strings.TrimSpace(variant)
	if variant != "" && IsFabricatedVariant(model, variant) {
		return brand, model, "", NormalizeResult{WasCleaned: true, Reason: ReasonFabricatedVariantStripped}
	}
	return brand, model, variant, NormalizeResult{}
}

// ModelTokens returns the hyphen-tokens of the model slug (used by the planner
// for URL relevance filtering).
func ModelTokens(model string) []string {
	slug := Slugify(model)
	if slug == "" {
		return nil
	}
	return strings.Split(slug, "-")
}
