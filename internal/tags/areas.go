package tags

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonical area identifiers. Every scoring-relevant tag must resolve to one
// of these, directly or through its parent area.
const (
	AreaLectura     = "lectura"
	AreaMatematicas = "matematicas"
	AreaSociales    = "sociales"
	AreaNaturales   = "naturales"
	AreaIngles      = "ingles"

	// AreaUnclassified marks tags that no rule could place under an area.
	// Commit is blocked while any tag sits in this bucket.
	AreaUnclassified = "__unclassified"
)

// Areas lists the canonical areas in report order.
var Areas = []string{AreaLectura, AreaMatematicas, AreaSociales, AreaNaturales, AreaIngles}

// AreaMappings maps normalized alias spellings seen in Zipgrade blueprints to
// canonical areas. Keys must already be in Normalize form (lowercase, no
// accents, single spaces).
var AreaMappings = map[string]string{
	"lectura":                   AreaLectura,
	"lectura critica":           AreaLectura,
	"lenguaje":                  AreaLectura,
	"espanol":                   AreaLectura,
	"matematicas":               AreaMatematicas,
	"matematica":                AreaMatematicas,
	"razonamiento cuantitativo": AreaMatematicas,
	"sociales":                  AreaSociales,
	"ciencias sociales":         AreaSociales,
	"sociales y ciudadanas":     AreaSociales,
	"competencias ciudadanas":   AreaSociales,
	"naturales":                 AreaNaturales,
	"ciencias naturales":        AreaNaturales,
	"ingles":                    AreaIngles,
	"english":                   AreaIngles,
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases a raw tag, strips accents and collapses whitespace so
// "Matemáticas " and "matematicas" compare equal.
func Normalize(raw string) string {
	s, _, err := transform.String(stripAccents, raw)
	if err != nil {
		s = raw
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CanonicalArea resolves a raw tag string to a canonical area name, or ""
// when the tag is not a recognized area alias.
func CanonicalArea(raw string) string {
	return AreaMappings[Normalize(raw)]
}

// IsArea reports whether the raw tag names one of the canonical areas.
func IsArea(raw string) bool { return CanonicalArea(raw) != "" }
