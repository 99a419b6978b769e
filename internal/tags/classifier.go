package tags

import (
	"sort"
	"strings"
)

// Resolver decides an (area, type) classification for every raw blueprint tag.
// Resolution priority: canonical area name, stored normalization, existing
// hierarchy row, keyword heuristics, and finally the unclassified bucket.
type Resolver struct {
	norms map[string]Normalization // key: Normalize(tag_csv_name)
	hier  map[string]Hierarchy     // key: Normalize(tag_name)
}

func NewResolver(norms map[string]Normalization, hier map[string]Hierarchy) *Resolver {
	if norms == nil {
		norms = map[string]Normalization{}
	}
	if hier == nil {
		hier = map[string]Hierarchy{}
	}
	return &Resolver{norms: norms, hier: hier}
}

// Classify resolves one tag. hintArea is the area the blueprint itself implies
// for this tag (from the areas of the questions it appears on), or "" when the
// blueprint gives no consistent signal. A stored classification whose area
// disagrees with a non-empty hint is re-derived heuristically and reported as
// a resolved conflict instead of being applied silently.
func (r *Resolver) Classify(tag, hintArea string) Classification {
	key := Normalize(tag)

	if area := AreaMappings[key]; area != "" {
		// The short "Sociales" alias is only a candidate area. When every
		// question carrying it belongs to a different area, the blueprint is
		// reusing it as a sub-dimension label, not an area.
		if key == "sociales" && hintArea != "" && hintArea != AreaSociales {
			return Classification{Tag: tag, Area: hintArea, Type: TypeComponente, Source: SourceResolvedConflict}
		}
		return Classification{Tag: tag, Area: area, Type: TypeArea, Source: SourceAreaName}
	}

	if n, ok := r.norms[key]; ok && n.IsActive {
		if hintArea != "" && n.ParentArea != "" && n.ParentArea != hintArea {
			c := r.heuristic(tag, key, hintArea)
			c.Source = SourceResolvedConflict
			return c
		}
		return Classification{Tag: tag, Area: n.ParentArea, Type: n.TagType, Source: SourceNormalization}
	}

	if h, ok := r.hier[key]; ok {
		if hintArea != "" && h.ParentArea != "" && h.ParentArea != hintArea {
			c := r.heuristic(tag, key, hintArea)
			c.Source = SourceResolvedConflict
			return c
		}
		area := h.ParentArea
		if h.TagType == TypeArea {
			area = CanonicalArea(h.TagName)
		}
		return Classification{Tag: tag, Area: area, Type: h.TagType, Source: SourceHierarchy}
	}

	return r.heuristic(tag, key, hintArea)
}

// ClassifyAll resolves every tag in tagsSeen, sorted for stable preview output.
func (r *Resolver) ClassifyAll(tagsSeen []string, hints map[string]string) []Classification {
	sorted := append([]string(nil), tagsSeen...)
	sort.Strings(sorted)
	out := make([]Classification, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, r.Classify(t, hints[t]))
	}
	return out
}

var (
	nivelLecturaWords = []string{"literal", "inferencial", "critico", "critica"}
	tipoTextoWords    = []string{"continuo", "discontinuo", "literario", "informativo", "mixto"}
	competenciaWords  = []string{
		"interpretacion", "formulacion", "argumentacion", "explicacion",
		"indagacion", "razonamiento", "resolucion", "comunicacion",
		"uso comprensivo", "pensamiento social", "pensamiento reflexivo",
	}
)

func (r *Resolver) heuristic(tag, key, hintArea string) Classification {
	if containsAny(key, nivelLecturaWords) {
		area := hintArea
		if area == "" {
			area = AreaLectura
		}
		return Classification{Tag: tag, Area: area, Type: TypeNivelLectura, Source: SourceHeuristic}
	}
	if containsAny(key, tipoTextoWords) {
		area := hintArea
		if area == "" {
			area = AreaLectura
		}
		return Classification{Tag: tag, Area: area, Type: TypeTipoTexto, Source: SourceHeuristic}
	}
	if strings.Contains(key, "parte") {
		area := hintArea
		if area == "" {
			area = AreaIngles
		}
		return Classification{Tag: tag, Area: area, Type: TypeParte, Source: SourceHeuristic}
	}
	if containsAny(key, competenciaWords) {
		if hintArea == "" {
			return Classification{Tag: tag, Area: AreaUnclassified, Type: TypeCompetencia, Source: SourceUnclassified}
		}
		return Classification{Tag: tag, Area: hintArea, Type: TypeCompetencia, Source: SourceHeuristic}
	}
	if hintArea == "" {
		return Classification{Tag: tag, Area: AreaUnclassified, Type: TypeComponente, Source: SourceUnclassified}
	}
	return Classification{Tag: tag, Area: hintArea, Type: TypeComponente, Source: SourceHeuristic}
}

func containsAny(key string, words []string) bool {
	for _, w := range words {
		if strings.Contains(key, w) {
			return true
		}
	}
	return false
}

// InferQuestionArea picks the single area a question's tag set implies.
// "Sociales" is only a candidate area: when it co-occurs with another explicit
// area tag on the same question, Zipgrade blueprints are reusing it as a
// sub-dimension label inside that other area, so the other area wins and the
// caller is told to demote the Sociales tag.
func InferQuestionArea(tagList []string) (area string, demoteSociales bool) {
	seen := map[string]bool{}
	var order []string
	for _, t := range tagList {
		if a := CanonicalArea(t); a != "" && !seen[a] {
			seen[a] = true
			order = append(order, a)
		}
	}
	switch len(order) {
	case 0:
		return "", false
	case 1:
		return order[0], false
	}
	if seen[AreaSociales] {
		for _, a := range order {
			if a != AreaSociales {
				return a, true
			}
		}
	}
	return order[0], false
}

// BuildHints derives, per raw tag, the single area consistently implied by the
// questions the tag appears on. Tags spread across several areas get no hint.
// questionAreas maps question number to its inferred area; tagQuestions maps a
// raw tag to the question numbers carrying it.
func BuildHints(questionAreas map[int]string, tagQuestions map[string][]int) map[string]string {
	hints := make(map[string]string, len(tagQuestions))
	for tag, qs := range tagQuestions {
		var hint string
		consistent := true
		for _, q := range qs {
			a := questionAreas[q]
			if a == "" {
				continue
			}
			if hint == "" {
				hint = a
			} else if hint != a {
				consistent = false
				break
			}
		}
		if consistent && hint != "" {
			hints[tag] = hint
		}
	}
	return hints
}
