package tags

// Tag types recognized by the hierarchy. The names mirror the dimensions the
// reports group by; "area" is the root level.
const (
	TypeArea         = "area"
	TypeCompetencia  = "competencia"
	TypeComponente   = "componente"
	TypeParte        = "parte"
	TypeTipoTexto    = "tipo_texto"
	TypeNivelLectura = "nivel_lectura"
)

// DimensionTypes lists the non-area types a DimensionScore may be requested for.
var DimensionTypes = []string{TypeCompetencia, TypeComponente, TypeParte, TypeTipoTexto, TypeNivelLectura}

// Hierarchy is one row of tag_hierarchy. An area tag has ParentArea == "";
// every other tag must resolve to exactly one area through ParentArea.
type Hierarchy struct {
	ID         int64
	TagName    string
	TagType    string
	ParentArea string // "" for area tags
}

// Normalization is a persisted, operator-confirmed mapping from a raw CSV tag
// string to its classification. Read before any heuristic runs.
type Normalization struct {
	ID            int64
	TagCSVName    string
	TagSystemName string
	TagType       string
	ParentArea    string
	IsActive      bool
}

// Classification is the (area, type) decision for one blueprint tag, plus
// where the decision came from so the preview can surface conflicts.
type Classification struct {
	Tag    string `json:"tag"`
	Area   string `json:"area"`
	Type   string `json:"type"`
	Source string `json:"source"`
}

// Classification sources, in resolution priority order.
const (
	SourceAreaName         = "area_name"
	SourceNormalization    = "normalization"
	SourceHierarchy        = "hierarchy"
	SourceHeuristic        = "heuristic"
	SourceOperator         = "operator"
	SourceResolvedConflict = "resolved_conflict"
	SourceUnclassified     = "unclassified"
)

// NeedsReview reports whether the tag cannot be committed without an
// operator-supplied classification.
func (c Classification) NeedsReview() bool { return c.Area == AreaUnclassified }
