// Package zipgrade parses the two CSV exports the Zipgrade app produces for a
// graded session: the answer-key "blueprint" and the wide per-student
// responses matrix.
package zipgrade

import (
	"fmt"
	"sort"
	"strings"
)

// QuestionBlueprint is the accumulated key for one question number: the first
// non-empty single-letter correct answer seen and the union of tags across all
// blueprint rows sharing the number.
type QuestionBlueprint struct {
	Number        int
	CorrectAnswer string // "" or a single uppercase letter
	Tags          []string
	InferredArea  string // canonical area, "" when no recognized area alias
}

// HasTag reports whether the question already carries the exact raw tag.
func (q *QuestionBlueprint) HasTag(tag string) bool {
	for _, t := range q.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ParsedBlueprint is the full parse result of a blueprint file.
type ParsedBlueprint struct {
	Questions    map[int]*QuestionBlueprint
	Tags         []string         // sorted set of distinct raw tags
	AreaCounts   map[string]int   // questions per inferred area
	TagQuestions map[string][]int // raw tag -> question numbers carrying it
}

// QuestionNumbers returns the blueprint's question numbers in ascending order.
func (b *ParsedBlueprint) QuestionNumbers() []int {
	out := make([]int, 0, len(b.Questions))
	for n := range b.Questions {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// MissingAreaQuestions lists question numbers whose tags contain no recognized
// area alias. Downstream scoring needs an unambiguous area per question, so a
// non-empty result blocks the import.
func (b *ParsedBlueprint) MissingAreaQuestions() []int {
	var out []int
	for n, q := range b.Questions {
		if q.InferredArea == "" {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// Answer is one student's response to one question.
type Answer struct {
	IsCorrect bool
	Selected  string // raw selected letter, may be ""
}

// StudentResponses groups one row of the responses matrix.
type StudentResponses struct {
	ExternalID string
	Answers    map[int]Answer // nil in withAnswers=false mode
}

// ParsedResponses is the full parse result of a responses file.
type ParsedResponses struct {
	Students        []StudentResponses
	QuestionNumbers []int // ascending
	QuizName        string
}

// ExternalIDs returns the student identifiers in file order.
func (r *ParsedResponses) ExternalIDs() []string {
	out := make([]string, 0, len(r.Students))
	for _, s := range r.Students {
		out = append(out, s.ExternalID)
	}
	return out
}

// ParseError is a file-shape problem the operator must fix at the source.
// Messages are in Spanish because they are shown verbatim to school staff.
type ParseError struct {
	File string // "blueprint" or "responses"
	Msg  string
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %s", e.File, e.Msg) }

func normalizeLetter(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 1 || s[0] < 'A' || s[0] > 'Z' {
		return ""
	}
	return s
}
