package zipgrade

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/examstats/zipgrade-pipeline/internal/tags"
)

// ParseBlueprint reads an answer-key CSV. Rows are
// [label, question_number, correct_answer, unused, tag...]; the file may
// repeat a question number once per tag row, and may or may not start with a
// header row.
func ParseBlueprint(path string) (*ParsedBlueprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseBlueprintReader(f)
}

func ParseBlueprintReader(r io.Reader) (*ParsedBlueprint, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // tags extend the row, no fixed width
	cr.TrimLeadingSpace = true

	out := &ParsedBlueprint{
		Questions:    map[int]*QuestionBlueprint{},
		AreaCounts:   map[string]int{},
		TagQuestions: map[string][]int{},
	}

	first := true
	tagSet := map[string]bool{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{File: "blueprint", Msg: "fila CSV ilegible: " + err.Error()}
		}
		if first {
			first = false
			if looksLikeBlueprintHeader(rec) {
				continue
			}
		}
		if len(rec) < 2 {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil || num <= 0 {
			continue
		}

		q := out.Questions[num]
		if q == nil {
			q = &QuestionBlueprint{Number: num}
			out.Questions[num] = q
		}
		if q.CorrectAnswer == "" && len(rec) > 2 {
			q.CorrectAnswer = normalizeLetter(rec[2])
		}
		// Column 3 is unused in Zipgrade exports; tags start at column 4.
		for i := 4; i < len(rec); i++ {
			tag := strings.TrimSpace(rec[i])
			if tag == "" || q.HasTag(tag) {
				continue
			}
			q.Tags = append(q.Tags, tag)
			out.TagQuestions[tag] = append(out.TagQuestions[tag], num)
			tagSet[tag] = true
		}
	}

	if len(out.Questions) == 0 {
		return nil, &ParseError{File: "blueprint", Msg: "el archivo no contiene preguntas"}
	}

	for _, q := range out.Questions {
		area, _ := tags.InferQuestionArea(q.Tags)
		q.InferredArea = area
		if area != "" {
			out.AreaCounts[area]++
		}
	}

	out.Tags = make([]string, 0, len(tagSet))
	for t := range tagSet {
		out.Tags = append(out.Tags, t)
	}
	sort.Strings(out.Tags)
	return out, nil
}

// looksLikeBlueprintHeader applies the same heuristic the original export
// tooling used: the first two cells of a header row name the key and the
// question column.
func looksLikeBlueprintHeader(rec []string) bool {
	if len(rec) < 2 {
		return false
	}
	a := strings.ToLower(strings.TrimSpace(rec[0]))
	b := strings.ToLower(strings.TrimSpace(rec[1]))
	if _, err := strconv.Atoi(b); err == nil {
		return false
	}
	return strings.Contains(a, "key") || strings.Contains(a, "clave") ||
		strings.Contains(b, "question") || strings.Contains(b, "pregunta")
}
