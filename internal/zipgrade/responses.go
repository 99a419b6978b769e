package zipgrade

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// columnKind identifies one of the four repeating per-question column groups.
type columnKind int

const (
	colStu columnKind = iota
	colPriKey
	colPoints
	colMark
)

type questionColumn struct {
	kind   columnKind
	number int
	index  int
}

type responsesLayout struct {
	studentID int // column index of StudentID
	quizName  int // -1 when absent
	columns   []questionColumn
	questions []int // ascending distinct question numbers
}

// ParseResponses reads the wide per-student CSV. With withAnswers=false only
// student identifiers and the question-number set are materialized, which is
// what the analyze preview needs and keeps large files cheap to dry-run.
func ParseResponses(path string, withAnswers bool) (*ParsedResponses, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseResponsesReader(f, withAnswers)
}

func ParseResponsesReader(r io.Reader, withAnswers bool) (*ParsedResponses, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, &ParseError{File: "responses", Msg: "el archivo no tiene fila de encabezado"}
	}
	layout, err := buildLayout(header)
	if err != nil {
		return nil, err
	}

	out := &ParsedResponses{QuestionNumbers: layout.questions}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{File: "responses", Msg: "fila CSV ilegible: " + err.Error()}
		}
		if layout.studentID >= len(rec) {
			continue
		}
		extID := strings.TrimSpace(rec[layout.studentID])
		if extID == "" {
			continue
		}
		if out.QuizName == "" && layout.quizName >= 0 && layout.quizName < len(rec) {
			out.QuizName = strings.TrimSpace(rec[layout.quizName])
		}

		sr := StudentResponses{ExternalID: extID}
		if withAnswers {
			sr.Answers = scoreRow(rec, layout)
		}
		out.Students = append(out.Students, sr)
	}
	return out, nil
}

// buildLayout normalizes headers once (lowercase, strip non-alphanumerics) and
// resolves every later access to a stable integer offset. This tolerates the
// case/spacing variance of Zipgrade export configurations.
func buildLayout(header []string) (*responsesLayout, error) {
	l := &responsesLayout{studentID: -1, quizName: -1}
	qset := map[int]bool{}
	for i, h := range header {
		key := normalizeHeader(h)
		switch key {
		case "studentid":
			l.studentID = i
			continue
		case "quizname":
			l.quizName = i
			continue
		}
		kind, num, ok := splitQuestionHeader(key)
		if !ok {
			continue
		}
		l.columns = append(l.columns, questionColumn{kind: kind, number: num, index: i})
		qset[num] = true
	}
	if l.studentID < 0 {
		return nil, &ParseError{File: "responses", Msg: "falta la columna StudentID"}
	}
	if len(l.columns) == 0 {
		return nil, &ParseError{File: "responses", Msg: "no se detectaron columnas de preguntas (Stu/PriKey/Points/Mark)"}
	}
	for n := range qset {
		l.questions = append(l.questions, n)
	}
	sort.Ints(l.questions)
	return l, nil
}

func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitQuestionHeader(key string) (columnKind, int, bool) {
	var kind columnKind
	var rest string
	switch {
	case strings.HasPrefix(key, "prikey"):
		kind, rest = colPriKey, key[len("prikey"):]
	case strings.HasPrefix(key, "stu"):
		kind, rest = colStu, key[len("stu"):]
	case strings.HasPrefix(key, "points"):
		kind, rest = colPoints, key[len("points"):]
	case strings.HasPrefix(key, "mark"):
		kind, rest = colMark, key[len("mark"):]
	default:
		return 0, 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, 0, false
	}
	return kind, n, true
}

// scoreRow resolves correctness per question with the layered precedence the
// different Zipgrade export configurations require:
// Mark C/X, then Points > 0, then Stu == PriKey (both single letters).
func scoreRow(rec []string, l *responsesLayout) map[int]Answer {
	type cells struct{ stu, priKey, points, mark string }
	byQ := map[int]*cells{}
	for _, c := range l.columns {
		if c.index >= len(rec) {
			continue
		}
		v := strings.TrimSpace(rec[c.index])
		cl := byQ[c.number]
		if cl == nil {
			cl = &cells{}
			byQ[c.number] = cl
		}
		switch c.kind {
		case colStu:
			cl.stu = v
		case colPriKey:
			cl.priKey = v
		case colPoints:
			cl.points = v
		case colMark:
			cl.mark = v
		}
	}

	answers := make(map[int]Answer, len(byQ))
	for n, cl := range byQ {
		answers[n] = Answer{
			IsCorrect: resolveCorrect(cl.stu, cl.priKey, cl.points, cl.mark),
			Selected:  normalizeLetter(cl.stu),
		}
	}
	return answers
}

func resolveCorrect(stu, priKey, points, mark string) bool {
	switch strings.ToUpper(strings.TrimSpace(mark)) {
	case "C":
		return true
	case "X":
		return false
	}
	if p, err := strconv.ParseFloat(strings.TrimSpace(points), 64); err == nil && p > 0 {
		return true
	}
	s, k := normalizeLetter(stu), normalizeLetter(priKey)
	return s != "" && k != "" && s == k
}
