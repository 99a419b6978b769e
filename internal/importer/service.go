// Package importer implements the two-phase Zipgrade session import: a
// read-only analyze pass producing a preview token, and a transactional
// commit that clears and rebuilds the session's questions, tags and answers.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examstats/zipgrade-pipeline/internal/roster"
	"github.com/examstats/zipgrade-pipeline/internal/tags"
	"github.com/examstats/zipgrade-pipeline/internal/zipgrade"
)

// TagInput is an operator-supplied classification for one raw tag name.
type TagInput struct {
	Area string `json:"area"`
	Type string `json:"type"`
}

// AnalyzeResult is the preview summary returned by Analyze. No exam-table
// writes have happened when the caller sees it.
type AnalyzeResult struct {
	Token                       string                `json:"token"`
	QuizName                    string                `json:"quiz_name"`
	TotalQuestions              int                   `json:"total_questions"`
	MissingQuestionsInBlueprint []int                 `json:"missing_questions_in_blueprint"`
	MissingQuestionsInResponses []int                 `json:"missing_questions_in_responses"`
	StudentsDetected            int                   `json:"students_detected"`
	StudentsMatched             int                   `json:"students_matched"`
	StudentsUnmatched           int                   `json:"students_unmatched"`
	UnmatchedStudentIDs         []string              `json:"unmatched_student_ids"`
	AreaCounts                  map[string]int        `json:"area_counts"`
	TagsDetected                int                   `json:"tags_detected"`
	Classifications             []tags.Classification `json:"classifications"`
	PendingTags                 []string              `json:"pending_tags"`
}

// CommitResult summarizes a successful import.
type CommitResult struct {
	QuestionsImported int `json:"questions_imported"`
	AnswersImported   int `json:"answers_imported"`
	StudentsMatched   int `json:"students_matched"`
	StudentsUnmatched int `json:"students_unmatched"`
	TagsDetected      int `json:"tags_detected"`
}

type answerConflictPolicy int

const (
	// answerLastWrite is the pipeline policy: a re-upserted answer takes the
	// last written value.
	answerLastWrite answerConflictPolicy = iota
	// answerPreferCorrect is the legacy bulk-CLI policy: once correct, a
	// duplicate answer row can never flip back to incorrect.
	answerPreferCorrect
)

// Service orchestrates analyze/commit for exam sessions.
type Service struct {
	db       *sql.DB
	tagStore *tags.Store
	enrolls  *roster.Store
	previews PreviewStore
	now      func() time.Time
	log      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(dbh *sql.DB, previews PreviewStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:       dbh,
		tagStore: tags.NewStore(dbh),
		enrolls:  roster.NewStore(dbh),
		previews: previews,
		now:      time.Now,
		log:      logger,
		locks:    map[string]*sync.Mutex{},
	}
}

// sessionLock returns the per-(exam, session) mutex. Two concurrent commits of
// the same session would interleave the clear and rebuild steps, so they are
// serialized here.
func (s *Service) sessionLock(examID int64, sessionNumber int) *sync.Mutex {
	key := fmt.Sprintf("%d:%d", examID, sessionNumber)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Analyze dry-runs an upload: parses both files, validates area-tag
// completeness, matches the roster and produces tag classification
// suggestions. The returned token redeems the preview for up to PreviewTTL.
func (s *Service) Analyze(ctx context.Context, examID int64, sessionNumber int, blueprintPath, responsesPath string) (*AnalyzeResult, error) {
	bp, err := zipgrade.ParseBlueprint(blueprintPath)
	if err != nil {
		return nil, errInvalidInput(err)
	}
	if missing := bp.MissingAreaQuestions(); len(missing) > 0 {
		return nil, errMissingAreaTags(missing)
	}
	// Preview mode: student ids and question numbers only, no answer matrix.
	resp, err := zipgrade.ParseResponses(responsesPath, false)
	if err != nil {
		return nil, errInvalidInput(err)
	}

	enrollByExt, err := s.activeEnrollments(ctx, examID)
	if err != nil {
		return nil, err
	}

	res := &AnalyzeResult{
		QuizName:            resp.QuizName,
		AreaCounts:          bp.AreaCounts,
		TagsDetected:        len(bp.Tags),
		UnmatchedStudentIDs: []string{},
	}
	res.MissingQuestionsInBlueprint, res.MissingQuestionsInResponses = questionDiffs(bp, resp)
	res.TotalQuestions = len(unionQuestions(bp, resp))

	res.StudentsDetected = len(resp.Students)
	for _, st := range resp.Students {
		if _, ok := enrollByExt[st.ExternalID]; ok {
			res.StudentsMatched++
		} else {
			res.StudentsUnmatched++
			if len(res.UnmatchedStudentIDs) < maxListed {
				res.UnmatchedStudentIDs = append(res.UnmatchedStudentIDs, st.ExternalID)
			}
		}
	}

	cls, pending, err := s.classify(ctx, bp, nil)
	if err != nil {
		return nil, err
	}
	res.Classifications = cls
	res.PendingTags = pending

	res.Token = uuid.NewString()
	s.previews.Put(PreviewSession{
		Token:     res.Token,
		ExpiresAt: s.now().Add(PreviewTTL),
		Payload: PreviewPayload{
			ExamID:        examID,
			SessionNumber: sessionNumber,
			BlueprintPath: blueprintPath,
			ResponsesPath: responsesPath,
			Summary:       *res,
		},
	})
	s.log.Info("session analyzed",
		"exam_id", examID, "session", sessionNumber,
		"questions", res.TotalQuestions, "students", res.StudentsDetected,
		"pending_tags", len(pending))
	return res, nil
}

// Commit redeems a preview token and performs the transactional import. The
// files are re-parsed from scratch; a stale token can therefore never import
// data that differs from what its files contain.
func (s *Service) Commit(ctx context.Context, examID int64, sessionNumber int, token string, classifications map[string]TagInput, saveNormalizations bool) (*CommitResult, error) {
	ps, ok := s.previews.Get(token)
	if !ok {
		return nil, ErrPreviewExpired
	}
	if ps.Payload.ExamID != examID || ps.Payload.SessionNumber != sessionNumber {
		return nil, errSessionMismatch()
	}

	res, err := s.runImport(ctx, examID, sessionNumber,
		ps.Payload.BlueprintPath, ps.Payload.ResponsesPath,
		classifications, saveNormalizations, answerLastWrite)
	if err != nil {
		return nil, err
	}

	s.previews.Delete(token)
	_ = os.Remove(ps.Payload.BlueprintPath)
	_ = os.Remove(ps.Payload.ResponsesPath)
	return res, nil
}

// ImportDirect is the legacy bulk entry point: no preview phase, no operator
// classifications, and the historical correct-beats-incorrect answer policy.
func (s *Service) ImportDirect(ctx context.Context, examID int64, sessionNumber int, blueprintPath, responsesPath string) (*CommitResult, error) {
	return s.runImport(ctx, examID, sessionNumber, blueprintPath, responsesPath, nil, false, answerPreferCorrect)
}

func (s *Service) runImport(ctx context.Context, examID int64, sessionNumber int, blueprintPath, responsesPath string, overrides map[string]TagInput, saveNormalizations bool, policy answerConflictPolicy) (*CommitResult, error) {
	lock := s.sessionLock(examID, sessionNumber)
	lock.Lock()
	defer lock.Unlock()

	bp, err := zipgrade.ParseBlueprint(blueprintPath)
	if err != nil {
		return nil, errInvalidInput(err)
	}
	if missing := bp.MissingAreaQuestions(); len(missing) > 0 {
		return nil, errMissingAreaTags(missing)
	}
	resp, err := zipgrade.ParseResponses(responsesPath, true)
	if err != nil {
		return nil, errInvalidInput(err)
	}

	cls, pending, err := s.classify(ctx, bp, overrides)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return nil, errUnclassifiedTags(pending)
	}
	classByTag := make(map[string]tags.Classification, len(cls))
	for _, c := range cls {
		classByTag[c.Tag] = c
	}

	enrollByExt, err := s.activeEnrollments(ctx, examID)
	if err != nil {
		return nil, err
	}

	sessionID, err := s.ensureSession(ctx, examID, sessionNumber)
	if err != nil {
		return nil, errTransaction(err)
	}
	auditID, err := beginAudit(ctx, s.db, sessionID, filepath.Base(responsesPath), s.now())
	if err != nil {
		return nil, errTransaction(err)
	}

	res, err := s.commitTx(ctx, sessionID, bp, resp, classByTag, overrides, saveNormalizations, enrollByExt, policy)
	if err != nil {
		failAudit(ctx, s.db, auditID, err.Error())
		if _, ok := err.(*ImportError); ok {
			return nil, err
		}
		return nil, errTransaction(err)
	}
	if err := finishAudit(ctx, s.db, auditID, len(resp.Students)); err != nil {
		s.log.Warn("audit update failed", "audit_id", auditID, "err", err)
	}
	s.log.Info("session imported",
		"exam_id", examID, "session", sessionNumber,
		"questions", res.QuestionsImported, "answers", res.AnswersImported,
		"unmatched", res.StudentsUnmatched)
	return res, nil
}

// commitTx executes the fixed-order import steps inside one transaction:
// clear, questions, hierarchy, junctions, answers, distribution, session meta.
// Later steps read what earlier steps wrote, so the order is load-bearing.
func (s *Service) commitTx(ctx context.Context, sessionID int64, bp *zipgrade.ParsedBlueprint, resp *zipgrade.ParsedResponses, classByTag map[string]tags.Classification, overrides map[string]TagInput, saveNormalizations bool, enrollByExt map[string]roster.Enrollment, policy answerConflictPolicy) (*CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// 1. Full replace: drop everything the session owned. A previous
	// malformed import must not leave orphaned tags or answers behind.
	for _, q := range []string{
		`DELETE FROM question_tags WHERE exam_question_id IN (SELECT id FROM exam_questions WHERE exam_session_id = $1)`,
		`DELETE FROM student_answers WHERE exam_question_id IN (SELECT id FROM exam_questions WHERE exam_session_id = $1)`,
		`DELETE FROM exam_questions WHERE exam_session_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return nil, err
		}
	}

	// 2. Questions for the union of blueprint and response numbers.
	union := unionQuestions(bp, resp)
	qRows := make([][]any, 0, len(union))
	for _, n := range union {
		correct := ""
		if q := bp.Questions[n]; q != nil {
			correct = q.CorrectAnswer
		}
		qRows = append(qRows, []any{sessionID, n, correct})
	}
	if err := BulkUpsert(ctx, tx, UpsertSpec{
		Table:           "exam_questions",
		Columns:         []string{"exam_session_id", "question_number", "correct_answer"},
		ConflictColumns: []string{"exam_session_id", "question_number"},
		UpdateColumns:   []string{"correct_answer"},
	}, qRows); err != nil {
		return nil, err
	}
	questionIDs, err := loadQuestionIDs(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	// 3. Tag hierarchy rows, and normalizations when the operator opted in.
	tagIDs := make(map[string]int64, len(classByTag))
	for _, tag := range bp.Tags {
		c := classByTag[tag]
		id, err := tags.EnsureHierarchy(ctx, tx, tag, c.Type, c.Area)
		if err != nil {
			return nil, err
		}
		tagIDs[tag] = id
	}
	if saveNormalizations {
		for tag := range overrides {
			c, ok := classByTag[tag]
			if !ok {
				continue
			}
			if err := tags.SaveNormalization(ctx, tx, tag, tag, c.Type, c.Area); err != nil {
				return nil, err
			}
		}
	}

	// 4. Question-tag junctions with the denormalized area.
	var jRows [][]any
	for _, n := range bp.QuestionNumbers() {
		qid, ok := questionIDs[n]
		if !ok {
			continue
		}
		for _, tag := range bp.Questions[n].Tags {
			c := classByTag[tag]
			jRows = append(jRows, []any{qid, tagIDs[tag], c.Area})
		}
	}
	if err := BulkUpsert(ctx, tx, UpsertSpec{
		Table:           "question_tags",
		Columns:         []string{"exam_question_id", "tag_hierarchy_id", "inferred_area"},
		ConflictColumns: []string{"exam_question_id", "tag_hierarchy_id"},
		UpdateColumns:   []string{"inferred_area"},
	}, jRows); err != nil {
		return nil, err
	}

	// 5. Answers for matched students only. Unmatched ids are counted but
	// produce no rows; partial rosters are expected.
	// A student scanned twice collapses to one row before the upsert:
	// Postgres rejects a multi-row INSERT whose ON CONFLICT target repeats,
	// so the conflict policy is applied here rather than in SQL.
	res := &CommitResult{
		QuestionsImported: len(union),
		TagsDetected:      len(bp.Tags),
	}
	type answerKey struct {
		questionID   int64
		enrollmentID int64
	}
	var aRows [][]any
	rowIdx := map[answerKey]int{}
	for _, st := range resp.Students {
		enr, ok := enrollByExt[st.ExternalID]
		if !ok {
			res.StudentsUnmatched++
			continue
		}
		res.StudentsMatched++
		for n, ans := range st.Answers {
			qid, ok := questionIDs[n]
			if !ok {
				continue
			}
			row := []any{qid, enr.ID, boolToInt(ans.IsCorrect), ans.Selected}
			k := answerKey{qid, enr.ID}
			if i, seen := rowIdx[k]; seen {
				// Selected letter is always the last scan's. Correctness
				// follows the policy: the legacy path never flips a correct
				// answer back to incorrect.
				if policy == answerPreferCorrect && aRows[i][2].(int) == 1 {
					row[2] = 1
				}
				aRows[i] = row
				continue
			}
			rowIdx[k] = len(aRows)
			aRows = append(aRows, row)
		}
	}
	if err := BulkUpsert(ctx, tx, UpsertSpec{
		Table:           "student_answers",
		Columns:         []string{"exam_question_id", "enrollment_id", "is_correct", "selected_answer"},
		ConflictColumns: []string{"exam_question_id", "enrollment_id"},
		UpdateColumns:   []string{"is_correct", "selected_answer"},
	}, aRows); err != nil {
		return nil, err
	}
	res.AnswersImported = len(aRows)

	// 6. Top-4 response-letter distribution, recomputed from this import.
	if err := storeDistributions(ctx, tx, questionIDs, resp, enrollByExt); err != nil {
		return nil, err
	}

	// 7. Session metadata.
	if _, err := tx.ExecContext(ctx,
		`UPDATE exam_sessions SET total_questions = $1, zipgrade_quiz_name = $2 WHERE id = $3`,
		len(union), resp.QuizName, sessionID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) classify(ctx context.Context, bp *zipgrade.ParsedBlueprint, overrides map[string]TagInput) ([]tags.Classification, []string, error) {
	norms, err := s.tagStore.LoadNormalizations(ctx)
	if err != nil {
		return nil, nil, errTransaction(err)
	}
	hier, err := s.tagStore.LoadHierarchy(ctx)
	if err != nil {
		return nil, nil, errTransaction(err)
	}

	questionAreas := make(map[int]string, len(bp.Questions))
	for n, q := range bp.Questions {
		questionAreas[n] = q.InferredArea
	}
	hints := tags.BuildHints(questionAreas, bp.TagQuestions)

	resolver := tags.NewResolver(norms, hier)
	cls := resolver.ClassifyAll(bp.Tags, hints)

	var pending []string
	for i, c := range cls {
		if o, ok := overrides[c.Tag]; ok {
			cls[i] = tags.Classification{Tag: c.Tag, Area: o.Area, Type: o.Type, Source: tags.SourceOperator}
			continue
		}
		if c.NeedsReview() {
			pending = append(pending, c.Tag)
		}
	}
	sort.Strings(pending)
	return cls, pending, nil
}

func (s *Service) activeEnrollments(ctx context.Context, examID int64) (map[string]roster.Enrollment, error) {
	yearID, err := s.enrolls.ExamYear(ctx, examID)
	if err != nil {
		return nil, errTransaction(fmt.Errorf("exam %d: %w", examID, err))
	}
	m, err := s.enrolls.ActiveByExternalID(ctx, yearID)
	if err != nil {
		return nil, errTransaction(err)
	}
	return m, nil
}

// ensureSession runs before the import transaction on purpose: the audit row
// in zipgrade_imports references the session and must survive a rollback. A
// failed first-ever import therefore leaves an empty session row behind,
// which a later retry reuses.
func (s *Service) ensureSession(ctx context.Context, examID int64, sessionNumber int) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO exam_sessions (exam_id, session_number, name)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (exam_id, session_number) DO UPDATE SET session_number = excluded.session_number
		 RETURNING id`,
		examID, sessionNumber, fmt.Sprintf("Sesión %d", sessionNumber)).Scan(&id)
	return id, err
}

func loadQuestionIDs(ctx context.Context, tx *sql.Tx, sessionID int64) (map[int]int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, question_number FROM exam_questions WHERE exam_session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int]int64{}
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[n] = id
	}
	return out, rows.Err()
}

// storeDistributions recomputes the cached top-4 answer frequencies per
// question from the answers of matched students. Full snapshot, never an
// incremental update.
func storeDistributions(ctx context.Context, tx *sql.Tx, questionIDs map[int]int64, resp *zipgrade.ParsedResponses, enrollByExt map[string]roster.Enrollment) error {
	counts := map[int]map[string]int{}
	totals := map[int]int{}
	for _, st := range resp.Students {
		if _, ok := enrollByExt[st.ExternalID]; !ok {
			continue
		}
		for n, ans := range st.Answers {
			if ans.Selected == "" {
				continue
			}
			if counts[n] == nil {
				counts[n] = map[string]int{}
			}
			counts[n][ans.Selected]++
			totals[n]++
		}
	}

	for n, qid := range questionIDs {
		letters := make([]string, 0, len(counts[n]))
		for l := range counts[n] {
			letters = append(letters, l)
		}
		sort.Slice(letters, func(i, j int) bool {
			if counts[n][letters[i]] != counts[n][letters[j]] {
				return counts[n][letters[i]] > counts[n][letters[j]]
			}
			return letters[i] < letters[j]
		})

		vals := make([]any, 0, 8)
		for i := 0; i < 4; i++ {
			if i < len(letters) {
				l := letters[i]
				pct := 100 * float64(counts[n][l]) / float64(totals[n])
				vals = append(vals, l, pct)
			} else {
				vals = append(vals, nil, nil)
			}
		}
		vals = append(vals, qid)
		if _, err := tx.ExecContext(ctx,
			`UPDATE exam_questions SET
			   response_1=$1, response_1_pct=$2,
			   response_2=$3, response_2_pct=$4,
			   response_3=$5, response_3_pct=$6,
			   response_4=$7, response_4_pct=$8
			 WHERE id=$9`, vals...); err != nil {
			return err
		}
	}
	return nil
}

func questionDiffs(bp *zipgrade.ParsedBlueprint, resp *zipgrade.ParsedResponses) (missingInBlueprint, missingInResponses []int) {
	missingInBlueprint = []int{}
	missingInResponses = []int{}
	inResp := map[int]bool{}
	for _, n := range resp.QuestionNumbers {
		inResp[n] = true
		if bp.Questions[n] == nil {
			missingInBlueprint = append(missingInBlueprint, n)
		}
	}
	for n := range bp.Questions {
		if !inResp[n] {
			missingInResponses = append(missingInResponses, n)
		}
	}
	sort.Ints(missingInBlueprint)
	sort.Ints(missingInResponses)
	return
}

func unionQuestions(bp *zipgrade.ParsedBlueprint, resp *zipgrade.ParsedResponses) []int {
	set := map[int]bool{}
	for n := range bp.Questions {
		set[n] = true
	}
	for _, n := range resp.QuestionNumbers {
		set[n] = true
	}
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
