package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/examstats/zipgrade-pipeline/internal/db"
)

// newTestDB opens a per-test shared-cache in-memory database so every pooled
// connection sees the same data.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	dbh.SetMaxOpenConns(1)
	t.Cleanup(func() { dbh.Close() })
	return dbh
}

// seedRoster creates one academic year, one exam and the given external ids as
// actively enrolled students. Returns the exam id.
func seedRoster(t *testing.T, dbh *sql.DB, externalIDs ...string) int64 {
	t.Helper()
	ctx := context.Background()
	var yearID int64
	if err := dbh.QueryRowContext(ctx,
		`INSERT INTO academic_years (name, is_active) VALUES ('2025', 1) RETURNING id`).Scan(&yearID); err != nil {
		t.Fatalf("seed year: %v", err)
	}
	for _, ext := range externalIDs {
		var studentID int64
		if err := dbh.QueryRowContext(ctx,
			`INSERT INTO students (external_id, full_name) VALUES ($1, $2) RETURNING id`,
			ext, "Estudiante "+ext).Scan(&studentID); err != nil {
			t.Fatalf("seed student %s: %v", ext, err)
		}
		if _, err := dbh.ExecContext(ctx,
			`INSERT INTO enrollments (student_id, academic_year_id, grade_group) VALUES ($1, $2, '11A')`,
			studentID, yearID); err != nil {
			t.Fatalf("seed enrollment %s: %v", ext, err)
		}
	}
	var examID int64
	if err := dbh.QueryRowContext(ctx,
		`INSERT INTO exams (academic_year_id, name) VALUES ($1, 'Simulacro Saber') RETURNING id`,
		yearID).Scan(&examID); err != nil {
		t.Fatalf("seed exam: %v", err)
	}
	return examID
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func newTestService(dbh *sql.DB) *Service {
	return NewService(dbh, NewMemoryPreviewStore(nil), slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

const blueprintCSV = `A1,1,A,,Lectura,Literal
A1,2,B,,Lectura,Inferencial
A1,3,C,,Matematicas,Razonamiento
`

const responsesCSV = `StudentID,Quiz Name,Stu1,PriKey1,Stu2,PriKey2,Stu3,PriKey3
1001,Simulacro 11,A,A,B,B,C,C
1002,Simulacro 11,A,A,C,B,D,C
1003,Simulacro 11,B,A,B,B,C,C
`

func TestPreviewStoreExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryPreviewStore(func() time.Time { return now })

	store.Put(PreviewSession{Token: "tok", ExpiresAt: now.Add(PreviewTTL)})
	if _, ok := store.Get("tok"); !ok {
		t.Fatal("fresh preview should be redeemable")
	}

	now = now.Add(PreviewTTL + time.Minute)
	if _, ok := store.Get("tok"); ok {
		t.Fatal("expired preview should be gone")
	}
	// Expired entries are dropped on read.
	if _, ok := store.Get("tok"); ok {
		t.Fatal("expired preview must not come back")
	}
}

func TestPreviewStoreSweepRemovesUploads(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryPreviewStore(func() time.Time { return now })
	dir := t.TempDir()

	bpPath := writeFile(t, dir, "key.csv", "A1,1,A,,Lectura\n")
	respPath := writeFile(t, dir, "resp.csv", "StudentID,Stu1\n1001,A\n")
	store.Put(PreviewSession{
		Token:     "stale",
		ExpiresAt: now.Add(PreviewTTL),
		Payload:   PreviewPayload{BlueprintPath: bpPath, ResponsesPath: respPath},
	})

	// An abandoned preview is evicted when the next one arrives, not only
	// when its own token is presented again, and its uploads go with it.
	now = now.Add(PreviewTTL + time.Minute)
	store.Put(PreviewSession{Token: "fresh", ExpiresAt: now.Add(PreviewTTL)})

	if _, ok := store.Get("stale"); ok {
		t.Fatal("swept preview should be gone")
	}
	if _, ok := store.Get("fresh"); !ok {
		t.Fatal("fresh preview should survive the sweep")
	}
	for _, p := range []string{bpPath, respPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("upload %s still on disk after sweep", filepath.Base(p))
		}
	}
}

func TestAnalyzeThenCommit(t *testing.T) {
	dbh := newTestDB(t)
	examID := seedRoster(t, dbh, "1001", "1002")
	svc := newTestService(dbh)
	ctx := context.Background()
	dir := t.TempDir()

	bpPath := writeFile(t, dir, "key.csv", blueprintCSV)
	respPath := writeFile(t, dir, "resp.csv", responsesCSV)

	res, err := svc.Analyze(ctx, examID, 1, bpPath, respPath)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Token == "" {
		t.Fatal("no preview token")
	}
	if res.QuizName != "Simulacro 11" {
		t.Errorf("quiz name = %q", res.QuizName)
	}
	if res.TotalQuestions != 3 {
		t.Errorf("total questions = %d", res.TotalQuestions)
	}
	if res.StudentsDetected != 3 || res.StudentsMatched != 2 || res.StudentsUnmatched != 1 {
		t.Errorf("student counts = %d/%d/%d", res.StudentsDetected, res.StudentsMatched, res.StudentsUnmatched)
	}
	if len(res.UnmatchedStudentIDs) != 1 || res.UnmatchedStudentIDs[0] != "1003" {
		t.Errorf("unmatched ids = %v", res.UnmatchedStudentIDs)
	}
	if res.AreaCounts["lectura"] != 2 || res.AreaCounts["matematicas"] != 1 {
		t.Errorf("area counts = %v", res.AreaCounts)
	}
	if len(res.PendingTags) != 0 {
		t.Errorf("pending tags = %v", res.PendingTags)
	}

	// No exam-table writes before commit.
	var n int
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_questions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("analyze wrote %d questions", n)
	}

	cres, err := svc.Commit(ctx, examID, 1, res.Token, nil, false)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if cres.QuestionsImported != 3 || cres.AnswersImported != 6 {
		t.Errorf("imported %d questions, %d answers", cres.QuestionsImported, cres.AnswersImported)
	}
	if cres.StudentsMatched != 2 || cres.StudentsUnmatched != 1 {
		t.Errorf("commit student counts = %d/%d", cres.StudentsMatched, cres.StudentsUnmatched)
	}

	var correct int
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM student_answers WHERE is_correct = 1`).Scan(&correct); err != nil {
		t.Fatal(err)
	}
	if correct != 4 {
		t.Errorf("correct answers = %d, want 4", correct)
	}

	var top string
	var pct float64
	if err := dbh.QueryRowContext(ctx,
		`SELECT response_1, response_1_pct FROM exam_questions WHERE question_number = 1`).Scan(&top, &pct); err != nil {
		t.Fatal(err)
	}
	if top != "A" || pct != 100 {
		t.Errorf("q1 distribution = %s %.1f", top, pct)
	}

	var totalQ int
	var quiz string
	if err := dbh.QueryRowContext(ctx,
		`SELECT total_questions, zipgrade_quiz_name FROM exam_sessions WHERE exam_id = $1 AND session_number = 1`,
		examID).Scan(&totalQ, &quiz); err != nil {
		t.Fatal(err)
	}
	if totalQ != 3 || quiz != "Simulacro 11" {
		t.Errorf("session meta = %d %q", totalQ, quiz)
	}

	var status string
	var rows int
	if err := dbh.QueryRowContext(ctx,
		`SELECT status, total_rows FROM zipgrade_imports`).Scan(&status, &rows); err != nil {
		t.Fatal(err)
	}
	if status != StatusCompleted || rows != 3 {
		t.Errorf("audit = %s %d", status, rows)
	}

	// Token is single-use.
	if _, err := svc.Commit(ctx, examID, 1, res.Token, nil, false); !errors.Is(err, ErrPreviewExpired) {
		t.Errorf("reused token: %v", err)
	}
	// Uploads are deleted after a successful commit.
	if _, err := os.Stat(bpPath); !os.IsNotExist(err) {
		t.Error("blueprint file should be removed")
	}
}

func TestReimportReplacesSession(t *testing.T) {
	dbh := newTestDB(t)
	examID := seedRoster(t, dbh, "1001", "1002")
	svc := newTestService(dbh)
	ctx := context.Background()
	dir := t.TempDir()

	runOnce := func(bp, resp string) {
		t.Helper()
		bpPath := writeFile(t, dir, "key.csv", bp)
		respPath := writeFile(t, dir, "resp.csv", resp)
		res, err := svc.Analyze(ctx, examID, 1, bpPath, respPath)
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if _, err := svc.Commit(ctx, examID, 1, res.Token, nil, false); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	runOnce(blueprintCSV, responsesCSV)
	// Second import shrinks to two questions; the stale third must disappear.
	runOnce(
		"A1,1,A,,Lectura\nA1,2,B,,Lectura\n",
		"StudentID,Stu1,PriKey1,Stu2,PriKey2\n1001,A,A,B,B\n",
	)

	var qn, an, sess int
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_questions`).Scan(&qn); err != nil {
		t.Fatal(err)
	}
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM student_answers`).Scan(&an); err != nil {
		t.Fatal(err)
	}
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_sessions`).Scan(&sess); err != nil {
		t.Fatal(err)
	}
	if qn != 2 || an != 2 || sess != 1 {
		t.Errorf("after reimport: %d questions, %d answers, %d sessions", qn, an, sess)
	}
	var audits int
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM zipgrade_imports WHERE status = $1`, StatusCompleted).Scan(&audits); err != nil {
		t.Fatal(err)
	}
	if audits != 2 {
		t.Errorf("audit rows = %d, want 2", audits)
	}
}

func TestAnalyzeMissingAreaTags(t *testing.T) {
	dbh := newTestDB(t)
	examID := seedRoster(t, dbh, "1001")
	svc := newTestService(dbh)
	dir := t.TempDir()

	bpPath := writeFile(t, dir, "key.csv", "A1,1,A,,Literal\n")
	respPath := writeFile(t, dir, "resp.csv", "StudentID,Stu1,PriKey1\n1001,A,A\n")

	_, err := svc.Analyze(context.Background(), examID, 1, bpPath, respPath)
	var ie *ImportError
	if !errors.As(err, &ie) || ie.Kind != KindMissingAreaTag {
		t.Fatalf("err = %v, want missing-area kind", err)
	}
	if !strings.Contains(ie.Msg, "1") {
		t.Errorf("message should name question 1: %q", ie.Msg)
	}
}

func TestCommitSessionMismatch(t *testing.T) {
	dbh := newTestDB(t)
	examID := seedRoster(t, dbh, "1001", "1002")
	svc := newTestService(dbh)
	ctx := context.Background()
	dir := t.TempDir()

	bpPath := writeFile(t, dir, "key.csv", blueprintCSV)
	respPath := writeFile(t, dir, "resp.csv", responsesCSV)
	res, err := svc.Analyze(ctx, examID, 1, bpPath, respPath)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	_, err = svc.Commit(ctx, examID, 2, res.Token, nil, false)
	var ie *ImportError
	if !errors.As(err, &ie) || ie.Kind != KindSessionMismatch {
		t.Fatalf("err = %v, want session-mismatch kind", err)
	}
	// Token stays valid for the right session.
	if _, err := svc.Commit(ctx, examID, 1, res.Token, nil, false); err != nil {
		t.Fatalf("commit with matching session: %v", err)
	}
}

func TestCommitUnclassifiedTagNeedsOverride(t *testing.T) {
	dbh := newTestDB(t)
	examID := seedRoster(t, dbh, "1001")
	svc := newTestService(dbh)
	ctx := context.Background()
	dir := t.TempDir()

	// "Misterio" spans two areas, so the blueprint gives no hint and the
	// heuristics cannot place it.
	bpPath := writeFile(t, dir, "key.csv", "A1,1,A,,Lectura,Misterio\nA1,2,B,,Matematicas,Misterio\n")
	respPath := writeFile(t, dir, "resp.csv", "StudentID,Stu1,PriKey1,Stu2,PriKey2\n1001,A,A,B,B\n")

	res, err := svc.Analyze(ctx, examID, 1, bpPath, respPath)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.PendingTags) != 1 || res.PendingTags[0] != "Misterio" {
		t.Fatalf("pending tags = %v", res.PendingTags)
	}

	_, err = svc.Commit(ctx, examID, 1, res.Token, nil, false)
	var ie *ImportError
	if !errors.As(err, &ie) || ie.Kind != KindUnclassifiedTags {
		t.Fatalf("err = %v, want unclassified kind", err)
	}

	overrides := map[string]TagInput{"Misterio": {Area: "matematicas", Type: "componente"}}
	if _, err := svc.Commit(ctx, examID, 1, res.Token, overrides, true); err != nil {
		t.Fatalf("commit with override: %v", err)
	}

	var area, typ string
	if err := dbh.QueryRowContext(ctx,
		`SELECT parent_area, tag_type FROM tag_hierarchy WHERE tag_name = 'Misterio'`).Scan(&area, &typ); err != nil {
		t.Fatal(err)
	}
	if area != "matematicas" || typ != "componente" {
		t.Errorf("hierarchy row = %s/%s", area, typ)
	}
	var saved int
	if err := dbh.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tag_normalizations WHERE tag_csv_name = 'Misterio'`).Scan(&saved); err != nil {
		t.Fatal(err)
	}
	if saved != 1 {
		t.Errorf("normalization rows = %d, want 1", saved)
	}
}

func TestAnswerConflictPolicies(t *testing.T) {
	// The same student scanned twice in one file: the pipeline keeps the last
	// row's correctness, the legacy bulk path keeps the correct one. Either
	// way the duplicates collapse to a single stored row before the insert,
	// since Postgres rejects a statement repeating its conflict key, and the
	// imported-answer count reports stored rows, not file rows.
	bp := "A1,1,A,,Lectura\n"
	resp := "StudentID,Stu1,PriKey1\n1001,A,A\n1001,B,A\n"

	cases := []struct {
		name   string
		policy answerConflictPolicy
		want   int
	}{
		{"last write wins", answerLastWrite, 0},
		{"prefer correct", answerPreferCorrect, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dbh := newTestDB(t)
			examID := seedRoster(t, dbh, "1001")
			svc := newTestService(dbh)
			ctx := context.Background()
			dir := t.TempDir()

			bpPath := writeFile(t, dir, "key.csv", bp)
			respPath := writeFile(t, dir, "resp.csv", resp)
			res, err := svc.runImport(ctx, examID, 1, bpPath, respPath, nil, false, c.policy)
			if err != nil {
				t.Fatalf("runImport: %v", err)
			}
			if res.AnswersImported != 1 {
				t.Errorf("answers imported = %d, want 1", res.AnswersImported)
			}

			var rows int
			if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM student_answers`).Scan(&rows); err != nil {
				t.Fatal(err)
			}
			if rows != 1 {
				t.Fatalf("stored rows = %d, want 1", rows)
			}
			var got int
			var selected string
			if err := dbh.QueryRowContext(ctx, `SELECT is_correct, selected_answer FROM student_answers`).Scan(&got, &selected); err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("is_correct = %d, want %d", got, c.want)
			}
			// The selected letter is the last scan's under both policies.
			if selected != "B" {
				t.Errorf("selected = %q, want B", selected)
			}
		})
	}
}

func TestCommitRollbackPreservesPreviousImport(t *testing.T) {
	dbh := newTestDB(t)
	examID := seedRoster(t, dbh, "1001", "1002")
	svc := newTestService(dbh)
	ctx := context.Background()
	dir := t.TempDir()

	importOnce := func() (*CommitResult, error) {
		bpPath := writeFile(t, dir, "key.csv", blueprintCSV)
		respPath := writeFile(t, dir, "resp.csv", responsesCSV)
		res, err := svc.Analyze(ctx, examID, 1, bpPath, respPath)
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		return svc.Commit(ctx, examID, 1, res.Token, nil, false)
	}

	if _, err := importOnce(); err != nil {
		t.Fatalf("first import: %v", err)
	}
	var qBefore, aBefore int
	var correctBefore string
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_questions`).Scan(&qBefore); err != nil {
		t.Fatal(err)
	}
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM student_answers`).Scan(&aBefore); err != nil {
		t.Fatal(err)
	}
	if err := dbh.QueryRowContext(ctx,
		`SELECT correct_answer FROM exam_questions WHERE question_number = 1`).Scan(&correctBefore); err != nil {
		t.Fatal(err)
	}

	// Make the answers step fail after the clear and question steps have
	// already written inside the transaction.
	if _, err := dbh.ExecContext(ctx, `
		CREATE TRIGGER reject_answer_writes BEFORE INSERT ON student_answers
		BEGIN SELECT RAISE(ABORT, 'simulated write failure'); END`); err != nil {
		t.Fatal(err)
	}

	_, err := importOnce()
	var ie *ImportError
	if !errors.As(err, &ie) || ie.Kind != KindTransactionFailed {
		t.Fatalf("err = %v, want transaction-failed kind", err)
	}

	// The session's previous state survives in full.
	var qAfter, aAfter int
	var correctAfter string
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_questions`).Scan(&qAfter); err != nil {
		t.Fatal(err)
	}
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM student_answers`).Scan(&aAfter); err != nil {
		t.Fatal(err)
	}
	if err := dbh.QueryRowContext(ctx,
		`SELECT correct_answer FROM exam_questions WHERE question_number = 1`).Scan(&correctAfter); err != nil {
		t.Fatal(err)
	}
	if qAfter != qBefore || aAfter != aBefore || correctAfter != correctBefore {
		t.Errorf("state changed by failed import: questions %d->%d answers %d->%d correct %q->%q",
			qBefore, qAfter, aBefore, aAfter, correctBefore, correctAfter)
	}

	// The failure leaves a durable audit trace outside the transaction.
	var status string
	var msg sql.NullString
	if err := dbh.QueryRowContext(ctx,
		`SELECT status, error_message FROM zipgrade_imports WHERE status = $1`, StatusError).Scan(&status, &msg); err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if !msg.Valid || msg.String == "" {
		t.Error("error audit row has no message")
	}

	// Once the fault clears, the same session imports again.
	if _, err := dbh.ExecContext(ctx, `DROP TRIGGER reject_answer_writes`); err != nil {
		t.Fatal(err)
	}
	if _, err := importOnce(); err != nil {
		t.Fatalf("import after recovery: %v", err)
	}
}

func TestFailedFirstImportKeepsSessionRow(t *testing.T) {
	dbh := newTestDB(t)
	examID := seedRoster(t, dbh, "1001", "1002")
	svc := newTestService(dbh)
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := dbh.ExecContext(ctx, `
		CREATE TRIGGER reject_answer_writes BEFORE INSERT ON student_answers
		BEGIN SELECT RAISE(ABORT, 'simulated write failure'); END`); err != nil {
		t.Fatal(err)
	}

	bpPath := writeFile(t, dir, "key.csv", blueprintCSV)
	respPath := writeFile(t, dir, "resp.csv", responsesCSV)
	if _, err := svc.runImport(ctx, examID, 1, bpPath, respPath, nil, false, answerLastWrite); err == nil {
		t.Fatal("expected failure")
	}

	// The session row is created ahead of the transaction because the audit
	// row references it. It stays, empty, for the retry to reuse.
	var sessions, questions int
	if err := dbh.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_sessions WHERE exam_id = $1`, examID).Scan(&sessions); err != nil {
		t.Fatal(err)
	}
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_questions`).Scan(&questions); err != nil {
		t.Fatal(err)
	}
	if sessions != 1 || questions != 0 {
		t.Errorf("after failed first import: %d sessions, %d questions", sessions, questions)
	}
	var audits int
	if err := dbh.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM zipgrade_imports WHERE status = $1`, StatusError).Scan(&audits); err != nil {
		t.Fatal(err)
	}
	if audits != 1 {
		t.Errorf("error audit rows = %d, want 1", audits)
	}
}

func TestBulkUpsertBatchesAndUpdates(t *testing.T) {
	dbh := newTestDB(t)
	ctx := context.Background()

	spec := UpsertSpec{
		Table:           "tag_hierarchy",
		Columns:         []string{"tag_name", "tag_type", "parent_area"},
		ConflictColumns: []string{"tag_name"},
		UpdateColumns:   []string{"tag_type", "parent_area"},
	}

	run := func(rows [][]any) {
		t.Helper()
		tx, err := dbh.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer tx.Rollback()
		if err := BulkUpsert(ctx, tx, spec, rows); err != nil {
			t.Fatalf("BulkUpsert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}

	// More rows than one batch holds.
	rows := make([][]any, 0, 600)
	for i := 0; i < 600; i++ {
		rows = append(rows, []any{fmt.Sprintf("tag-%03d", i), "componente", "lectura"})
	}
	run(rows)

	var n int
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM tag_hierarchy`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 600 {
		t.Fatalf("rows = %d, want 600", n)
	}

	// Conflicting re-insert updates in place instead of duplicating.
	run([][]any{{"tag-000", "competencia", "matematicas"}})
	var typ, area string
	if err := dbh.QueryRowContext(ctx,
		`SELECT tag_type, parent_area FROM tag_hierarchy WHERE tag_name = 'tag-000'`).Scan(&typ, &area); err != nil {
		t.Fatal(err)
	}
	if typ != "competencia" || area != "matematicas" {
		t.Errorf("updated row = %s/%s", typ, area)
	}
	if err := dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM tag_hierarchy`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 600 {
		t.Errorf("rows after upsert = %d, want 600", n)
	}
}
