package importer

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Audit statuses for zipgrade_imports rows.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// beginAudit appends the attempt record before the import transaction starts,
// so a rolled-back import still leaves a durable trace of why it failed.
func beginAudit(ctx context.Context, dbh *sql.DB, sessionID int64, filename string, now time.Time) (string, error) {
	id := uuid.NewString()
	_, err := dbh.ExecContext(ctx,
		`INSERT INTO zipgrade_imports (id, exam_session_id, filename, total_rows, status, created_at)
		 VALUES ($1,$2,$3,0,$4,$5)`,
		id, sessionID, filename, StatusProcessing, now.Unix())
	return id, err
}

func finishAudit(ctx context.Context, dbh *sql.DB, auditID string, totalRows int) error {
	_, err := dbh.ExecContext(ctx,
		`UPDATE zipgrade_imports SET status=$1, total_rows=$2, error_message=NULL WHERE id=$3`,
		StatusCompleted, totalRows, auditID)
	return err
}

func failAudit(ctx context.Context, dbh *sql.DB, auditID, msg string) {
	// Best effort; the import error itself is what the caller sees.
	_, _ = dbh.ExecContext(ctx,
		`UPDATE zipgrade_imports SET status=$1, error_message=$2 WHERE id=$3`,
		StatusError, msg, auditID)
}
