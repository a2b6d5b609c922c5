package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/eventbroker/internal/model"
)

const (
	applicationColumns  = `id, organisation_id, name, slug, git_repo, settings, created_at, updated_at`
	organisationColumns = `id, name, slug, git_folder, created_at, updated_at`
	sessionColumns      = `id, application_id, app_user_id, environment, created_at`
	appUserColumns      = `id, application_id, environment, document, created_at, updated_at`
	bucketColumns       = `id, application_id, environment, meta, created_at`
	executionLogColumns = `id, application_id, environment, event_id, correlation_id, type, module_name, message, created_at`
)

// defaultLogPageSize bounds ListExecutionLogs when the caller passes no limit.
const defaultLogPageSize = 500

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryFindApplication(ctx context.Context, db executor, id string) (*model.Application, error) {
	row := db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find application %s: %w", id, err)
	}
	return app, nil
}

func queryFindOrganisation(ctx context.Context, db executor, id string) (*model.Organisation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+organisationColumns+` FROM organisations WHERE id = $1`, id)
	org, err := scanOrganisation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find organisation %s: %w", id, err)
	}
	return org, nil
}

func queryFindSession(ctx context.Context, db executor, id string) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	return sess, nil
}

func queryFindAppUser(ctx context.Context, db executor, id string) (*model.AppUser, error) {
	row := db.QueryRowContext(ctx, `SELECT `+appUserColumns+` FROM app_users WHERE id = $1`, id)
	user, err := scanAppUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find app user %s: %w", id, err)
	}
	return user, nil
}

func queryFindBucket(ctx context.Context, db executor, id string) (*model.Bucket, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE id = $1`, id)
	bucket, err := scanBucket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find bucket %s: %w", id, err)
	}
	return bucket, nil
}

func queryAppendExecutionLog(ctx context.Context, db executor, e *model.ExecutionLog) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO execution_logs (application_id, environment, event_id, correlation_id, type, module_name, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		e.ApplicationID, e.Environment, e.EventID, e.CorrelationID, string(e.Type), e.ModuleName, e.Message,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append execution log: %w", err)
	}
	return nil
}

func queryListExecutionLogs(ctx context.Context, db executor, afterID int64, limit int) ([]*model.ExecutionLog, error) {
	if limit <= 0 {
		limit = defaultLogPageSize
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+executionLogColumns+`
		FROM execution_logs WHERE id > $1
		ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer rows.Close()

	var out []*model.ExecutionLog
	for rows.Next() {
		e, err := scanExecutionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func queryLoadArchiveCursor(ctx context.Context, db executor, name string) (int64, error) {
	var cursor int64
	err := db.QueryRowContext(ctx, `SELECT last_id FROM archive_cursors WHERE name = $1`, name).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load archive cursor: %w", err)
	}
	return cursor, nil
}

func querySaveArchiveCursor(ctx context.Context, db executor, name string, cursor int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO archive_cursors (name, last_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET last_id = EXCLUDED.last_id, updated_at = now()`,
		name, cursor)
	if err != nil {
		return fmt.Errorf("save archive cursor: %w", err)
	}
	return nil
}
