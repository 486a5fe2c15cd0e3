// Package postgres implements internal/store.Store against PostgreSQL,
// using database/sql paired with the pgx driver (see connection.go for
// why, rather than pgxpool) and goose for embedded migrations.
package postgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/ntorque/internal/store"
	"github.com/guido-cesarano/ntorque/pkg/due"
	"github.com/guido-cesarano/ntorque/pkg/model"
)

// Store is the PostgreSQL-backed implementation of store.Store.
type Store struct {
	db  *sql.DB
	due *due.Factory
	log zerolog.Logger
}

// New wraps an already-migrated *sql.DB (see Open) with the due/status
// policy used to compute due and status on create and claim.
func New(db *sql.DB, dueFactory *due.Factory, log zerolog.Logger) *Store {
	return &Store{db: db, due: dueFactory, log: log}
}

var _ store.Store = (*Store)(nil)

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("store: generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (s *Store) CreateApplication(ctx context.Context, name string) (*model.Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	app := &model.Application{}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO applications (name)
		VALUES ($1)
		RETURNING id, created, modified, version, is_active, is_deleted
	`, name).Scan(&app.ID, &app.Created, &app.Modified, &app.Version, &app.IsActive, &app.IsDeleted)
	if err != nil {
		return nil, fmt.Errorf("store: create application: %w", err)
	}
	app.Name = name

	keyValue, err := generateAPIKey()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO api_keys (app_id, value)
		VALUES ($1, $2)
	`, app.ID, keyValue); err != nil {
		return nil, fmt.Errorf("store: create api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return app, nil
}

func (s *Store) CreateTask(ctx context.Context, params store.CreateTaskParams) (*model.Task, error) {
	if params.Method == "" {
		params.Method = model.DefaultMethod
	}
	if params.Charset == "" {
		params.Charset = model.DefaultCharset
	}
	if params.Enctype == "" {
		params.Enctype = model.DefaultEnctype
	}

	dueAt := s.due.Due(params.Timeout, 0)
	status := s.due.Status(0)

	headersJSON, err := json.Marshal(params.Headers)
	if err != nil {
		return nil, fmt.Errorf("store: marshal headers: %w", err)
	}

	task := &model.Task{
		AppID:      params.AppID,
		RetryCount: 0,
		Timeout:    params.Timeout,
		Due:        dueAt,
		Status:     status,
		Method:     params.Method,
		URL:        params.URL,
		Charset:    params.Charset,
		Enctype:    params.Enctype,
		Body:       params.Body,
		Headers:    params.Headers,
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks
			(app_id, retry_count, timeout, due, status, method, url, charset, enctype, body, headers)
		VALUES
			($1, 0, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created, modified, version
	`, params.AppID, int(params.Timeout.Seconds()), dueAt, status, params.Method,
		params.URL, params.Charset, params.Enctype, params.Body, headersJSON)

	if err := row.Scan(&task.ID, &task.Created, &task.Modified, &task.Version); err != nil {
		return nil, fmt.Errorf("store: create task: %w", err)
	}
	return task, nil
}

func (s *Store) LookupApplicationByKey(ctx context.Context, token string) (*model.Application, error) {
	app := &model.Application{}
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.name, a.created, a.modified, a.version, a.is_active, a.is_deleted
		FROM applications a
		JOIN api_keys k ON k.app_id = a.id
		WHERE a.is_active = true AND a.is_deleted = false
		  AND k.is_active = true AND k.is_deleted = false
		  AND k.value = $1
		LIMIT 1
	`, token).Scan(&app.ID, &app.Name, &app.Created, &app.Modified, &app.Version, &app.IsActive, &app.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup application by key: %w", err)
	}
	return app, nil
}

func (s *Store) LookupTask(ctx context.Context, id int64) (*model.Task, error) {
	task, err := s.scanTask(s.db.QueryRowContext(ctx, taskColumnsQuery+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return task, err
}

func (s *Store) LookupActiveKeyValues(ctx context.Context, appID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value FROM api_keys
		WHERE app_id = $1 AND is_active = true AND is_deleted = false
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("store: lookup active key values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scan key value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *Store) GetDueTasks(ctx context.Context, limit, offset int) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskColumnsQuery+`
		WHERE status = $1 AND due < now()
		ORDER BY id
		LIMIT $2 OFFSET $3
	`, model.StatusPending, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: get due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := s.scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *Store) DeleteTasksOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE modified < now() - $1::interval
	`, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("store: delete old tasks: %w", err)
	}
	return res.RowsAffected()
}

// Claim transactionally loads the task matching (id, retryCount),
// advances its retry_count, recomputes due/status per pkg/due, and
// returns the post-update snapshot. Only PENDING tasks are claimed, so a
// COMPLETED or FAILED task never has its status recomputed back to
// PENDING. The WHERE clause's retry_count
// predicate is what makes concurrent claims of the same (id, retryCount)
// serialisable: only one UPDATE can match the row.
func (s *Store) Claim(ctx context.Context, id int64, retryCount int) (*model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin claim: %w", err)
	}
	defer tx.Rollback()

	var timeoutSeconds int
	err = tx.QueryRowContext(ctx, `
		SELECT timeout FROM tasks WHERE id = $1 AND retry_count = $2 FOR UPDATE
	`, id, retryCount).Scan(&timeoutSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim select: %w", err)
	}

	newRetryCount := retryCount + 1
	timeout := time.Duration(timeoutSeconds) * time.Second
	newDue := s.due.Due(timeout, newRetryCount)
	newStatus := s.due.Status(newRetryCount)

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET retry_count = $1, due = $2, status = $3,
		    modified = now(), version = version + 1
		WHERE id = $4 AND retry_count = $5 AND status = 'PENDING'
	`, newRetryCount, newDue, newStatus, id, retryCount)
	if err != nil {
		return nil, fmt.Errorf("store: claim update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: claim rows affected: %w", err)
	}
	if n == 0 {
		// The task is no longer PENDING (terminal tasks are not
		// re-claimed), or another claim already advanced retry_count.
		return nil, store.ErrNotFound
	}

	task, err := s.scanTask(tx.QueryRowContext(ctx, taskColumnsQuery+` WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("store: claim reload: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: claim commit: %w", err)
	}
	return task, nil
}

// Reschedule recomputes due as though timeout were 0 and re-derives
// status from the (already advanced, by Claim) retry_count -- which
// naturally keeps a task FAILED rather than re-entering PENDING if the
// retry limit was exhausted at claim time.
func (s *Store) Reschedule(ctx context.Context, id int64, expectedRetryCount int) error {
	newDue := s.due.Due(0, expectedRetryCount)
	newStatus := s.due.Status(expectedRetryCount)
	return s.conditionalUpdate(ctx, id, expectedRetryCount, `
		UPDATE tasks SET due = $1, status = $2, modified = now(), version = version + 1
		WHERE id = $3 AND retry_count = $4
	`, newDue, newStatus)
}

func (s *Store) Complete(ctx context.Context, id int64, expectedRetryCount int) error {
	return s.conditionalUpdate(ctx, id, expectedRetryCount, `
		UPDATE tasks SET status = $1, modified = now(), version = version + 1
		WHERE id = $2 AND retry_count = $3
	`, model.StatusCompleted)
}

func (s *Store) Fail(ctx context.Context, id int64, expectedRetryCount int) error {
	return s.conditionalUpdate(ctx, id, expectedRetryCount, `
		UPDATE tasks SET status = $1, modified = now(), version = version + 1
		WHERE id = $2 AND retry_count = $3
	`, model.StatusFailed)
}

// conditionalUpdate executes query with its leading value args followed
// by (id, expectedRetryCount), returning ErrNotFound if no row matched --
// meaning another worker has already taken over this task.
func (s *Store) conditionalUpdate(ctx context.Context, id int64, expectedRetryCount int, query string, leadingArgs ...interface{}) error {
	args := append(append([]interface{}{}, leadingArgs...), id, expectedRetryCount)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: conditional update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: conditional update rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const taskColumnsQuery = `
	SELECT id, app_id, retry_count, timeout, due, status, method, url, charset, enctype, body, headers, created, modified, version
	FROM tasks
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanTask(row rowScanner) (*model.Task, error) {
	return scanTaskRow(row)
}

func (s *Store) scanTaskRows(rows *sql.Rows) (*model.Task, error) {
	return scanTaskRow(rows)
}

func scanTaskRow(row rowScanner) (*model.Task, error) {
	var (
		task         model.Task
		appID        sql.NullInt64
		timeoutSecs  int
		headersBytes []byte
	)
	if err := row.Scan(
		&task.ID, &appID, &task.RetryCount, &timeoutSecs, &task.Due, &task.Status,
		&task.Method, &task.URL, &task.Charset, &task.Enctype, &task.Body, &headersBytes,
		&task.Created, &task.Modified, &task.Version,
	); err != nil {
		return nil, err
	}
	if appID.Valid {
		id := appID.Int64
		task.AppID = &id
	}
	task.Timeout = time.Duration(timeoutSecs) * time.Second
	if len(headersBytes) > 0 {
		if err := json.Unmarshal(headersBytes, &task.Headers); err != nil {
			return nil, fmt.Errorf("store: unmarshal headers: %w", err)
		}
	}
	return &task, nil
}
