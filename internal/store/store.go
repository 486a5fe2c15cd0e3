// Package store defines the persistence contract for Applications,
// ApiKeys and Tasks. The store is the source of truth for the whole
// system: the in-memory notification list is purely an optimisation for
// prompt delivery, never the record of what work exists.
//
// internal/store/postgres provides the production implementation;
// callers (internal/intake, internal/perform, internal/requeue,
// internal/api) depend only on the Store interface so they can be tested
// against fakes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/guido-cesarano/ntorque/pkg/model"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// CreateTaskParams collects the fields needed to create a task, as
// extracted and validated by internal/intake.
type CreateTaskParams struct {
	AppID   *int64
	URL     string
	Timeout time.Duration
	Method  model.Method
	Body    string
	Charset string
	Enctype string
	Headers map[string]string
}

// Store is implemented by internal/store/postgres. Every method is
// individually transactional; Claim and the conditional updates in
// particular must be serialisable with respect to concurrent callers on
// the same row.
type Store interface {
	// CreateApplication creates a named application and an initial active
	// ApiKey for it.
	CreateApplication(ctx context.Context, name string) (*model.Application, error)

	// CreateTask persists a new task with retry_count=0, status=PENDING and
	// due computed per pkg/due. It returns only after the row is durably
	// committed -- callers (internal/intake) must not notify before this
	// returns successfully.
	CreateTask(ctx context.Context, params CreateTaskParams) (*model.Task, error)

	// LookupApplicationByKey returns the active application that owns an
	// active key equal to token, or ErrNotFound.
	LookupApplicationByKey(ctx context.Context, token string) (*model.Application, error)

	// LookupTask returns the task with the given id, or ErrNotFound.
	LookupTask(ctx context.Context, id int64) (*model.Task, error)

	// LookupActiveKeyValues returns every active key value belonging to
	// appID, used to compute a task's access control list.
	LookupActiveKeyValues(ctx context.Context, appID int64) ([]string, error)

	// GetDueTasks returns up to limit PENDING tasks whose due has passed,
	// in any stable order, starting at offset.
	GetDueTasks(ctx context.Context, limit, offset int) ([]*model.Task, error)

	// DeleteTasksOlderThan bulk-deletes tasks last modified more than
	// olderThan ago, returning the count deleted. Used by the (out of
	// core scope) janitor console script.
	DeleteTasksOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)

	// Claim transactionally loads the task matching (id, retryCount) and,
	// if found, advances its retry_count and recomputes its due/status,
	// returning a read-only snapshot of the task after the update. Returns
	// ErrNotFound (no error) if no such row exists -- the idempotency
	// point of the whole system: a duplicate notification for an
	// already-advanced retry_count finds nothing to claim.
	Claim(ctx context.Context, id int64, retryCount int) (*model.Task, error)

	// Reschedule re-dues a task (accelerated due as though timeout were
	// 0, status re-derived from retry_count: PENDING, or FAILED once the
	// retry limit is exceeded), conditional on retry_count still equalling
	// expectedRetryCount. Returns ErrNotFound if the row has already moved
	// on -- another worker claimed it first.
	Reschedule(ctx context.Context, id int64, expectedRetryCount int) error

	// Complete marks a task COMPLETED, conditional on retry_count still
	// equalling expectedRetryCount.
	Complete(ctx context.Context, id int64, expectedRetryCount int) error

	// Fail marks a task FAILED, conditional on retry_count still equalling
	// expectedRetryCount.
	Fail(ctx context.Context, id int64, expectedRetryCount int) error
}
