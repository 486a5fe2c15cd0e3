// Package integration_tests exercises the full enqueue -> notify ->
// consume -> deliver -> status flow across package boundaries, end to
// end, against an in-process miniredis notifier and an in-memory store
// fake, so the suite runs without a live Postgres or Redis.
package integration_tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/guido-cesarano/ntorque/internal/api"
	"github.com/guido-cesarano/ntorque/internal/api/auth"
	"github.com/guido-cesarano/ntorque/internal/consume"
	"github.com/guido-cesarano/ntorque/internal/intake"
	redisnotifier "github.com/guido-cesarano/ntorque/internal/notifier/redis"
	"github.com/guido-cesarano/ntorque/internal/perform"
	"github.com/guido-cesarano/ntorque/internal/store"
	"github.com/guido-cesarano/ntorque/pkg/due"
	"github.com/guido-cesarano/ntorque/pkg/model"
)

// memStore is a minimal in-memory store.Store good enough to drive the
// whole pipeline under test; it is not a substitute for
// internal/store/postgres's own sqlmock-backed tests.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	tasks   map[int64]*model.Task
	dueCalc *due.Factory
}

func newMemStore(dueCalc *due.Factory) *memStore {
	return &memStore{tasks: map[int64]*model.Task{}, dueCalc: dueCalc}
}

func (s *memStore) CreateApplication(ctx context.Context, name string) (*model.Application, error) {
	return nil, store.ErrNotFound
}

func (s *memStore) CreateTask(ctx context.Context, params store.CreateTaskParams) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	task := &model.Task{
		ID:      s.nextID,
		AppID:   params.AppID,
		URL:     params.URL,
		Timeout: params.Timeout,
		Method:  params.Method,
		Body:    params.Body,
		Charset: params.Charset,
		Enctype: params.Enctype,
		Headers: params.Headers,
		Status:  model.StatusPending,
		Due:     s.dueCalc.Due(params.Timeout, 0),
	}
	s.tasks[task.ID] = task
	return task, nil
}

func (s *memStore) LookupApplicationByKey(ctx context.Context, token string) (*model.Application, error) {
	return nil, store.ErrNotFound
}

func (s *memStore) LookupTask(ctx context.Context, id int64) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *task
	return &clone, nil
}

func (s *memStore) LookupActiveKeyValues(ctx context.Context, appID int64) ([]string, error) {
	return nil, nil
}

func (s *memStore) GetDueTasks(ctx context.Context, limit, offset int) ([]*model.Task, error) {
	return nil, nil
}

func (s *memStore) DeleteTasksOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (s *memStore) Claim(ctx context.Context, id int64, retryCount int) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.RetryCount != retryCount {
		return nil, store.ErrNotFound
	}
	task.RetryCount++
	task.Due = s.dueCalc.Due(task.Timeout, task.RetryCount)
	task.Status = s.dueCalc.Status(task.RetryCount)
	clone := *task
	return &clone, nil
}

func (s *memStore) Reschedule(ctx context.Context, id int64, expectedRetryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.RetryCount != expectedRetryCount {
		return store.ErrNotFound
	}
	task.Due = s.dueCalc.Due(0, expectedRetryCount)
	task.Status = s.dueCalc.Status(expectedRetryCount)
	return nil
}

func (s *memStore) Complete(ctx context.Context, id int64, expectedRetryCount int) error {
	return s.setTerminal(id, expectedRetryCount, model.StatusCompleted)
}

func (s *memStore) Fail(ctx context.Context, id int64, expectedRetryCount int) error {
	return s.setTerminal(id, expectedRetryCount, model.StatusFailed)
}

func (s *memStore) setTerminal(id int64, expectedRetryCount int, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.RetryCount != expectedRetryCount {
		return store.ErrNotFound
	}
	task.Status = status
	return nil
}

var _ store.Store = (*memStore)(nil)

// TestEnqueueConsumeDeliverFlow drives a task from an HTTP enqueue
// request through notification, consumption and delivery, polling the
// status endpoint and asserting the delivery target receives the
// outbound request.
func TestEnqueueConsumeDeliverFlow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	ntf := redisnotifier.New(mr.Addr())
	dueFactory := due.NewFactory(due.DefaultConfig())
	st := newMemStore(dueFactory)

	const channel = "ntorque"
	in := intake.New(st, ntf, channel, intake.Config{HeaderPrefix: "NTORQUE-PASSTHROUGH-"})
	authenticator := auth.New(st, false)
	a := api.New(in, st, authenticator, zerolog.Nop())
	ingress := httptest.NewServer(api.NewRouter(a, zerolog.Nop()))
	defer ingress.Close()

	var delivered atomic.Int64
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	performer := perform.New(st, http.DefaultClient, perform.Config{MaxRetries: dueFactory.Config.MaxRetries}, zerolog.Nop())
	consumer := consume.New(ntf, performer, consume.Config{
		Channels:       []string{channel},
		ConsumeTimeout: 200 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Run(ctx)

	resp, err := http.Post(ingress.URL+"/?url="+target.URL, "", nil)
	if err != nil {
		t.Fatalf("enqueue request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		t.Fatal("expected a Location header")
	}

	deadline := time.Now().Add(5 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		statusResp, err := http.Get(ingress.URL + location)
		if err != nil {
			t.Fatalf("status request: %v", err)
		}
		body := make([]byte, 1024)
		n, _ := statusResp.Body.Read(body)
		statusResp.Body.Close()
		status = string(body[:n])
		if delivered.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if delivered.Load() == 0 {
		t.Fatalf("expected the delivery target to receive a request; last status body: %s", status)
	}
}
