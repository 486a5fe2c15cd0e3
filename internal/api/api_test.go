package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/ntorque/internal/api/auth"
	"github.com/guido-cesarano/ntorque/internal/intake"
	"github.com/guido-cesarano/ntorque/internal/notifier"
	"github.com/guido-cesarano/ntorque/internal/store"
	"github.com/guido-cesarano/ntorque/pkg/model"
)

type fakeStore struct {
	store.Store
	tasks  map[int64]*model.Task
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[int64]*model.Task{}}
}

func (f *fakeStore) CreateTask(ctx context.Context, params store.CreateTaskParams) (*model.Task, error) {
	f.nextID++
	task := &model.Task{
		ID:      f.nextID,
		AppID:   params.AppID,
		URL:     params.URL,
		Timeout: params.Timeout,
		Method:  params.Method,
		Body:    params.Body,
		Charset: params.Charset,
		Enctype: params.Enctype,
		Headers: params.Headers,
		Status:  model.StatusPending,
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeStore) LookupTask(ctx context.Context, id int64) (*model.Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return task, nil
}

func (f *fakeStore) LookupApplicationByKey(ctx context.Context, token string) (*model.Application, error) {
	return nil, store.ErrNotFound
}

type fakeNotifier struct {
	notifier.Notifier
	pushed []notifier.Instruction
}

func (f *fakeNotifier) PushTail(ctx context.Context, channel string, i notifier.Instruction) error {
	f.pushed = append(f.pushed, i)
	return nil
}

func newTestAPI(authEnabled bool) (*API, *fakeStore) {
	s := newFakeStore()
	n := &fakeNotifier{}
	in := intake.New(s, n, "ntorque", intake.Config{HeaderPrefix: "NTORQUE-PASSTHROUGH-"})
	a := auth.New(s, authEnabled)
	return New(in, s, a, zerolog.Nop()), s
}

func TestInstalled(t *testing.T) {
	a, _ := newTestAPI(false)
	router := NewRouter(a, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestEnqueueAnonymousWhenAuthDisabled(t *testing.T) {
	a, s := newTestAPI(false)
	router := NewRouter(a, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/?url=http://example.com/hook", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(s.tasks) != 1 {
		t.Fatalf("expected one task created, got %d", len(s.tasks))
	}
	if loc := w.Header().Get("Location"); loc != "/tasks/1" {
		t.Fatalf("expected Location /tasks/1, got %q", loc)
	}
}

func TestEnqueueRejectsMissingAuth(t *testing.T) {
	a, _ := newTestAPI(true)
	router := NewRouter(a, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/?url=http://example.com/hook", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestEnqueueRejectsInvalidURL(t *testing.T) {
	a, _ := newTestAPI(false)
	router := NewRouter(a, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/?url=not-a-url", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTaskStatusNotFound(t *testing.T) {
	a, _ := newTestAPI(false)
	router := NewRouter(a, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/tasks/999", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTaskStatusAnonymousAccessDeniedWhenAuthEnabled(t *testing.T) {
	a, s := newTestAPI(true)
	s.tasks[1] = &model.Task{ID: 1, Status: model.StatusPending}

	router := NewRouter(a, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/tasks/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestTaskStatusAnonymousAccessAllowedWhenAuthDisabled(t *testing.T) {
	a, s := newTestAPI(false)
	s.tasks[1] = &model.Task{ID: 1, Status: model.StatusCompleted}

	router := NewRouter(a, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/tasks/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"COMPLETED"`) {
		t.Fatalf("expected status COMPLETED in body, got %s", w.Body.String())
	}
}

func TestPushTaskNotifiesAgain(t *testing.T) {
	a, s := newTestAPI(false)
	s.tasks[1] = &model.Task{ID: 1, RetryCount: 2, Status: model.StatusPending}

	router := NewRouter(a, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/tasks/1/push", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
}
