package requeue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/ntorque/internal/notifier"
	"github.com/guido-cesarano/ntorque/internal/store"
	"github.com/guido-cesarano/ntorque/pkg/model"
)

type fakeStore struct {
	store.Store
	tasks []*model.Task
}

func (f *fakeStore) GetDueTasks(ctx context.Context, limit, offset int) ([]*model.Task, error) {
	return f.tasks, nil
}

type fakeNotifier struct {
	notifier.Notifier
	mu     sync.Mutex
	pushed []notifier.Instruction
}

func (f *fakeNotifier) PushTail(ctx context.Context, channel string, i notifier.Instruction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, i)
	return nil
}

func TestPollPushesEveryDueTask(t *testing.T) {
	s := &fakeStore{tasks: []*model.Task{
		{ID: 1, RetryCount: 0},
		{ID: 2, RetryCount: 3},
	}}
	n := &fakeNotifier{}
	r := New(s, n, Config{Channel: "ntorque", Limit: 99}, zerolog.Nop())

	if err := r.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(n.pushed) != 2 {
		t.Fatalf("expected 2 pushes, got %d", len(n.pushed))
	}
	if n.pushed[0].TaskID != 1 || n.pushed[1].TaskID != 2 {
		t.Fatalf("unexpected push order: %+v", n.pushed)
	}
	if n.pushed[1].RetryCount != 3 {
		t.Fatalf("expected retry_count 3 preserved, got %d", n.pushed[1].RetryCount)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := &fakeStore{}
	n := &fakeNotifier{}
	r := New(s, n, Config{Channel: "ntorque", Limit: 99, Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after cancellation")
	}
}
