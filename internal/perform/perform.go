// Package perform implements the Performer: it claims a task, issues
// the outbound HTTP request the task describes, and classifies the
// response into a terminal or retry decision recorded back through
// internal/store. The outbound call races against ctx.Done() with
// select, so cancellation is immediate without any polling loop.
package perform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/ntorque/internal/notifier"
	"github.com/guido-cesarano/ntorque/internal/store"
	"github.com/guido-cesarano/ntorque/pkg/model"
)

// Config tunes response classification.
type Config struct {
	// TransientCodes are status codes, besides >499, that count as a
	// transient failure warranting a reschedule rather than a fail.
	TransientCodes map[int]bool
	// MaxRetries is surfaced to the remote endpoint via the
	// ntorque-task-retry-limit header.
	MaxRetries int
}

// Doer is the subset of *http.Client Performer needs; tests substitute a
// fake.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Performer claims and executes tasks.
type Performer struct {
	store store.Store
	doer  Doer
	cfg   Config
	log   zerolog.Logger
}

// New builds a Performer backed by s, issuing outbound requests with doer.
func New(s store.Store, doer Doer, cfg Config, log zerolog.Logger) *Performer {
	return &Performer{store: s, doer: doer, cfg: cfg, log: log}
}

type requestResult struct {
	resp *http.Response
	err  error
}

// Perform claims the task named by instr and, if the claim succeeds,
// performs its outbound request and records the outcome. A claim miss
// (store.ErrNotFound) is the expected idempotency outcome for a
// duplicate or stale notification and is not an error.
func (p *Performer) Perform(ctx context.Context, instr notifier.Instruction) error {
	task, err := p.store.Claim(ctx, instr.TaskID, instr.RetryCount)
	if errors.Is(err, store.ErrNotFound) {
		p.log.Debug().Int64("task_id", instr.TaskID).Int("retry_count", instr.RetryCount).
			Msg("perform: claim missed, already advanced")
		return nil
	}
	if err != nil {
		return fmt.Errorf("perform: claim: %w", err)
	}

	code := p.execute(ctx, task, instr.RetryCount)
	return p.recordOutcome(ctx, task, code)
}

// execute issues the outbound HTTP request described by task and returns
// the status code to classify, or 500 if the call never produced a
// response (network error, timeout, or ctx cancellation). claimedRetryCount
// is the retry_count the notification carried before Claim advanced it,
// and is what the remote endpoint is told via
// ntorque-task-retry-count.
func (p *Performer) execute(ctx context.Context, task *model.Task, claimedRetryCount int) int {
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	req, err := p.buildRequest(ctx, task, claimedRetryCount)
	if err != nil {
		p.log.Warn().Err(err).Int64("task_id", task.ID).Msg("perform: build request")
		return 500
	}

	resultCh := make(chan requestResult, 1)
	go func() {
		resp, err := p.doer.Do(req)
		resultCh <- requestResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return 500
	case res := <-resultCh:
		if res.err != nil {
			p.log.Warn().Err(res.err).Str("url", task.URL).Msg("perform: request failed")
			return 500
		}
		defer res.resp.Body.Close()
		io.Copy(io.Discard, res.resp.Body)
		return res.resp.StatusCode
	}
}

func (p *Performer) buildRequest(ctx context.Context, task *model.Task, claimedRetryCount int) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, string(task.Method), task.URL, bytes.NewBufferString(task.Body))
	if err != nil {
		return nil, fmt.Errorf("perform: new request: %w", err)
	}

	for name, value := range task.Headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", task.ContentType())
	req.Header.Set("ntorque-task-id", strconv.FormatInt(task.ID, 10))
	req.Header.Set("ntorque-task-retry-count", strconv.Itoa(claimedRetryCount))
	req.Header.Set("ntorque-task-retry-limit", strconv.Itoa(p.cfg.MaxRetries))
	return req, nil
}

// recordOutcome classifies code and writes the corresponding terminal or
// retry state, conditional on task.RetryCount (the value Claim just
// advanced to) still matching -- if another worker has since claimed the
// task again, the store call is a no-op.
func (p *Performer) recordOutcome(ctx context.Context, task *model.Task, code int) error {
	var (
		action string
		err    error
	)
	switch {
	case code < 202:
		action = "complete"
		err = p.store.Complete(ctx, task.ID, task.RetryCount)
	case code > 499 || p.cfg.TransientCodes[code]:
		action = "reschedule"
		err = p.store.Reschedule(ctx, task.ID, task.RetryCount)
	default:
		action = "fail"
		err = p.store.Fail(ctx, task.ID, task.RetryCount)
	}

	if errors.Is(err, store.ErrNotFound) {
		p.log.Debug().Int64("task_id", task.ID).Str("action", action).
			Msg("perform: lost race to another worker")
		return nil
	}
	if err != nil {
		return fmt.Errorf("perform: %s: %w", action, err)
	}

	p.log.Info().
		Int64("task_id", task.ID).
		Str("url", task.URL).
		Int("code", code).
		Str("action", action).
		Msg("perform: task delivered")
	return nil
}
