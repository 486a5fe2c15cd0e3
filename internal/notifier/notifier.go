// Package notifier defines the ordered notification list: a
// best-effort, at-least-once hint that a task is ready to be claimed. It
// is never the source of truth -- internal/store is -- so losing
// entries (a crash, a flushed Redis instance) only costs latency,
// recovered by internal/requeue's periodic sweep.
package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Instruction is the decoded form of a notification: which task, and the
// retry_count the sender observed when it pushed the notification.
type Instruction struct {
	TaskID     int64
	RetryCount int
}

// FormatInstruction renders an Instruction in the wire format used by
// both producers (internal/intake, internal/requeue) and the consumer
// (internal/consume): "<id>:<retry_count>".
func FormatInstruction(i Instruction) string {
	return fmt.Sprintf("%d:%d", i.TaskID, i.RetryCount)
}

// ParseInstruction decodes the wire format produced by FormatInstruction.
func ParseInstruction(s string) (Instruction, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Instruction{}, fmt.Errorf("notifier: malformed instruction %q", s)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Instruction{}, fmt.Errorf("notifier: malformed task id in %q: %w", s, err)
	}
	retryCount, err := strconv.Atoi(parts[1])
	if err != nil {
		return Instruction{}, fmt.Errorf("notifier: malformed retry_count in %q: %w", s, err)
	}
	return Instruction{TaskID: id, RetryCount: retryCount}, nil
}

// Notifier is the ordered list a producer pushes task notifications onto
// and a consumer blocks reading from. Implementations must support
// multiple simultaneous channel names so a single consumer can service
// several queues, to allow routing by application.
type Notifier interface {
	// PushTail appends an instruction to channel. It must only be called
	// after the caller's store transaction has committed.
	PushTail(ctx context.Context, channel string, i Instruction) error

	// BlockPopHead blocks, up to timeout, for an instruction to become
	// available on any of channels, returning the first one found. A
	// zero timeout blocks indefinitely (subject to ctx cancellation). It
	// returns ok=false with a nil error on timeout.
	BlockPopHead(ctx context.Context, channels []string, timeout time.Duration) (i Instruction, channel string, ok bool, err error)

	// Length reports the current size of channel, for /stats-style
	// introspection.
	Length(ctx context.Context, channel string) (int64, error)

	// PopHead removes and returns the head of channel without blocking,
	// returning ok=false if the channel is empty.
	PopHead(ctx context.Context, channel string) (i Instruction, ok bool, err error)
}
