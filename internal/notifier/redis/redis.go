// Package redis implements internal/notifier.Notifier on top of Redis
// lists: one *redis.Client, context-scoped calls, and blocking pops
// bounded by a timeout.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guido-cesarano/ntorque/internal/notifier"
)

// Notifier adapts a redis.Client to notifier.Notifier.
type Notifier struct {
	rdb *redis.Client
}

// New dials addr (host:port) with default options. The caller owns
// the lifetime of the returned client's underlying connection and
// should call Close when done.
func New(addr string) *Notifier {
	return &Notifier{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewFromClient adapts an already-configured redis.Client, used by the
// cmd/* binaries, which build their own client from config.
func NewFromClient(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

var _ notifier.Notifier = (*Notifier)(nil)

// Close releases the underlying connection.
func (n *Notifier) Close() error {
	return n.rdb.Close()
}

func (n *Notifier) PushTail(ctx context.Context, channel string, i notifier.Instruction) error {
	if err := n.rdb.RPush(ctx, channel, notifier.FormatInstruction(i)).Err(); err != nil {
		return fmt.Errorf("notifier: push tail: %w", err)
	}
	return nil
}

// BlockPopHead uses BLPOP across channels, which returns the first
// element found on the first channel that has one. All channels are
// equal priority here.
func (n *Notifier) BlockPopHead(ctx context.Context, channels []string, timeout time.Duration) (notifier.Instruction, string, bool, error) {
	res, err := n.rdb.BLPop(ctx, timeout, channels...).Result()
	if errors.Is(err, redis.Nil) {
		return notifier.Instruction{}, "", false, nil
	}
	if err != nil {
		return notifier.Instruction{}, "", false, fmt.Errorf("notifier: block pop head: %w", err)
	}
	// res is [channel, value].
	channel, raw := res[0], res[1]
	instr, err := notifier.ParseInstruction(raw)
	if err != nil {
		return notifier.Instruction{}, "", false, err
	}
	return instr, channel, true, nil
}

func (n *Notifier) Length(ctx context.Context, channel string) (int64, error) {
	length, err := n.rdb.LLen(ctx, channel).Result()
	if err != nil {
		return 0, fmt.Errorf("notifier: length: %w", err)
	}
	return length, nil
}

func (n *Notifier) PopHead(ctx context.Context, channel string) (notifier.Instruction, bool, error) {
	raw, err := n.rdb.LPop(ctx, channel).Result()
	if errors.Is(err, redis.Nil) {
		return notifier.Instruction{}, false, nil
	}
	if err != nil {
		return notifier.Instruction{}, false, fmt.Errorf("notifier: pop head: %w", err)
	}
	instr, err := notifier.ParseInstruction(raw)
	if err != nil {
		return notifier.Instruction{}, false, err
	}
	return instr, true, nil
}
