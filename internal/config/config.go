// Package config loads environment-driven settings into explicit,
// per-component configuration records. Every long-running command
// (cmd/server, cmd/worker, cmd/requeuer, cmd/janitor) loads one of these
// at boot and injects it into its components; no component reads
// os.Getenv directly.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/guido-cesarano/ntorque/pkg/due"
)

// envInt reads an environment variable as an int, or returns def.
func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

// envDurationSeconds reads an environment variable as a count of seconds, or
// returns def.
func envDurationSeconds(key string, def time.Duration) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return time.Duration(v) * time.Second
	}
	return def
}

// envBool reads an environment variable as a bool, or returns def.
func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// envIntSet parses a comma-separated list of integers, or returns def.
func envIntSet(key string, def []int) []int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Store configures the database connection. DSN is read from
// DATABASE_URL.
type Store struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func LoadStore() Store {
	return Store{
		DSN:             os.Getenv("DATABASE_URL"),
		MaxOpenConns:    envInt("NTORQUE_DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    envInt("NTORQUE_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envDurationSeconds("NTORQUE_DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Notifier configures the Redis-backed notification list.
type Notifier struct {
	Addr    string
	Channel string
}

func LoadNotifier() Notifier {
	channel := strings.TrimSpace(os.Getenv("NTORQUE_REDIS_CHANNEL"))
	if channel == "" {
		channel = "ntorque"
	}
	addr := os.Getenv("NTORQUE_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	return Notifier{Addr: addr, Channel: channel}
}

// Intake configures request validation and task creation.
type Intake struct {
	DefaultTimeout time.Duration
	HeaderPrefix   string
	Authenticate   bool
	Channel        string
}

func LoadIntake(notifier Notifier) Intake {
	return Intake{
		DefaultTimeout: envDurationSeconds("NTORQUE_DEFAULT_TIMEOUT", 20*time.Second),
		HeaderPrefix:   "NTORQUE-PASSTHROUGH-",
		Authenticate:   envBool("NTORQUE_AUTHENTICATE", true),
		Channel:        notifier.Channel,
	}
}

// Consume configures the notification consumer loop.
type Consume struct {
	Channels     []string
	ConsumeDelay time.Duration
	ConsumeTimeout time.Duration
}

func LoadConsume(notifier Notifier) Consume {
	return Consume{
		Channels:       strings.Fields(notifier.Channel),
		ConsumeDelay:   durationFromMillis("NTORQUE_CONSUME_DELAY", time.Millisecond),
		ConsumeTimeout: envDurationSeconds("NTORQUE_CONSUME_TIMEOUT", 10*time.Second),
	}
}

func durationFromMillis(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}

// Perform configures the outbound request performer.
type Perform struct {
	TransientCodes map[int]bool
	MaxRetries     int
}

func LoadPerform(dueCfg due.Config) Perform {
	codes := envIntSet("NTORQUE_TRANSIENT_REQUEST_ERRORS", []int{408, 423, 429, 449})
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return Perform{
		TransientCodes: set,
		MaxRetries:     dueCfg.MaxRetries,
	}
}

// Requeue configures the periodic overdue-task scan.
type Requeue struct {
	Interval  time.Duration
	Limit     int
	PushDelay time.Duration
	Channel   string
}

func LoadRequeue(notifier Notifier) Requeue {
	return Requeue{
		Interval:  envDurationSeconds("NTORQUE_REQUEUE_INTERVAL", 5*time.Second),
		Limit:     envInt("NTORQUE_REQUEUE_LIMIT", 99),
		PushDelay: durationFromMillis("NTORQUE_REQUEUE_DELAY", time.Millisecond),
		Channel:   notifier.Channel,
	}
}

// Janitor configures the periodic deletion of tasks not modified within
// the retention window (whatever their status), run as a supplemental
// console script alongside the core actors.
type Janitor struct {
	After time.Duration
	Spec  string
}

func LoadJanitor() Janitor {
	days := envInt("NTORQUE_CLEANUP_AFTER_DAYS", 7)
	spec := os.Getenv("NTORQUE_CLEANUP_CRON")
	if spec == "" {
		spec = "@every 2h"
	}
	return Janitor{After: time.Duration(days) * 24 * time.Hour, Spec: spec}
}
