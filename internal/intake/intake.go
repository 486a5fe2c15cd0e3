// Package intake validates inbound enqueue requests, persists them as
// tasks and pushes the resulting notification. It never talks to net/http directly: callers
// (internal/api) unpack the request into a Request value first, which
// keeps this package testable without an httptest server.
package intake

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/guido-cesarano/ntorque/internal/notifier"
	"github.com/guido-cesarano/ntorque/internal/store"
	"github.com/guido-cesarano/ntorque/pkg/model"
)

// urlPattern is a pragmatic "is this plausibly a URL" matcher, grounded
// on the colander.url regex the original validated against: it demands a
// scheme-or-www-or-domain prefix, forbids whitespace and angle brackets.
var urlPattern = regexp.MustCompile(`(?i)\b((?:[a-zA-Z][\w-]+:(?:/{1,3}|[a-zA-Z0-9%])|www\d{0,3}[.]|[a-zA-Z0-9.\-]+[.][a-zA-Z]{2,4}/)(?:[^\s()<>]+|\([^\s()<>]*\))+(?:\([^\s()<>]*\)|[^\s` + "`" + `!()\[\]{};:'".,<>?]))`)

// ValidationError is returned for any client-correctable problem with a
// Request -- internal/api translates it to a 400 response.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Request is everything Intake needs from an inbound enqueue call,
// already unpacked from net/http by the caller.
type Request struct {
	// AppID is nil for anonymous (unauthenticated) enqueues.
	AppID *int64

	URL            string
	RawTimeout     string // empty means "use DefaultTimeout"
	RawMethod      string // empty means "use the default method"
	ContentType    string // full header value, e.g. "application/json; charset=utf-8"
	Charset        string // decoded request charset, if known independent of ContentType
	Body           string
	RequestHeaders map[string][]string // as from net/http.Header
}

// Config controls defaults and the passthrough header prefix.
type Config struct {
	DefaultTimeout time.Duration
	HeaderPrefix   string
}

// Intake validates requests, creates tasks and notifies the consumer
// that a new task is ready.
type Intake struct {
	store    store.Store
	notifier notifier.Notifier
	channel  string
	cfg      Config
}

// New builds an Intake that persists tasks to s and notifies on
// channel via n.
func New(s store.Store, n notifier.Notifier, channel string, cfg Config) *Intake {
	return &Intake{store: s, notifier: n, channel: channel, cfg: cfg}
}

// Enqueue validates req, persists a new task and pushes its
// notification, returning the created task. The notification is only
// pushed after CreateTask's transaction has committed -- a crash between
// those two steps is recovered by internal/requeue's periodic sweep,
// never by re-running this call.
func (in *Intake) Enqueue(ctx context.Context, req Request) (*model.Task, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" || !urlPattern.MatchString(url) {
		return nil, &ValidationError{Message: "you must provide a valid web hook URL"}
	}

	timeout := in.cfg.DefaultTimeout
	if req.RawTimeout != "" {
		seconds, err := strconv.Atoi(req.RawTimeout)
		if err != nil {
			return nil, &ValidationError{Message: "you must provide a valid integer timeout"}
		}
		timeout = time.Duration(seconds) * time.Second
	}

	method := model.DefaultMethod
	if req.RawMethod != "" {
		method = model.Method(strings.ToUpper(req.RawMethod))
		if !model.IsValidMethod(method) {
			return nil, &ValidationError{Message: fmt.Sprintf(
				"request method must be one of: %s", joinMethods(model.ValidMethods))}
		}
	}

	enctype := model.DefaultEnctype
	charset := req.Charset
	if req.ContentType != "" {
		enctype = strings.TrimSpace(strings.SplitN(req.ContentType, ";", 2)[0])
		if charset == "" {
			charset = extractCharset(req.ContentType)
		}
	}
	if charset == "" {
		charset = model.DefaultCharset
	}

	headers := extractPassthroughHeaders(req.RequestHeaders, in.cfg.HeaderPrefix)

	task, err := in.store.CreateTask(ctx, store.CreateTaskParams{
		AppID:   req.AppID,
		URL:     url,
		Timeout: timeout,
		Method:  method,
		Body:    req.Body,
		Charset: charset,
		Enctype: enctype,
		Headers: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("intake: create task: %w", err)
	}

	if err := in.Notify(ctx, task); err != nil {
		return task, err
	}
	return task, nil
}

// Notify pushes task's current (id, retry_count) onto the notification
// channel, used both right after Enqueue and by the POST /tasks/:id/push
// endpoint to re-nudge a task that is known to be due.
func (in *Intake) Notify(ctx context.Context, task *model.Task) error {
	instr := notifier.Instruction{TaskID: task.ID, RetryCount: task.RetryCount}
	if err := in.notifier.PushTail(ctx, in.channel, instr); err != nil {
		return fmt.Errorf("intake: notify: %w", err)
	}
	return nil
}

// extractPassthroughHeaders copies every request header whose name has
// prefix (case-insensitively), stripping the prefix, into the map that
// will be replayed on the outbound webhook call.
func extractPassthroughHeaders(h map[string][]string, prefix string) map[string]string {
	out := map[string]string{}
	lowerPrefix := strings.ToLower(prefix)
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if strings.HasPrefix(strings.ToLower(key), lowerPrefix) {
			name := key[len(prefix):]
			out[name] = values[0]
		}
	}
	return out
}

// extractCharset pulls the charset parameter out of a Content-Type
// header value, e.g. "application/json; charset=utf-8" -> "utf-8". It
// returns "" if contentType carries no charset parameter.
func extractCharset(contentType string) string {
	parts := strings.Split(contentType, ";")
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "charset=") {
			continue
		}
		return strings.Trim(strings.TrimSpace(part[len("charset="):]), `"`)
	}
	return ""
}

func joinMethods(methods []model.Method) string {
	parts := make([]string, len(methods))
	for i, m := range methods {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
