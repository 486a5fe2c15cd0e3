// Package api is the HTTP ingress for the task queue: it exposes an
// enqueue endpoint, a task status endpoint and a push endpoint, wiring
// inbound requests to internal/intake and internal/store.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/ntorque/internal/api/auth"
	"github.com/guido-cesarano/ntorque/internal/intake"
	"github.com/guido-cesarano/ntorque/internal/store"
	"github.com/guido-cesarano/ntorque/pkg/model"
)

// API holds the dependencies shared by every handler.
type API struct {
	intake *intake.Intake
	store  store.Store
	auth   *auth.Authenticator
	log    zerolog.Logger
}

// New builds an API bound to the given collaborators.
func New(in *intake.Intake, s store.Store, authenticator *auth.Authenticator, log zerolog.Logger) *API {
	return &API{intake: in, store: s, auth: authenticator, log: log}
}

// taskView is the JSON representation returned by the task status
// endpoint -- deliberately narrower than model.Task: passthrough headers
// and body are an implementation detail of delivery, not something a
// caller polling for status needs back.
type taskView struct {
	ID         int64        `json:"id"`
	Status     model.Status `json:"status"`
	Method     model.Method `json:"method"`
	URL        string       `json:"url"`
	RetryCount int          `json:"retry_count"`
	Due        time.Time    `json:"due"`
	Created    time.Time    `json:"created"`
	Modified   time.Time    `json:"modified"`
}

func newTaskView(t *model.Task) taskView {
	return taskView{
		ID:         t.ID,
		Status:     t.Status,
		Method:     t.Method,
		URL:        t.URL,
		RetryCount: t.RetryCount,
		Due:        t.Due,
		Created:    t.Created,
		Modified:   t.Modified,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Installed handles GET / -- a liveness check with no side effects.
func (a *API) Installed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ntorque installed and reporting for duty\n"))
}

// Enqueue handles POST / -- validate, persist and notify.
func (a *API) Enqueue(w http.ResponseWriter, r *http.Request) {
	app, err := a.auth.Authenticate(r.Context(), r)
	if err != nil {
		a.log.Error().Err(err).Msg("api: authenticate")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if app == nil && a.auth.Enabled {
		writeError(w, http.StatusForbidden, "a valid Ntorque-Api-Key header is required")
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	req := intake.Request{
		URL:            r.URL.Query().Get("url"),
		RawTimeout:     r.URL.Query().Get("timeout"),
		RawMethod:      r.URL.Query().Get("method"),
		ContentType:    r.Header.Get("Content-Type"),
		Body:           body,
		RequestHeaders: map[string][]string(r.Header),
	}
	if app != nil {
		req.AppID = &app.ID
	}

	task, err := a.intake.Enqueue(r.Context(), req)
	var validationErr *intake.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("api: enqueue")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Location", taskLocation(r, task.ID))
	writeJSON(w, http.StatusCreated, newTaskView(task))
}

// TaskStatus handles GET /tasks/{id}.
func (a *API) TaskStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := a.lookupAuthorized(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newTaskView(task))
}

// PushTask handles POST /tasks/{id}/push -- re-notify a task the caller
// already knows about, e.g. after manually inspecting its status.
func (a *API) PushTask(w http.ResponseWriter, r *http.Request) {
	task, ok := a.lookupAuthorized(w, r)
	if !ok {
		return
	}
	if err := a.intake.Notify(r.Context(), task); err != nil {
		a.log.Error().Err(err).Int64("task_id", task.ID).Msg("api: push")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Location", taskLocation(r, task.ID))
	w.WriteHeader(http.StatusCreated)
}

// lookupAuthorized resolves the {id} path value, loads the task and
// checks the caller's ACL, writing the appropriate error response and
// returning ok=false if any step fails.
func (a *API) lookupAuthorized(w http.ResponseWriter, r *http.Request) (*model.Task, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}

	task, err := a.store.LookupTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	if err != nil {
		a.log.Error().Err(err).Int64("task_id", id).Msg("api: lookup task")
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}

	caller, err := a.auth.Authenticate(r.Context(), r)
	if err != nil {
		a.log.Error().Err(err).Msg("api: authenticate")
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if !a.auth.CanAccess(caller, task) {
		writeError(w, http.StatusForbidden, "you are not authorised to access this task")
		return nil, false
	}
	return task, true
}

func readBody(r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	var sb strings.Builder
	if _, err := sb.ReadFrom(r.Body); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func taskLocation(r *http.Request, id int64) string {
	return "/tasks/" + strconv.FormatInt(id, 10)
}
