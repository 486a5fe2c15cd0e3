// Package auth authenticates inbound requests against an application's
// API keys and decides whether a caller may act on a given task. Access
// control is computed as a pure predicate each time, against the caller
// and task already in hand, rather than stored as mutable state on the
// task itself.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/guido-cesarano/ntorque/internal/store"
	"github.com/guido-cesarano/ntorque/pkg/model"
)

// HeaderName is the request header carrying an application's API key.
const HeaderName = "Ntorque-Api-Key"

// validKey matches any 40 word-character key, which covers the 40 hex
// character keys generateAPIKey produces.
var validKey = regexp.MustCompile(`^\w{40}$`)

// Authenticator resolves an API key to the Application it belongs to.
type Authenticator struct {
	store   store.Store
	Enabled bool
}

// New builds an Authenticator. enabled mirrors NTORQUE_AUTHENTICATE: when
// false, every request is treated as anonymous and anonymous tasks are
// reachable by anyone.
func New(s store.Store, enabled bool) *Authenticator {
	return &Authenticator{store: s, Enabled: enabled}
}

// Authenticate extracts and validates the API key from r, looking up its
// owning Application. It returns (nil, nil) for an anonymous request --
// no header, or a malformed one -- which is not itself an error.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*model.Application, error) {
	key := r.Header.Get(HeaderName)
	if key == "" || !validKey.MatchString(key) {
		return nil, nil
	}

	app, err := a.store.LookupApplicationByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: lookup application: %w", err)
	}
	if !app.IsUsable() {
		return nil, nil
	}
	return app, nil
}

// CanAccess reports whether caller (nil for anonymous) may view or push
// task. A task created without an application is only reachable while
// the deployment has authentication disabled; an owned task is reachable
// only by the application that owns it.
func (a *Authenticator) CanAccess(caller *model.Application, task *model.Task) bool {
	if task.AppID == nil {
		return !a.Enabled
	}
	return caller != nil && caller.ID == *task.AppID
}
