// Package session implements the sessionAccess/sessionUser external
// interfaces named in spec.md §6: an in-memory registry mapping a
// connected session to its access role and user identity. Session
// authentication and role resolution themselves are out of scope; this
// package only holds whatever an upstream authenticator has already
// decided.
package session

import (
	"sync"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

type entry struct {
	access docmodel.AccessRole
	user   *docmodel.UserIdentity
}

// Registry is the connected-session table. The zero value is not
// usable; use NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[docmodel.SessionHandle]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[docmodel.SessionHandle]entry)}
}

// Connect records session's access role and identity. identity may be
// nil for an anonymous link share.
func (r *Registry) Connect(session docmodel.SessionHandle, access docmodel.AccessRole, identity *docmodel.UserIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session] = entry{access: access, user: identity}
}

// Disconnect removes session from the registry.
func (r *Registry) Disconnect(session docmodel.SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, session)
}

// Access implements docmodel.SessionAccess.
func (r *Registry) Access(session docmodel.SessionHandle) (docmodel.AccessRole, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[session]
	if !ok {
		return docmodel.RoleNone, &docmodel.ConfigError{Code: "UNKNOWN_SESSION", Message: "session " + string(session) + " is not connected"}
	}
	return e.access, nil
}

// User implements docmodel.SessionUser.
func (r *Registry) User(session docmodel.SessionHandle) (*docmodel.UserIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[session]
	if !ok {
		return nil, &docmodel.ConfigError{Code: "UNKNOWN_SESSION", Message: "session " + string(session) + " is not connected"}
	}
	return e.user, nil
}

// Len reports the number of connected sessions, for tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
