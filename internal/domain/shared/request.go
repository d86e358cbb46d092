package shared

import (
	"time"

	"github.com/google/uuid"
)

// Role is the caller's platform role. The engine records it for logging
// but never enforces it.
type Role string

const (
	RoleAnonymous  Role = "anonymous"
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// RequestContext carries the caller identity and the clock reading for a
// single call into the engine. Every operation receives it explicitly.
type RequestContext struct {
	RequestID string
	UserID    *int64
	Role      Role
	Now       time.Time
}

// NewRequestContext builds a request context stamped with a fresh request id
// and the current wall clock.
func NewRequestContext(userID *int64, role Role) RequestContext {
	if role == "" {
		role = RoleAnonymous
		if userID != nil {
			role = RoleStudent
		}
	}
	return RequestContext{
		RequestID: uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Now:       time.Now().UTC(),
	}
}

// SystemRequest returns a request context for background processes.
func SystemRequest(now time.Time) RequestContext {
	return RequestContext{
		RequestID: uuid.NewString(),
		Role:      RoleAdmin,
		Now:       now.UTC(),
	}
}

// Clock returns the request's notion of "now". A zero Now falls back to
// the wall clock.
func (rc RequestContext) Clock() time.Time {
	if rc.Now.IsZero() {
		return time.Now().UTC()
	}
	return rc.Now.UTC()
}

// Today returns midnight UTC of the request's current day.
func (rc RequestContext) Today() time.Time {
	now := rc.Clock()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Authenticated reports whether the caller is signed in.
func (rc RequestContext) Authenticated() bool {
	return rc.UserID != nil
}
