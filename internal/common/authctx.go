package common

import (
	"context"
	"sync"
)

type ctxKey string

const userIDKey ctxKey = "auth/user-id"

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	if s := scopeFrom(ctx); s != nil {
		s.set(&s.userID, id)
	}
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

const sessionIDKey ctxKey = "session/id"

// WithSessionID stores the guest session identifier on the provided context.
func WithSessionID(ctx context.Context, id string) context.Context {
	if s := scopeFrom(ctx); s != nil {
		s.set(&s.sessionID, id)
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID extracts the guest session identifier from the context if present.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

const scopeKey ctxKey = "request/scope"

// Scope records the identifiers attached further down the middleware chain
// so that outer middleware can read them after the handler returns.
type Scope struct {
	mu        sync.Mutex
	userID    string
	sessionID string
}

// WithScope starts a Scope for the request.
func WithScope(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{}
	return context.WithValue(ctx, scopeKey, s), s
}

func scopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey).(*Scope)
	return s
}

func (s *Scope) set(field *string, v string) {
	s.mu.Lock()
	*field = v
	s.mu.Unlock()
}

// UserID returns the authenticated user, if one was attached.
func (s *Scope) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SessionID returns the guest session, if one was attached.
func (s *Scope) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}
