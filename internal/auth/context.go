// ABOUTME: Session context for tracking the caller's identity through request handlers
// ABOUTME: Provides WithSession/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Session is the authenticated caller attached to a request.
type Session struct {
	Identity string
	Operator bool
}

// IsOperator reports whether s carries operator rights. A nil Session has none.
func (s *Session) IsOperator() bool {
	return s != nil && s.Operator
}

type sessionContextKey struct{}

// WithSession returns a new context with the Session attached.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext retrieves the Session from the context, returning nil if not present.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}
