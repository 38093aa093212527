// ABOUTME: Error taxonomy returned by the conversation service
// ABOUTME: Callers classify failures with errors.Is against these sentinels

package conversation

import "errors"

var (
	// ErrValidation means the request itself is malformed; retrying it unchanged will fail again.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized means the caller claimed the operator identity without an operator session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable means a read could not reach the message store.
	ErrUnavailable = errors.New("message store unavailable")
	// ErrInternal means a write failed for a reason other than validation.
	ErrInternal = errors.New("internal error")
)
