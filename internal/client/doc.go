// Package client is the participant side of parley: an HTTP API client and
// the Session that keeps one party's view of a conversation current.
//
// # APIClient
//
// APIClient wraps the gateway's JSON routes (history, send, conversations,
// mark-read, search, health) and subscribes to channels over SSE. Non-2xx
// responses become *APIError, which unwraps to ErrBadRequest,
// ErrUnauthorized, ErrNotFound or ErrServer.
//
// # Session
//
// A Session moves through:
//
//	Initializing -> LoadingHistory -> Ready -> Unmounted
//
// Start subscribes to the conversation channel, loads history, then enters
// Ready and appends pushed messages in receipt order. Every message is keyed
// by ID in a dedupe.Cache, so a message that arrives both in history and as
// a push, or both as a send result and as a push, appears once.
//
// Close unsubscribes immediately and freezes local state. A Send already in
// flight still completes on the server.
package client
