// Package search keeps a full-text index of message content so the operator
// can find past conversations by what was said. The index is rebuilt from the
// store on startup and updated after every successful send.
package search
