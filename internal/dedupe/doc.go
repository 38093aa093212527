// Package dedupe tracks which message IDs a client has already shown, so a
// message that arrives both through a history fetch and a live push is only
// displayed once.
package dedupe
