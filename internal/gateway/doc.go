// Package gateway wires parley's server-side components into one HTTP service.
//
// # Overview
//
// The gateway owns the message store, the delivery bus, the conversation
// service and the HTTP server. New builds everything from a config.Config;
// Run serves until its context is cancelled; Shutdown releases resources.
//
// # HTTP API
//
//	GET  /api/messages?senderId=&receiverId=     history, oldest first
//	POST /api/messages                           send (operator sender needs a session)
//	GET  /api/channels/{channel}/events          SSE stream of bus events
//	GET  /api/conversations                      operator inbox, most recent first
//	POST /api/conversations/{counterpartId}/read mark a visitor's messages read
//	GET  /api/search?q=&limit=                   full-text search (when enabled)
//	POST /relay/channels/{channel}/events        relay publish (X-Relay-Secret)
//	GET  /health                                 liveness
//	GET  /health/ready                           store reachability
//
// Operator routes require an Authorization: Bearer token minted by the
// session verifier. Requests without a token are treated as visitors.
// Errors are JSON bodies of the form {"error": "..."}.
//
// # Streams
//
// A stream subscribes before it sends its response headers, so a client
// that has seen the 200 will receive everything published afterwards.
// Idle streams get a ": ping" comment every 25 seconds. Shutdown ends all
// open streams.
//
// # Bus Modes
//
// In local mode the in-process Hub serves both publishes and streams. If
// bus.relay_secret is set, the relay endpoint lets other instances publish
// into this Hub. In remote mode the service publishes to the relay and
// streams are proxied from the relay's own stream endpoint.
//
// # Listeners
//
// Without Tailscale the server listens on server.http_addr. With Tailscale
// a tsnet node is started and the server listens on :80, or on :443 with
// tailnet certificates when tailscale.https is set.
package gateway
