// ABOUTME: SSE stream handler for bus channels and the relay publish endpoint
// ABOUTME: Streams events as they are published; replicas in remote mode proxy the relay

package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/parley/internal/bus"
)

// channelParam returns the decoded {channel} URL parameter.
func channelParam(r *http.Request) (string, bool) {
	channel, err := url.PathUnescape(chi.URLParam(r, "channel"))
	if err != nil || channel == "" {
		return "", false
	}
	return channel, true
}

// handleStream subscribes to a channel and writes each event as an SSE frame
// until the client disconnects or the gateway shuts down.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelParam(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "invalid channel")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before sending headers: once the client sees 200 it is live
	sub, err := g.bus.Subscribe(r.Context(), channel)
	if err != nil {
		g.logger.Warn("subscribe failed", "channel", channel, "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "subscription unavailable")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.logger.Debug("stream opened", "channel", channel, "sub_id", sub.ID)
	defer g.logger.Debug("stream closed", "channel", channel, "sub_id", sub.ID)

	ping := time.NewTicker(g.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-g.streams.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := bus.WriteSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ping.C:
			if err := bus.WriteSSEComment(w, "ping"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleRelayPublish accepts an event from a replica and fans it out on the local hub.
func (g *Gateway) handleRelayPublish(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(bus.RelaySecretHeader)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(g.config.Bus.RelaySecret)) != 1 {
		g.sendJSONError(w, http.StatusForbidden, "invalid relay secret")
		return
	}

	channel, ok := channelParam(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "invalid channel")
		return
	}

	var ev bus.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&ev); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.Kind == "" {
		g.sendJSONError(w, http.StatusBadRequest, "event kind is required")
		return
	}

	if err := g.hub.Publish(r.Context(), channel, ev); err != nil {
		g.logger.Warn("relay publish failed", "channel", channel, "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "bus unavailable")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
