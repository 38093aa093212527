// ABOUTME: Tests for APIClient request shapes, auth headers and error classification
// ABOUTME: Runs against a small httptest server that mimics the parley routes

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/bus"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newFakeServer serves the parley routes from fixed data and records the last Authorization header.
func newFakeServer(t *testing.T) (*httptest.Server, *atomic.Value) {
	t.Helper()

	lastAuth := &atomic.Value{}
	lastAuth.Store("")
	hub := bus.NewHub(8, nil)
	t.Cleanup(hub.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/messages", func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		q := r.URL.Query()
		if q.Get("senderId") == "" || q.Get("receiverId") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "senderId and receiverId are required"})
			return
		}
		writeJSON(w, http.StatusOK, []store.Message{{ID: "m1", SenderID: q.Get("senderId"), ReceiverID: q.Get("receiverId"), Content: "hi"}})
	})
	mux.HandleFunc("POST /api/messages", func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		var req conversation.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if req.SenderID == "operator" && r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusCreated, store.Message{ID: "m2", SenderID: req.SenderID, ReceiverID: req.ReceiverID, Content: req.Content})
	})
	mux.HandleFunc("GET /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []conversation.Conversation{{CounterpartID: "v1", LastMessage: "hi", UnreadCount: 2}})
	})
	mux.HandleFunc("POST /api/conversations/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int64{"updated": int64(len(r.PathValue("id")))})
	})
	mux.HandleFunc("GET /api/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected limit 5"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "m1", "content": r.URL.Query().Get("q")}})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kaput", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /api/channels/{channel}/events", func(w http.ResponseWriter, r *http.Request) {
		sub, err := hub.Subscribe(r.Context(), r.PathValue("channel"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer sub.Close()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for ev := range sub.Events {
			_ = bus.WriteSSE(w, ev)
			w.(http.Flusher).Flush()
		}
	})
	mux.HandleFunc("POST /publish/{channel}", func(w http.ResponseWriter, r *http.Request) {
		ev, _ := bus.NewEvent(bus.KindNotification, bus.Notification{From: "v1", Message: "ping"})
		_ = hub.Publish(r.Context(), r.PathValue("channel"), ev)
		w.WriteHeader(http.StatusAccepted)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, lastAuth
}

func TestAPIClient_History(t *testing.T) {
	srv, lastAuth := newFakeServer(t)
	c := NewAPIClient(srv.URL+"/", "")

	msgs, err := c.History(context.Background(), "v1", "operator")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "v1", msgs[0].SenderID)
	assert.Empty(t, lastAuth.Load(), "visitor client must not send a token")

	_, err = c.History(context.Background(), "v1", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "required")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestAPIClient_SendCarriesToken(t *testing.T) {
	srv, lastAuth := newFakeServer(t)

	_, err := NewAPIClient(srv.URL, "").Send(context.Background(),
		conversation.SendRequest{Content: "x", SenderID: "operator", ReceiverID: "v1"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	msg, err := NewAPIClient(srv.URL, "tok").Send(context.Background(),
		conversation.SendRequest{Content: "x", SenderID: "operator", ReceiverID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", lastAuth.Load())
	assert.Equal(t, "m2", msg.ID)
}

func TestAPIClient_OperatorCalls(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := NewAPIClient(srv.URL, "tok")
	ctx := context.Background()

	convs, err := c.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 2, convs[0].UnreadCount)

	n, err := c.MarkRead(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	hits, err := c.Search(ctx, "refund", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "refund", hits[0].Content)

	require.NoError(t, c.Health(ctx))
}

func TestAPIClient_ServerErrorWithoutJSON(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := NewAPIClient(srv.URL, "")

	err := c.do(context.Background(), http.MethodGet, "/boom", nil, nil)
	assert.ErrorIs(t, err, ErrServer)
	assert.Contains(t, err.Error(), "kaput")

	err = c.do(context.Background(), http.MethodGet, "/nope", nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIClient_Unreachable(t *testing.T) {
	c := NewAPIClient("http://127.0.0.1:1", "")

	err := c.Health(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "transport failures are not API errors")
}

func TestWatchNotifications(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := NewAPIClient(srv.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan bus.Notification, 1)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- WatchNotifications(ctx, c, "operator", func(n bus.Notification) { got <- n })
	}()

	// Publish until the watcher has subscribed and received one
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case n := <-got:
			assert.Equal(t, bus.Notification{From: "v1", Message: "ping"}, n)
			cancel()
			select {
			case err := <-watchErr:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("watcher did not stop")
			}
			return
		case <-tick.C:
			resp, err := http.Post(srv.URL+"/publish/"+bus.NotificationChannel("operator"), "application/json", nil)
			require.NoError(t, err)
			resp.Body.Close()
		case <-deadline:
			t.Fatal("no notification received")
		}
	}
}
