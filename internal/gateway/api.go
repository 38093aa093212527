// ABOUTME: HTTP API handlers for parley messaging: history, send, conversations, read, search
// ABOUTME: Maps conversation service errors onto JSON error responses in one place

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/2389/parley/internal/conversation"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// MarkReadResponse is the JSON response for POST /api/conversations/{counterpartId}/read.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// handleListConversations returns the operator's conversation summaries, most recent first.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.conversation.ListConversations(r.Context(), g.conversation.OperatorID())
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, convs)
}

// handleHistory returns every message between senderId and receiverId, oldest first.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msgs, err := g.conversation.History(r.Context(), q.Get("senderId"), q.Get("receiverId"))
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, msgs)
}

// handleSend persists and pushes one message.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	var req conversation.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := g.conversation.Send(r.Context(), req)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, msg)
}

// handleMarkRead marks everything a counterpart sent the operator as read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := g.conversation.MarkRead(r.Context(), chi.URLParam(r, "counterpartId"))
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, MarkReadResponse{Updated: n})
}

// handleSearch runs a full-text query over the operator's messages.
func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	hits, err := g.conversation.Search(r.Context(), q.Get("q"), limit)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, hits)
}

// writeServiceError maps conversation errors to HTTP statuses.
func (g *Gateway) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrUnauthorized):
		g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, conversation.ErrUnavailable):
		g.sendJSONError(w, http.StatusInternalServerError, "service unavailable")
	default:
		g.logger.Error("unhandled service error", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
