// ABOUTME: HTTP handlers for the chat API
// ABOUTME: Lists, creates and reads conversations, appends messages and updates context

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/2389/suggest-gateway/internal/conversation"
	"github.com/2389/suggest-gateway/internal/store"
)

// maxBodySize bounds request bodies on the chat API.
const maxBodySize = 64 << 10

// AppendMessageRequest is the body of POST /api/chats/{id}/messages.
// Message and Text are synonyms; Role accepts customer/agent or user/assistant.
type AppendMessageRequest struct {
	Message string `json:"message"`
	Text    string `json:"text"`
	Role    string `json:"role"`
}

// SuggestionStateResponse is the body of GET /api/chats/{id}/suggestion.
// State follows the run lifecycle and is idle between runs; LastOutcome
// keeps the final state of the latest run.
type SuggestionStateResponse struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
	LastOutcome    string `json:"last_outcome"`
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendStoreError maps service errors to HTTP statuses.
func (g *Gateway) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, store.ErrInvalidRole):
		g.sendJSONError(w, http.StatusBadRequest, "role must be customer or agent")
	case errors.Is(err, conversation.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
	default:
		g.logger.Error("chat request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := g.conversation.List(r.Context())
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, chats)
}

func (g *Gateway) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	conv, err := g.conversation.Create(r.Context())
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, conv)
}

func (g *Gateway) handleGetChat(w http.ResponseWriter, r *http.Request) {
	conv, err := g.conversation.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

// handleAppendMessage stores a message. A repeated Idempotency-Key for the
// same chat returns the message stored by the first request.
func (g *Gateway) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AppendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	role, err := store.ParseRole(strings.ToLower(strings.TrimSpace(req.Role)))
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	text := req.Message
	if text == "" {
		text = req.Text
	}

	idemKey := ""
	if k := r.Header.Get("Idempotency-Key"); k != "" {
		idemKey = id + "\x00" + k
		msg, found, err := g.idempotency.Claim(r.Context(), idemKey)
		if err != nil {
			// The client went away while an earlier request with this key was in flight
			g.sendJSONError(w, http.StatusRequestTimeout, "request canceled")
			return
		}
		if found {
			w.Header().Set("Idempotent-Replayed", "true")
			g.writeJSON(w, http.StatusOK, msg)
			return
		}
	}

	msg, err := g.appendClaimed(r, idemKey, id, role, text)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, msg)
}

// appendClaimed appends the message and resolves the idempotency
// reservation held for idemKey, if any: remembered on success, released
// otherwise so a retry can try again.
func (g *Gateway) appendClaimed(r *http.Request, idemKey, id string, role store.Role, text string) (msg *store.Message, err error) {
	if idemKey != "" {
		defer func() {
			if msg != nil {
				g.idempotency.Remember(idemKey, msg)
			} else {
				g.idempotency.Forget(idemKey)
			}
		}()
	}
	return g.conversation.AppendMessage(r.Context(), id, role, text)
}

// handleSetContext accepts either a bare JSON string or {"context": "..."}.
func (g *Gateway) handleSetContext(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading body failed")
		return
	}
	if !gjson.ValidBytes(body) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	parsed := gjson.ParseBytes(body)
	var text string
	switch {
	case parsed.Type == gjson.String:
		text = parsed.Str
	case parsed.IsObject() && parsed.Get("context").Type == gjson.String:
		text = parsed.Get("context").Str
	default:
		g.sendJSONError(w, http.StatusBadRequest, "context must be a JSON string")
		return
	}

	if err := g.conversation.SetContext(r.Context(), chi.URLParam(r, "id"), text); err != nil {
		g.sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleSuggestionState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := g.conversation.Get(r.Context(), id); err != nil {
		g.sendStoreError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, SuggestionStateResponse{
		ConversationID: id,
		State:          string(g.orchestrator.State(id)),
		LastOutcome:    string(g.orchestrator.LastOutcome(id)),
	})
}
