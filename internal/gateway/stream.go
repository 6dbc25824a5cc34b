// ABOUTME: Live event transports: Server-Sent Events and WebSocket
// ABOUTME: Each connection holds one bus subscription for its lifetime

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/2389/suggest-gateway/internal/conversation"
	"github.com/2389/suggest-gateway/internal/pubsub"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsReadLimit  = 512
	untilTermArg = "terminal"
)

// SubscribedEvent is the first frame on every stream.
type SubscribedEvent struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Channel        pubsub.Channel `json:"channel"`
	SubscriptionID string         `json:"subscription_id"`
}

// streamParams resolves the conversation and channel of a stream request,
// writing an error response and returning ok=false when invalid.
func (g *Gateway) streamParams(w http.ResponseWriter, r *http.Request) (id string, channel pubsub.Channel, untilTerminal, ok bool) {
	id = chi.URLParam(r, "id")

	name := r.URL.Query().Get("channel")
	if name == "" {
		name = string(pubsub.ChannelSuggestions)
	}
	channel, err := pubsub.ParseChannel(name)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return "", "", false, false
	}

	if _, err := g.conversation.Get(r.Context(), id); err != nil {
		g.sendStoreError(w, err)
		return "", "", false, false
	}

	return id, channel, r.URL.Query().Get("until") == untilTermArg, true
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return err
	}
	_, err = fmt.Fprint(w, formatSSEEvent(event, string(dataJSON)))
	return err
}

// handleStream serves GET /api/chats/{id}/stream as Server-Sent Events.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	id, channel, untilTerminal, ok := g.streamParams(w, r)
	if !ok {
		return
	}

	// Check streaming support before subscribing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	sub := g.bus.Subscribe(ctx, id, channel)
	defer g.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := g.writeSSEEvent(w, "subscribed", SubscribedEvent{
		Type:           "subscribed",
		ConversationID: id,
		Channel:        channel,
		SubscriptionID: sub.ID(),
	}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(g.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := g.writeSSEEvent(w, string(ev.Kind), ev); err != nil {
				g.logger.Debug("SSE write failed", "conversation_id", id, "error", err)
				return
			}
			flusher.Flush()

			if untilTerminal && ev.IsTerminal() {
				return
			}
		}
	}
}

// handleWebSocket serves GET /api/chats/{id}/ws: one JSON frame per event.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, channel, untilTerminal, ok := g.streamParams(w, r)
	if !ok {
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Hijacked connections are not tracked by the HTTP server, so the session
	// gets its own context, cancelled when the peer stops reading.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := g.bus.Subscribe(ctx, id, channel)
	defer g.bus.Unsubscribe(sub)

	go func() {
		defer cancel()
		g.wsReadPump(conn)
	}()

	g.wsWritePump(ctx, conn, sub, untilTerminal)
}

// wsReadPump discards client frames and keeps the read deadline fresh via pongs.
func (g *Gateway) wsReadPump(conn *websocket.Conn) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsWritePump is the only writer on conn.
func (g *Gateway) wsWritePump(ctx context.Context, conn *websocket.Conn, sub *pubsub.Subscription[conversation.Event], untilTerminal bool) {
	ticker := time.NewTicker(g.keepAlive)
	defer ticker.Stop()

	key := sub.Key()
	if err := g.wsWrite(conn, SubscribedEvent{
		Type:           "subscribed",
		ConversationID: key.ConversationID,
		Channel:        key.Channel,
		SubscriptionID: sub.ID(),
	}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case ev, ok := <-sub.C():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := g.wsWrite(conn, ev); err != nil {
				g.logger.Debug("websocket write failed", "conversation_id", key.ConversationID, "error", err)
				return
			}
			if untilTerminal && ev.IsTerminal() {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "suggestion finished"))
				return
			}
		}
	}
}

func (g *Gateway) wsWrite(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
