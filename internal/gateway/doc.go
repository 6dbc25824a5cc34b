// Package gateway runs the suggest-gateway HTTP server.
//
// # Overview
//
// The Gateway owns every long-lived component: the conversation store, the
// event bus, the conversation service, the generator, the suggestion
// orchestrator and its supervisor, metrics and the HTTP server.
//
// # HTTP API
//
//   - GET  /api/chats - List conversations
//   - POST /api/chats - Create an empty conversation
//   - GET  /api/chats/{id} - Read a conversation with its messages
//   - POST /api/chats/{id}/messages - Append a message (honours Idempotency-Key)
//   - PUT  /api/chats/{id}/context - Replace the business context
//   - GET  /api/chats/{id}/suggestion - State of the latest suggestion run
//   - GET  /api/chats/{id}/stream - Server-Sent Events
//   - GET  /api/chats/{id}/ws - WebSocket
//   - GET  /health, /health/ready - Liveness and readiness
//   - GET  /metrics - Prometheus exposition, when enabled
//
// Appending a customer message returns as soon as the message is stored. The
// suggestion it triggers arrives on the suggestions channel of the stream.
//
// # Streams
//
// Both transports take ?channel=messages|suggestions (default suggestions)
// and ?until=terminal, which ends the stream after the first done or error
// marker. The first frame is always a "subscribed" event. SSE frames look like:
//
//	event: fragment
//	data: {"type":"fragment","conversation_id":"...","run_id":"...","text":"Bonjour"}
//
// WebSocket sessions receive the same JSON objects, one per text frame.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // returns after ctx is cancelled and shutdown completes
//
// Shutdown cancels active runs and closes the bus before stopping the HTTP
// server, so open streams end instead of holding the server open.
package gateway
