// Package websocket pushes delivery snapshots and events to presentation clients.
//
// The websocket package implements:
//   - Session-aware WebSocket connections
//   - Snapshot and domain event broadcasting (service.Broadcaster)
//   - Connection lifecycle management with ping/pong keepalive
//
// Architecture:
//
// The package uses a hub-and-spoke model where a central Hub manages all
// WebSocket connections. Each client connection is handled by a read and a
// write goroutine. Broadcasts are queued without blocking the caller, since
// they come from the animation loop and the delivery goroutines.
//
// Message Protocol:
//
// Every outgoing message is one JSON frame:
//   - {"session_id": "ab12", "event": "state_update", "state": {...}}
//   - {"session_id": "ab12", "event": "arrived", "data": {"type": "arrived", "stop_id": "...", "message": "..."}}
//
// The presentation layer plays the arrival chime on "arrived" and opens the
// delivery modal on "image_ready". Intents go through the REST API; incoming
// frames are ignored.
//
// Usage:
//
//	hub := websocket.NewHub()
//	go hub.Run(ctx)
//
//	svc := service.NewDeliveryService(sessions, configs, assistant,
//		service.WithBroadcaster(hub))
//
//	// in the /ws handler
//	hub.ServeWS(w, r, sessionID, state)
package websocket
