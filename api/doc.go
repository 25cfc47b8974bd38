// Package api provides the HTTP REST API for the Santa delivery game.
//
// The api package implements:
//   - Session management endpoints
//   - Planning intents (add, remove, optimize stops)
//   - Run control intents (start, confirm, skip, cancel, dismiss, pause, resume, speed)
//   - Soft reset and new route
//   - Run preset listing and saving
//   - WebSocket upgrade handling and static file serving
//
// Endpoints:
//
// Sessions:
//   - POST /api/sessions - Create new session ({"config_id": "classic"})
//   - GET /api/sessions - List sessions (?sort=created|accessed&order=asc|desc&limit=N)
//   - GET /api/sessions/unified - Aggregate view (?configName= or ?sessionIds=a,b)
//   - GET /api/sessions/{id} - Get session
//   - DELETE /api/sessions/{id} - Delete session
//
// Planning:
//   - GET /api/sessions/{id}/state - Current snapshot
//   - POST /api/sessions/{id}/stops - {"location": "Tokyo", "present": "Kite"} or {"name", "lat", "lng"}
//   - DELETE /api/sessions/{id}/stops/{stopId}
//   - POST /api/sessions/{id}/optimize
//
// Run control:
//   - POST /api/sessions/{id}/start | confirm | cancel | dismiss | pause | resume
//   - POST /api/sessions/{id}/skip - optional {"stop_id": "..."}
//   - POST /api/sessions/{id}/speed - {"multiplier": 2}
//   - POST /api/sessions/{id}/step - optional {"dt": 0.016}
//   - POST /api/sessions/{id}/reset - keep stops, rewind the run
//   - POST /api/sessions/{id}/new-route - clear everything
//   - GET /api/sessions/{id}/history - delivery log (?page=&limit=&order=)
//
// Configuration:
//   - GET /api/configs, POST /api/configs, GET /api/configs/{name}
//
// An add-stop request whose location cannot be geocoded answers 200 with
// success=false and the player-facing message; nothing is added.
//
// Errors are returned as JSON:
//
//	{"error": "invalid phase for this intent"}
//
// with 404 for unknown sessions, presets and stops, 409 for intents that do
// not fit the current phase, and 400 for invalid input.
//
// Every request passes through the alice chain built in middleware.go:
// panic recovery, access logging, CORS and security headers.
package api
