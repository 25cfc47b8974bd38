// Package mcp exposes the delivery game to AI agents over the Model Context Protocol.
//
// The Client is a thin proxy: every tool call becomes one or more REST calls
// against a running server, so agents and browser players share sessions.
//
// MCP Tools:
//   - create_session, list_sessions, delivery_state
//   - add_stop, remove_stop, optimize_route
//   - start_run, step, confirm_delivery, skip_stop, cancel_confirmation,
//     dismiss_delivery, pause, resume, set_speed
//   - reset_run, new_route, delivery_history
//   - list_configs, delivery_instructions
//
// The step tool batches frames and stops early on arrival, which lets an agent
// fly to the next stop in a single call.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
