// Package service provides the business logic layer for the Santa delivery game.
//
// The service package implements:
//   - Multi-session delivery management
//   - Run preset loading through a ConfigManager
//   - Geocoding and route optimisation through the AI Assistant
//   - The asynchronous delivery sequence (image, caption, dismissal or fallback)
//   - Per-frame animation of every flying session
//   - Delivery log pagination
//
// Core Interfaces:
//
// DeliveryService is the main service interface providing high-level run
// operations. SessionManager handles session creation, retrieval, and
// lifecycle. ConfigManager manages preset loading and validation. Assistant
// is the AI boundary and Broadcaster pushes snapshots to connected clients.
//
// Architecture:
//
// The service layer sits between the transport layer (HTTP/WebSocket/MCP) and
// the delivery engine. Every engine access for a session happens under that
// session's lock, so intents, animation frames and async AI results are
// applied one at a time. AI calls run outside the lock.
//
// Async results carry a DeliveryTicket. After a reset the engine's epoch has
// moved on and late results are logged and dropped.
//
// Usage:
//
//	sessionMgr := session.NewManager()
//	configMgr, _ := config.NewManager("configs")
//	assistant := genai.NewAssistant(genai.NewOffline(), nil)
//	svc := service.NewDeliveryService(sessionMgr, configMgr, assistant,
//		service.WithBroadcaster(hub))
//
//	info, err := svc.CreateSession(ctx, "classic")
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, _ = svc.StartRun(ctx, info.ID)
//
//	// drive animation from a frame loop
//	driver := animator.NewDriver(nil, 0, svc.Animate)
//	go driver.Run(ctx)
package service
