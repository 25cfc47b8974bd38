// Package engine provides the core logic for the Santa delivery game.
//
// The engine package implements:
//   - The stop registry, an ordered list of delivery targets
//   - The delivery state machine (planning, delivering, finished)
//   - The per-frame animation driver with arrival detection
//   - Run preset loading and validation (JSON or YAML)
//
// Core Types:
//
// The Engine interface defines the main contract for delivery operations,
// implemented by DeliveryEngine. DeliveryState is the snapshot handed to the
// presentation layer, while RunConfig holds the speeds, messages and optional
// preset stops loaded from the configs directory.
//
// Usage:
//
//	config, err := engine.LoadConfigByName("classic")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	e, err := engine.NewEngine(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	_ = e.StartRun()
//	for e.SubState() == engine.SubEnRoute {
//		e.Tick(1.0 / 60)
//	}
//	ticket, _ := e.ConfirmDelivery()
//
// Run Rules:
//
// Santa flies in a straight line (in raw degree space) from stop to stop in
// registry order. Each arrival opens a confirmation: confirming marks the stop
// delivered and starts a narrative sequence keyed by a DeliveryTicket, skipping
// moves on without delivering. Resets bump an epoch so tickets issued before the
// reset are rejected with ErrStaleTicket.
package engine
