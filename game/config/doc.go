// Package config provides run preset management for the Santa delivery game.
//
// The config package handles:
//   - Loading run presets from JSON or YAML files
//   - Preset validation
//   - Default preset management
//   - Preset discovery and listing
//
// Preset Format:
//
// Presets live in the configs directory as .json, .yaml or .yml files. Each
// preset defines:
//   - The origin Santa departs from (the North Pole unless set)
//   - Base flight speed and starting speed multiplier
//   - How long a delivery without an image lingers before advancing
//   - Optional pre-resolved stops with their presents
//   - Status messages for each step of the run
//
// Usage:
//
//	manager, err := config.NewManager("configs")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Load a specific preset, extension optional
//	runConfig, err := manager.LoadConfig("nordic")
//
//	// Get default preset (classic, else first valid, else built-in)
//	defaultConfig := manager.GetDefault()
//
//	// List available presets
//	configs, err := manager.ListConfigs()
package config
