package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func createValidConfig() *RunConfig {
	return createTestConfig()
}

func TestValidateRunConfig_ValidConfig(t *testing.T) {
	if err := ValidateRunConfig(createValidConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got: %v", err)
	}
}

func TestValidateRunConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunConfig)
		wantErr string
	}{
		{"missing name", func(c *RunConfig) { c.Name = "" }, "name is required"},
		{"origin out of range", func(c *RunConfig) { c.Origin = Coordinate{Lat: 100} }, "origin"},
		{"base speed too low", func(c *RunConfig) { c.BaseSpeed = 0.01 }, "base_speed"},
		{"base speed too high", func(c *RunConfig) { c.BaseSpeed = 1000 }, "base_speed"},
		{"starting speed zero", func(c *RunConfig) { c.StartingSpeed = 0 }, "starting_speed"},
		{"negative fallback", func(c *RunConfig) { c.FallbackDelay.Duration = -time.Second }, "fallback_delay"},
		{"missing welcome", func(c *RunConfig) { c.Messages.Welcome = "" }, "messages.welcome"},
		{"arrived without name", func(c *RunConfig) { c.Messages.Arrived = "Arrived!" }, "messages.arrived"},
		{"finished without counts", func(c *RunConfig) { c.Messages.Finished = "Done %d" }, "messages.finished"},
		{"preset stop without name", func(c *RunConfig) {
			c.Stops = []PresetStop{{Name: "", Coord: Coordinate{Lat: 1, Lng: 1}}}
		}, "stops[0]"},
		{"preset stop bad coordinate", func(c *RunConfig) {
			c.Stops = []PresetStop{{Name: "Mars", Coord: Coordinate{Lat: 0, Lng: 500}}}
		}, "invalid coordinate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := createValidConfig()
			tt.mutate(config)
			err := ValidateRunConfig(config)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseRunConfig_JSON(t *testing.T) {
	data := []byte(`{
		"name": "europe",
		"description": "A short European tour",
		"base_speed": 20,
		"fallback_delay": "1500ms",
		"stops": [{"name": "Paris", "present": "Beret", "coordinate": {"lat": 48.85, "lng": 2.35}}],
		"messages": {"welcome": "Bonjour!"}
	}`)

	config, err := ParseRunConfig(data, ".json")
	if err != nil {
		t.Fatalf("ParseRunConfig failed: %v", err)
	}
	if config.BaseSpeed != 20 {
		t.Errorf("Expected base speed 20, got %v", config.BaseSpeed)
	}
	if config.FallbackDelay.Duration != 1500*time.Millisecond {
		t.Errorf("Expected fallback 1.5s, got %v", config.FallbackDelay)
	}
	if config.Messages.Welcome != "Bonjour!" {
		t.Errorf("Expected custom welcome kept, got %q", config.Messages.Welcome)
	}
	if config.Messages.Arrived == "" {
		t.Error("Expected missing messages filled from defaults")
	}
	if config.Origin != NorthPole {
		t.Errorf("Expected default origin, got %v", config.Origin)
	}
	if len(config.Stops) != 1 || config.Stops[0].Coord.Lat != 48.85 {
		t.Errorf("Unexpected stops %+v", config.Stops)
	}
	if err := ValidateRunConfig(config); err != nil {
		t.Errorf("Expected parsed config to validate, got %v", err)
	}
}

func TestParseRunConfig_JSONNumericDuration(t *testing.T) {
	config, err := ParseRunConfig([]byte(`{"name":"x","fallback_delay":2}`), ".json")
	if err != nil {
		t.Fatalf("ParseRunConfig failed: %v", err)
	}
	if config.FallbackDelay.Duration != 2*time.Second {
		t.Errorf("Expected 2s, got %v", config.FallbackDelay)
	}
}

func TestParseRunConfig_YAML(t *testing.T) {
	data := []byte(`
name: nordic
description: Cold places first
starting_speed: 2
fallback_delay: 3s
origin:
  lat: 90
  lng: 0
stops:
  - name: Oslo
    present: Skis
    coordinate:
      lat: 59.91
      lng: 10.75
messages:
  finished: "Nordic run done: %d/%d"
`)

	config, err := ParseRunConfig(data, ".yaml")
	if err != nil {
		t.Fatalf("ParseRunConfig failed: %v", err)
	}
	if config.Name != "nordic" || config.StartingSpeed != 2 {
		t.Errorf("Unexpected config %+v", config)
	}
	if config.FallbackDelay.Duration != 3*time.Second {
		t.Errorf("Expected 3s, got %v", config.FallbackDelay)
	}
	if len(config.Stops) != 1 || config.Stops[0].Name != "Oslo" {
		t.Errorf("Unexpected stops %+v", config.Stops)
	}
	if err := ValidateRunConfig(config); err != nil {
		t.Errorf("Expected parsed config to validate, got %v", err)
	}
}

func TestParseRunConfig_InvalidDuration(t *testing.T) {
	if _, err := ParseRunConfig([]byte(`{"name":"x","fallback_delay":"soon"}`), ".json"); err == nil {
		t.Error("Expected error for invalid JSON duration")
	}
	if _, err := ParseRunConfig([]byte("name: x\nfallback_delay: soon\n"), ".yml"); err == nil {
		t.Error("Expected error for invalid YAML duration")
	}
}

func TestLoadConfigByName(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "json_run.json"), []byte(`{"name":"json_run"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "yaml_run.yaml"), []byte("name: yaml_run\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_DIR", dir)

	for _, name := range []string{"json_run", "yaml_run", "yaml_run.yaml"} {
		config, err := LoadConfigByName(name)
		if err != nil {
			t.Errorf("LoadConfigByName(%s) failed: %v", name, err)
			continue
		}
		if !strings.HasPrefix(name, config.Name) {
			t.Errorf("LoadConfigByName(%s) returned %s", name, config.Name)
		}
	}

	if _, err := LoadConfigByName("missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestLoadRunConfig_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte(`{"name":"bad","base_speed":9999}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRunConfig(path); err == nil || !strings.Contains(err.Error(), "base_speed") {
		t.Errorf("Expected base_speed validation error, got %v", err)
	}
	if _, err := LoadRunConfig(filepath.Join(dir, "nope.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestInitDeliveryState(t *testing.T) {
	config := createValidConfig()
	config.Origin = Coordinate{Lat: 10, Lng: 20}
	config.StartingSpeed = 4

	state := InitDeliveryState(config)
	if state.Phase != PhasePlanning || state.SubState != SubIdle {
		t.Errorf("Expected planning/idle, got %s/%s", state.Phase, state.SubState)
	}
	if state.Motion.Position != config.Origin {
		t.Errorf("Expected origin %v, got %v", config.Origin, state.Motion.Position)
	}
	if state.Motion.Speed != 4 {
		t.Errorf("Expected speed 4, got %v", state.Motion.Speed)
	}
	if state.Message != config.Messages.Welcome {
		t.Errorf("Expected welcome message, got %q", state.Message)
	}

	if def := InitDeliveryState(nil); def.ConfigName != "default" {
		t.Errorf("Expected default config name, got %q", def.ConfigName)
	}
}
