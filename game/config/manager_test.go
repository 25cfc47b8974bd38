package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/game/service"
)

func createValidConfig() *engine.RunConfig {
	config := engine.DefaultRunConfig()
	config.Name = "Test Config"
	config.Description = "Test configuration"
	config.Stops = []engine.PresetStop{
		{Name: "Reykjavik", Present: "Wool socks", Coord: engine.Coordinate{Lat: 64.15, Lng: -21.94}},
	}
	return config
}

func writeConfigFile(t *testing.T, dir, name string, config *engine.RunConfig) {
	t.Helper()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}

	filename := name
	if filepath.Ext(filename) == "" {
		filename = name + ".json"
	}

	if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

func writeRaw(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", filename, err)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("classic preferred as default", func(t *testing.T) {
		dir := t.TempDir()
		classic := createValidConfig()
		classic.Name = "Classic"
		writeConfigFile(t, dir, "classic", classic)
		writeConfigFile(t, dir, "another", createValidConfig())

		manager, err := NewManager(dir)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if got := manager.GetDefault().Name; got != "Classic" {
			t.Errorf("Expected classic default, got %q", got)
		}
	})

	t.Run("non-existent directory", func(t *testing.T) {
		if _, err := NewManager("/non/existent/path"); err == nil {
			t.Error("Expected error for non-existent directory")
		}
	})

	t.Run("empty directory uses built-in default", func(t *testing.T) {
		manager, err := NewManager(t.TempDir())
		if err != nil {
			t.Fatalf("NewManager should succeed without config files, got %v", err)
		}
		def := manager.GetDefault()
		if def == nil || def.Name != "default" {
			t.Fatalf("Expected built-in default, got %+v", def)
		}
		if err := engine.ValidateRunConfig(def); err != nil {
			t.Errorf("Expected built-in default to validate, got %v", err)
		}
	})

	t.Run("first valid preset when classic missing", func(t *testing.T) {
		dir := t.TempDir()
		cfg := createValidConfig()
		cfg.Name = "Alpha"
		writeConfigFile(t, dir, "alpha", cfg)

		manager, err := NewManager(dir)
		if err != nil {
			t.Fatal(err)
		}
		if got := manager.GetDefault().Name; got != "Alpha" {
			t.Errorf("Expected Alpha default, got %q", got)
		}
	})
}

func TestManager_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "classic", createValidConfig())
	writeRaw(t, dir, "nordic.yaml", `
name: Nordic
description: Cold places first
base_speed: 15
fallback_delay: 2s
stops:
  - name: Oslo
    present: Skis
    coordinate: {lat: 59.91, lng: 10.75}
`)
	writeRaw(t, dir, "broken.json", `{"name": "Broken", "base_speed": 5000}`)
	writeRaw(t, dir, "garbage.json", `{not json`)

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		input     string
		wantName  string
		wantErrIs error
		wantErr   bool
	}{
		{"json without extension", "classic", "Test Config", nil, false},
		{"json with extension", "classic.json", "Test Config", nil, false},
		{"yaml without extension", "nordic", "Nordic", nil, false},
		{"yaml with extension", "nordic.yaml", "Nordic", nil, false},
		{"missing", "nowhere", "", ErrConfigNotFound, true},
		{"path traversal", "../etc/passwd", "", ErrConfigNotFound, true},
		{"invalid values", "broken", "", ErrInvalidConfig, true},
		{"malformed", "garbage", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := manager.LoadConfig(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				if tt.wantErrIs != nil && !errors.Is(err, tt.wantErrIs) {
					t.Errorf("Expected %v, got %v", tt.wantErrIs, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if config.Name != tt.wantName {
				t.Errorf("Expected %q, got %q", tt.wantName, config.Name)
			}
		})
	}

	nordic, _ := manager.LoadConfig("nordic")
	if nordic.FallbackDelay.Duration != 2*time.Second || nordic.BaseSpeed != 15 {
		t.Errorf("Unexpected YAML values %+v", nordic)
	}
	if !errors.Is(ErrConfigNotFound, service.ErrConfigNotFound) {
		t.Error("Expected config sentinel to match the service sentinel")
	}
}

func TestManager_ListConfigs(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "classic", createValidConfig())
	writeRaw(t, dir, "nordic.yml", "name: Nordic\n")
	writeRaw(t, dir, "broken.json", `{"name": ""}`)
	writeRaw(t, dir, "README.md", "not a preset")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	configs, err := manager.ListConfigs()
	if err != nil {
		t.Fatalf("ListConfigs failed: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("Expected 2 valid configs, got %d", len(configs))
	}
	if configs[0].ConfigID != "classic" || configs[1].ConfigID != "nordic" {
		t.Errorf("Expected sorted ids [classic nordic], got [%s %s]", configs[0].ConfigID, configs[1].ConfigID)
	}
	if configs[0].Stops != 1 {
		t.Errorf("Expected 1 preset stop, got %d", configs[0].Stops)
	}
	if configs[1].Filename != "nordic.yml" || configs[1].BaseSpeed != engine.DefaultBaseSpeed {
		t.Errorf("Unexpected info %+v", configs[1])
	}
}

func TestManager_SaveConfig(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("json round trip", func(t *testing.T) {
		cfg := createValidConfig()
		cfg.Name = "Saved"
		if err := manager.SaveConfig("saved", cfg); err != nil {
			t.Fatalf("SaveConfig failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "saved.json")); err != nil {
			t.Errorf("Expected saved.json on disk: %v", err)
		}
		if err := manager.RefreshCache(); err != nil {
			t.Fatal(err)
		}
		loaded, err := manager.LoadConfig("saved")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if loaded.Name != "Saved" || len(loaded.Stops) != 1 || loaded.FallbackDelay != cfg.FallbackDelay {
			t.Errorf("Unexpected round trip %+v", loaded)
		}
	})

	t.Run("yaml round trip", func(t *testing.T) {
		cfg := createValidConfig()
		cfg.Name = "Saved YAML"
		cfg.FallbackDelay.Duration = 1500 * time.Millisecond
		if err := manager.SaveConfig("saved_yaml.yaml", cfg); err != nil {
			t.Fatalf("SaveConfig failed: %v", err)
		}
		if err := manager.RefreshCache(); err != nil {
			t.Fatal(err)
		}
		loaded, err := manager.LoadConfig("saved_yaml")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if loaded.Name != "Saved YAML" || loaded.FallbackDelay.Duration != 1500*time.Millisecond {
			t.Errorf("Unexpected round trip %+v", loaded)
		}
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		cfg := createValidConfig()
		cfg.Messages.Arrived = "no placeholder"
		if err := manager.SaveConfig("bad", cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("invalid name rejected", func(t *testing.T) {
		if err := manager.SaveConfig("../escape", createValidConfig()); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestManager_SetDefault(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "classic", createValidConfig())
	other := createValidConfig()
	other.Name = "Other"
	writeConfigFile(t, dir, "other", other)

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.SetDefault("other"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	if manager.GetDefault().Name != "Other" {
		t.Errorf("Expected Other default, got %q", manager.GetDefault().Name)
	}
	if err := manager.SetDefault("missing"); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "classic", createValidConfig())
	writeRaw(t, dir, "nordic.yaml", "name: Nordic\n")

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "classic"
			if i%2 == 0 {
				name = "nordic"
			}
			if _, err := manager.LoadConfig(name); err != nil {
				t.Errorf("LoadConfig(%s) failed: %v", name, err)
			}
			_, _ = manager.ListConfigs()
			_ = manager.GetDefault()
		}(i)
	}
	wg.Wait()
}

func TestManager_CachingBehavior(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "classic", createValidConfig())

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	first, _ := manager.LoadConfig("classic")
	changed := createValidConfig()
	changed.Name = "Changed on disk"
	writeConfigFile(t, dir, "classic", changed)

	second, _ := manager.LoadConfig("classic.json")
	if first != second {
		t.Error("Expected cached instance for both spellings")
	}

	if err := manager.RefreshCache(); err != nil {
		t.Fatal(err)
	}
	third, _ := manager.LoadConfig("classic")
	if third.Name != "Changed on disk" {
		t.Errorf("Expected reload after refresh, got %q", third.Name)
	}
}
