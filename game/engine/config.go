package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration is a time.Duration that reads "3s" style strings from JSON and YAML
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ValidateRunConfig validates a run configuration for correctness
func ValidateRunConfig(config *RunConfig) error {
	if config == nil {
		return fmt.Errorf("config validation: config is nil")
	}
	if config.Name == "" {
		return fmt.Errorf("config validation: name is required")
	}

	if err := ValidateCoordinate(config.Origin); err != nil {
		return fmt.Errorf("config validation: origin: %w", err)
	}

	if config.BaseSpeed < MinBaseSpeed || config.BaseSpeed > MaxBaseSpeed {
		return fmt.Errorf("config validation: base_speed must be between %v and %v, got %v",
			MinBaseSpeed, MaxBaseSpeed, config.BaseSpeed)
	}
	if config.StartingSpeed <= 0 || config.StartingSpeed > MaxSpeedMultiplier {
		return fmt.Errorf("config validation: starting_speed must be in (0, %v], got %v",
			MaxSpeedMultiplier, config.StartingSpeed)
	}
	if config.FallbackDelay.Duration < 0 {
		return fmt.Errorf("config validation: fallback_delay must not be negative, got %s", config.FallbackDelay)
	}

	if len(config.Stops) > MaxStops {
		return fmt.Errorf("config validation: at most %d stops allowed, got %d", MaxStops, len(config.Stops))
	}
	for i, stop := range config.Stops {
		if strings.TrimSpace(stop.Name) == "" {
			return fmt.Errorf("config validation: stops[%d]: name is required", i)
		}
		if err := ValidateCoordinate(stop.Coord); err != nil {
			return fmt.Errorf("config validation: stops[%d] %q: %w", i, stop.Name, err)
		}
	}

	if config.Messages.Welcome == "" {
		return fmt.Errorf("config validation: messages.welcome is required")
	}
	if !strings.Contains(config.Messages.Arrived, "%s") {
		return fmt.Errorf("config validation: messages.arrived must contain %%s for the stop name")
	}
	if strings.Count(config.Messages.Finished, "%d") != 2 {
		return fmt.Errorf("config validation: messages.finished must contain two %%d for delivered and total counts")
	}

	return nil
}

// LoadRunConfig loads a run configuration from a JSON or YAML file
func LoadRunConfig(filename string) (*RunConfig, error) {
	configPath := filename
	if configDir := os.Getenv("CONFIG_DIR"); configDir != "" {
		if strings.HasPrefix(filename, "configs/") {
			configPath = filepath.Join(configDir, strings.TrimPrefix(filename, "configs/"))
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	config, err := ParseRunConfig(data, filepath.Ext(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", configPath, err)
	}
	if err := ValidateRunConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config '%s': %w", configPath, err)
	}
	return config, nil
}

// ParseRunConfig decodes a preset; ext selects YAML for ".yaml"/".yml" and JSON otherwise.
// Missing messages and speeds are filled from the defaults.
func ParseRunConfig(data []byte, ext string) (*RunConfig, error) {
	config := &RunConfig{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, err
		}
	}
	applyDefaults(config)
	return config, nil
}

// LoadConfigByName loads a run preset by name from the configs directory,
// trying .json, .yaml and .yml in that order
func LoadConfigByName(configName string) (*RunConfig, error) {
	dir := "configs"
	if configDir := os.Getenv("CONFIG_DIR"); configDir != "" {
		dir = configDir
	}

	candidates := []string{configName}
	if filepath.Ext(configName) == "" {
		candidates = []string{configName + ".json", configName + ".yaml", configName + ".yml"}
	}

	for _, candidate := range candidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadRunConfig(path)
	}
	return nil, fmt.Errorf("config file '%s' not found", configName)
}

// DefaultRunConfig returns the built-in preset: an empty route starting at the North Pole
func DefaultRunConfig() *RunConfig {
	config := &RunConfig{
		Name:        "default",
		Description: "Plan your own route from the North Pole",
	}
	applyDefaults(config)
	return config
}

func applyDefaults(config *RunConfig) {
	if config.Origin == (Coordinate{}) {
		config.Origin = NorthPole
	}
	if config.BaseSpeed == 0 {
		config.BaseSpeed = DefaultBaseSpeed
	}
	if config.StartingSpeed == 0 {
		config.StartingSpeed = 1
	}
	if config.FallbackDelay.Duration == 0 {
		config.FallbackDelay.Duration = DefaultFallbackDelay
	}

	m := &config.Messages
	setDefault(&m.Welcome, "Ho ho ho! Add some stops to plan tonight's route.")
	setDefault(&m.StopAdded, "Added %s to the route.")
	setDefault(&m.GeocodeFailed, "Couldn't find %s on the map.")
	setDefault(&m.RouteOptimized, "Route optimized!")
	setDefault(&m.RunStarted, "Off we go! First stop: %s")
	setDefault(&m.EnRoute, "Flying to %s...")
	setDefault(&m.Arrived, "Arrived at %s! Deliver the present?")
	setDefault(&m.Delivering, "Delivering to %s...")
	setDefault(&m.Delivered, "Delivered to %s!")
	setDefault(&m.Skipped, "Skipped %s.")
	setDefault(&m.Waiting, "Hovering over %s.")
	setDefault(&m.Finished, "All done! Delivered %d of %d presents.")
	setDefault(&m.Reset, "Back at the North Pole.")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// InitDeliveryState creates a planning-phase state parked at the configured origin
func InitDeliveryState(config *RunConfig) *DeliveryState {
	if config == nil {
		config = DefaultRunConfig()
	}
	speed := config.StartingSpeed
	if speed <= 0 {
		speed = 1
	}

	return &DeliveryState{
		Phase:    PhasePlanning,
		SubState: SubIdle,
		Stops:    []Stop{},
		Motion: MotionState{
			Position: config.Origin,
			Speed:    speed,
		},
		Message:    config.Messages.Welcome,
		ConfigName: config.Name,
		Log:        []LogEntry{},
		CurrentRun: []LogEntry{},
	}
}
