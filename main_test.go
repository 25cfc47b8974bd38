package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/game/service"
	"github.com/wricardo/santa-delivery-game/transport/mcp"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}

	expectedAppName := "Santa Delivery Game Server"
	if AppName != expectedAppName {
		t.Errorf("Expected app name %s, got %s", expectedAppName, AppName)
	}
}

func TestNewApp(t *testing.T) {
	app := newApp()

	if app.Version != Version {
		t.Errorf("Expected version %s, got %s", Version, app.Version)
	}

	commands := map[string]bool{}
	for _, cmd := range app.Commands {
		commands[cmd.Name] = true
		for _, alias := range cmd.Aliases {
			commands[alias] = true
		}
	}
	for _, name := range []string{"server", "http", "stdio-mcp", "mcp", "simulate", "validate"} {
		if !commands[name] {
			t.Errorf("Expected command %q", name)
		}
	}

	flags := map[string]bool{}
	for _, f := range app.Flags {
		for _, name := range f.Names() {
			flags[name] = true
		}
	}
	for _, name := range []string{"port", "host", "config-dir", "gemini-key", "redis-url", "database-url", "ngrok", "fps"} {
		if !flags[name] {
			t.Errorf("Expected flag %q", name)
		}
	}
}

func testConfig(t *testing.T) appConfig {
	t.Helper()
	return appConfig{
		Host:      "127.0.0.1",
		Port:      0,
		ConfigDir: t.TempDir(),
		FPS:       60,
	}
}

func TestInitializeServices(t *testing.T) {
	s, err := initializeServices(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	defer s.Close()

	if s.Delivery == nil || s.Sessions == nil || s.Hub == nil {
		t.Fatal("Expected all services to be initialized")
	}
}

func TestInitializeServices_InvalidConfigDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConfigDir = "/non/existent/path"

	if _, err := initializeServices(context.Background(), cfg); err == nil {
		t.Error("Expected error for non-existent config directory")
	}
}

func TestInitializeServices_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()
	s, err := initializeServices(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to initialize with redis: %v", err)
	}
	defer s.Close()

	if len(s.closers) != 1 {
		t.Errorf("Expected the redis client to be closed on shutdown, got %d closers", len(s.closers))
	}

	ctx := context.Background()
	info, err := s.Delivery.CreateSession(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if res, err := s.Delivery.AddStop(ctx, info.ID, "Oslo", "Sled"); err != nil || !res.Success {
		t.Fatalf("Expected Oslo geocoded, got %+v %v", res, err)
	}
	if len(mr.Keys()) == 0 {
		t.Error("Expected the geocode result cached in redis")
	}
}

func TestInitializeServices_BadRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "not-a-url"

	if _, err := initializeServices(context.Background(), cfg); err == nil {
		t.Error("Expected error for an invalid redis url")
	}
}

func TestImmediateTimer(t *testing.T) {
	select {
	case <-immediateTimer(time.Hour):
	case <-time.After(time.Second):
		t.Fatal("immediateTimer did not fire")
	}
}

func TestRunSimulation(t *testing.T) {
	s, err := initializeServices(context.Background(), testConfig(t), service.WithTimer(immediateTimer))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var out bytes.Buffer
	state, err := runSimulation(context.Background(), s.Delivery, simulation{
		Places:   []string{"Paris", "Atlantis", "Oslo"},
		Present:  "Cocoa",
		Optimize: true,
		FPS:      30,
		Timeout:  10 * time.Second,
	}, &out)
	if err != nil {
		t.Fatalf("Simulation failed: %v\n%s", err, out.String())
	}

	if state.Phase != engine.PhaseFinished {
		t.Errorf("Expected finished, got %s", state.Phase)
	}
	if state.DeliveredCount != 2 || len(state.Stops) != 2 {
		t.Errorf("Expected 2 of 2 delivered, got %d of %d", state.DeliveredCount, len(state.Stops))
	}
	// Oslo is closer to the North Pole, so the optimized route visits it first
	if state.Stops[0].Name != "Oslo" {
		t.Errorf("Expected Oslo first after optimizing, got %s", state.Stops[0].Name)
	}

	text := out.String()
	for _, want := range []string{"Couldn't find Atlantis on the map.", "All done! Delivered 2 of 2 presents."} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output:\n%s", want, text)
		}
	}
}

func TestRunSimulation_Preset(t *testing.T) {
	cfg := testConfig(t)
	preset := `{"name": "Tiny", "stops": [{"name": "Rovaniemi", "present": "Bell", "coordinate": {"lat": 66.5, "lng": 25.73}}]}`
	if err := os.WriteFile(filepath.Join(cfg.ConfigDir, "tiny.json"), []byte(preset), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := initializeServices(context.Background(), cfg, service.WithTimer(immediateTimer))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var out bytes.Buffer
	state, err := runSimulation(context.Background(), s.Delivery, simulation{Preset: "tiny", Timeout: 10 * time.Second}, &out)
	if err != nil {
		t.Fatalf("Simulation failed: %v\n%s", err, out.String())
	}
	if state.DeliveredCount != 1 {
		t.Errorf("Expected the preset stop delivered, got %d", state.DeliveredCount)
	}
}

func TestRunSimulation_NoStops(t *testing.T) {
	s, err := initializeServices(context.Background(), testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := runSimulation(context.Background(), s.Delivery, simulation{}, &bytes.Buffer{}); err == nil {
		t.Error("Expected an empty route to fail to start")
	}
}

func TestMCPHandler(t *testing.T) {
	handler := mcpHandler(mcp.NewClient("http://127.0.0.1:1"))

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/mcp", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", w.Code)
	}

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`
	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/mcp", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	for _, tool := range []string{"add_stop", "confirm_delivery", "new_route"} {
		if !strings.Contains(w.Body.String(), tool) {
			t.Errorf("Expected tool %q listed, got %s", tool, w.Body.String())
		}
	}
}
