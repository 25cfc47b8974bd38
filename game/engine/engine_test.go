package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func createTestConfig() *RunConfig {
	config := &RunConfig{
		Name:        "Engine Test Config",
		Description: "Configuration for engine integration tests",
	}
	applyDefaults(config)
	return config
}

// newTestEngine returns an engine with sequential stop ids (stop-1, stop-2, ...)
// and a fixed clock
func newTestEngine(t *testing.T) *DeliveryEngine {
	t.Helper()
	e, err := NewEngine(createTestConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	n := 0
	e.SetIDGenerator(func() string {
		n++
		return fmt.Sprintf("stop-%d", n)
	})
	fixed := time.Date(2024, 12, 24, 23, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return fixed })
	return e
}

func mustAdd(t *testing.T, e *DeliveryEngine, name string, lat, lng float64) string {
	t.Helper()
	id, err := e.AddStop(name, "a present for "+name, Coordinate{Lat: lat, Lng: lng})
	if err != nil {
		t.Fatalf("AddStop(%s) failed: %v", name, err)
	}
	return id
}

// flyUntilStopped ticks at 60fps until motion stops
func flyUntilStopped(t *testing.T, e *DeliveryEngine) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		e.Tick(1.0 / 60)
		if !e.state.Motion.Playing {
			return
		}
	}
	t.Fatal("Santa never arrived")
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(createTestConfig())
	if err != nil {
		t.Fatalf("Failed to create new engine: %v", err)
	}

	state := engine.GetState()
	if state.Phase != PhasePlanning {
		t.Errorf("Expected phase %s, got %s", PhasePlanning, state.Phase)
	}
	if state.SubState != SubIdle {
		t.Errorf("Expected sub-state %s, got %s", SubIdle, state.SubState)
	}
	if state.Motion.Position != NorthPole {
		t.Errorf("Expected Santa at the North Pole, got %v", state.Motion.Position)
	}
	if state.Motion.Playing {
		t.Error("Expected motion not to be playing initially")
	}
	if state.Motion.Speed != 1 {
		t.Errorf("Expected speed multiplier 1, got %v", state.Motion.Speed)
	}
	if len(state.Stops) != 0 {
		t.Errorf("Expected no stops, got %d", len(state.Stops))
	}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	config := createTestConfig()
	config.Name = ""

	if _, err := NewEngine(config); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestNewEngine_PresetStops(t *testing.T) {
	config := createTestConfig()
	config.Stops = []PresetStop{
		{Name: "Paris", Present: "Beret", Coord: Coordinate{Lat: 48.85, Lng: 2.35}},
		{Name: "Oslo", Present: "Skis", Coord: Coordinate{Lat: 59.91, Lng: 10.75}},
	}

	engine, err := NewEngine(config)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	stops := engine.GetState().Stops
	if len(stops) != 2 || stops[0].Name != "Paris" || stops[1].Name != "Oslo" {
		t.Errorf("Expected preset stops in order, got %+v", stops)
	}
}

func TestNewEngineWithDefaults(t *testing.T) {
	engine := NewEngineWithDefaults()
	if engine == nil {
		t.Fatal("Expected engine to be non-nil")
	}
	if engine.GetConfig().BaseSpeed != DefaultBaseSpeed {
		t.Errorf("Expected base speed %v, got %v", DefaultBaseSpeed, engine.GetConfig().BaseSpeed)
	}
}

// Scenario: add Paris, start, fly until arrival
func TestEngine_ScenarioArriveAtSingleStop(t *testing.T) {
	e := newTestEngine(t)
	a := mustAdd(t, e, "Paris", 48.85, 2.35)

	if err := e.StartRun(); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	state := e.GetState()
	if state.Motion.TargetID != a || !state.Motion.Playing {
		t.Fatalf("Expected target=%s playing=true, got target=%s playing=%v",
			a, state.Motion.TargetID, state.Motion.Playing)
	}

	flyUntilStopped(t, e)

	state = e.GetState()
	if state.Motion.Playing {
		t.Error("Expected playing=false after arrival")
	}
	want := Coordinate{Lat: 48.85, Lng: 2.35}
	if state.Motion.Position != want {
		t.Errorf("Expected position exactly %v, got %v", want, state.Motion.Position)
	}
	if state.PendingConfirmation != a {
		t.Errorf("Expected pending confirmation %s, got %q", a, state.PendingConfirmation)
	}
	if state.SubState != SubAwaitingConfirm {
		t.Errorf("Expected sub-state %s, got %s", SubAwaitingConfirm, state.SubState)
	}
}

// Scenario: confirm at A marks delivered, completion advances to B
func TestEngine_ScenarioConfirmThenAdvance(t *testing.T) {
	e := newTestEngine(t)
	a := mustAdd(t, e, "A", 80, 0)
	b := mustAdd(t, e, "B", 80, 10)

	if err := e.StartRun(); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	flyUntilStopped(t, e)

	ticket, err := e.ConfirmDelivery()
	if err != nil {
		t.Fatalf("ConfirmDelivery failed: %v", err)
	}
	state := e.GetState()
	if !state.Stops[0].Delivered {
		t.Error("Expected A delivered immediately on confirm")
	}
	if state.SubState != SubDeliveringProgress {
		t.Errorf("Expected sub-state %s, got %s", SubDeliveringProgress, state.SubState)
	}
	if state.PendingConfirmation != "" {
		t.Errorf("Expected pending confirmation cleared, got %q", state.PendingConfirmation)
	}

	if err := e.AttachImage(ticket, "data:image/png;base64,AAAA"); err != nil {
		t.Fatalf("AttachImage failed: %v", err)
	}
	if err := e.AttachCaption(ticket, "Joy delivered"); err != nil {
		t.Fatalf("AttachCaption failed: %v", err)
	}
	if got := e.GetState().SubState; got != SubAwaitingDismissal {
		t.Errorf("Expected sub-state %s, got %s", SubAwaitingDismissal, got)
	}

	if err := e.DismissDeliveryModal(); err != nil {
		t.Fatalf("DismissDeliveryModal failed: %v", err)
	}
	state = e.GetState()
	if state.Motion.TargetID != b || !state.Motion.Playing {
		t.Errorf("Expected target=%s playing=true, got target=%s playing=%v",
			b, state.Motion.TargetID, state.Motion.Playing)
	}
	if state.Motion.IsDelivering {
		t.Error("Expected is_delivering cleared after advance")
	}
	if state.Delivery != nil {
		t.Error("Expected delivery artifact cleared after advance")
	}
	if state.LastArrivalID != "" {
		t.Errorf("Expected arrival guard cleared, got %q", state.LastArrivalID)
	}
	if !state.Stops[1].IsNext || state.Stops[0].IsNext {
		t.Error("Expected B flagged as next")
	}
	_ = a
}

// Scenario: skipping the only stop finishes the run without delivering
func TestEngine_ScenarioSkipSingleStop(t *testing.T) {
	e := newTestEngine(t)
	a := mustAdd(t, e, "A", 85, 0)

	if err := e.StartRun(); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	flyUntilStopped(t, e)

	if err := e.SkipStop(a); err != nil {
		t.Fatalf("SkipStop failed: %v", err)
	}
	state := e.GetState()
	if state.Stops[0].Delivered {
		t.Error("Expected skipped stop to remain undelivered")
	}
	if state.Phase != PhaseFinished {
		t.Errorf("Expected phase %s, got %s", PhaseFinished, state.Phase)
	}
	if state.Motion.TargetID != "" {
		t.Errorf("Expected no dangling target, got %q", state.Motion.TargetID)
	}
	if state.Message != "All done! Delivered 0 of 1 presents." {
		t.Errorf("Unexpected finish message: %q", state.Message)
	}
}

func TestEngine_ImageFailurePath(t *testing.T) {
	e := newTestEngine(t)
	mustAdd(t, e, "A", 85, 0)
	b := mustAdd(t, e, "B", 85, 5)
	_ = e.StartRun()
	flyUntilStopped(t, e)

	ticket, err := e.ConfirmDelivery()
	if err != nil {
		t.Fatalf("ConfirmDelivery failed: %v", err)
	}
	if err := e.AttachCaption(ticket, "fallback caption"); err != nil {
		t.Fatalf("AttachCaption failed: %v", err)
	}
	if err := e.DismissDeliveryModal(); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase dismissing without image, got %v", err)
	}
	if err := e.CompleteDelivery(ticket); err != nil {
		t.Fatalf("CompleteDelivery failed: %v", err)
	}
	if got := e.GetState().Motion.TargetID; got != b {
		t.Errorf("Expected target %s, got %s", b, got)
	}
}

func TestEngine_CompleteDeliveryRejectedWhileImageOpen(t *testing.T) {
	e := newTestEngine(t)
	mustAdd(t, e, "A", 85, 0)
	_ = e.StartRun()
	flyUntilStopped(t, e)
	ticket, _ := e.ConfirmDelivery()
	_ = e.AttachImage(ticket, "data:image/svg+xml;base64,AA==")

	if err := e.CompleteDelivery(ticket); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase, got %v", err)
	}
}

func TestEngine_StaleTicketDroppedAfterReset(t *testing.T) {
	e := newTestEngine(t)
	mustAdd(t, e, "A", 85, 0)
	_ = e.StartRun()
	flyUntilStopped(t, e)

	ticket, err := e.ConfirmDelivery()
	if err != nil {
		t.Fatalf("ConfirmDelivery failed: %v", err)
	}
	e.Reset()

	if err := e.AttachImage(ticket, "late image"); !errors.Is(err, ErrStaleTicket) {
		t.Errorf("Expected ErrStaleTicket for image, got %v", err)
	}
	if err := e.AttachCaption(ticket, "late caption"); !errors.Is(err, ErrStaleTicket) {
		t.Errorf("Expected ErrStaleTicket for caption, got %v", err)
	}
	if err := e.CompleteDelivery(ticket); !errors.Is(err, ErrStaleTicket) {
		t.Errorf("Expected ErrStaleTicket for completion, got %v", err)
	}
	state := e.GetState()
	if state.Phase != PhasePlanning || state.Delivery != nil {
		t.Errorf("Expected untouched planning state, got phase=%s delivery=%v", state.Phase, state.Delivery)
	}
}

func TestEngine_CancelThenResumeAndSkip(t *testing.T) {
	e := newTestEngine(t)
	a := mustAdd(t, e, "A", 85, 0)
	mustAdd(t, e, "B", 85, 5)
	_ = e.StartRun()
	flyUntilStopped(t, e)

	if err := e.CancelConfirmation(); err != nil {
		t.Fatalf("CancelConfirmation failed: %v", err)
	}
	state := e.GetState()
	if state.SubState != SubWaitingIdle {
		t.Fatalf("Expected sub-state %s, got %s", SubWaitingIdle, state.SubState)
	}
	if state.Motion.Playing {
		t.Error("Expected motion to stay paused while waiting")
	}

	// Further frames must not re-open the confirmation
	e.Tick(1)
	if e.GetState().PendingConfirmation != "" {
		t.Error("Expected arrival guard to keep confirmation closed")
	}

	if err := e.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := e.GetState().PendingConfirmation; got != a {
		t.Errorf("Expected confirmation re-opened for %s, got %q", a, got)
	}

	if err := e.CancelConfirmation(); err != nil {
		t.Fatalf("second CancelConfirmation failed: %v", err)
	}
	if err := e.SkipStop(""); err != nil {
		t.Fatalf("SkipStop from waiting failed: %v", err)
	}
	if got := e.GetState().SubState; got != SubEnRoute {
		t.Errorf("Expected sub-state %s, got %s", SubEnRoute, got)
	}
}

func TestEngine_PauseResume(t *testing.T) {
	e := newTestEngine(t)
	mustAdd(t, e, "A", 50, 0)
	_ = e.StartRun()
	e.Tick(0.5)

	if err := e.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if got := e.GetState().SubState; got != SubPaused {
		t.Errorf("Expected sub-state %s, got %s", SubPaused, got)
	}
	before := e.GetState().Motion.Position
	e.Tick(1)
	if e.GetState().Motion.Position != before {
		t.Error("Expected no motion while paused")
	}
	if err := e.Pause(); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase pausing twice, got %v", err)
	}
	if err := e.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := e.GetState().SubState; got != SubEnRoute {
		t.Errorf("Expected sub-state %s, got %s", SubEnRoute, got)
	}
}

func TestEngine_PhaseGuards(t *testing.T) {
	e := newTestEngine(t)

	if err := e.StartRun(); !errors.Is(err, ErrNoStops) {
		t.Errorf("Expected ErrNoStops, got %v", err)
	}
	if _, err := e.ConfirmDelivery(); !errors.Is(err, ErrNoPending) {
		t.Errorf("Expected ErrNoPending, got %v", err)
	}
	if err := e.SkipStop(""); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase for skip in planning, got %v", err)
	}
	if err := e.Advance("nope"); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase for advance in planning, got %v", err)
	}

	a := mustAdd(t, e, "A", 85, 0)
	_ = e.StartRun()

	if err := e.StartRun(); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase starting twice, got %v", err)
	}
	if _, err := e.AddStop("B", "", Coordinate{Lat: 1, Lng: 1}); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("Expected ErrRegistryFrozen adding mid-run, got %v", err)
	}
	if err := e.RemoveStop(a); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("Expected ErrRegistryFrozen removing mid-run, got %v", err)
	}
	if err := e.Reorder([]string{a}); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("Expected ErrRegistryFrozen reordering mid-run, got %v", err)
	}
	if err := e.CancelConfirmation(); !errors.Is(err, ErrNoPending) {
		t.Errorf("Expected ErrNoPending cancelling en route, got %v", err)
	}
}

func TestEngine_SetSpeed(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		speed   float64
		wantErr bool
	}{
		{2, false},
		{MaxSpeedMultiplier, false},
		{0, true},
		{-1, true},
		{MaxSpeedMultiplier + 1, true},
	}
	for _, tt := range tests {
		err := e.SetSpeed(tt.speed)
		if (err != nil) != tt.wantErr {
			t.Errorf("SetSpeed(%v) error = %v, wantErr %v", tt.speed, err, tt.wantErr)
		}
	}
	if got := e.GetState().Motion.Speed; got != MaxSpeedMultiplier {
		t.Errorf("Expected last valid speed kept, got %v", got)
	}
}

func TestEngine_Reset(t *testing.T) {
	e := newTestEngine(t)
	mustAdd(t, e, "A", 85, 0)
	mustAdd(t, e, "B", 85, 5)
	_ = e.SetSpeed(3)
	_ = e.StartRun()
	flyUntilStopped(t, e)
	ticket, _ := e.ConfirmDelivery()
	epoch := ticket.Epoch

	state := e.Reset()

	if state.Phase != PhasePlanning {
		t.Errorf("Expected phase %s, got %s", PhasePlanning, state.Phase)
	}
	if len(state.Stops) != 2 {
		t.Errorf("Expected soft reset to keep 2 stops, got %d", len(state.Stops))
	}
	for _, stop := range state.Stops {
		if stop.Delivered || stop.IsNext {
			t.Errorf("Expected flags cleared on %s", stop.Name)
		}
	}
	if state.Motion.Position != NorthPole || state.Motion.Playing || state.Motion.TargetID != "" {
		t.Errorf("Expected idle at origin, got %+v", state.Motion)
	}
	if state.PendingConfirmation != "" || state.Delivery != nil || state.LastArrivalID != "" {
		t.Error("Expected confirmation, artifacts and guard cleared")
	}
	if state.Epoch != epoch+1 {
		t.Errorf("Expected epoch %d, got %d", epoch+1, state.Epoch)
	}
	if state.Motion.Speed != 3 {
		t.Errorf("Expected speed multiplier kept across reset, got %v", state.Motion.Speed)
	}
	if len(state.CurrentRun) != 1 || state.CurrentRun[0].Action != "reset" {
		t.Errorf("Expected current run restarted with a reset entry, got %+v", state.CurrentRun)
	}
	if len(state.Log) <= len(state.CurrentRun) {
		t.Error("Expected cumulative log to survive reset")
	}

	state = e.NewRoute()
	if len(state.Stops) != 0 {
		t.Errorf("Expected new route to clear stops, got %d", len(state.Stops))
	}
	if state.Epoch != epoch+2 {
		t.Errorf("Expected epoch %d, got %d", epoch+2, state.Epoch)
	}
}

func TestEngine_DeliveredOnceUntilReset(t *testing.T) {
	e := newTestEngine(t)
	mustAdd(t, e, "A", 85, 0)
	_ = e.StartRun()
	flyUntilStopped(t, e)

	if _, err := e.ConfirmDelivery(); err != nil {
		t.Fatalf("ConfirmDelivery failed: %v", err)
	}
	if _, err := e.ConfirmDelivery(); !errors.Is(err, ErrNoPending) {
		t.Errorf("Expected ErrNoPending confirming twice, got %v", err)
	}
	if got := e.GetState().DeliveredCount; got != 1 {
		t.Errorf("Expected 1 delivered, got %d", got)
	}
}

func TestEngine_StateSnapshotIsolation(t *testing.T) {
	e := newTestEngine(t)
	mustAdd(t, e, "A", 85, 0)

	snap := e.GetState()
	snap.Stops[0].Name = "mutated"
	snap.Motion.Position = Coordinate{Lat: 1, Lng: 1}

	fresh := e.GetState()
	if fresh.Stops[0].Name != "A" {
		t.Error("Expected snapshot stops not to alias engine stops")
	}
	if fresh.Motion.Position != NorthPole {
		t.Error("Expected snapshot motion not to alias engine motion")
	}
}

func TestEngine_Events(t *testing.T) {
	e := newTestEngine(t)
	a := mustAdd(t, e, "A", 85, 0)
	_ = e.StartRun()
	flyUntilStopped(t, e)
	_ = e.SkipStop(a)

	var types []string
	for _, ev := range e.DrainEvents() {
		types = append(types, ev.Type)
	}
	want := []string{EventStopAdded, EventRunStarted, EventArrived, EventSkipped, EventFinished}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("Expected events %v, got %v", want, types)
	}
	if len(e.DrainEvents()) != 0 {
		t.Error("Expected events drained")
	}
}
