package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrStopNotFound      = errors.New("stop not found")
	ErrNoStops           = errors.New("no stops planned")
	ErrInvalidPhase      = errors.New("operation not allowed in current phase")
	ErrRegistryFrozen    = errors.New("stop list is frozen while a run is active")
	ErrNoPending         = errors.New("no delivery awaiting confirmation")
	ErrStaleTicket       = errors.New("delivery ticket is stale")
	ErrInvalidSpeed      = errors.New("invalid speed multiplier")
)

// Engine provides the main interface for delivery operations
type Engine interface {
	// State
	GetState() *DeliveryState
	GetConfig() *RunConfig
	DrainEvents() []Event

	// Stop registry
	AddStop(name, present string, coord Coordinate) (string, error)
	RemoveStop(id string) error
	Reorder(ids []string) error

	// Run control
	StartRun() error
	Tick(dt float64) TickResult
	Pause() error
	Resume() error
	SetSpeed(multiplier float64) error

	// Confirmation and delivery
	ConfirmDelivery() (DeliveryTicket, error)
	SkipStop(id string) error
	CancelConfirmation() error
	AttachImage(ticket DeliveryTicket, image string) error
	AttachCaption(ticket DeliveryTicket, caption string) error
	CompleteDelivery(ticket DeliveryTicket) error
	DismissDeliveryModal() error
	Advance(completedID string) error

	// Resets
	Reset() *DeliveryState
	NewRoute() *DeliveryState
}

// DeliveryEngine implements the Engine interface. It is not safe for concurrent
// use; callers serialize access per session.
type DeliveryEngine struct {
	config   *RunConfig
	registry *StopRegistry
	state    *DeliveryState
	events   []Event
	now      func() time.Time
}

// NewEngine creates a new delivery engine with the provided configuration.
// Preset stops in the configuration are added to the registry.
func NewEngine(config *RunConfig) (*DeliveryEngine, error) {
	if err := ValidateRunConfig(config); err != nil {
		return nil, err
	}

	e := &DeliveryEngine{
		config:   config,
		registry: NewStopRegistry(),
		now:      time.Now,
	}
	e.state = InitDeliveryState(config)

	for _, preset := range config.Stops {
		if _, err := e.registry.AddStop(preset.Name, preset.Present, preset.Coord); err != nil {
			return nil, fmt.Errorf("preset stop: %w", err)
		}
	}

	return e, nil
}

// NewEngineWithDefaults creates a new engine with the built-in configuration
func NewEngineWithDefaults() *DeliveryEngine {
	e, err := NewEngine(DefaultRunConfig())
	if err != nil {
		panic(fmt.Sprintf("default run config is invalid: %v", err))
	}
	return e
}

// SetClock replaces the time source used for log timestamps and events
func (e *DeliveryEngine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// SetIDGenerator replaces the stop id generator
func (e *DeliveryEngine) SetIDGenerator(gen func() string) {
	if gen != nil {
		e.registry.newID = gen
	}
}

// GetState returns a snapshot of the current state. The snapshot shares no
// memory with the engine.
func (e *DeliveryEngine) GetState() *DeliveryState {
	snap := *e.state
	snap.Stops = e.registry.Snapshot()
	snap.SubState = e.subState()
	snap.DeliveredCount = CountDelivered(snap.Stops)
	if e.state.Delivery != nil {
		artifact := *e.state.Delivery
		snap.Delivery = &artifact
	}
	snap.Log = append([]LogEntry(nil), e.state.Log...)
	snap.CurrentRun = append([]LogEntry(nil), e.state.CurrentRun...)
	return &snap
}

// GetConfig returns the run configuration
func (e *DeliveryEngine) GetConfig() *RunConfig {
	return e.config
}

// DrainEvents returns and clears the events produced since the last call
func (e *DeliveryEngine) DrainEvents() []Event {
	events := e.events
	e.events = nil
	return events
}

// Phase returns the current run phase
func (e *DeliveryEngine) Phase() Phase {
	return e.state.Phase
}

// Epoch returns the reset counter; async work issued under an older epoch is stale
func (e *DeliveryEngine) Epoch() uint64 {
	return e.state.Epoch
}

// SubState returns the derived sub-state
func (e *DeliveryEngine) SubState() SubState {
	return e.subState()
}

// SetMessage replaces the status line shown to the player
func (e *DeliveryEngine) SetMessage(msg string) {
	e.state.Message = msg
}

// Notify formats one of the configured messages with a stop name and shows it
func (e *DeliveryEngine) Notify(template, name string) string {
	e.state.Message = e.say(template, name)
	return e.state.Message
}

// AddStop adds a resolved stop during planning
func (e *DeliveryEngine) AddStop(name, present string, coord Coordinate) (string, error) {
	if e.state.Phase != PhasePlanning {
		return "", ErrRegistryFrozen
	}
	id, err := e.registry.AddStop(name, present, coord)
	if err != nil {
		return "", err
	}
	stop, _ := e.registry.Get(id)
	e.state.Message = e.say(e.config.Messages.StopAdded, stop.Name)
	e.record("add_stop", stop)
	e.emit(EventStopAdded, id, e.state.Message)
	return id, nil
}

// RemoveStop removes a stop during planning
func (e *DeliveryEngine) RemoveStop(id string) error {
	if e.state.Phase != PhasePlanning {
		return ErrRegistryFrozen
	}
	stop, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStopNotFound, id)
	}
	if err := e.registry.RemoveStop(id); err != nil {
		return err
	}
	e.record("remove_stop", stop)
	e.emit(EventStopRemoved, id, "")
	return nil
}

// Reorder applies a new stop order during planning
func (e *DeliveryEngine) Reorder(ids []string) error {
	if e.state.Phase != PhasePlanning {
		return ErrRegistryFrozen
	}
	e.registry.Reorder(ids)
	e.state.Message = e.config.Messages.RouteOptimized
	e.record("reorder", Stop{})
	e.emit(EventRouteReordered, "", e.state.Message)
	return nil
}

// StartRun begins delivering from the first stop
func (e *DeliveryEngine) StartRun() error {
	if e.state.Phase != PhasePlanning {
		return fmt.Errorf("%w: start requires %s, run is %s", ErrInvalidPhase, PhasePlanning, e.state.Phase)
	}
	first, ok := e.registry.First()
	if !ok {
		return ErrNoStops
	}

	e.state.Phase = PhaseDelivering
	e.setTarget(first)
	e.state.Message = e.say(e.config.Messages.RunStarted, first.Name)
	e.record("start", first)
	e.emit(EventRunStarted, first.ID, e.state.Message)
	return nil
}

// Pause stops motion while en route
func (e *DeliveryEngine) Pause() error {
	if e.subState() != SubEnRoute {
		return fmt.Errorf("%w: pause requires %s, run is %s", ErrInvalidPhase, SubEnRoute, e.subState())
	}
	e.state.Motion.Playing = false
	e.emit(EventPaused, e.state.Motion.TargetID, "")
	return nil
}

// Resume continues a paused trip, or re-opens the confirmation for a stop whose
// confirmation was cancelled
func (e *DeliveryEngine) Resume() error {
	switch e.subState() {
	case SubPaused:
		e.state.Motion.Playing = true
		e.emit(EventResumed, e.state.Motion.TargetID, "")
		return nil
	case SubWaitingIdle:
		target, ok := e.registry.Get(e.state.Motion.TargetID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrStopNotFound, e.state.Motion.TargetID)
		}
		e.state.PendingConfirmation = target.ID
		e.state.Message = e.say(e.config.Messages.Arrived, target.Name)
		e.emit(EventResumed, target.ID, e.state.Message)
		return nil
	default:
		return fmt.Errorf("%w: nothing to resume in %s", ErrInvalidPhase, e.subState())
	}
}

// SetSpeed changes the speed multiplier
func (e *DeliveryEngine) SetSpeed(multiplier float64) error {
	if !isFinite(multiplier) || multiplier <= 0 || multiplier > MaxSpeedMultiplier {
		return fmt.Errorf("%w: %v (must be in (0, %v])", ErrInvalidSpeed, multiplier, MaxSpeedMultiplier)
	}
	e.state.Motion.Speed = multiplier
	e.emit(EventSpeedChanged, "", fmt.Sprintf("speed x%.2f", multiplier))
	return nil
}

// ConfirmDelivery accepts the pending stop: the stop is marked delivered right
// away and the returned ticket drives the asynchronous narrative sequence.
func (e *DeliveryEngine) ConfirmDelivery() (DeliveryTicket, error) {
	s := e.state
	if s.Phase != PhaseDelivering || s.PendingConfirmation == "" {
		return DeliveryTicket{}, ErrNoPending
	}
	pendingID := s.PendingConfirmation
	stop, ok := e.registry.Get(pendingID)
	if !ok {
		s.PendingConfirmation = ""
		return DeliveryTicket{}, fmt.Errorf("%w: %s", ErrStopNotFound, pendingID)
	}

	s.PendingConfirmation = ""
	s.Motion.Playing = false
	s.Motion.IsDelivering = true
	if err := e.registry.MarkDelivered(stop.ID); err != nil {
		return DeliveryTicket{}, err
	}
	s.Delivery = &DeliveryArtifact{
		StopID:   stop.ID,
		StopName: stop.Name,
		Present:  stop.Present,
	}
	s.Message = e.say(e.config.Messages.Delivering, stop.Name)

	e.record("deliver", stop)
	e.emit(EventDeliveryStart, stop.ID, s.Message)
	e.emit(EventDelivered, stop.ID, "")

	return DeliveryTicket{
		StopID:   stop.ID,
		StopName: stop.Name,
		Present:  stop.Present,
		Epoch:    s.Epoch,
	}, nil
}

// SkipStop moves on from an arrived stop without delivering
func (e *DeliveryEngine) SkipStop(id string) error {
	sub := e.subState()
	if sub != SubAwaitingConfirm && sub != SubWaitingIdle {
		return fmt.Errorf("%w: skip requires an arrived stop, run is %s", ErrInvalidPhase, sub)
	}
	if id == "" {
		id = e.state.Motion.TargetID
	}
	if id != e.state.Motion.TargetID {
		return fmt.Errorf("%w: %s is not the current stop", ErrStopNotFound, id)
	}
	stop, _ := e.registry.Get(id)

	e.state.PendingConfirmation = ""
	e.state.Message = e.say(e.config.Messages.Skipped, stop.Name)
	e.record("skip", stop)
	e.emit(EventSkipped, id, e.state.Message)
	return e.Advance(id)
}

// CancelConfirmation closes the confirmation without deciding. Motion stays
// paused until the player resumes or skips.
func (e *DeliveryEngine) CancelConfirmation() error {
	if e.subState() != SubAwaitingConfirm {
		return ErrNoPending
	}
	stop, _ := e.registry.Get(e.state.PendingConfirmation)
	e.state.PendingConfirmation = ""
	e.state.Message = e.say(e.config.Messages.Waiting, stop.Name)
	e.record("cancel", stop)
	e.emit(EventWaiting, stop.ID, e.state.Message)
	return nil
}

// AttachImage stores the generated image for the delivery in flight. The run
// then waits for DismissDeliveryModal.
func (e *DeliveryEngine) AttachImage(ticket DeliveryTicket, image string) error {
	artifact, err := e.artifactFor(ticket)
	if err != nil {
		return err
	}
	artifact.Image = image
	artifact.ImageReady = true
	e.emit(EventImageReady, ticket.StopID, "")
	return nil
}

// AttachCaption stores the generated caption for the delivery in flight
func (e *DeliveryEngine) AttachCaption(ticket DeliveryTicket, caption string) error {
	artifact, err := e.artifactFor(ticket)
	if err != nil {
		return err
	}
	artifact.Caption = caption
	artifact.CaptionReady = true
	e.state.Message = caption
	e.emit(EventCaptionReady, ticket.StopID, caption)
	return nil
}

// CompleteDelivery ends a delivery whose image could not be produced
func (e *DeliveryEngine) CompleteDelivery(ticket DeliveryTicket) error {
	artifact, err := e.artifactFor(ticket)
	if err != nil {
		return err
	}
	if artifact.ImageReady {
		return fmt.Errorf("%w: delivery %s is waiting for dismissal", ErrInvalidPhase, ticket.StopID)
	}
	return e.finishDelivery(ticket.StopID)
}

// DismissDeliveryModal closes the generated image and moves on
func (e *DeliveryEngine) DismissDeliveryModal() error {
	if e.subState() != SubAwaitingDismissal {
		return fmt.Errorf("%w: no delivery image is open", ErrInvalidPhase)
	}
	return e.finishDelivery(e.state.Delivery.StopID)
}

func (e *DeliveryEngine) finishDelivery(stopID string) error {
	stop, _ := e.registry.Get(stopID)
	e.state.Message = e.say(e.config.Messages.Delivered, stop.Name)
	return e.Advance(stopID)
}

// Advance targets the stop after completedID in registry order, or finishes
// the run when completedID was the last one
func (e *DeliveryEngine) Advance(completedID string) error {
	s := e.state
	if s.Phase != PhaseDelivering {
		return fmt.Errorf("%w: advance requires %s, run is %s", ErrInvalidPhase, PhaseDelivering, s.Phase)
	}
	if e.registry.Index(completedID) < 0 {
		return fmt.Errorf("%w: %s", ErrStopNotFound, completedID)
	}

	s.PendingConfirmation = ""
	s.Motion.IsDelivering = false
	s.Delivery = nil

	next, ok := e.registry.Next(completedID)
	if !ok {
		s.Phase = PhaseFinished
		s.Motion.Playing = false
		s.Motion.TargetID = ""
		e.registry.SetNext("")
		s.Message = fmt.Sprintf(e.config.Messages.Finished, CountDelivered(e.registry.stops), e.registry.Len())
		e.record("finish", Stop{})
		e.emit(EventFinished, "", s.Message)
		return nil
	}

	e.setTarget(next)
	e.record("advance", next)
	e.emit(EventAdvanced, next.ID, e.say(e.config.Messages.EnRoute, next.Name))
	return nil
}

// Reset returns to planning keeping the stop list. Delivered flags, motion,
// confirmation and delivery artifacts are cleared and the epoch moves on so
// that in-flight async results are discarded.
func (e *DeliveryEngine) Reset() *DeliveryState {
	e.reset(false)
	return e.GetState()
}

// NewRoute is Reset plus clearing the stop list
func (e *DeliveryEngine) NewRoute() *DeliveryState {
	e.reset(true)
	return e.GetState()
}

func (e *DeliveryEngine) reset(clearList bool) {
	prev := e.state

	e.registry.Reset(clearList)
	e.state = InitDeliveryState(e.config)

	// Cumulative log, epoch and the player's speed survive
	e.state.Log = prev.Log
	e.state.Epoch = prev.Epoch + 1
	e.state.Motion.Speed = prev.Motion.Speed
	e.state.Message = e.config.Messages.Reset

	action := "reset"
	if clearList {
		action = "new_route"
	}
	e.record(action, Stop{})
	e.emit(EventReset, "", e.state.Message)
}

// setTarget points motion at stop and clears the arrival guard
func (e *DeliveryEngine) setTarget(stop Stop) {
	s := e.state
	s.Motion.TargetID = stop.ID
	s.Motion.Playing = true
	s.LastArrivalID = ""
	e.registry.SetNext(stop.ID)
}

func (e *DeliveryEngine) artifactFor(ticket DeliveryTicket) (*DeliveryArtifact, error) {
	s := e.state
	if ticket.Epoch != s.Epoch {
		return nil, fmt.Errorf("%w: epoch %d, current %d", ErrStaleTicket, ticket.Epoch, s.Epoch)
	}
	if s.Delivery == nil || s.Delivery.StopID != ticket.StopID {
		return nil, fmt.Errorf("%w: no delivery in flight for %s", ErrStaleTicket, ticket.StopID)
	}
	return s.Delivery, nil
}

// subState derives the observable sub-state from phase, motion and artifacts
func (e *DeliveryEngine) subState() SubState {
	s := e.state
	switch s.Phase {
	case PhasePlanning:
		return SubIdle
	case PhaseFinished:
		return SubFinished
	}

	switch {
	case s.Delivery != nil && s.Delivery.ImageReady:
		return SubAwaitingDismissal
	case s.Motion.IsDelivering:
		return SubDeliveringProgress
	case s.PendingConfirmation != "":
		return SubAwaitingConfirm
	case s.Motion.Playing:
		return SubEnRoute
	case s.LastArrivalID != "" && s.LastArrivalID == s.Motion.TargetID:
		return SubWaitingIdle
	default:
		return SubPaused
	}
}

func (e *DeliveryEngine) baseSpeed() float64 {
	if e.config.BaseSpeed > 0 {
		return e.config.BaseSpeed
	}
	return DefaultBaseSpeed
}

func (e *DeliveryEngine) say(template, name string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, name)
	}
	return template
}

func (e *DeliveryEngine) emit(eventType, stopID, message string) {
	e.events = append(e.events, Event{
		Type:      eventType,
		StopID:    stopID,
		Message:   message,
		Timestamp: e.now(),
	})
}

// record appends a transition to both the cumulative log and the current run segment
func (e *DeliveryEngine) record(action string, stop Stop) {
	entry := LogEntry{
		Action:    action,
		StopID:    stop.ID,
		StopName:  stop.Name,
		Position:  e.state.Motion.Position,
		Timestamp: e.now().Unix(),
		Sequence:  len(e.state.Log) + 1,
	}
	e.state.Log = append(e.state.Log, entry)
	e.state.CurrentRun = append(e.state.CurrentRun, entry)
}
