package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/wricardo/santa-delivery-game/game/animator"
	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/genai"
)

// DefaultBroadcastInterval limits in-flight snapshot pushes to ~10/s per session
const DefaultBroadcastInterval = 100 * time.Millisecond

// Option configures the delivery service
type Option func(*deliveryServiceImpl)

// WithBroadcaster sets where snapshots and events are pushed
func WithBroadcaster(b Broadcaster) Option {
	return func(s *deliveryServiceImpl) { s.broadcaster = b }
}

// WithTimer replaces time.After for the image-failure fallback delay
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(s *deliveryServiceImpl) { s.after = after }
}

// WithBroadcastThrottle sets how often moving sessions push snapshots
func WithBroadcastThrottle(clock animator.Clock, interval time.Duration) Option {
	return func(s *deliveryServiceImpl) { s.throttle = animator.NewThrottle(clock, interval) }
}

// deliveryServiceImpl implements the DeliveryService interface
type deliveryServiceImpl struct {
	sessions    SessionManager
	configs     ConfigManager
	assistant   Assistant
	broadcaster Broadcaster
	after       func(time.Duration) <-chan time.Time
	throttle    *animator.Throttle

	// async delivery sequences
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDeliveryService creates a new delivery service instance
func NewDeliveryService(sessions SessionManager, configs ConfigManager, assistant Assistant, opts ...Option) DeliveryService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &deliveryServiceImpl{
		sessions:    sessions,
		configs:     configs,
		assistant:   assistant,
		broadcaster: nopBroadcaster{},
		after:       time.After,
		throttle:    animator.NewThrottle(nil, DefaultBroadcastInterval),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.assistant == nil {
		s.assistant = genai.NewAssistant(genai.NewOffline(), nil)
	}
	return s
}

// getConfigID returns the config_id for a given config name, used for consistent API responses
func (s *deliveryServiceImpl) getConfigID(configName string) string {
	availableConfigs, err := s.configs.ListConfigs()
	if err == nil {
		for _, cfg := range availableConfigs {
			if cfg.Name == configName {
				return cfg.ConfigID
			}
		}
	}
	if configName == "" {
		return "default"
	}
	return configName
}

func (s *deliveryServiceImpl) sessionInfo(sess *Session, configID string) *SessionInfo {
	sess.Lock()
	state := sess.Engine.GetState()
	sess.Unlock()

	if configID == "" {
		configID = s.getConfigID(sess.Config.Name)
	}
	return &SessionInfo{
		ID:             sess.ID,
		ConfigName:     configID,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt,
		State:          state,
		Config:         sess.Config,
	}
}

// CreateSession creates a new delivery session
func (s *deliveryServiceImpl) CreateSession(ctx context.Context, configName string) (*SessionInfo, error) {
	var config *engine.RunConfig
	var err error
	if configName != "" {
		config, err = s.configs.LoadConfig(configName)
		if err != nil {
			if errors.Is(err, ErrConfigNotFound) {
				availableConfigs, listErr := s.configs.ListConfigs()
				if listErr == nil && len(availableConfigs) > 0 {
					var configIDs []string
					for _, cfg := range availableConfigs {
						configIDs = append(configIDs, cfg.ConfigID)
					}
					return nil, fmt.Errorf("%w: '%s'. Available configs: %v", ErrConfigNotFound, configName, configIDs)
				}
				return nil, fmt.Errorf("%w: '%s'. Use /api/configs to list available configurations", ErrConfigNotFound, configName)
			}
			return nil, fmt.Errorf("failed to load config %s: %w", configName, err)
		}
	} else {
		config = s.configs.GetDefault()
	}

	sess, err := s.sessions.Create("", config)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	log.Printf("[SESSION] session=%s created config=%s stops=%d", sess.ID, config.Name, len(config.Stops))

	return s.sessionInfo(sess, configName), nil
}

// GetSession retrieves session information
func (s *deliveryServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.sessionInfo(sess, ""), nil
}

// ListSessions returns all active sessions
func (s *deliveryServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, s.sessionInfo(sess, ""))
	}
	return result, nil
}

// DeleteSession removes a session
func (s *deliveryServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(sessionID); err != nil {
		return err
	}
	s.throttle.Forget(sessionID)
	log.Printf("[SESSION] session=%s deleted", sessionID)
	return nil
}

// AddStop geocodes query and adds the result as a stop. An unresolvable query
// leaves the registry untouched and returns Success=false.
func (s *deliveryServiceImpl) AddStop(ctx context.Context, sessionID, query, present string) (*IntentResult, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("add stop: location is required")
	}
	sess.Lock()
	phase, epoch := sess.Engine.Phase(), sess.Engine.Epoch()
	sess.Unlock()
	if phase != engine.PhasePlanning {
		return nil, engine.ErrRegistryFrozen
	}

	// Geocoding may take seconds; the session stays unlocked meanwhile
	place, ok := s.assistant.Geocode(genai.WithSession(ctx, sess.ID), query)
	if !ok {
		return s.intent(sess, func(e *engine.DeliveryEngine) (bool, error) {
			if err := checkEpoch(sess, e, epoch, "geocode"); err != nil {
				return false, err
			}
			e.Notify(sess.Config.Messages.GeocodeFailed, query)
			log.Printf("[STOP] session=%s geocode failed query=%q", sess.ID, query)
			return false, nil
		})
	}

	name := place.DisplayName
	if name == "" {
		name = query
	}
	return s.addResolved(sess, epoch, name, present, place.Coord)
}

// AddStopAt adds a stop at a known coordinate
func (s *deliveryServiceImpl) AddStopAt(ctx context.Context, sessionID, name, present string, coord engine.Coordinate) (*IntentResult, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	epoch := sess.Engine.Epoch()
	sess.Unlock()
	return s.addResolved(sess, epoch, name, present, coord)
}

// addResolved adds a located stop unless a reset happened since epoch was read
func (s *deliveryServiceImpl) addResolved(sess *Session, epoch uint64, name, present string, coord engine.Coordinate) (*IntentResult, error) {
	var stopID string
	result, err := s.intent(sess, func(e *engine.DeliveryEngine) (bool, error) {
		if err := checkEpoch(sess, e, epoch, "stop "+name); err != nil {
			return false, err
		}
		id, err := e.AddStop(name, present, coord)
		if err != nil {
			return false, err
		}
		stopID = id
		log.Printf("[STOP] session=%s added id=%s name=%q at=%s", sess.ID, id, name, coord)
		return true, nil
	})
	if result != nil {
		result.StopID = stopID
	}
	return result, err
}

// RemoveStop removes a stop during planning
func (s *deliveryServiceImpl) RemoveStop(ctx context.Context, sessionID, stopID string) (*IntentResult, error) {
	return s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		if err := e.RemoveStop(stopID); err != nil {
			return false, err
		}
		log.Printf("[STOP] session=%s removed id=%s", sess.ID, stopID)
		return true, nil
	})
}

// OptimizeRoute asks the assistant for a shorter order and applies it. The
// assistant always returns a permutation, falling back to the current order.
func (s *deliveryServiceImpl) OptimizeRoute(ctx context.Context, sessionID string) (*IntentResult, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	state := sess.Engine.GetState()
	sess.Unlock()
	if state.Phase != engine.PhasePlanning {
		return nil, engine.ErrRegistryFrozen
	}
	if len(state.Stops) == 0 {
		return nil, engine.ErrNoStops
	}

	ids := s.assistant.OptimizeOrder(genai.WithSession(ctx, sess.ID), sess.Config.Origin, state.Stops)

	return s.intent(sess, func(e *engine.DeliveryEngine) (bool, error) {
		if err := checkEpoch(sess, e, state.Epoch, "route order"); err != nil {
			return false, err
		}
		if err := e.Reorder(ids); err != nil {
			return false, err
		}
		log.Printf("[STOP] session=%s reordered stops=%d", sess.ID, len(ids))
		return true, nil
	})
}

// StartRun begins delivering
func (s *deliveryServiceImpl) StartRun(ctx context.Context, sessionID string) (*IntentResult, error) {
	return s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		if err := e.StartRun(); err != nil {
			return false, err
		}
		log.Printf("[RUN] session=%s started stops=%d", sess.ID, len(e.GetState().Stops))
		return true, nil
	})
}

// ConfirmDelivery accepts the pending stop and starts its delivery sequence
func (s *deliveryServiceImpl) ConfirmDelivery(ctx context.Context, sessionID string) (*IntentResult, error) {
	var ticket engine.DeliveryTicket
	result, err := s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		t, err := e.ConfirmDelivery()
		if err != nil {
			return false, err
		}
		ticket = t
		log.Printf("[DELIVERY] session=%s stop=%s epoch=%d confirmed", sess.ID, t.StopID, t.Epoch)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	sess, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go s.runDelivery(sess, ticket)

	result.StopID = ticket.StopID
	return result, nil
}

// SkipStop moves on without delivering
func (s *deliveryServiceImpl) SkipStop(ctx context.Context, sessionID, stopID string) (*IntentResult, error) {
	return s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		if err := e.SkipStop(stopID); err != nil {
			return false, err
		}
		log.Printf("[RUN] session=%s skipped stop=%s", sess.ID, stopID)
		return true, nil
	})
}

// CancelConfirmation closes the confirmation without deciding
func (s *deliveryServiceImpl) CancelConfirmation(ctx context.Context, sessionID string) (*IntentResult, error) {
	return s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		return true, e.CancelConfirmation()
	})
}

// DismissDelivery closes the delivery image and advances
func (s *deliveryServiceImpl) DismissDelivery(ctx context.Context, sessionID string) (*IntentResult, error) {
	return s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		return true, e.DismissDeliveryModal()
	})
}

// Pause stops Santa mid-flight
func (s *deliveryServiceImpl) Pause(ctx context.Context, sessionID string) (*IntentResult, error) {
	return s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		return true, e.Pause()
	})
}

// Resume continues a paused flight or re-opens a cancelled confirmation
func (s *deliveryServiceImpl) Resume(ctx context.Context, sessionID string) (*IntentResult, error) {
	return s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		return true, e.Resume()
	})
}

// SetSpeed changes the speed multiplier
func (s *deliveryServiceImpl) SetSpeed(ctx context.Context, sessionID string, multiplier float64) (*IntentResult, error) {
	return s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		return true, e.SetSpeed(multiplier)
	})
}

// Reset returns to planning keeping the stop list
func (s *deliveryServiceImpl) Reset(ctx context.Context, sessionID string) (*engine.DeliveryState, error) {
	result, err := s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		e.Reset()
		log.Printf("[RUN] session=%s reset epoch=%d", sess.ID, e.GetState().Epoch)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return result.State, nil
}

// NewRoute returns to planning with an empty stop list
func (s *deliveryServiceImpl) NewRoute(ctx context.Context, sessionID string) (*engine.DeliveryState, error) {
	result, err := s.run(sessionID, func(sess *Session, e *engine.DeliveryEngine) (bool, error) {
		e.NewRoute()
		log.Printf("[RUN] session=%s new route epoch=%d", sess.ID, e.GetState().Epoch)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return result.State, nil
}

// Animate runs one animation frame for every session that is flying
func (s *deliveryServiceImpl) Animate(dt float64) {
	for _, sess := range s.sessions.List() {
		s.tickSession(sess, dt, false)
	}
}

// Step runs one animation frame for a single session
func (s *deliveryServiceImpl) Step(ctx context.Context, sessionID string, dt float64) (*StepResult, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	res, state, events := s.tickSession(sess, dt, true)
	return &StepResult{Tick: res, State: state, Events: events}, nil
}

// tickSession runs one frame. The snapshot is only taken when it will be
// published or when want is set; idle frames return a nil state.
func (s *deliveryServiceImpl) tickSession(sess *Session, dt float64, want bool) (engine.TickResult, *engine.DeliveryState, []engine.Event) {
	sess.Lock()
	res := sess.Engine.Tick(dt)
	events := sess.Engine.DrainEvents()
	// Arrival snapshots always go out; in-flight ones are throttled
	publish := res.Arrived || len(events) > 0 || (res.Moved && s.throttle.Allow(sess.ID))
	if !publish && !want {
		sess.Unlock()
		return res, nil, nil
	}
	state := sess.Engine.GetState()
	sess.Unlock()

	if res.Arrived {
		log.Printf("[ARRIVE] session=%s stop=%s at=%s", sess.ID, res.StopID, state.Motion.Position)
	}
	for _, ev := range events {
		s.broadcaster.BroadcastEvent(sess.ID, ev)
	}
	if publish {
		s.broadcaster.BroadcastState(sess.ID, state)
	}
	return res, state, events
}

// runDelivery is the asynchronous narrative sequence for one confirmed stop:
// image first, then caption. With an image the run waits for dismissal;
// without one it waits the fallback delay and advances on its own.
func (s *deliveryServiceImpl) runDelivery(sess *Session, ticket engine.DeliveryTicket) {
	defer s.wg.Done()

	ctx := genai.WithSession(s.ctx, sess.ID)
	location, gift := ticket.StopName, ticket.Present

	image, ok := s.assistant.GenerateImage(ctx, location, gift)
	if ok {
		if !s.applyResult(sess, ticket, "image", func(e *engine.DeliveryEngine) error {
			return e.AttachImage(ticket, image)
		}) {
			return
		}
		caption := s.assistant.GenerateCaption(ctx, location, gift)
		s.applyResult(sess, ticket, "caption", func(e *engine.DeliveryEngine) error {
			return e.AttachCaption(ticket, caption)
		})
		return
	}

	caption := s.assistant.GenerateCaption(ctx, location, gift)
	if !s.applyResult(sess, ticket, "caption", func(e *engine.DeliveryEngine) error {
		return e.AttachCaption(ticket, caption)
	}) {
		return
	}

	delay := sess.Config.FallbackDelay.Duration
	if delay <= 0 {
		delay = engine.DefaultFallbackDelay
	}
	select {
	case <-s.ctx.Done():
		return
	case <-s.after(delay):
	}

	s.applyResult(sess, ticket, "complete", func(e *engine.DeliveryEngine) error {
		return e.CompleteDelivery(ticket)
	})
}

// applyResult applies an async result under the session lock. Results whose
// ticket no longer matches the engine are dropped.
func (s *deliveryServiceImpl) applyResult(sess *Session, ticket engine.DeliveryTicket, what string, fn func(*engine.DeliveryEngine) error) bool {
	sess.Lock()
	err := fn(sess.Engine)
	events := sess.Engine.DrainEvents()
	state := sess.Engine.GetState()
	sess.Unlock()

	if err != nil {
		if errors.Is(err, engine.ErrStaleTicket) {
			log.Printf("[DELIVERY] session=%s stop=%s epoch=%d dropped stale %s", sess.ID, ticket.StopID, ticket.Epoch, what)
		} else {
			log.Printf("[DELIVERY] session=%s stop=%s %s not applied: %v", sess.ID, ticket.StopID, what, err)
		}
		return false
	}

	log.Printf("[DELIVERY] session=%s stop=%s epoch=%d %s applied", sess.ID, ticket.StopID, ticket.Epoch, what)
	s.publish(sess.ID, state, events)
	return true
}

// GetState returns the current state snapshot
func (s *deliveryServiceImpl) GetState(ctx context.Context, sessionID string) (*engine.DeliveryState, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	return sess.Engine.GetState(), nil
}

// GetHistory returns a page of the delivery log
func (s *deliveryServiceImpl) GetHistory(ctx context.Context, sessionID string, opts HistoryOptions) (*HistoryResponse, error) {
	state, err := s.GetState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}

	history := state.Log
	total := len(history)
	totalPages := (total + opts.Limit - 1) / opts.Limit
	if totalPages == 0 {
		totalPages = 1
	}

	start := (opts.Page - 1) * opts.Limit
	end := start + opts.Limit
	if end > total {
		end = total
	}

	var entries []engine.LogEntry
	if opts.Order == "desc" {
		for i := total - 1 - start; i >= 0 && i >= total-end; i-- {
			entries = append(entries, history[i])
		}
	} else if start < total {
		entries = history[start:end]
	}
	if entries == nil {
		entries = []engine.LogEntry{}
	}

	return &HistoryResponse{
		Entries:      entries,
		TotalEntries: total,
		Page:         opts.Page,
		PageSize:     opts.Limit,
		TotalPages:   totalPages,
		HasNext:      opts.Page < totalPages,
		HasPrevious:  opts.Page > 1,
	}, nil
}

// ListConfigs returns available run presets
func (s *deliveryServiceImpl) ListConfigs(ctx context.Context) ([]*ConfigInfo, error) {
	return s.configs.ListConfigs()
}

// LoadConfig loads a specific run preset
func (s *deliveryServiceImpl) LoadConfig(ctx context.Context, configName string) (*engine.RunConfig, error) {
	return s.configs.LoadConfig(configName)
}

// SaveConfig saves a run preset to disk
func (s *deliveryServiceImpl) SaveConfig(ctx context.Context, configName string, config *engine.RunConfig) error {
	return s.configs.SaveConfig(configName, config)
}

// Shutdown cancels pending fallback delays and waits for in-flight sequences
func (s *deliveryServiceImpl) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *deliveryServiceImpl) getSession(sessionID string) (*Session, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	s.sessions.UpdateLastAccessed(sessionID)
	return sess, nil
}

// run looks up the session and applies fn as one serialised intent
func (s *deliveryServiceImpl) run(sessionID string, fn func(*Session, *engine.DeliveryEngine) (bool, error)) (*IntentResult, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.intent(sess, func(e *engine.DeliveryEngine) (bool, error) {
		return fn(sess, e)
	})
}

// intent runs fn under the session lock, then publishes the resulting state
// and events. An error from fn aborts without publishing.
func (s *deliveryServiceImpl) intent(sess *Session, fn func(*engine.DeliveryEngine) (bool, error)) (*IntentResult, error) {
	sess.Lock()
	success, err := fn(sess.Engine)
	if err != nil {
		sess.Engine.DrainEvents()
		sess.Unlock()
		return nil, err
	}
	events := sess.Engine.DrainEvents()
	state := sess.Engine.GetState()
	sess.Unlock()

	s.publish(sess.ID, state, events)
	return &IntentResult{
		Success: success,
		State:   state,
		Message: state.Message,
		Events:  events,
	}, nil
}

// checkEpoch rejects a result computed before the latest reset
func checkEpoch(sess *Session, e *engine.DeliveryEngine, epoch uint64, what string) error {
	if current := e.Epoch(); current != epoch {
		log.Printf("[STOP] session=%s epoch=%d current=%d dropped stale %s", sess.ID, epoch, current, what)
		return fmt.Errorf("%w: %s issued at epoch %d, current %d", engine.ErrStaleTicket, what, epoch, current)
	}
	return nil
}

func (s *deliveryServiceImpl) publish(sessionID string, state *engine.DeliveryState, events []engine.Event) {
	for _, ev := range events {
		s.broadcaster.BroadcastEvent(sessionID, ev)
	}
	s.broadcaster.BroadcastState(sessionID, state)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastState(string, *engine.DeliveryState) {}
func (nopBroadcaster) BroadcastEvent(string, engine.Event)          {}
