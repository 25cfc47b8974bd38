package engine

// Tick advances Santa toward the current target by one frame of dt seconds.
//
// The step is baseSpeed × speed multiplier × dt. When the remaining distance is
// within one step, or under ArrivalEpsilon, the position snaps exactly onto the
// target, motion stops and the arrival side effects fire once for that target.
// Any non-finite input skips the frame without touching state.
func (e *DeliveryEngine) Tick(dt float64) TickResult {
	s := e.state
	if s.Phase != PhaseDelivering || !s.Motion.Playing || s.Motion.TargetID == "" {
		return TickResult{}
	}

	target, ok := e.registry.Get(s.Motion.TargetID)
	if !ok || !target.Coord.IsFinite() {
		return TickResult{Skipped: true}
	}

	if !isFinite(dt) || dt < 0 {
		dt = 0
	}
	step := e.baseSpeed() * s.Motion.Speed * dt

	d := Distance(s.Motion.Position, target.Coord)
	if !isFinite(d) || !isFinite(step) {
		return TickResult{Skipped: true}
	}

	s.Frames++

	if d <= step || d < ArrivalEpsilon {
		s.Motion.Position = target.Coord
		s.Motion.Playing = false
		fired := e.handleArrival(target)
		return TickResult{Moved: d > 0, Arrived: fired, StopID: target.ID}
	}

	ratio := step / d
	if !isFinite(ratio) {
		return TickResult{Skipped: true}
	}
	if ratio == 0 {
		return TickResult{}
	}

	s.Motion.Position.Lat += (target.Coord.Lat - s.Motion.Position.Lat) * ratio
	s.Motion.Position.Lng += (target.Coord.Lng - s.Motion.Position.Lng) * ratio
	return TickResult{Moved: true, StopID: target.ID}
}

// handleArrival opens the confirmation for target unless this target's arrival
// was already processed. Returns whether side effects fired.
func (e *DeliveryEngine) handleArrival(target Stop) bool {
	s := e.state
	if s.LastArrivalID == target.ID {
		return false
	}
	s.LastArrivalID = target.ID
	s.PendingConfirmation = target.ID
	s.Message = e.say(e.config.Messages.Arrived, target.Name)

	e.record("arrived", target)
	e.emit(EventArrived, target.ID, s.Message)
	return true
}
