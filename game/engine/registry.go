package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StopRegistry is the ordered list of delivery targets. It exclusively owns
// its stops; everything else refers to them by id.
type StopRegistry struct {
	stops []Stop
	newID func() string
}

// NewStopRegistry creates an empty registry that assigns UUID stop ids
func NewStopRegistry() *StopRegistry {
	return &StopRegistry{
		newID: func() string { return uuid.New().String() },
	}
}

// AddStop appends a new undelivered stop and returns its id
func (r *StopRegistry) AddStop(name, present string, coord Coordinate) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("add stop: name is required")
	}
	if len(name) > MaxStopNameLength {
		return "", fmt.Errorf("add stop: name longer than %d characters", MaxStopNameLength)
	}
	if err := ValidateCoordinate(coord); err != nil {
		return "", fmt.Errorf("add stop %q: %w", name, err)
	}
	if len(r.stops) >= MaxStops {
		return "", fmt.Errorf("add stop: registry already holds %d stops", MaxStops)
	}

	id := r.newID()
	r.stops = append(r.stops, Stop{
		ID:      id,
		Name:    name,
		Present: strings.TrimSpace(present),
		Coord:   coord,
	})
	return id, nil
}

// RemoveStop deletes a stop by id
func (r *StopRegistry) RemoveStop(id string) error {
	idx := r.Index(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrStopNotFound, id)
	}
	r.stops = append(r.stops[:idx], r.stops[idx+1:]...)
	return nil
}

// Reorder applies a new id order. Unknown and duplicate ids are dropped; known
// ids missing from the input keep their previous relative order at the end, so
// the result is always a permutation of the stops held before the call.
func (r *StopRegistry) Reorder(ids []string) {
	byID := make(map[string]Stop, len(r.stops))
	for _, stop := range r.stops {
		byID[stop.ID] = stop
	}

	reordered := make([]Stop, 0, len(r.stops))
	used := make(map[string]bool, len(r.stops))
	for _, id := range ids {
		stop, ok := byID[id]
		if !ok || used[id] {
			continue
		}
		used[id] = true
		reordered = append(reordered, stop)
	}
	for _, stop := range r.stops {
		if !used[stop.ID] {
			reordered = append(reordered, stop)
		}
	}

	r.stops = reordered
}

// MarkDelivered sets delivered=true. Calling it again is a no-op.
func (r *StopRegistry) MarkDelivered(id string) error {
	idx := r.Index(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrStopNotFound, id)
	}
	r.stops[idx].Delivered = true
	return nil
}

// Reset clears every delivered flag and, when clearList is set, the list itself
func (r *StopRegistry) Reset(clearList bool) {
	if clearList {
		r.stops = nil
		return
	}
	for i := range r.stops {
		r.stops[i].Delivered = false
		r.stops[i].IsNext = false
	}
}

// SetNext flags the stop with the given id as the current target and clears the flag elsewhere
func (r *StopRegistry) SetNext(id string) {
	for i := range r.stops {
		r.stops[i].IsNext = r.stops[i].ID == id
	}
}

// Get returns a copy of the stop with the given id
func (r *StopRegistry) Get(id string) (Stop, bool) {
	idx := r.Index(id)
	if idx < 0 {
		return Stop{}, false
	}
	return r.stops[idx], true
}

// Index returns the position of id in registry order, or -1
func (r *StopRegistry) Index(id string) int {
	if id == "" {
		return -1
	}
	for i, stop := range r.stops {
		if stop.ID == id {
			return i
		}
	}
	return -1
}

// First returns the first stop in order
func (r *StopRegistry) First() (Stop, bool) {
	if len(r.stops) == 0 {
		return Stop{}, false
	}
	return r.stops[0], true
}

// Next returns the stop after id in registry order. Adjacency only.
func (r *StopRegistry) Next(id string) (Stop, bool) {
	idx := r.Index(id)
	if idx < 0 || idx+1 >= len(r.stops) {
		return Stop{}, false
	}
	return r.stops[idx+1], true
}

// IDs returns the stop ids in order
func (r *StopRegistry) IDs() []string {
	ids := make([]string, len(r.stops))
	for i, stop := range r.stops {
		ids[i] = stop.ID
	}
	return ids
}

// Len returns the number of stops
func (r *StopRegistry) Len() int {
	return len(r.stops)
}

// Snapshot returns a copy of the stops in order
func (r *StopRegistry) Snapshot() []Stop {
	out := make([]Stop, len(r.stops))
	copy(out, r.stops)
	return out
}
