package engine

import (
	"fmt"
	"math"
)

// Coordinate is a latitude/longitude pair in degrees
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// NorthPole is where Santa starts and returns to on reset
var NorthPole = Coordinate{Lat: 90, Lng: 0}

// IsFinite reports whether both components are finite numbers
func (c Coordinate) IsFinite() bool {
	return isFinite(c.Lat) && isFinite(c.Lng)
}

// Valid reports whether the coordinate is finite and within lat/lng bounds
func (c Coordinate) Valid() bool {
	if !c.IsFinite() {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.4f,%.4f)", c.Lat, c.Lng)
}

// ValidateCoordinate returns ErrInvalidCoordinate wrapped with the offending values
func ValidateCoordinate(c Coordinate) error {
	if !c.Valid() {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidCoordinate, c.Lat, c.Lng)
	}
	return nil
}

// Distance is the Euclidean distance between two coordinates in raw degree space.
// Linear, not great-circle.
func Distance(from, to Coordinate) float64 {
	dLat := to.Lat - from.Lat
	dLng := to.Lng - from.Lng
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

// RouteLength sums the leg distances from origin through every stop in order
func RouteLength(origin Coordinate, stops []Stop) float64 {
	total := 0.0
	current := origin
	for _, stop := range stops {
		total += Distance(current, stop.Coord)
		current = stop.Coord
	}
	return total
}

// CountDelivered counts stops marked delivered
func CountDelivered(stops []Stop) int {
	count := 0
	for _, stop := range stops {
		if stop.Delivered {
			count++
		}
	}
	return count
}

// RemainingStops returns the stops from the current target onward that are not delivered
func RemainingStops(state *DeliveryState) []Stop {
	var remaining []Stop
	started := state.Motion.TargetID == ""
	for _, stop := range state.Stops {
		if stop.ID == state.Motion.TargetID {
			started = true
		}
		if started && !stop.Delivered {
			remaining = append(remaining, stop)
		}
	}
	return remaining
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
