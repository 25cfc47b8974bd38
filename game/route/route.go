// Package route orders delivery stops locally, without calling an AI provider.
package route

import (
	"errors"
	"sort"

	"github.com/wricardo/santa-delivery-game/game/engine"
)

// ExhaustiveLimit is the largest stop count solved by trying every permutation
const ExhaustiveLimit = 8

// Point is a stop reduced to what ordering needs
type Point struct {
	ID    string
	Coord engine.Coordinate
}

// FromStops converts registry stops to points
func FromStops(stops []engine.Stop) []Point {
	points := make([]Point, len(stops))
	for i, stop := range stops {
		points[i] = Point{ID: stop.ID, Coord: stop.Coord}
	}
	return points
}

// Optimize returns an open-path ordering of point ids starting from origin.
// Small inputs are solved exactly, larger ones with nearest neighbor.
func Optimize(origin engine.Coordinate, points []Point) ([]string, error) {
	for _, p := range points {
		if !p.Coord.IsFinite() {
			return nil, errors.New("optimize route: non-finite coordinate for " + p.ID)
		}
	}
	if len(points) <= ExhaustiveLimit {
		return Exhaustive(origin, points), nil
	}
	return NearestNeighbor(origin, points), nil
}

// NearestNeighbor greedily picks the closest remaining point at every step.
// Equal distances are broken by id so the result is deterministic.
func NearestNeighbor(origin engine.Coordinate, points []Point) []string {
	remaining := make([]Point, len(points))
	copy(remaining, points)

	order := make([]string, 0, len(points))
	current := origin
	for len(remaining) > 0 {
		best := -1
		bestDist := 0.0
		for i, p := range remaining {
			d := engine.Distance(current, p.Coord)
			if best < 0 || d < bestDist || (d == bestDist && p.ID < remaining[best].ID) {
				best = i
				bestDist = d
			}
		}
		order = append(order, remaining[best].ID)
		current = remaining[best].Coord
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return order
}

// Exhaustive tries every permutation and returns the shortest open path.
// Ties keep the lexicographically smallest id sequence.
func Exhaustive(origin engine.Coordinate, points []Point) []string {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	n := len(sorted)
	best := make([]int, n)
	bestLen := -1.0
	perm := make([]int, 0, n)
	used := make([]bool, n)

	var search func(current engine.Coordinate, length float64)
	search = func(current engine.Coordinate, length float64) {
		if bestLen >= 0 && length >= bestLen {
			return
		}
		if len(perm) == n {
			bestLen = length
			copy(best, perm)
			return
		}
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			perm = append(perm, i)
			search(sorted[i].Coord, length+engine.Distance(current, sorted[i].Coord))
			perm = perm[:len(perm)-1]
			used[i] = false
		}
	}
	search(origin, 0)

	order := make([]string, n)
	for i, idx := range best {
		order[i] = sorted[idx].ID
	}
	return order
}

// Length is the open-path length of order from origin. Unknown ids are ignored.
func Length(origin engine.Coordinate, points []Point, order []string) float64 {
	byID := make(map[string]engine.Coordinate, len(points))
	for _, p := range points {
		byID[p.ID] = p.Coord
	}
	total := 0.0
	current := origin
	for _, id := range order {
		c, ok := byID[id]
		if !ok {
			continue
		}
		total += engine.Distance(current, c)
		current = c
	}
	return total
}
