// Command analyze prints quick, human-readable heuristics about run presets
// in the configs directory: leg lengths and flight times at the preset's
// speed, the longest leg, and how much a locally optimized order would save.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/game/route"
)

// Leg is one hop of the route
type Leg struct {
	From, To string
	Degrees  float64
	Flight   time.Duration
}

// Analysis summarises one preset
type Analysis struct {
	Name      string
	Stops     int
	Legs      []Leg
	Listed    float64
	Optimized float64
	Order     []string
}

// Savings is the share of the listed route length the optimized order saves
func (a Analysis) Savings() float64 {
	if a.Listed == 0 {
		return 0
	}
	return (a.Listed - a.Optimized) / a.Listed
}

// Longest returns the longest leg
func (a Analysis) Longest() (Leg, bool) {
	if len(a.Legs) == 0 {
		return Leg{}, false
	}
	longest := a.Legs[0]
	for _, leg := range a.Legs[1:] {
		if leg.Degrees > longest.Degrees {
			longest = leg
		}
	}
	return longest, true
}

func main() {
	dir := flag.String("dir", "configs", "Directory containing run presets")
	flag.Parse()

	var files []string
	for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
		matches, _ := filepath.Glob(filepath.Join(*dir, pattern))
		files = append(files, matches...)
	}
	sort.Strings(files)
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "no presets in %s\n", *dir)
		os.Exit(1)
	}

	for _, file := range files {
		fmt.Printf("\n=== Analyzing %s ===\n", filepath.Base(file))
		config, err := engine.LoadRunConfig(file)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		printAnalysis(os.Stdout, analyze(config))
	}
}

func analyze(config *engine.RunConfig) Analysis {
	speed := config.BaseSpeed * config.StartingSpeed
	a := Analysis{Name: config.Name, Stops: len(config.Stops)}

	points := make([]route.Point, len(config.Stops))
	names := make(map[string]string, len(config.Stops))
	listed := make([]string, len(config.Stops))

	from, fromName := config.Origin, "origin"
	for i, stop := range config.Stops {
		id := fmt.Sprintf("stop-%d", i)
		points[i] = route.Point{ID: id, Coord: stop.Coord}
		names[id] = stop.Name
		listed[i] = id

		d := engine.Distance(from, stop.Coord)
		a.Legs = append(a.Legs, Leg{
			From:    fromName,
			To:      stop.Name,
			Degrees: d,
			Flight:  time.Duration(d / speed * float64(time.Second)),
		})
		from, fromName = stop.Coord, stop.Name
	}

	a.Listed = route.Length(config.Origin, points, listed)
	a.Optimized = a.Listed
	if best, err := route.Optimize(config.Origin, points); err == nil {
		a.Optimized = route.Length(config.Origin, points, best)
		for _, id := range best {
			a.Order = append(a.Order, names[id])
		}
	}
	return a
}

func printAnalysis(w io.Writer, a Analysis) {
	fmt.Fprintf(w, "Name: %s\n", a.Name)
	fmt.Fprintf(w, "Stops: %d\n", a.Stops)
	if a.Stops == 0 {
		fmt.Fprintln(w, "Empty route: stops are planned at play time")
		return
	}

	var total time.Duration
	for _, leg := range a.Legs {
		fmt.Fprintf(w, "  %-16s -> %-16s %7.2f°  %s\n", leg.From, leg.To, leg.Degrees, leg.Flight.Round(10*time.Millisecond))
		total += leg.Flight
	}
	fmt.Fprintf(w, "Total flight: %s\n", total.Round(100*time.Millisecond))

	if longest, ok := a.Longest(); ok {
		fmt.Fprintf(w, "Longest leg: %s -> %s (%.2f°)\n", longest.From, longest.To, longest.Degrees)
	}

	if a.Savings() > 0.01 {
		fmt.Fprintf(w, "⚠️  Optimized order saves %.0f%% (%.1f° vs %.1f°)\n", a.Savings()*100, a.Optimized, a.Listed)
		fmt.Fprintf(w, "   Suggested: %v\n", a.Order)
	} else {
		fmt.Fprintf(w, "✅ Listed order is already near optimal (%.1f°)\n", a.Listed)
	}
}
