// Package validate checks run preset files (JSON or YAML) in a configs
// directory. Beyond the engine's own validation it checks:
//   - Stop names are unique (case-insensitive)
//   - No stop sits on the origin, which would arrive on the first frame
//   - Per-stop messages use at most one %s verb
//   - Route length as listed vs. the locally optimized order
package validate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/game/route"
)

// Result captures the outcome of validating a single file.
// Errors make the preset invalid; Warnings and Info do not.
type Result struct {
	File     string
	Valid    bool
	Errors   []string
	Warnings []string
	Info     []string
}

func (r *Result) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// File loads and validates a single preset
func File(filePath string) Result {
	result := Result{
		File:  filepath.Base(filePath),
		Valid: true,
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	config, err := engine.ParseRunConfig(data, filepath.Ext(filePath))
	if err != nil {
		result.fail("Invalid %s: %v", formatName(filePath), err)
		return result
	}

	Config(config, &result)
	return result
}

func formatName(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return "YAML"
	default:
		return "JSON"
	}
}

// Config validates a parsed preset into result
func Config(config *engine.RunConfig, result *Result) {
	if err := engine.ValidateRunConfig(config); err != nil {
		result.fail("%v", err)
	}

	seen := make(map[string]int, len(config.Stops))
	for i, stop := range config.Stops {
		key := strings.ToLower(strings.TrimSpace(stop.Name))
		if first, ok := seen[key]; ok {
			result.fail("Duplicate stop %q at stops[%d] (first at stops[%d])", stop.Name, i, first)
			continue
		}
		seen[key] = i

		if engine.Distance(config.Origin, stop.Coord) < engine.ArrivalEpsilon {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Stop %q is at the origin and will be reached immediately", stop.Name))
		}
		if strings.TrimSpace(stop.Present) == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Stop %q has no present", stop.Name))
		}
	}

	m := config.Messages
	stopMessages := map[string]string{
		"stop_added":      m.StopAdded,
		"geocode_failed":  m.GeocodeFailed,
		"run_started":     m.RunStarted,
		"en_route":        m.EnRoute,
		"arrived":         m.Arrived,
		"delivering":      m.Delivering,
		"delivered":       m.Delivered,
		"skipped":         m.Skipped,
		"waiting":         m.Waiting,
		"route_optimized": m.RouteOptimized,
		"reset":           m.Reset,
	}
	keys := make([]string, 0, len(stopMessages))
	for k := range stopMessages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg := stopMessages[k]
		verbs := strings.Count(msg, "%") - 2*strings.Count(msg, "%%")
		if verbs > 1 || (verbs == 1 && !strings.Contains(msg, "%s")) {
			result.fail("messages.%s may only use a single %%s, got %q", k, msg)
		}
	}

	if !result.Valid {
		return
	}

	result.Info = append(result.Info,
		fmt.Sprintf("Name: %s", config.Name),
		fmt.Sprintf("Origin: %s", config.Origin),
		fmt.Sprintf("Stops: %d", len(config.Stops)),
		fmt.Sprintf("Speed: %.1f°/s x%.1f", config.BaseSpeed, config.StartingSpeed),
		fmt.Sprintf("Fallback delay: %s", config.FallbackDelay),
	)
	if len(config.Stops) > 0 {
		listed, optimized := RouteLengths(config)
		flight := time.Duration(listed / (config.BaseSpeed * config.StartingSpeed) * float64(time.Second))
		result.Info = append(result.Info,
			fmt.Sprintf("Route: %.1f° as listed, %.1f° optimized", listed, optimized),
			fmt.Sprintf("Flight time: %s", flight.Round(100*time.Millisecond)),
		)
	}
}

// RouteLengths returns the open-path length of the preset's stops in listed
// order and in locally optimized order
func RouteLengths(config *engine.RunConfig) (listed, optimized float64) {
	points := make([]route.Point, len(config.Stops))
	order := make([]string, len(config.Stops))
	for i, stop := range config.Stops {
		id := fmt.Sprintf("stop-%d", i)
		points[i] = route.Point{ID: id, Coord: stop.Coord}
		order[i] = id
	}
	listed = route.Length(config.Origin, points, order)

	best, err := route.Optimize(config.Origin, points)
	if err != nil {
		return listed, listed
	}
	return listed, route.Length(config.Origin, points, best)
}

// Dir validates every preset in dir
func Dir(dir string) ([]Result, error) {
	var files []string
	for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("finding config files: %w", err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no config files in %s", dir)
	}
	sort.Strings(files)

	results := make([]Result, 0, len(files))
	for _, file := range files {
		results = append(results, File(file))
	}
	return results, nil
}

// Report prints a concise report and reports whether every preset is valid
func Report(w io.Writer, results []Result) bool {
	allValid := true
	for _, result := range results {
		fmt.Fprintf(w, "\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Fprintln(w, "✅ VALID")
			for _, info := range result.Info {
				fmt.Fprintln(w, "  ✓ "+info)
			}
		} else {
			fmt.Fprintln(w, "❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Fprintln(w, "  ❌ "+err)
			}
		}
		for _, warning := range result.Warnings {
			fmt.Fprintln(w, "  ⚠ "+warning)
		}
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Fprintln(w, "✅ All configurations are valid!")
	} else {
		fmt.Fprintln(w, "❌ Some configurations have errors")
	}
	return allValid
}
