package genai

import (
	"context"
	"log"
	"strings"

	"github.com/wricardo/santa-delivery-game/game/engine"
)

// Assistant wraps a Provider with caching and safe defaults. None of its
// methods return errors; failures are logged and replaced with a fallback.
type Assistant struct {
	provider Provider
	cache    GeocodeCache
}

// NewAssistant creates a façade over provider. cache may be nil.
func NewAssistant(provider Provider, cache GeocodeCache) *Assistant {
	if provider == nil {
		provider = NewOffline()
	}
	return &Assistant{provider: provider, cache: cache}
}

// ProviderName returns the name of the wrapped provider
func (a *Assistant) ProviderName() string {
	return a.provider.Name()
}

// Geocode resolves free text. ok is false when the place is unknown or the
// provider returned a non-finite or out-of-range coordinate.
func (a *Assistant) Geocode(ctx context.Context, query string) (Place, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Place{}, false
	}

	if a.cache != nil {
		place, ok, err := a.cache.Get(ctx, query)
		if err != nil {
			log.Printf("[AI] geocode cache read failed query=%q: %v", query, err)
		} else if ok && place.Coord.Valid() {
			return place, true
		}
	}

	place, err := a.provider.Geocode(ctx, query)
	if err != nil {
		log.Printf("[AI] geocode failed provider=%s query=%q: %v", a.provider.Name(), query, err)
		return Place{}, false
	}
	if !place.Coord.Valid() {
		log.Printf("[AI] geocode rejected provider=%s query=%q coord=%v", a.provider.Name(), query, place.Coord)
		return Place{}, false
	}
	if place.DisplayName == "" {
		place.DisplayName = query
	}

	if a.cache != nil {
		if err := a.cache.Put(ctx, query, place); err != nil {
			log.Printf("[AI] geocode cache write failed query=%q: %v", query, err)
		}
	}
	return place, true
}

// OptimizeOrder returns a visiting order that is always a permutation of the
// input stop ids. Provider failure keeps the input order.
func (a *Assistant) OptimizeOrder(ctx context.Context, origin engine.Coordinate, stops []engine.Stop) []string {
	original := make([]string, len(stops))
	for i, s := range stops {
		original[i] = s.ID
	}
	if len(stops) < 2 {
		return original
	}

	ids, err := a.provider.OptimizeOrder(ctx, origin, stops)
	if err != nil {
		log.Printf("[AI] optimize failed provider=%s stops=%d: %v", a.provider.Name(), len(stops), err)
		return original
	}
	return Permutation(original, ids)
}

// GenerateCaption always returns usable text
func (a *Assistant) GenerateCaption(ctx context.Context, location, gift string) string {
	caption, err := a.provider.GenerateCaption(ctx, location, gift)
	if err != nil || strings.TrimSpace(caption) == "" {
		if err != nil {
			log.Printf("[AI] caption failed provider=%s location=%q: %v", a.provider.Name(), location, err)
		}
		return TemplateCaption(location, gift)
	}
	return caption
}

// GenerateImage returns a data URI, or ok=false when no image could be made
func (a *Assistant) GenerateImage(ctx context.Context, location, gift string) (string, bool) {
	image, err := a.provider.GenerateImage(ctx, location, gift)
	if err != nil || image == "" {
		if err != nil {
			log.Printf("[AI] image failed provider=%s location=%q: %v", a.provider.Name(), location, err)
		}
		return "", false
	}
	return image, true
}

// Permutation filters proposed down to ids present in original (first
// occurrence wins) and appends any original ids it left out, in their
// original order
func Permutation(original, proposed []string) []string {
	known := make(map[string]bool, len(original))
	for _, id := range original {
		known[id] = true
	}

	out := make([]string, 0, len(original))
	used := make(map[string]bool, len(original))
	for _, id := range proposed {
		if !known[id] || used[id] {
			continue
		}
		used[id] = true
		out = append(out, id)
	}
	for _, id := range original {
		if !used[id] {
			out = append(out, id)
		}
	}
	return out
}
