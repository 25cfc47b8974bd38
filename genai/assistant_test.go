package genai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/wricardo/santa-delivery-game/game/engine"
)

// stubProvider is a Provider with func fields
type stubProvider struct {
	geocodeFunc  func(query string) (Place, error)
	optimizeFunc func(stops []engine.Stop) ([]string, error)
	captionFunc  func(location, gift string) (string, error)
	imageFunc    func(location, gift string) (string, error)
	geocodeCalls int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Geocode(ctx context.Context, query string) (Place, error) {
	s.geocodeCalls++
	if s.geocodeFunc != nil {
		return s.geocodeFunc(query)
	}
	return Place{}, ErrNotFound
}

func (s *stubProvider) OptimizeOrder(ctx context.Context, origin engine.Coordinate, stops []engine.Stop) ([]string, error) {
	if s.optimizeFunc != nil {
		return s.optimizeFunc(stops)
	}
	return nil, errors.New("not implemented")
}

func (s *stubProvider) GenerateCaption(ctx context.Context, location, gift string) (string, error) {
	if s.captionFunc != nil {
		return s.captionFunc(location, gift)
	}
	return "", errors.New("not implemented")
}

func (s *stubProvider) GenerateImage(ctx context.Context, location, gift string) (string, error) {
	if s.imageFunc != nil {
		return s.imageFunc(location, gift)
	}
	return "", errors.New("not implemented")
}

func TestAssistantGeocodeRejectsInvalidCoordinates(t *testing.T) {
	tests := []struct {
		name  string
		coord engine.Coordinate
		ok    bool
	}{
		{"valid", engine.Coordinate{Lat: 48.85, Lng: 2.35}, true},
		{"nan", engine.Coordinate{Lat: math.NaN(), Lng: 2}, false},
		{"inf", engine.Coordinate{Lat: 1, Lng: math.Inf(-1)}, false},
		{"out of range", engine.Coordinate{Lat: 123, Lng: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubProvider{geocodeFunc: func(q string) (Place, error) {
				return Place{Coord: tt.coord}, nil
			}}
			a := NewAssistant(stub, nil)
			place, ok := a.Geocode(context.Background(), "somewhere")
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && place.DisplayName != "somewhere" {
				t.Errorf("expected display name defaulted to query, got %q", place.DisplayName)
			}
		})
	}
}

func TestAssistantGeocodeProviderError(t *testing.T) {
	a := NewAssistant(&stubProvider{}, nil)
	if _, ok := a.Geocode(context.Background(), "Atlantis"); ok {
		t.Fatal("expected not ok")
	}
	if _, ok := a.Geocode(context.Background(), "   "); ok {
		t.Fatal("expected blank query to fail")
	}
}

func TestAssistantGeocodeUsesCache(t *testing.T) {
	stub := &stubProvider{geocodeFunc: func(q string) (Place, error) {
		return Place{Coord: engine.Coordinate{Lat: 10, Lng: 20}, DisplayName: "X"}, nil
	}}
	a := NewAssistant(stub, NewMemoryCache())

	for i := 0; i < 3; i++ {
		if _, ok := a.Geocode(context.Background(), "  Some   Place "); !ok {
			t.Fatal("expected ok")
		}
	}
	if stub.geocodeCalls != 1 {
		t.Errorf("expected 1 provider call, got %d", stub.geocodeCalls)
	}
}

func TestAssistantOptimizeOrder(t *testing.T) {
	stops := []engine.Stop{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	tests := []struct {
		name     string
		optimize func([]engine.Stop) ([]string, error)
		want     []string
	}{
		{"valid permutation", func([]engine.Stop) ([]string, error) { return []string{"c", "a", "b"}, nil }, []string{"c", "a", "b"}},
		{"hallucinated ids dropped", func([]engine.Stop) ([]string, error) { return []string{"z", "b", "b", "a"}, nil }, []string{"b", "a", "c"}},
		{"error keeps order", func([]engine.Stop) ([]string, error) { return nil, errors.New("boom") }, []string{"a", "b", "c"}},
		{"empty answer keeps order", func([]engine.Stop) ([]string, error) { return nil, nil }, []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssistant(&stubProvider{optimizeFunc: tt.optimize}, nil)
			got := a.OptimizeOrder(context.Background(), engine.NorthPole, stops)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAssistantCaptionFallback(t *testing.T) {
	a := NewAssistant(&stubProvider{}, nil)
	caption := a.GenerateCaption(context.Background(), "Oslo", "skis")
	if !strings.Contains(caption, "Oslo") || !strings.Contains(caption, "skis") {
		t.Errorf("expected templated caption, got %q", caption)
	}

	a = NewAssistant(&stubProvider{captionFunc: func(l, g string) (string, error) { return "custom", nil }}, nil)
	if got := a.GenerateCaption(context.Background(), "Oslo", "skis"); got != "custom" {
		t.Errorf("expected provider caption, got %q", got)
	}
}

func TestAssistantImage(t *testing.T) {
	a := NewAssistant(&stubProvider{}, nil)
	if _, ok := a.GenerateImage(context.Background(), "Oslo", "skis"); ok {
		t.Error("expected image failure")
	}

	a = NewAssistant(&stubProvider{imageFunc: func(l, g string) (string, error) { return "data:x", nil }}, nil)
	if img, ok := a.GenerateImage(context.Background(), "Oslo", "skis"); !ok || img != "data:x" {
		t.Errorf("expected image, got %q %v", img, ok)
	}
}

func TestNewAssistantDefaultsToOffline(t *testing.T) {
	a := NewAssistant(nil, nil)
	if a.ProviderName() != "offline" {
		t.Errorf("expected offline provider, got %s", a.ProviderName())
	}
}
