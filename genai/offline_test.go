package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/wricardo/santa-delivery-game/game/engine"
)

func TestOfflineGeocode(t *testing.T) {
	o := NewOffline()
	ctx := context.Background()

	tests := []struct {
		query string
		want  engine.Coordinate
		ok    bool
	}{
		{"Paris", engine.Coordinate{Lat: 48.85, Lng: 2.35}, true},
		{"  new   YORK ", engine.Coordinate{Lat: 40.71, Lng: -74.01}, true},
		{"Tokyo, Japan", engine.Coordinate{Lat: 35.68, Lng: 139.69}, true},
		{"12.5, -45.25", engine.Coordinate{Lat: 12.5, Lng: -45.25}, true},
		{"Atlantis", engine.Coordinate{}, false},
	}

	for _, tt := range tests {
		place, err := o.Geocode(ctx, tt.query)
		if !tt.ok {
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("%q: expected ErrNotFound, got %v", tt.query, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.query, err)
			continue
		}
		if place.Coord != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.query, tt.want, place.Coord)
		}
	}
}

func TestOfflineAddPlace(t *testing.T) {
	o := NewOffline()
	o.AddPlace("Santa's Workshop", engine.Coordinate{Lat: 89, Lng: 1})
	if _, err := o.Geocode(context.Background(), "santa's workshop"); err != nil {
		t.Fatalf("expected custom place to resolve: %v", err)
	}
}

func TestOfflineOptimizeOrder(t *testing.T) {
	o := NewOffline()
	stops := []engine.Stop{
		{ID: "sydney", Coord: engine.Coordinate{Lat: -33.87, Lng: 151.21}},
		{ID: "oslo", Coord: engine.Coordinate{Lat: 59.91, Lng: 10.75}},
		{ID: "paris", Coord: engine.Coordinate{Lat: 48.85, Lng: 2.35}},
	}
	ids, err := o.OptimizeOrder(context.Background(), engine.NorthPole, stops)
	if err != nil {
		t.Fatalf("OptimizeOrder failed: %v", err)
	}
	if ids[0] != "oslo" || ids[2] != "sydney" {
		t.Errorf("expected oslo first and sydney last, got %v", ids)
	}
}

func TestOfflineImageIsSVGDataURI(t *testing.T) {
	img, err := NewOffline().GenerateImage(context.Background(), "Rome <Italy>", "a pizza & pasta")
	if err != nil {
		t.Fatalf("GenerateImage failed: %v", err)
	}
	const prefix = "data:image/svg+xml;base64,"
	if !strings.HasPrefix(img, prefix) {
		t.Fatalf("unexpected data uri %q", img)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(img, prefix))
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	svg := string(raw)
	if !strings.Contains(svg, "Rome &lt;Italy&gt;") || !strings.Contains(svg, "pizza &amp; pasta") {
		t.Errorf("expected escaped text in svg, got %s", svg)
	}
}

func TestTemplateCaptionDeterministic(t *testing.T) {
	a := TemplateCaption("Lima", "a llama plush")
	b := TemplateCaption("Lima", "a llama plush")
	if a != b {
		t.Errorf("expected deterministic caption, got %q and %q", a, b)
	}
	if !strings.Contains(TemplateCaption("Lima", ""), "a surprise") {
		t.Error("expected empty gift to read as a surprise")
	}
}
