package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"html"
	"strconv"
	"strings"

	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/game/route"
)

const providerOffline = "offline"

// Offline is a Provider that needs no network: a built-in gazetteer, local route
// ordering, templated captions and SVG postcards
type Offline struct {
	places map[string]Place
}

// NewOffline creates an offline provider with the built-in gazetteer
func NewOffline() *Offline {
	places := make(map[string]Place, len(gazetteer))
	for _, p := range gazetteer {
		places[normalizeQuery(p.DisplayName)] = p
	}
	return &Offline{places: places}
}

// Name returns the provider name
func (o *Offline) Name() string {
	return providerOffline
}

// AddPlace registers an extra gazetteer entry
func (o *Offline) AddPlace(name string, coord engine.Coordinate) {
	o.places[normalizeQuery(name)] = Place{Coord: coord, DisplayName: name}
}

// Geocode looks the query up in the gazetteer. "lat,lng" literals resolve to themselves.
func (o *Offline) Geocode(ctx context.Context, query string) (Place, error) {
	if coord, ok := parseLatLng(query); ok {
		return Place{Coord: coord, DisplayName: strings.TrimSpace(query)}, nil
	}
	key := normalizeQuery(query)
	if p, ok := o.places[key]; ok {
		return p, nil
	}
	// "Paris, France" matches "paris"
	if head, _, found := strings.Cut(key, ","); found {
		if p, ok := o.places[strings.TrimSpace(head)]; ok {
			return p, nil
		}
	}
	return Place{}, fmt.Errorf("%w: %s", ErrNotFound, query)
}

// OptimizeOrder orders the stops locally
func (o *Offline) OptimizeOrder(ctx context.Context, origin engine.Coordinate, stops []engine.Stop) ([]string, error) {
	return route.Optimize(origin, route.FromStops(stops))
}

// GenerateCaption picks a template deterministically from the inputs
func (o *Offline) GenerateCaption(ctx context.Context, location, gift string) (string, error) {
	return TemplateCaption(location, gift), nil
}

// GenerateImage draws an SVG postcard
func (o *Offline) GenerateImage(ctx context.Context, location, gift string) (string, error) {
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="512" height="320" viewBox="0 0 512 320">`+
		`<rect width="512" height="320" fill="#0b1d3a"/>`+
		`<circle cx="430" cy="70" r="36" fill="#f4f1c9"/>`+
		`<text x="32" y="150" fill="#ffffff" font-family="serif" font-size="30">%s</text>`+
		`<text x="32" y="200" fill="#e63946" font-family="serif" font-size="22">🎁 %s</text>`+
		`<text x="32" y="280" fill="#a8dadc" font-family="serif" font-size="16">Delivered by Santa</text>`+
		`</svg>`, html.EscapeString(location), html.EscapeString(gift))
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg)), nil
}

var captionTemplates = []string{
	"Santa slipped down the chimney in %s and left %s under the tree.",
	"A jingle over the rooftops of %s, and %s is waiting by the fireplace.",
	"Snow fell softly on %s as Santa tucked %s into a stocking.",
	"The reindeer landed quietly in %s so Santa could deliver %s.",
}

// TemplateCaption is the canned caption used whenever generation fails
func TemplateCaption(location, gift string) string {
	if strings.TrimSpace(gift) == "" {
		gift = "a surprise"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(location + "|" + gift))
	tmpl := captionTemplates[int(h.Sum32()%uint32(len(captionTemplates)))]
	return fmt.Sprintf(tmpl, location, gift)
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func parseLatLng(q string) (engine.Coordinate, bool) {
	latStr, lngStr, found := strings.Cut(q, ",")
	if !found {
		return engine.Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return engine.Coordinate{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return engine.Coordinate{}, false
	}
	return engine.Coordinate{Lat: lat, Lng: lng}, true
}

var gazetteer = []Place{
	{engine.Coordinate{Lat: 48.85, Lng: 2.35}, "Paris"},
	{engine.Coordinate{Lat: 51.51, Lng: -0.13}, "London"},
	{engine.Coordinate{Lat: 52.52, Lng: 13.40}, "Berlin"},
	{engine.Coordinate{Lat: 41.90, Lng: 12.50}, "Rome"},
	{engine.Coordinate{Lat: 40.42, Lng: -3.70}, "Madrid"},
	{engine.Coordinate{Lat: 59.91, Lng: 10.75}, "Oslo"},
	{engine.Coordinate{Lat: 59.33, Lng: 18.07}, "Stockholm"},
	{engine.Coordinate{Lat: 60.17, Lng: 24.94}, "Helsinki"},
	{engine.Coordinate{Lat: 66.50, Lng: 25.73}, "Rovaniemi"},
	{engine.Coordinate{Lat: 64.15, Lng: -21.94}, "Reykjavik"},
	{engine.Coordinate{Lat: 55.76, Lng: 37.62}, "Moscow"},
	{engine.Coordinate{Lat: 41.01, Lng: 28.98}, "Istanbul"},
	{engine.Coordinate{Lat: 30.04, Lng: 31.24}, "Cairo"},
	{engine.Coordinate{Lat: -1.29, Lng: 36.82}, "Nairobi"},
	{engine.Coordinate{Lat: -33.92, Lng: 18.42}, "Cape Town"},
	{engine.Coordinate{Lat: 6.52, Lng: 3.38}, "Lagos"},
	{engine.Coordinate{Lat: 25.20, Lng: 55.27}, "Dubai"},
	{engine.Coordinate{Lat: 19.08, Lng: 72.88}, "Mumbai"},
	{engine.Coordinate{Lat: 28.61, Lng: 77.21}, "New Delhi"},
	{engine.Coordinate{Lat: 13.76, Lng: 100.50}, "Bangkok"},
	{engine.Coordinate{Lat: 1.35, Lng: 103.82}, "Singapore"},
	{engine.Coordinate{Lat: 39.90, Lng: 116.40}, "Beijing"},
	{engine.Coordinate{Lat: 37.57, Lng: 126.98}, "Seoul"},
	{engine.Coordinate{Lat: 35.68, Lng: 139.69}, "Tokyo"},
	{engine.Coordinate{Lat: -33.87, Lng: 151.21}, "Sydney"},
	{engine.Coordinate{Lat: -36.85, Lng: 174.76}, "Auckland"},
	{engine.Coordinate{Lat: 21.31, Lng: -157.86}, "Honolulu"},
	{engine.Coordinate{Lat: 61.22, Lng: -149.90}, "Anchorage"},
	{engine.Coordinate{Lat: 49.28, Lng: -123.12}, "Vancouver"},
	{engine.Coordinate{Lat: 37.77, Lng: -122.42}, "San Francisco"},
	{engine.Coordinate{Lat: 34.05, Lng: -118.24}, "Los Angeles"},
	{engine.Coordinate{Lat: 41.88, Lng: -87.63}, "Chicago"},
	{engine.Coordinate{Lat: 43.65, Lng: -79.38}, "Toronto"},
	{engine.Coordinate{Lat: 45.50, Lng: -73.57}, "Montreal"},
	{engine.Coordinate{Lat: 40.71, Lng: -74.01}, "New York"},
	{engine.Coordinate{Lat: 19.43, Lng: -99.13}, "Mexico City"},
	{engine.Coordinate{Lat: 4.71, Lng: -74.07}, "Bogota"},
	{engine.Coordinate{Lat: -12.05, Lng: -77.04}, "Lima"},
	{engine.Coordinate{Lat: -22.91, Lng: -43.17}, "Rio de Janeiro"},
	{engine.Coordinate{Lat: -34.60, Lng: -58.38}, "Buenos Aires"},
	{engine.Coordinate{Lat: -54.80, Lng: -68.30}, "Ushuaia"},
	{engine.Coordinate{Lat: 90, Lng: 0}, "North Pole"},
}
