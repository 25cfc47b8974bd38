// Package genai is the boundary to the generative AI service used for
// geocoding, route ordering, captions and delivery images.
//
// Provider implementations return errors. Assistant wraps a Provider and turns
// every failure into a safe default so nothing on this boundary is fatal to a run.
package genai

import (
	"context"
	"errors"
	"fmt"

	"github.com/wricardo/santa-delivery-game/game/engine"
)

// Sentinel errors
var (
	// ErrNoAPIKey is returned when a hosted provider is created without a key
	ErrNoAPIKey = errors.New("genai: API key required")

	// ErrNotFound is returned when a place cannot be resolved
	ErrNotFound = errors.New("genai: place not found")

	// ErrEmptyResponse is returned when the model answered with nothing usable
	ErrEmptyResponse = errors.New("genai: empty response")
)

// Place is a resolved location
type Place struct {
	Coord       engine.Coordinate `json:"coordinate"`
	DisplayName string            `json:"display_name"`
}

// Provider is a generative AI backend
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) (Place, error)
	OptimizeOrder(ctx context.Context, origin engine.Coordinate, stops []engine.Stop) ([]string, error)
	GenerateCaption(ctx context.Context, location, gift string) (string, error)
	GenerateImage(ctx context.Context, location, gift string) (string, error)
}

// APIError represents an error response from a hosted model API
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("genai [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable returns true for rate limits and server errors
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// ProviderError wraps an error with provider context
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("genai [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
