package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wricardo/santa-delivery-game/game/engine"
)

const providerGemini = "gemini"

// Gemini implements Provider on top of the Gemini generateContent REST API
type Gemini struct {
	apiKey string
	config *Config
	http   *http.Client
}

// NewGemini creates a Gemini provider
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Gemini{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   client,
	}, nil
}

// Name returns the provider name
func (g *Gemini) Name() string {
	return providerGemini
}

// Geocode resolves free text to a coordinate
func (g *Gemini) Geocode(ctx context.Context, query string) (_ Place, err error) {
	defer timeOp(ctx, "gemini.geocode")(&err)

	prompt := fmt.Sprintf(`Return the geographic coordinates of this place: %q.
Respond with JSON only: {"lat": <number>, "lng": <number>, "display_name": "<canonical name>"}.
If the place does not exist respond with {"lat": null, "lng": null}.`, query)

	text, err := g.generateText(ctx, prompt, true, true)
	if err != nil {
		return Place{}, err
	}

	var result struct {
		Lat         *float64 `json:"lat"`
		Lng         *float64 `json:"lng"`
		DisplayName string   `json:"display_name"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &result); err != nil {
		return Place{}, WrapError(providerGemini, fmt.Errorf("decode geocode: %w", err))
	}
	if result.Lat == nil || result.Lng == nil {
		return Place{}, fmt.Errorf("%w: %s", ErrNotFound, query)
	}

	name := strings.TrimSpace(result.DisplayName)
	if name == "" {
		name = query
	}
	return Place{
		Coord:       engine.Coordinate{Lat: *result.Lat, Lng: *result.Lng},
		DisplayName: name,
	}, nil
}

// OptimizeOrder asks the model for a short visiting order of the stops
func (g *Gemini) OptimizeOrder(ctx context.Context, origin engine.Coordinate, stops []engine.Stop) (_ []string, err error) {
	defer timeOp(ctx, "gemini.optimize")(&err)

	type item struct {
		ID  string  `json:"id"`
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	items := make([]item, len(stops))
	for i, s := range stops {
		items[i] = item{ID: s.ID, Lat: s.Coord.Lat, Lng: s.Coord.Lng}
	}
	listing, err := json.Marshal(items)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	prompt := fmt.Sprintf(`Santa starts at lat=%.4f lng=%.4f and must visit every stop below once.
Order them to minimise total travel distance. Stops: %s
Respond with JSON only: an array of the stop ids in visiting order.`, origin.Lat, origin.Lng, listing)

	text, err := g.generateText(ctx, prompt, true, true)
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal([]byte(stripFences(text)), &ids); err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("decode order: %w", err))
	}
	return ids, nil
}

// GenerateCaption writes a one-line delivery story
func (g *Gemini) GenerateCaption(ctx context.Context, location, gift string) (_ string, err error) {
	defer timeOp(ctx, "gemini.caption")(&err)

	prompt := fmt.Sprintf(`Write one short, cheerful sentence (under 30 words) describing Santa delivering %q in %s.`,
		gift, location)
	text, err := g.generateText(ctx, prompt, false, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// GenerateImage renders a postcard of the delivery and returns it as a data URI.
// Single attempt.
func (g *Gemini) GenerateImage(ctx context.Context, location, gift string) (_ string, err error) {
	defer timeOp(ctx, "gemini.image")(&err)

	prompt := fmt.Sprintf(`A festive illustrated postcard of Santa's sleigh over %s at night, delivering %s.`,
		location, gift)
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]interface{}{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"TEXT", "IMAGE"},
		},
	}

	result, err := g.generate(ctx, g.config.ImageModel, payload, false)
	if err != nil {
		return "", err
	}
	for _, cand := range result.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				return fmt.Sprintf("data:%s;base64,%s", part.InlineData.MimeType, part.InlineData.Data), nil
			}
		}
	}
	return "", WrapError(providerGemini, ErrEmptyResponse)
}

func (g *Gemini) generateText(ctx context.Context, prompt string, jsonOut, retry bool) (string, error) {
	genConfig := map[string]interface{}{
		"temperature": 0.2,
	}
	if jsonOut {
		genConfig["responseMimeType"] = "application/json"
	} else {
		genConfig["temperature"] = 0.9
	}
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]interface{}{{"text": prompt}}},
		},
		"generationConfig": genConfig,
	}

	result, err := g.generate(ctx, g.config.Model, payload, retry)
	if err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", WrapError(providerGemini, ErrEmptyResponse)
	}
	text := result.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", WrapError(providerGemini, ErrEmptyResponse)
	}
	return text, nil
}

func (g *Gemini) generate(ctx context.Context, model string, payload map[string]interface{}, retry bool) (*geminiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.config.BaseURL, model, g.apiKey)
	makeReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	attempts := 1
	if retry {
		attempts += g.config.MaxRetries
	}
	resp, err := g.doWithRetry(ctx, attempts, makeReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("decode response: %w", err))
	}
	if result.Error.Message != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: result.Error.Message, Provider: providerGemini}
	}
	return &result, nil
}

// doWithRetry retries transient failures (network errors, 429 and 5xx) with
// exponential backoff while respecting context cancellation
func (g *Gemini) doWithRetry(ctx context.Context, attempts int, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := g.config.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, WrapError(providerGemini, fmt.Errorf("make request: %w", err))
		}

		resp, err := g.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			retry = apiErr.IsRetryable()
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}

		if !retry || attempt == attempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	return nil, lastErr
}

func (g *Gemini) do(req *http.Request) (*http.Response, error) {
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp, nil
}

// parseError reads and parses an error response
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerGemini,
	}
}

// stripFences removes a ```json ... ``` wrapper some models add despite instructions
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// geminiResponse is the Gemini API response format
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}
