package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/game/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// geocoding and route optimization wait on the AI provider
			Timeout: 30 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Santa Delivery Game",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Santa Delivery Game - MCP Interface

This is a thin client that proxies all requests to the REST API server.

OBJECTIVE:
Plan a list of stops (place + present), start the run, and deliver every
present as Santa's sleigh flies from the North Pole to each stop in order.

FLOW:
1. create_session
2. add_stop for every place (geocoded), optionally optimize_route
3. start_run, then call step until Santa arrives at a stop
4. confirm_delivery (or skip_stop), wait for the caption, dismiss_delivery
5. repeat until the run is finished; reset_run keeps the stops, new_route clears them

Call delivery_instructions for the full rules.`),
	)

	c.registerTools()
}

func sessionSchema(extra map[string]interface{}, required ...string) mcp.ToolInputSchema {
	props := map[string]interface{}{
		"session_id": map[string]interface{}{
			"type":        "string",
			"description": "Session ID",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   append([]string{"session_id"}, required...),
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new delivery session with optional run preset",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"config_id": map[string]interface{}{
					"type":        "string",
					"description": "Run preset to use (optional, see list_configs)",
				},
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all active delivery sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "delivery_state",
		Description: "Get the current delivery state: phase, stops, Santa's position and the delivery in progress",
		InputSchema: sessionSchema(nil),
	}, c.handleState)

	// Planning
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "add_stop",
		Description: "Add a delivery stop by place name. Only allowed while planning.",
		InputSchema: sessionSchema(map[string]interface{}{
			"location": map[string]interface{}{
				"type":        "string",
				"description": "Place to geocode, e.g. 'Tokyo' or '48.85,2.35'",
			},
			"present": map[string]interface{}{
				"type":        "string",
				"description": "Gift to deliver",
			},
		}, "location"),
	}, c.handleAddStop)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "remove_stop",
		Description: "Remove a stop while planning",
		InputSchema: sessionSchema(map[string]interface{}{
			"stop_id": map[string]interface{}{
				"type":        "string",
				"description": "Stop ID from delivery_state",
			},
		}, "stop_id"),
	}, c.handleRemoveStop)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "optimize_route",
		Description: "Reorder the stops into a shorter route starting at the North Pole",
		InputSchema: sessionSchema(nil),
	}, c.intentTool("optimize"))

	// Run control
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "start_run",
		Description: "Start flying to the first stop",
		InputSchema: sessionSchema(nil),
	}, c.intentTool("start"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "step",
		Description: "Advance the animation by dt seconds (several frames can be batched)",
		InputSchema: sessionSchema(map[string]interface{}{
			"dt": map[string]interface{}{
				"type":        "number",
				"description": "Seconds to advance (default 1/60)",
			},
			"frames": map[string]interface{}{
				"type":        "integer",
				"description": "Number of steps to run, stopping early on arrival (default 1, max 600)",
			},
		}),
	}, c.handleStep)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "confirm_delivery",
		Description: "Drop the present at the stop Santa has arrived at",
		InputSchema: sessionSchema(nil),
	}, c.intentTool("confirm"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "skip_stop",
		Description: "Skip a stop without delivering (defaults to the current target)",
		InputSchema: sessionSchema(map[string]interface{}{
			"stop_id": map[string]interface{}{
				"type":        "string",
				"description": "Stop ID to skip (optional)",
			},
		}),
	}, c.handleSkip)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "cancel_confirmation",
		Description: "Decline to deliver at the current stop and keep waiting",
		InputSchema: sessionSchema(nil),
	}, c.intentTool("cancel"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "dismiss_delivery",
		Description: "Close the delivery card and fly on to the next stop",
		InputSchema: sessionSchema(nil),
	}, c.intentTool("dismiss"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "pause",
		Description: "Pause the flight",
		InputSchema: sessionSchema(nil),
	}, c.intentTool("pause"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "resume",
		Description: "Resume the flight",
		InputSchema: sessionSchema(nil),
	}, c.intentTool("resume"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_speed",
		Description: "Set the speed multiplier",
		InputSchema: sessionSchema(map[string]interface{}{
			"multiplier": map[string]interface{}{
				"type":        "number",
				"description": "Speed multiplier, greater than 0",
			},
		}, "multiplier"),
	}, c.handleSetSpeed)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reset_run",
		Description: "Send Santa back to the North Pole, keeping the stops",
		InputSchema: sessionSchema(nil),
	}, c.handleReset("reset"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "new_route",
		Description: "Clear all stops and start planning from scratch",
		InputSchema: sessionSchema(nil),
	}, c.handleReset("new-route"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "delivery_history",
		Description: "View the delivery log with pagination",
		InputSchema: sessionSchema(map[string]interface{}{
			"page": map[string]interface{}{
				"type":        "integer",
				"description": "Page number (default 1)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Entries per page (default 20)",
			},
		}),
	}, c.handleHistory)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_configs",
		Description: "List available run presets",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListConfigs)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "delivery_instructions",
		Description: "Get the rules of the delivery run",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func sessionPath(args map[string]interface{}, suffix string) (string, error) {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return "", fmt.Errorf("session_id is required")
	}
	return "/api/sessions/" + sessionID + suffix, nil
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	configID, _ := args["config_id"].(string)

	body := map[string]string{}
	if configID != "" {
		body["config_id"] = configID
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "POST", "/api/sessions", body, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created session: %s\nPreset: %s\n", session.ID, session.ConfigName)
	if session.State != nil {
		result += "\n" + formatState(session.State)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                    `json:"count"`
		Sessions []*service.SessionInfo `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active sessions: %d\n", response.Count)
	for _, s := range response.Sessions {
		phase, delivered, total := engine.Phase("unknown"), 0, 0
		if s.State != nil {
			phase, delivered, total = s.State.Phase, s.State.DeliveredCount, len(s.State.Stops)
		}
		fmt.Fprintf(&b, "- %s (%s) %s, %d/%d delivered\n", s.ID, s.ConfigName, phase, delivered, total)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/state")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var state engine.DeliveryState
	if err := c.apiCall(ctx, "GET", path, nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatState(&state)), nil
}

func (c *Client) handleAddStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/stops")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	location, _ := args["location"].(string)
	present, _ := args["present"].(string)

	var result service.IntentResult
	body := map[string]string{"location": location, "present": present}
	if err := c.apiCall(ctx, "POST", path, body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !result.Success {
		// geocoding failed; nothing was added
		return mcp.NewToolResultError(result.Message), nil
	}
	return mcp.NewToolResultText(formatIntent("add_stop", &result)), nil
}

func (c *Client) handleRemoveStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	stopID, _ := args["stop_id"].(string)
	path, err := sessionPath(args, "/stops/"+stopID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var result service.IntentResult
	if err := c.apiCall(ctx, "DELETE", path, nil, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatIntent("remove_stop", &result)), nil
}

// intentTool proxies a body-less run intent
func (c *Client) intentTool(intent string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := sessionPath(arguments(request), "/"+intent)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var result service.IntentResult
		if err := c.apiCall(ctx, "POST", path, nil, &result); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatIntent(intent, &result)), nil
	}
}

func (c *Client) handleSkip(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/skip")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stopID, _ := args["stop_id"].(string)

	var result service.IntentResult
	if err := c.apiCall(ctx, "POST", path, map[string]string{"stop_id": stopID}, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatIntent("skip", &result)), nil
}

func (c *Client) handleSetSpeed(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/speed")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	multiplier, _ := args["multiplier"].(float64)

	var result service.IntentResult
	if err := c.apiCall(ctx, "POST", path, map[string]float64{"multiplier": multiplier}, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatIntent("set_speed", &result)), nil
}

const maxStepFrames = 600

func (c *Client) handleStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/step")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	dt := 1.0 / 60
	if v, ok := args["dt"].(float64); ok && v > 0 {
		dt = v
	}
	frames := 1
	if v, ok := args["frames"].(float64); ok && v >= 1 {
		frames = int(v)
	}
	if frames > maxStepFrames {
		frames = maxStepFrames
	}

	var result service.StepResult
	ran := 0
	for ran < frames {
		if err := c.apiCall(ctx, "POST", path, map[string]float64{"dt": dt}, &result); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ran++
		if result.Tick.Arrived || !result.Tick.Moved {
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stepped %d frame(s) of %.3fs\n", ran, dt)
	if result.Tick.Arrived {
		fmt.Fprintf(&b, "Arrived at stop %s\n", result.Tick.StopID)
	}
	if result.State != nil {
		b.WriteString("\n" + formatState(result.State))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleReset(endpoint string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := sessionPath(arguments(request), "/"+endpoint)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var response struct {
			Message string               `json:"message"`
			State   engine.DeliveryState `json:"state"`
		}
		if err := c.apiCall(ctx, "POST", path, nil, &response); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(response.Message + "\n\n" + formatState(&response.State)), nil
	}
}

func (c *Client) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/history")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	page, limit := 1, 20
	if v, ok := args["page"].(float64); ok && v >= 1 {
		page = int(v)
	}
	if v, ok := args["limit"].(float64); ok && v >= 1 {
		limit = int(v)
	}
	path += fmt.Sprintf("?page=%d&limit=%d", page, limit)

	var history service.HistoryResponse
	if err := c.apiCall(ctx, "GET", path, nil, &history); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatHistory(&history)), nil
}

func (c *Client) handleListConfigs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var configs []*service.ConfigInfo
	if err := c.apiCall(ctx, "GET", "/api/configs", nil, &configs); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString("Available presets:\n")
	for _, cfg := range configs {
		fmt.Fprintf(&b, "- %s: %s (%d stops, base speed %.1f)\n", cfg.ConfigID, cfg.Name, cfg.Stops, cfg.BaseSpeed)
		if cfg.Description != "" {
			fmt.Fprintf(&b, "  %s\n", cfg.Description)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `SANTA DELIVERY GAME

PHASES
- planning: add_stop / remove_stop / optimize_route. The stop list can only change here.
- delivering: Santa flies to the next undelivered stop in list order.
- finished: every stop is delivered or skipped. reset_run or new_route to play again.

DURING A RUN
- en_route: call step to move Santa. Movement is a straight line at base speed x multiplier.
- arrived_awaiting_confirmation: confirm_delivery, skip_stop or cancel_confirmation.
- delivering_in_progress: the present is dropped; a picture and caption are being prepared.
- awaiting_dismissal: dismiss_delivery to fly on.
- waiting_idle: you cancelled; confirm_delivery or skip_stop when ready.
- paused: resume to continue.

If the picture cannot be made, the caption is shown and the run moves on by
itself after a few seconds.

RESETS
- reset_run: back to the North Pole, stops kept and marked undelivered.
- new_route: stops cleared, back to planning.

Results from a delivery that was in flight during a reset are discarded.`
	return mcp.NewToolResultText(instructions), nil
}

// Formatting

func formatIntent(intent string, result *service.IntentResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ok\n", intent)
	for _, ev := range result.Events {
		if ev.Message != "" {
			fmt.Fprintf(&b, "  [%s] %s\n", ev.Type, ev.Message)
		} else {
			fmt.Fprintf(&b, "  [%s]\n", ev.Type)
		}
	}
	if result.State != nil {
		b.WriteString("\n" + formatState(result.State))
	}
	return b.String()
}

func formatState(state *engine.DeliveryState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s (%s)\n", state.Phase, state.SubState)
	if state.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", state.Message)
	}
	fmt.Fprintf(&b, "Santa: %.3f, %.3f  speed x%.1f", state.Motion.Position.Lat, state.Motion.Position.Lng, state.Motion.Speed)
	if state.Motion.Playing {
		b.WriteString("  flying")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Delivered: %d/%d\n", state.DeliveredCount, len(state.Stops))

	if len(state.Stops) == 0 {
		b.WriteString("\nNo stops planned.\n")
		return b.String()
	}

	b.WriteString("\nStops:\n")
	for i, stop := range state.Stops {
		marker := " "
		switch {
		case stop.Delivered:
			marker = "✓"
		case stop.ID == state.Motion.TargetID:
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %d. %s [%s] %s (%.2f, %.2f)\n", marker, i+1, stop.Name, stop.ID,
			presentLabel(stop.Present), stop.Coord.Lat, stop.Coord.Lng)
	}
	if remaining := engine.RemainingStops(state); len(remaining) > 0 {
		fmt.Fprintf(&b, "Remaining route: %.1f° over %d stops\n", engine.RouteLength(state.Motion.Position, remaining), len(remaining))
	}

	if d := state.Delivery; d != nil {
		fmt.Fprintf(&b, "\nDelivery at %s: %s\n", d.StopName, presentLabel(d.Present))
		if d.CaptionReady {
			fmt.Fprintf(&b, "Caption: %s\n", d.Caption)
		} else {
			b.WriteString("Caption: (writing...)\n")
		}
		if d.ImageReady {
			b.WriteString("Picture: ready\n")
		}
	}
	return b.String()
}

func presentLabel(present string) string {
	if present == "" {
		return "a surprise"
	}
	return present
}

func formatHistory(history *service.HistoryResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Delivery Log (Page %d/%d), Total: %d\n\n",
		history.Page, history.TotalPages, history.TotalEntries)

	for _, entry := range history.Entries {
		line := fmt.Sprintf("%d. %s", entry.Sequence, entry.Action)
		if entry.StopName != "" {
			line += " " + entry.StopName
		}
		fmt.Fprintf(&b, "%s @ %.2f, %.2f\n", line, entry.Position.Lat, entry.Position.Lng)
	}
	if len(history.Entries) == 0 {
		b.WriteString("(no entries)\n")
	}
	return b.String()
}
