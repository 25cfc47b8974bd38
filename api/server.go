package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/game/service"
	"github.com/wricardo/santa-delivery-game/transport/websocket"
)

// Server represents the REST API server
type Server struct {
	service service.DeliveryService
	hub     *websocket.Hub
	router  *mux.Router
	handler http.Handler
}

// ServerOption configures a Server
type ServerOption func(*serverOptions)

type serverOptions struct {
	allowedOrigins []string
	staticDir      string
}

// WithAllowedOrigins sets the CORS origins
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(o *serverOptions) { o.allowedOrigins = origins }
}

// WithStaticDir serves the presentation client from dir
func WithStaticDir(dir string) ServerOption {
	return func(o *serverOptions) { o.staticDir = dir }
}

// NewServer creates a new API server
func NewServer(deliveryService service.DeliveryService, hub *websocket.Hub, opts ...ServerOption) *Server {
	o := serverOptions{staticDir: "./static/"}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		service: deliveryService,
		hub:     hub,
		router:  mux.NewRouter(),
	}

	s.setupRoutes(o.staticDir)
	s.handler = middleware(o.allowedOrigins).Then(s.router)
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(staticDir string) {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Session management
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	// Unified sessions for multi-session view (must be before {id} pattern)
	api.HandleFunc("/sessions/unified", s.handleUnifiedSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")

	// Planning
	api.HandleFunc("/sessions/{id}/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/sessions/{id}/stops", s.handleAddStop).Methods("POST")
	api.HandleFunc("/sessions/{id}/stops/{stopId}", s.handleRemoveStop).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/optimize", s.intent(s.service.OptimizeRoute)).Methods("POST")

	// Run control
	api.HandleFunc("/sessions/{id}/start", s.intent(s.service.StartRun)).Methods("POST")
	api.HandleFunc("/sessions/{id}/confirm", s.intent(s.service.ConfirmDelivery)).Methods("POST")
	api.HandleFunc("/sessions/{id}/skip", s.handleSkip).Methods("POST")
	api.HandleFunc("/sessions/{id}/cancel", s.intent(s.service.CancelConfirmation)).Methods("POST")
	api.HandleFunc("/sessions/{id}/dismiss", s.intent(s.service.DismissDelivery)).Methods("POST")
	api.HandleFunc("/sessions/{id}/pause", s.intent(s.service.Pause)).Methods("POST")
	api.HandleFunc("/sessions/{id}/resume", s.intent(s.service.Resume)).Methods("POST")
	api.HandleFunc("/sessions/{id}/speed", s.handleSetSpeed).Methods("POST")
	api.HandleFunc("/sessions/{id}/step", s.handleStep).Methods("POST")
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/sessions/{id}/new-route", s.handleNewRoute).Methods("POST")
	api.HandleFunc("/sessions/{id}/history", s.handleGetHistory).Methods("GET")

	// Configuration
	api.HandleFunc("/configs", s.handleListConfigs).Methods("GET")
	api.HandleFunc("/configs", s.handleCreateConfig).Methods("POST")
	api.HandleFunc("/configs/{name}", s.handleGetConfig).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors onto HTTP status codes
func respondServiceError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrConfigNotFound),
		errors.Is(err, engine.ErrStopNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidPhase),
		errors.Is(err, engine.ErrRegistryFrozen),
		errors.Is(err, engine.ErrNoPending),
		errors.Is(err, engine.ErrNoStops),
		errors.Is(err, engine.ErrStaleTicket):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidCoordinate),
		errors.Is(err, engine.ErrInvalidSpeed),
		errors.Is(err, service.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional decodes a JSON body when one is present
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// intent adapts a body-less session intent into a handler
func (s *Server) intent(fn func(ctx context.Context, sessionID string) (*service.IntentResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := fn(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

// Session Handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigID string `json:"config_id,omitempty"`
	}
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.service.CreateSession(r.Context(), req.ConfigID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	query := r.URL.Query()
	sortBy := query.Get("sort")    // "created", "accessed" (default)
	order := query.Get("order")    // "asc", "desc" (default: "desc")
	limitStr := query.Get("limit") // number of sessions to return

	if sortBy == "" {
		sortBy = "accessed"
	}
	if order == "" {
		order = "desc"
	}

	sort.Slice(sessions, func(i, j int) bool {
		var ti, tj time.Time
		if sortBy == "created" {
			ti, tj = sessions[i].CreatedAt, sessions[j].CreatedAt
		} else {
			ti, tj = sessions[i].LastAccessedAt, sessions[j].LastAccessedAt
		}

		if order == "asc" {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	total := len(sessions)
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"sort":     sortBy,
		"order":    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.service.DeleteSession(r.Context(), sessionID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

// Delivery Handlers

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.GetState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// handleAddStop geocodes "location", or places the stop directly when lat
// and lng are given
func (s *Server) handleAddStop(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req struct {
		Location string   `json:"location"`
		Name     string   `json:"name,omitempty"`
		Present  string   `json:"present"`
		Lat      *float64 `json:"lat,omitempty"`
		Lng      *float64 `json:"lng,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var result *service.IntentResult
	var err error
	switch {
	case req.Lat != nil && req.Lng != nil:
		name := req.Name
		if name == "" {
			name = req.Location
		}
		result, err = s.service.AddStopAt(r.Context(), sessionID, name, req.Present,
			engine.Coordinate{Lat: *req.Lat, Lng: *req.Lng})
	case strings.TrimSpace(req.Location) != "":
		result, err = s.service.AddStop(r.Context(), sessionID, req.Location, req.Present)
	default:
		respondError(w, http.StatusBadRequest, "location or lat/lng is required")
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if !result.Success {
		// unresolvable location; the message says so and nothing was added
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

func (s *Server) handleRemoveStop(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := s.service.RemoveStop(r.Context(), vars["id"], vars["stopId"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StopID string `json:"stop_id,omitempty"`
	}
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.service.SkipStop(r.Context(), mux.Vars(r)["id"], req.StopID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Multiplier float64 `json:"multiplier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.service.SetSpeed(r.Context(), mux.Vars(r)["id"], req.Multiplier)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleStep advances one session by dt seconds, for clients without a frame loop
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	req := struct {
		DT float64 `json:"dt"`
	}{DT: animationStep}
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.service.Step(r.Context(), mux.Vars(r)["id"], req.DT)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// animationStep is the default Δt for /step
const animationStep = 1.0 / 60

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Reset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Run reset, stops kept",
		"state":   state,
	})
}

func (s *Server) handleNewRoute(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.NewRoute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Route cleared",
		"state":   state,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	opts := service.HistoryOptions{
		Page:  1,
		Limit: 20,
		Order: "desc",
	}

	query := r.URL.Query()
	if pageStr := query.Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			opts.Page = p
		}
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			opts.Limit = l
		}
	}
	if order := query.Get("order"); order == "asc" || order == "desc" {
		opts.Order = order
	}

	history, err := s.service.GetHistory(r.Context(), mux.Vars(r)["id"], opts)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

// Configuration Handlers

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.service.ListConfigs(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, configs)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	config, err := s.service.LoadConfig(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, config)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var runConfig engine.RunConfig
	if err := json.NewDecoder(r.Body).Decode(&runConfig); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if runConfig.Name == "" {
		respondError(w, http.StatusBadRequest, "Config name is required")
		return
	}

	if err := s.service.SaveConfig(r.Context(), runConfig.Name, &runConfig); err != nil {
		respondError(w, statusFor(err), fmt.Sprintf("Failed to save config: %v", err))
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message":   "Configuration saved successfully",
		"config_id": runConfig.Name,
	})
}

// Unified Sessions Handler

func (s *Server) handleUnifiedSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var sessions []*service.SessionInfo

	if sessionIDs := query.Get("sessionIds"); sessionIDs != "" {
		ids := strings.Split(sessionIDs, ",")
		sessions = make([]*service.SessionInfo, 0, len(ids))
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id != "" {
				session, err := s.service.GetSession(r.Context(), id)
				if err == nil {
					sessions = append(sessions, session)
				}
			}
		}
	} else {
		allSessions, err := s.service.ListSessions(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		configName := query.Get("configName")
		for _, session := range allSessions {
			if configName == "" || session.ConfigName == configName {
				sessions = append(sessions, session)
			}
		}
	}

	configName := ""
	if len(sessions) > 0 {
		configName = sessions[0].ConfigName
	}

	entries := make([]map[string]interface{}, 0, len(sessions))
	totalStops, totalDelivered := 0, 0
	for _, session := range sessions {
		totalStops += len(session.State.Stops)
		totalDelivered += session.State.DeliveredCount
		entries = append(entries, map[string]interface{}{
			"session_id":    session.ID,
			"config_name":   session.ConfigName,
			"state":         session.State,
			"created_at":    session.CreatedAt,
			"last_accessed": session.LastAccessedAt,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"config_name":     configName,
		"total_stops":     totalStops,
		"total_delivered": totalDelivered,
		"sessions":        entries,
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}
	if s.hub == nil {
		http.Error(w, "WebSocket not available", http.StatusServiceUnavailable)
		return
	}

	state, err := s.service.GetState(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "Invalid session", http.StatusNotFound)
		return
	}

	s.hub.ServeWS(w, r, sessionID, state)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
