package service

import (
	"time"

	"github.com/wricardo/santa-delivery-game/game/engine"
)

// SessionInfo provides information about a delivery session
type SessionInfo struct {
	ID             string                `json:"id"`
	ConfigName     string                `json:"config_name"`
	CreatedAt      time.Time             `json:"created_at"`
	LastAccessedAt time.Time             `json:"last_accessed_at"`
	State          *engine.DeliveryState `json:"state"`
	Config         *engine.RunConfig     `json:"config"`
}

// IntentResult contains the outcome of one player intent
type IntentResult struct {
	Success bool                  `json:"success"`
	State   *engine.DeliveryState `json:"state"`
	Message string                `json:"message"`
	Events  []engine.Event        `json:"events,omitempty"`
	StopID  string                `json:"stop_id,omitempty"`
}

// StepResult contains the outcome of a manually driven animation step
type StepResult struct {
	Tick   engine.TickResult     `json:"tick"`
	State  *engine.DeliveryState `json:"state"`
	Events []engine.Event        `json:"events,omitempty"`
}

// HistoryOptions configures delivery log retrieval
type HistoryOptions struct {
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Order string `json:"order"` // "asc" or "desc"
}

// HistoryResponse contains a page of the delivery log
type HistoryResponse struct {
	Entries      []engine.LogEntry `json:"entries"`
	TotalEntries int               `json:"total_entries"`
	Page         int               `json:"page"`
	PageSize     int               `json:"page_size"`
	TotalPages   int               `json:"total_pages"`
	HasNext      bool              `json:"has_next"`
	HasPrevious  bool              `json:"has_previous"`
}

// ConfigInfo provides information about a run preset
type ConfigInfo struct {
	Filename    string  `json:"filename"`
	ConfigID    string  `json:"config_id"` // The identifier to use for session creation
	Name        string  `json:"name"`      // Display name
	Description string  `json:"description"`
	Stops       int     `json:"stops"`
	BaseSpeed   float64 `json:"base_speed"`
}
