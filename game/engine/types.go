package engine

import "time"

// Phase is the top-level state of a delivery run
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseDelivering Phase = "delivering"
	PhaseFinished   Phase = "finished"
)

// SubState is the observable combination of motion state, pending confirmation
// and delivery artifacts while a run is in progress
type SubState string

const (
	SubIdle               SubState = "idle"
	SubEnRoute            SubState = "en_route"
	SubPaused             SubState = "paused"
	SubAwaitingConfirm    SubState = "arrived_awaiting_confirmation"
	SubDeliveringProgress SubState = "delivering_in_progress"
	SubAwaitingDismissal  SubState = "awaiting_dismissal"
	SubWaitingIdle        SubState = "waiting_idle"
	SubFinished           SubState = "finished"
)

const (
	// ArrivalEpsilon is the absolute distance (degrees) under which Santa counts as arrived
	ArrivalEpsilon = 0.005

	// Validation constants
	DefaultBaseSpeed     = 10.0 // degrees per second at speed multiplier 1
	MinBaseSpeed         = 0.1
	MaxBaseSpeed         = 360.0
	MaxSpeedMultiplier   = 50.0
	MaxStops             = 100
	MaxStopNameLength    = 200
	DefaultFallbackDelay = 3 * time.Second
)

// Stop is a planned delivery location with an associated gift
type Stop struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Present   string     `json:"present"`
	Coord     Coordinate `json:"coordinate"`
	Delivered bool       `json:"delivered"`
	IsNext    bool       `json:"is_next"`
}

// MotionState is Santa's position and movement on the map
type MotionState struct {
	Position     Coordinate `json:"position"`
	TargetID     string     `json:"target_id,omitempty"` // non-owning reference into the registry
	Playing      bool       `json:"playing"`
	Speed        float64    `json:"speed"`
	IsDelivering bool       `json:"is_delivering"`
}

// DeliveryArtifact holds the generated narrative for the delivery in flight
type DeliveryArtifact struct {
	StopID       string `json:"stop_id"`
	StopName     string `json:"stop_name"`
	Present      string `json:"present"`
	Caption      string `json:"caption,omitempty"`
	CaptionReady bool   `json:"caption_ready"`
	Image        string `json:"image,omitempty"` // data URI
	ImageReady   bool   `json:"image_ready"`
}

// DeliveryTicket identifies one asynchronous delivery sequence. Results carrying
// a ticket from an older epoch are dropped.
type DeliveryTicket struct {
	StopID   string `json:"stop_id"`
	StopName string `json:"stop_name"`
	Present  string `json:"present"`
	Epoch    uint64 `json:"epoch"`
}

// RunConfig represents a run preset loaded from JSON or YAML
type RunConfig struct {
	Name          string       `json:"name" yaml:"name"`
	Description   string       `json:"description" yaml:"description"`
	Origin        Coordinate   `json:"origin" yaml:"origin"`
	BaseSpeed     float64      `json:"base_speed" yaml:"base_speed"`
	StartingSpeed float64      `json:"starting_speed" yaml:"starting_speed"`
	FallbackDelay Duration     `json:"fallback_delay" yaml:"fallback_delay"`
	Stops         []PresetStop `json:"stops,omitempty" yaml:"stops,omitempty"`
	Messages      RunMessages  `json:"messages" yaml:"messages"`
}

// PresetStop is a pre-resolved stop shipped with a run preset
type PresetStop struct {
	Name    string     `json:"name" yaml:"name"`
	Present string     `json:"present" yaml:"present"`
	Coord   Coordinate `json:"coordinate" yaml:"coordinate"`
}

// RunMessages are the status lines shown to the player. Messages containing
// %s receive the stop name.
type RunMessages struct {
	Welcome        string `json:"welcome" yaml:"welcome"`
	StopAdded      string `json:"stop_added" yaml:"stop_added"`
	GeocodeFailed  string `json:"geocode_failed" yaml:"geocode_failed"`
	RouteOptimized string `json:"route_optimized" yaml:"route_optimized"`
	RunStarted     string `json:"run_started" yaml:"run_started"`
	EnRoute        string `json:"en_route" yaml:"en_route"`
	Arrived        string `json:"arrived" yaml:"arrived"`
	Delivering     string `json:"delivering" yaml:"delivering"`
	Delivered      string `json:"delivered" yaml:"delivered"`
	Skipped        string `json:"skipped" yaml:"skipped"`
	Waiting        string `json:"waiting" yaml:"waiting"`
	Finished       string `json:"finished" yaml:"finished"`
	Reset          string `json:"reset" yaml:"reset"`
}

// DeliveryState represents the complete state of one delivery session
type DeliveryState struct {
	Phase               Phase             `json:"phase"`
	SubState            SubState          `json:"sub_state"`
	Stops               []Stop            `json:"stops"`
	Motion              MotionState       `json:"motion"`
	PendingConfirmation string            `json:"pending_confirmation,omitempty"`
	LastArrivalID       string            `json:"last_arrival_id,omitempty"` // arrival guard
	Delivery            *DeliveryArtifact `json:"delivery,omitempty"`
	Message             string            `json:"message"`
	ConfigName          string            `json:"config_name"`
	Epoch               uint64            `json:"epoch"`
	Frames              int64             `json:"frames"`
	DeliveredCount      int               `json:"delivered_count"`

	// Log is cumulative across soft resets; CurrentRun is cleared on every reset.
	Log        []LogEntry `json:"log"`
	CurrentRun []LogEntry `json:"current_run"`
}

// LogEntry records one state-machine transition
type LogEntry struct {
	Action    string     `json:"action"`
	StopID    string     `json:"stop_id,omitempty"`
	StopName  string     `json:"stop_name,omitempty"`
	Position  Coordinate `json:"position"`
	Timestamp int64      `json:"timestamp"`
	Sequence  int        `json:"sequence"`
}

// Event is a domain event surfaced to the presentation layer
type Event struct {
	Type      string    `json:"type"`
	StopID    string    `json:"stop_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types
const (
	EventStopAdded      = "stop_added"
	EventStopRemoved    = "stop_removed"
	EventRouteReordered = "route_reordered"
	EventRunStarted     = "run_started"
	EventArrived        = "arrived" // presentation plays the chime
	EventDeliveryStart  = "delivery_started"
	EventImageReady     = "image_ready"
	EventCaptionReady   = "caption_ready"
	EventDelivered      = "delivered"
	EventSkipped        = "skipped"
	EventWaiting        = "waiting"
	EventAdvanced       = "advanced"
	EventFinished       = "finished"
	EventReset          = "reset"
	EventSpeedChanged   = "speed_changed"
	EventPaused         = "paused"
	EventResumed        = "resumed"
)

// TickResult reports what one animation frame did
type TickResult struct {
	Moved   bool   `json:"moved"`
	Arrived bool   `json:"arrived"`
	StopID  string `json:"stop_id,omitempty"`
	Skipped bool   `json:"skipped"` // degenerate input, nothing mutated
}
