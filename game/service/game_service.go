package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/genai"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrConfigNotFound  = errors.New("configuration not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// DeliveryService defines all delivery-run operations
type DeliveryService interface {
	// Session Management
	CreateSession(ctx context.Context, configName string) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Planning
	AddStop(ctx context.Context, sessionID, query, present string) (*IntentResult, error)
	AddStopAt(ctx context.Context, sessionID, name, present string, coord engine.Coordinate) (*IntentResult, error)
	RemoveStop(ctx context.Context, sessionID, stopID string) (*IntentResult, error)
	OptimizeRoute(ctx context.Context, sessionID string) (*IntentResult, error)

	// Run control
	StartRun(ctx context.Context, sessionID string) (*IntentResult, error)
	ConfirmDelivery(ctx context.Context, sessionID string) (*IntentResult, error)
	SkipStop(ctx context.Context, sessionID, stopID string) (*IntentResult, error)
	CancelConfirmation(ctx context.Context, sessionID string) (*IntentResult, error)
	DismissDelivery(ctx context.Context, sessionID string) (*IntentResult, error)
	Pause(ctx context.Context, sessionID string) (*IntentResult, error)
	Resume(ctx context.Context, sessionID string) (*IntentResult, error)
	SetSpeed(ctx context.Context, sessionID string, multiplier float64) (*IntentResult, error)
	Reset(ctx context.Context, sessionID string) (*engine.DeliveryState, error)
	NewRoute(ctx context.Context, sessionID string) (*engine.DeliveryState, error)

	// Animation
	Animate(dt float64)
	Step(ctx context.Context, sessionID string, dt float64) (*StepResult, error)

	// State
	GetState(ctx context.Context, sessionID string) (*engine.DeliveryState, error)
	GetHistory(ctx context.Context, sessionID string, opts HistoryOptions) (*HistoryResponse, error)

	// Configuration
	ListConfigs(ctx context.Context) ([]*ConfigInfo, error)
	LoadConfig(ctx context.Context, configName string) (*engine.RunConfig, error)
	SaveConfig(ctx context.Context, configName string, config *engine.RunConfig) error

	// Shutdown waits for in-flight delivery sequences
	Shutdown(ctx context.Context) error
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create(id string, config *engine.RunConfig) (*Session, error)
	Get(id string) (*Session, error)
	GetOrCreate(id string, config *engine.RunConfig) (*Session, error)
	List() []*Session
	Delete(id string) error
	UpdateLastAccessed(id string) error
}

// ConfigManager handles run preset loading
type ConfigManager interface {
	LoadConfig(name string) (*engine.RunConfig, error)
	ListConfigs() ([]*ConfigInfo, error)
	GetDefault() *engine.RunConfig
	SaveConfig(name string, config *engine.RunConfig) error
}

// Assistant is the AI boundary. Implementations never fail; they fall back to
// safe defaults (see genai.Assistant).
type Assistant interface {
	Geocode(ctx context.Context, query string) (genai.Place, bool)
	OptimizeOrder(ctx context.Context, origin engine.Coordinate, stops []engine.Stop) []string
	GenerateCaption(ctx context.Context, location, gift string) string
	GenerateImage(ctx context.Context, location, gift string) (string, bool)
}

// Broadcaster pushes snapshots and events to connected presentation clients
type Broadcaster interface {
	BroadcastState(sessionID string, state *engine.DeliveryState)
	BroadcastEvent(sessionID string, event engine.Event)
}

// Session represents an active delivery session. The embedded mutex
// serialises every engine access for the session.
type Session struct {
	sync.Mutex

	ID             string
	Engine         *engine.DeliveryEngine
	Config         *engine.RunConfig
	CreatedAt      time.Time
	LastAccessedAt time.Time
}
