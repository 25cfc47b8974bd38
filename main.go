// Command santa-delivery starts the Santa delivery game server.
//
// Commands:
//  1. "server" (default): runs the HTTP server exposing REST API, WebSocket, and an /mcp HTTP endpoint
//  2. "stdio-mcp": runs an MCP stdio server and spins up an internal HTTP API if none is available
//  3. "simulate": flies a whole run headless and prints the delivery log
//  4. "validate": checks the run presets in the config directory
//
// Flags control host/port, config directory, the AI provider and geocode
// cache, debug logging, and optional ngrok tunneling for easy external access
// during development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/santa-delivery-game/api"
	"github.com/wricardo/santa-delivery-game/game/animator"
	"github.com/wricardo/santa-delivery-game/game/config"
	"github.com/wricardo/santa-delivery-game/game/engine"
	"github.com/wricardo/santa-delivery-game/game/service"
	"github.com/wricardo/santa-delivery-game/game/session"
	"github.com/wricardo/santa-delivery-game/genai"
	"github.com/wricardo/santa-delivery-game/transport/mcp"
	"github.com/wricardo/santa-delivery-game/transport/websocket"
	"github.com/wricardo/santa-delivery-game/validate"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Santa Delivery Game Server"
)

const (
	defaultSessionTTL   = 24 * time.Hour
	sessionCleanupEvery = time.Hour
	redisGeocodeKey     = "santa:geocode"
)

// appConfig is everything initializeServices needs, read from flags and env
type appConfig struct {
	Host           string
	Port           int
	ConfigDir      string
	StaticDir      string
	AllowedOrigins []string
	FPS            int
	SessionTTL     time.Duration

	GeminiKey   string
	GeminiModel string
	ImageModel  string
	RedisURL    string
	DatabaseURL string

	Ngrok       bool
	NgrokAuth   string
	NgrokDomain string
}

func (c appConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "port", Value: 8080, Usage: "HTTP server port", Sources: cli.EnvVars("PORT")},
		&cli.StringFlag{Name: "host", Value: "localhost", Usage: "HTTP server host"},
		&cli.StringFlag{Name: "config-dir", Value: "configs", Usage: "Directory containing run presets", Sources: cli.EnvVars("CONFIG_DIR")},
		&cli.StringFlag{Name: "static-dir", Value: "./static/", Usage: "Directory served at / (empty disables)"},
		&cli.StringSliceFlag{Name: "allowed-origin", Usage: "CORS origin (repeatable)", Sources: cli.EnvVars("ALLOWED_ORIGINS")},
		&cli.IntFlag{Name: "fps", Value: 60, Usage: "Animation frames per second"},
		&cli.DurationFlag{Name: "session-ttl", Value: defaultSessionTTL, Usage: "Drop sessions idle for longer than this"},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},

		&cli.StringFlag{Name: "gemini-key", Usage: "Gemini API key; without one the offline provider is used", Sources: cli.EnvVars("GEMINI_API_KEY", "API_KEY")},
		&cli.StringFlag{Name: "gemini-model", Usage: "Gemini text model", Sources: cli.EnvVars("GEMINI_MODEL")},
		&cli.StringFlag{Name: "gemini-image-model", Usage: "Gemini image model", Sources: cli.EnvVars("GEMINI_IMAGE_MODEL")},
		&cli.StringFlag{Name: "redis-url", Usage: "Cache geocoding results in Redis", Sources: cli.EnvVars("REDIS_URL")},
		&cli.StringFlag{Name: "database-url", Usage: "Cache geocoding results in Postgres", Sources: cli.EnvVars("DATABASE_URL")},

		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
	}
}

func configFromCommand(cmd *cli.Command) appConfig {
	return appConfig{
		Host:           cmd.String("host"),
		Port:           cmd.Int("port"),
		ConfigDir:      cmd.String("config-dir"),
		StaticDir:      cmd.String("static-dir"),
		AllowedOrigins: cmd.StringSlice("allowed-origin"),
		FPS:            cmd.Int("fps"),
		SessionTTL:     cmd.Duration("session-ttl"),
		GeminiKey:      cmd.String("gemini-key"),
		GeminiModel:    cmd.String("gemini-model"),
		ImageModel:     cmd.String("gemini-image-model"),
		RedisURL:       cmd.String("redis-url"),
		DatabaseURL:    cmd.String("database-url"),
		Ngrok:          cmd.Bool("ngrok"),
		NgrokAuth:      cmd.String("ngrok-auth"),
		NgrokDomain:    cmd.String("ngrok-domain"),
	}
}

func newApp() *cli.Command {
	serverAction := func(ctx context.Context, cmd *cli.Command) error {
		return runHTTPServer(ctx, configFromCommand(cmd))
	}

	return &cli.Command{
		Name:    "santa-delivery",
		Usage:   AppName,
		Version: Version,
		Flags:   globalFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				log.SetFlags(log.LstdFlags | log.Lshortfile)
			} else {
				log.SetFlags(log.LstdFlags)
			}
			return ctx, nil
		},
		Action: serverAction,
		Commands: []*cli.Command{
			{
				Name:    "server",
				Aliases: []string{"http"},
				Usage:   "Run HTTP server with API, WebSocket, and MCP endpoint",
				Action:  serverAction,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run MCP stdio server with internal HTTP server",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runStdioMCPWithInternalServer(ctx, configFromCommand(cmd))
				},
			},
			{
				Name:      "simulate",
				Usage:     "Fly a run headless and print the delivery log",
				ArgsUsage: "[place ...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "preset", Usage: "Run preset to start from"},
					&cli.StringFlag{Name: "present", Value: "a surprise", Usage: "Present for places given as arguments"},
					&cli.BoolFlag{Name: "optimize", Usage: "Optimize the route before starting"},
					&cli.DurationFlag{Name: "timeout", Value: time.Minute, Usage: "Give up after this much wall time"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg := configFromCommand(cmd)
					svcs, err := initializeServices(ctx, cfg, service.WithTimer(immediateTimer))
					if err != nil {
						return err
					}
					defer svcs.Close()

					sim := simulation{
						Preset:   cmd.String("preset"),
						Places:   cmd.Args().Slice(),
						Present:  cmd.String("present"),
						Optimize: cmd.Bool("optimize"),
						FPS:      cfg.FPS,
						Timeout:  cmd.Duration("timeout"),
					}
					_, err = runSimulation(ctx, svcs.Delivery, sim, os.Stdout)
					return err
				},
			},
			{
				Name:  "validate",
				Usage: "Validate the run presets in --config-dir",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					results, err := validate.Dir(cmd.String("config-dir"))
					if err != nil {
						return err
					}
					if !validate.Report(os.Stdout, results) {
						return cli.Exit("", 1)
					}
					return nil
				},
			},
		},
	}
}

// main loads .env, then runs the selected command until SIGINT/SIGTERM.
func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	} else {
		log.Println("Loaded environment variables from .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// services is the wired application
type services struct {
	Delivery service.DeliveryService
	Sessions *session.Manager
	Hub      *websocket.Hub

	closers []func() error
}

// Close waits for in-flight deliveries and releases caches
func (s *services) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Delivery.Shutdown(ctx); err != nil {
		log.Printf("[SHUTDOWN] delivery service: %v", err)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Printf("[SHUTDOWN] %v", err)
		}
	}
}

// initializeServices wires config/session managers, the AI assistant, the
// WebSocket hub and the delivery service.
func initializeServices(ctx context.Context, cfg appConfig, opts ...service.Option) (*services, error) {
	configManager, err := config.NewManager(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create config manager: %w", err)
	}

	s := &services{
		Sessions: session.NewManager(),
		Hub:      websocket.NewHub(),
	}

	assistant, err := buildAssistant(ctx, cfg, s)
	if err != nil {
		for _, c := range s.closers {
			c()
		}
		return nil, err
	}

	opts = append([]service.Option{service.WithBroadcaster(s.Hub)}, opts...)
	s.Delivery = service.NewDeliveryService(s.Sessions, configManager, assistant, opts...)
	return s, nil
}

// buildAssistant picks Gemini when a key is configured and the offline
// provider otherwise, behind Redis, Postgres or in-memory geocode caching.
func buildAssistant(ctx context.Context, cfg appConfig, s *services) (*genai.Assistant, error) {
	var provider genai.Provider = genai.NewOffline()
	if cfg.GeminiKey != "" {
		opts := []genai.Option{genai.WithAPIKey(cfg.GeminiKey)}
		if cfg.GeminiModel != "" {
			opts = append(opts, genai.WithModel(cfg.GeminiModel))
		}
		if cfg.ImageModel != "" {
			opts = append(opts, genai.WithImageModel(cfg.ImageModel))
		}
		gemini, err := genai.NewGemini(opts...)
		if err != nil {
			return nil, err
		}
		provider = gemini
	}

	var cache genai.GeocodeCache
	switch {
	case cfg.RedisURL != "":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.closers = append(s.closers, rdb.Close)
		cache = genai.NewRedisGeocodeCache(rdb, redisGeocodeKey)
		log.Printf("[GEOCODE] cache=redis addr=%s", opt.Addr)
	case cfg.DatabaseURL != "":
		sqlCache, err := genai.OpenSQLGeocodeCache(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sqlCache.Close)
		cache = sqlCache
		log.Printf("[GEOCODE] cache=postgres")
	default:
		cache = genai.NewMemoryCache()
	}

	assistant := genai.NewAssistant(provider, cache)
	log.Printf("[GENAI] provider=%s", assistant.ProviderName())
	return assistant, nil
}

// sessionCleanupRoutine periodically removes sessions that have not been accessed
// within the retention window.
func sessionCleanupRoutine(ctx context.Context, manager *session.Manager, ttl time.Duration) {
	ticker := time.NewTicker(sessionCleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupExpiredSessions(ttl); removed > 0 {
				log.Printf("Cleaned up %d expired sessions", removed)
			}
		}
	}
}

// startBackground runs the hub, the animation loop and session cleanup until ctx ends
func startBackground(ctx context.Context, cfg appConfig, s *services, wg *sync.WaitGroup) {
	interval := time.Second / 60
	if cfg.FPS > 0 {
		interval = time.Second / time.Duration(cfg.FPS)
	}
	driver := animator.NewDriver(animator.SystemClock{}, interval, s.Delivery.Animate)

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		s.Hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		driver.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sessionCleanupRoutine(ctx, s.Sessions, ttl)
	}()
}

func newAPIServer(cfg appConfig, s *services) *api.Server {
	opts := []api.ServerOption{api.WithStaticDir(cfg.StaticDir)}
	if len(cfg.AllowedOrigins) > 0 {
		opts = append(opts, api.WithAllowedOrigins(cfg.AllowedOrigins...))
	}
	return api.NewServer(s.Delivery, s.Hub, opts...)
}

// mcpHandler serves single JSON-RPC messages over plain HTTP POST
func mcpHandler(client *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := client.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runHTTPServer starts the HTTP server with REST API, WebSocket hub, and an /mcp proxy endpoint.
// If ngrok is enabled, it also provisions a public tunnel.
func runHTTPServer(ctx context.Context, cfg appConfig) error {
	log.Printf("Starting %s v%s", AppName, Version)

	s, err := initializeServices(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	startBackground(ctx, cfg, s, &wg)

	addr := cfg.addr()
	mcpClient := mcp.NewClient(fmt.Sprintf("http://%s", addr))

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", newAPIServer(cfg, s))
	mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // geocoding waits on the AI provider
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		log.Printf("REST API: http://%s/api", addr)
		log.Printf("WebSocket: ws://%s/ws?session=<session_id>", addr)
		log.Printf("MCP endpoint: http://%s/mcp", addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.Ngrok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg, mainRouter)
		}()
	}

	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case err := <-serveErr:
		cancel()
		wg.Wait()
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancel()
	wg.Wait()
	log.Println("Server stopped")
	return nil
}

// runNgrok serves handler through an ngrok tunnel until ctx ends
func runNgrok(ctx context.Context, cfg appConfig, handler http.Handler) {
	if cfg.NgrokAuth == "" {
		log.Println("WARNING: Ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	log.Println("Starting ngrok tunnel...")

	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
		log.Printf("Using custom ngrok domain: %s", cfg.NgrokDomain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuth))
	if err != nil {
		log.Printf("Failed to start ngrok tunnel: %v", err)
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Printf("Failed to close ngrok tunnel: %v", err)
		}
	}()

	ngrokURL := tun.URL()
	log.Printf("🚀 Ngrok tunnel established: %s", ngrokURL)
	log.Printf("  REST API (ngrok): %s/api", ngrokURL)
	log.Printf("  WebSocket (ngrok): %s/ws?session=<session_id>", ngrokURL)
	log.Printf("  MCP endpoint (ngrok): %s/mcp", ngrokURL)
	log.Printf("  Map UI (ngrok): %s/", ngrokURL)

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Printf("Ngrok server error: %v", err)
	}
	log.Println("Ngrok tunnel closed")
}

// runStdioMCPWithInternalServer runs an MCP stdio server.
// It tries to reuse an external API at the configured address; if unavailable,
// it starts an internal HTTP API bound to a random loopback port and targets that.
func runStdioMCPWithInternalServer(ctx context.Context, cfg appConfig) error {
	externalURL := fmt.Sprintf("http://%s", cfg.addr())
	log.Printf("Checking for external API server at %s...", externalURL)

	baseURL := externalURL
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/api/health")
	if err == nil {
		resp.Body.Close()
	}
	if err == nil && resp.StatusCode < 500 {
		log.Printf("External API server found at %s, using it for MCP", externalURL)
	} else {
		log.Printf("No external API server found, starting internal HTTP server")

		s, err := initializeServices(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		defer s.Close()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		var wg sync.WaitGroup
		startBackground(ctx, cfg, s, &wg)
		defer wg.Wait()

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		internalAddr := listener.Addr().String()
		log.Printf("Starting internal HTTP server on %s for MCP stdio", internalAddr)

		cfg.StaticDir = ""
		httpServer := &http.Server{Handler: newAPIServer(cfg, s)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Internal HTTP server error: %v", err)
			}
		}()
		defer httpServer.Close()

		baseURL = fmt.Sprintf("http://%s", internalAddr)
	}

	mcpClient := mcp.NewClient(baseURL)
	log.Printf("MCP stdio server ready (API at %s)", baseURL)

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

// immediateTimer fires at once; simulate does not wait out the fallback delay
func immediateTimer(time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

// simulation describes one headless run
type simulation struct {
	Preset   string
	Places   []string
	Present  string
	Optimize bool
	FPS      int
	Timeout  time.Duration
}

// runSimulation plans and flies a whole run, confirming every stop, and
// prints each event as it happens
func runSimulation(ctx context.Context, svc service.DeliveryService, sim simulation, w io.Writer) (*engine.DeliveryState, error) {
	info, err := svc.CreateSession(ctx, sim.Preset)
	if err != nil {
		return nil, err
	}
	id := info.ID
	fmt.Fprintf(w, "Session %s (%s)\n", id, info.ConfigName)

	printEvents := func(events []engine.Event) {
		for _, ev := range events {
			if ev.Message != "" {
				fmt.Fprintf(w, "  [%s] %s\n", ev.Type, ev.Message)
			}
		}
	}

	for _, place := range sim.Places {
		res, err := svc.AddStop(ctx, id, place, sim.Present)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			fmt.Fprintf(w, "  ! %s\n", res.Message)
			continue
		}
		printEvents(res.Events)
	}

	if sim.Optimize {
		res, err := svc.OptimizeRoute(ctx, id)
		if err != nil {
			return nil, err
		}
		printEvents(res.Events)
	}

	res, err := svc.StartRun(ctx, id)
	if err != nil {
		return nil, err
	}
	printEvents(res.Events)

	fps := sim.FPS
	if fps <= 0 {
		fps = 60
	}
	dt := 1.0 / float64(fps)
	timeout := sim.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("simulation timed out after %s", timeout)
		}

		state, err := svc.GetState(ctx, id)
		if err != nil {
			return nil, err
		}

		var events []engine.Event
		switch state.SubState {
		case engine.SubFinished:
			fmt.Fprintf(w, "%s\n", state.Message)
			return state, nil
		case engine.SubEnRoute:
			step, err := svc.Step(ctx, id, dt)
			if err != nil {
				return nil, err
			}
			events = step.Events
		case engine.SubAwaitingConfirm, engine.SubWaitingIdle:
			res, err = svc.ConfirmDelivery(ctx, id)
			if err != nil {
				return nil, err
			}
			events = res.Events
		case engine.SubAwaitingDismissal:
			if d := state.Delivery; d != nil && d.CaptionReady {
				fmt.Fprintf(w, "  \"%s\"\n", strings.TrimSpace(d.Caption))
			}
			res, err = svc.DismissDelivery(ctx, id)
			if err != nil {
				return nil, err
			}
			events = res.Events
		case engine.SubPaused:
			res, err = svc.Resume(ctx, id)
			if err != nil {
				return nil, err
			}
			events = res.Events
		case engine.SubDeliveringProgress:
			time.Sleep(5 * time.Millisecond)
		default:
			return nil, fmt.Errorf("simulation stuck in %s/%s", state.Phase, state.SubState)
		}
		printEvents(events)
	}
}
