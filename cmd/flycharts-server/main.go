// FlyCharts Telemetry Server
// Serves the chart UI and provides REST API + WebSocket telemetry endpoints
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/flycharts/flycharts/internal/auth"
	"github.com/flycharts/flycharts/internal/db"
	"github.com/flycharts/flycharts/internal/hub"
	"github.com/flycharts/flycharts/internal/session"
	"github.com/flycharts/flycharts/pkg/config"
	"github.com/flycharts/flycharts/pkg/geo"
	"github.com/flycharts/flycharts/pkg/simconnect"
)

var (
	configPath   = flag.String("config", "configs/config.json", "Path to configuration file")
	port         = flag.Int("port", 0, "HTTP server port (overrides config)")
	hashPassword = flag.String("hash-password", "", "Print the bcrypt hash for an operator password and exit")
	writeConfig  = flag.Bool("write-config", false, "Write the effective configuration to the config path and exit")
)

// Server holds the HTTP server and its dependencies
type Server struct {
	router  *chi.Mux
	cfg     *config.Config
	session *session.Manager
	hub     *hub.Hub
	authSvc *auth.Service
	tracks  *db.TrackRepository
	limiter *rate.Limiter
}

// multiPublisher fans one published event out to several sinks.
type multiPublisher []session.Publisher

func (m multiPublisher) Publish(event string, payload any) {
	for _, p := range m {
		p.Publish(event, payload)
	}
}

func main() {
	flag.Parse()

	// Hash an operator password for the auth section of the config
	if *hashPassword != "" {
		hash, err := auth.NewService(auth.Config{}).HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = strconv.Itoa(*port)
	}

	// Materialize the effective config (defaults + file + env) on disk
	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		log.Printf("Wrote configuration to %s", *configPath)
		return
	}

	log.Println("🛫 Starting FlyCharts telemetry server...")

	// Start the broadcast hub
	broadcastHub := hub.New()
	go broadcastHub.Run()

	// Optional flight track history
	var (
		database *db.DB
		tracks   *db.TrackRepository
	)
	sinks := multiPublisher{broadcastHub}
	if cfg.Database.Enabled {
		database, err = db.Connect(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := database.InitSchema(context.Background()); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		tracks = db.NewTrackRepository(database)
		sinks = append(sinks, db.NewRecorder(tracks))
		log.Println("✅ Flight track history enabled")
	}

	// Telemetry source. An empty bridge URL means the capability is
	// missing on this host: the server still runs, telemetry endpoints
	// report "unavailable".
	var dial session.DialFunc
	if cfg.SimConnect.BaseURL != "" {
		bridgeURL := cfg.SimConnect.BaseURL
		dial = func() (session.Source, error) {
			return simconnect.NewClient(bridgeURL), nil
		}
		log.Printf("📡 SimConnect bridge: %s", bridgeURL)
	} else {
		log.Println("⚠️  No SimConnect bridge configured, telemetry unavailable")
	}

	mgr := session.NewManager(session.Options{
		Dial:         dial,
		Sink:         sinks,
		PollInterval: time.Duration(cfg.SimConnect.PollIntervalMS) * time.Millisecond,
		ErrorBackoff: time.Duration(cfg.SimConnect.ErrorBackoffMS) * time.Millisecond,
	})

	// Optional auth for the control endpoints
	var authSvc *auth.Service
	if cfg.Auth.Enabled {
		authSvc = auth.NewService(auth.Config{
			JWTSecret:     cfg.Auth.JWTSecret,
			TokenDuration: time.Duration(cfg.Auth.TokenDurationHours) * time.Hour,
		})
		log.Println("🔒 Control endpoints require authentication")
	}

	// Create server
	srv := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg,
		session: mgr,
		hub:     broadcastHub,
		authSvc: authSvc,
		tracks:  tracks,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst),
	}
	srv.setupRoutes()

	// Periodic history pruning
	pruneCtx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	if tracks != nil {
		go prune(pruneCtx, tracks, time.Duration(cfg.Database.RetentionHours)*time.Hour)
	}

	// Try to auto-connect on startup if a bridge is configured
	if cfg.SimConnect.AutoConnect && mgr.Available() {
		log.Println("Attempting auto-connect to SimConnect...")
		if res := mgr.Connect(); !res.Success {
			log.Printf("Auto-connect failed: %s", res.Message)
		}
	}

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("📡 Server listening on http://%s", httpServer.Addr)

		var err error
		if cfg.Server.TLSEnabled {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n👋 Shutting down server...")

	// Graceful shutdown: stop accepting requests, then release the
	// simulator link best-effort.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if res := mgr.Disconnect(); !res.Success {
		log.Printf("Disconnect on shutdown: %s", res.Message)
	}
	broadcastHub.Stop()

	log.Println("✅ Server stopped")
}

// prune removes stale track points on a fixed schedule.
func prune(ctx context.Context, tracks *db.TrackRepository, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tracks.Prune(ctx, retention); err != nil {
				log.Printf("Error pruning flight track: %v", err)
			}
		}
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	// CORS for the chart UI
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	// Legacy endpoints (backward compatibility with the first UI builds)
	r.Get("/aircraft/position", s.handleLegacyPosition)
	r.Get("/aircraft/type", s.handleLegacyType)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)

		if s.authSvc != nil {
			r.Post("/auth/login", s.handleLogin)
		}

		// Control endpoints (authenticated when auth is enabled)
		r.Group(func(r chi.Router) {
			if s.authSvc != nil {
				r.Use(s.authMiddleware)
			}
			r.Post("/simconnect/connect", s.handleConnect)
			r.Post("/simconnect/disconnect", s.handleDisconnect)
		})

		r.Get("/simconnect/status", s.handleStatus)
		r.Get("/aircraft/position", s.handleAPIPosition)
		r.Get("/flight/track", s.handleTrack)
	})

	// WebSocket push channel
	r.Get("/ws", s.handleWebSocket)

	// Static files (chart UI)
	staticDir := s.cfg.Static.Dir
	log.Printf("📁 Serving static files from: %s", staticDir)

	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
			return
		}
		rel := filepath.Clean("/" + strings.TrimPrefix(r.URL.Path, "/"))
		full := filepath.Join(staticDir, rel)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			http.ServeFile(w, r, full)
			return
		}
		respondJSON(w, http.StatusNotFound, map[string]any{"error": "Not Found"})
	})
}

// rateLimitMiddleware throttles the JSON API with a shared token bucket.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			respondJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": "Too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates the bearer token on control endpoints.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		// Extract token (format: "Bearer <token>")
		var token string
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		} else {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := s.authSvc.ValidateToken(token)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		if !auth.CanControlSession(claims.Role) {
			http.Error(w, "Insufficient permissions", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleLogin authenticates the configured operator account.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username != s.cfg.Auth.Username {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := s.authSvc.ComparePassword(s.cfg.Auth.PasswordHash, req.Password); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.authSvc.GenerateToken(req.Username, auth.RoleOperator)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
	})
}

// handleHealth reports whether the backend and simulator link are up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.session.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "Backend running",
		"simconnect_available": status.SimConnectAvailable,
		"simconnect_connected": status.Connected,
		"timestamp":            status.Timestamp,
	})
}

// handleLegacyPosition is the original position endpoint: the snapshot
// itself on success, a 500 with an error body when no data is available.
func (s *Server) handleLegacyPosition(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot()
	if err != nil {
		log.Printf("Error reading aircraft position: %v", err)
	}
	if snap == nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "No position data available",
		})
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleLegacyType returns just the aircraft title.
func (s *Server) handleLegacyType(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot()
	if err != nil {
		log.Printf("Error reading aircraft type: %v", err)
	}
	if snap == nil || snap.AircraftTitle == "" {
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "No aircraft data available",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": snap.AircraftTitle})
}

// handleConnect opens the simulator link and broadcasts the new status.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	result := s.session.Connect()
	s.hub.Publish(session.EventStatus, result)
	respondJSON(w, http.StatusOK, result)
}

// handleDisconnect closes the simulator link and broadcasts the new status.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	result := s.session.Disconnect()
	s.hub.Publish(session.EventStatus, result)
	respondJSON(w, http.StatusOK, result)
}

// handleStatus returns the current session status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Status())
}

// handleAPIPosition is the enveloped position endpoint. Read failures
// degrade to success=false rather than an HTTP error.
func (s *Server) handleAPIPosition(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot()
	if err != nil {
		log.Printf("Error reading aircraft position: %v", err)
	}
	if snap == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "No position data available",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    snap,
	})
}

// handleTrack returns the recent flight track from the history table.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if s.tracks == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Flight history not enabled",
		})
		return
	}

	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 10000 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	points, err := s.tracks.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("Error querying flight track: %v", err)
		http.Error(w, "Failed to query flight track", http.StatusInternalServerError)
		return
	}

	track := make([]geo.Point, len(points))
	for i, p := range points {
		track[i] = geo.Point{Latitude: p.Latitude, Longitude: p.Longitude}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"points":      points,
		"count":       len(points),
		"distance_nm": geo.TrackDistanceNauticalMiles(track),
	})
}

// handleWebSocket upgrades the connection and seeds the new subscriber
// with the current status and last known position.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r,
		func(c *hub.Client) {
			status := s.session.Status()
			c.Send(session.EventStatus, status)
			if status.LastPosition != nil {
				c.Send(session.EventPositionUpdate, status.LastPosition)
			}
		},
		func(c *hub.Client, event string) {
			switch event {
			case "request_status":
				c.Send(session.EventStatus, s.session.Status())
			case "request_position":
				snap, err := s.session.Snapshot()
				if err != nil {
					log.Printf("Error reading aircraft position: %v", err)
				}
				if snap != nil {
					c.Send(session.EventPositionUpdate, snap)
				}
			}
		},
	)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
