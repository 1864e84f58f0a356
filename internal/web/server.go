package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"zwave-go-home/internal/automation"
	"zwave-go-home/internal/commandclass"
	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
)

// Controller is the part of the Z-Wave controller the web API drives.
type Controller interface {
	Subscribe(fn events.Listener) func()
	NetworkInfo() store.NetworkState
	Stats() serialapi.Stats
	LinkDown() bool
	SessionID() string
	Classes() *commandclass.Registry

	ListNodes() ([]*store.Node, error)
	GetNode(id uint8) (*store.Node, error)
	RenameNode(id uint8, name string) error
	ForgetNode(id uint8) error

	StartInclusion(ctx context.Context, opts inclusion.Options) error
	StopInclusion(ctx context.Context) error
	StartExclusion(ctx context.Context, opts inclusion.Options) error
	StopExclusion(ctx context.Context) error
	InclusionState() inclusion.State
	ExclusionState() inclusion.State

	SendRaw(ctx context.Context, cmd controller.RawCommand) (*controller.RawResponse, error)
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the application version string reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithInclusionDefaults sets the options used when a start request has no body.
func WithInclusionDefaults(opts inclusion.Options) ServerOption {
	return func(s *Server) {
		s.inclusionDefaults = opts
	}
}

// Server is the JSON API and event stream of the gateway.
type Server struct {
	ctrl              Controller
	wsHub             *WSHub
	logger            *slog.Logger
	mux               *http.ServeMux
	apiKey            string
	allowedOrigins    []string
	inclusionDefaults inclusion.Options
	scriptMgr         *automation.Manager
	autoEngine        *automation.Engine
	version           string
	wg                sync.WaitGroup
	unsubEvents       func()
}

// NewServer creates a new web server.
func NewServer(ctrl Controller, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		ctrl:   ctrl,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = ctrl.Subscribe(s.wsHub.Broadcast)

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/network", s.handleAPINetworkInfo)
	s.mux.HandleFunc("GET /api/nodes", s.handleAPIListNodes)
	s.mux.HandleFunc("GET /api/nodes/{id}", s.handleAPIGetNode)
	s.mux.HandleFunc("PATCH /api/nodes/{id}", s.handleAPIRenameNode)
	s.mux.HandleFunc("DELETE /api/nodes/{id}", s.handleAPIDeleteNode)
	s.mux.HandleFunc("POST /api/inclusion/{action}", s.handleAPIInclusion)
	s.mux.HandleFunc("POST /api/exclusion/{action}", s.handleAPIExclusion)
	s.mux.HandleFunc("POST /api/send", s.handleAPISend)
	s.mux.HandleFunc("GET /api/classes", s.handleAPIListClasses)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// The WebSocket upgrade cannot carry custom headers from a browser,
		// so only /api/ is protected.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": s.version,
		"session": s.ctrl.SessionID(),
	})
}
