// Package api exposes the management REST surface and the real-time
// WebSocket event stream. Handlers are thin: they canonicalize names,
// shape JSON, and delegate to the managers.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/termpanel/termpanel/internal/bridge"
	"github.com/termpanel/termpanel/internal/commands"
	"github.com/termpanel/termpanel/internal/config"
	"github.com/termpanel/termpanel/internal/display"
	"github.com/termpanel/termpanel/internal/metrics"
	"github.com/termpanel/termpanel/internal/tmux"
)

// Server holds the API server dependencies.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	mux      *tmux.Manager
	bridge   *bridge.Bridge
	displays *display.Manager
	commands *commands.Store
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg *config.Config, mux *tmux.Manager, br *bridge.Bridge, displays *display.Manager, cmdStore *commands.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		cfg:      cfg,
		mux:      mux,
		bridge:   br,
		displays: displays,
		commands: cmdStore,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(metrics.EchoMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api")
	api.Use(APIKeyMiddleware(cfg.APIKey))

	// Configuration
	api.GET("/config", s.getConfig)
	api.PATCH("/config", s.updateConfig)
	api.POST("/config", s.updateConfig)

	// Sessions
	api.GET("/sessions", s.listSessions)
	api.POST("/sessions", s.createSession)
	api.DELETE("/sessions/:name", s.deleteSession)
	api.POST("/sessions/:name/command", s.runCommand)
	api.POST("/sessions/:name/bind-display", s.bindDisplay)
	api.POST("/sessions/:name/unbind-display", s.unbindDisplay)

	// Quick commands
	api.GET("/commands", s.getAllCommands)
	api.GET("/commands/:session", s.getSessionCommands)
	api.POST("/commands/:session", s.addCommand)
	api.DELETE("/commands/:session/:index", s.deleteCommand)
	api.DELETE("/commands/:session", s.clearCommands)

	// Displays
	api.GET("/displays", s.listDisplays)
	api.POST("/displays", s.createDisplay)
	api.GET("/displays/layout", s.panelLayout)
	api.GET("/displays/:num", s.getDisplay)
	api.DELETE("/displays/:num", s.deleteDisplay)
	api.POST("/displays/:num/resize", s.resizeDisplay)
	api.GET("/displays/:num/env", s.displayEnv)

	// Real-time event stream (auth via query param supported by the
	// middleware, since browsers cannot set headers on WebSocket dials).
	ws := e.Group("/ws")
	ws.Use(APIKeyMiddleware(cfg.APIKey))
	ws.GET("", s.eventSocket)

	return s
}

// canonical applies the session prefix to a client-supplied name.
func (s *Server) canonical(name string) tmux.SessionID {
	return tmux.Canonical(s.cfg.Prefix(), name)
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Close shuts down the server.
func (s *Server) Close() error {
	return s.echo.Close()
}
