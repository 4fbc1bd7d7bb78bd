package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/termpanel/termpanel/internal/metrics"
	"github.com/termpanel/termpanel/internal/tmux"
	"github.com/termpanel/termpanel/pkg/types"
)

func (s *Server) listSessions(c echo.Context) error {
	sessions := s.mux.ListSessions(s.cfg.Prefix())
	if sessions == nil {
		sessions = []string{}
	}
	metrics.SessionsActive.Set(float64(len(sessions)))
	return c.JSON(http.StatusOK, types.SessionList{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

func (s *Server) createSession(c echo.Context) error {
	var req types.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	name := req.Name
	if name == "" {
		name = uuid.NewString()[:8]
	}
	id := s.canonical(name)

	shell := req.Shell
	if shell == "" {
		shell = s.cfg.DefaultShell
	}
	err := s.mux.CreateSession(id, tmux.CreateOptions{
		Cwd:        req.Cwd,
		InitialCmd: req.Command,
		Shell:      shell,
	})
	if err != nil {
		return respondError(c, err)
	}

	metrics.SessionsActive.Set(float64(len(s.mux.ListSessions(s.cfg.Prefix()))))
	return c.JSON(http.StatusCreated, types.SessionResponse{
		Status:  "created",
		Session: id.String(),
	})
}

func (s *Server) deleteSession(c echo.Context) error {
	id := s.canonical(c.Param("name"))
	if err := s.mux.DestroySession(id); err != nil {
		return respondError(c, err)
	}
	s.bridge.Drop(id)
	metrics.SessionsActive.Set(float64(len(s.mux.ListSessions(s.cfg.Prefix()))))
	return c.JSON(http.StatusOK, types.SessionResponse{
		Status:  "destroyed",
		Session: id.String(),
	})
}

func (s *Server) runCommand(c echo.Context) error {
	id := s.canonical(c.Param("name"))
	var req types.RunCommandRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Command == "" {
		return badRequest(c, "command is required")
	}
	if !s.mux.SessionExists(id) {
		return respondError(c, notFoundSession(id))
	}
	if err := s.mux.RunCommand(id, req.Command); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, types.SessionResponse{
		Status:  "sent",
		Session: id.String(),
	})
}

func (s *Server) bindDisplay(c echo.Context) error {
	id := s.canonical(c.Param("name"))
	var req types.BindDisplayRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !s.mux.SessionExists(id) {
		return respondError(c, notFoundSession(id))
	}
	env, ok := s.displays.BindingEnv(req.DisplayNum)
	if !ok {
		return respondError(c, notFoundDisplay(req.DisplayNum))
	}

	// Set the binding both in the tmux environment (future shells) and in
	// the live shell via key injection.
	for k, v := range env.Vars() {
		s.mux.SetEnvironment(id, k, v)
	}
	for _, k := range env.Unset() {
		s.mux.UnsetEnvironment(id, k)
	}
	if err := s.mux.RunCommand(id, env.ExportCommand()); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, types.BindDisplayResponse{
		Status:  "bound",
		Session: id.String(),
		Display: env.Display,
	})
}

func (s *Server) unbindDisplay(c echo.Context) error {
	id := s.canonical(c.Param("name"))
	if !s.mux.SessionExists(id) {
		return respondError(c, notFoundSession(id))
	}
	for _, k := range []string{"DISPLAY", "GDK_BACKEND", "QT_QPA_PLATFORM"} {
		s.mux.UnsetEnvironment(id, k)
	}
	if err := s.mux.RunCommand(id, "unset DISPLAY GDK_BACKEND QT_QPA_PLATFORM"); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, types.BindDisplayResponse{
		Status:  "unbound",
		Session: id.String(),
	})
}
