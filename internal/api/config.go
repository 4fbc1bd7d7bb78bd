package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) getConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cfg.Snapshot())
}

type updateConfigRequest struct {
	SessionPrefix *string `json:"session_prefix,omitempty"`
}

func (s *Server) updateConfig(c echo.Context) error {
	var req updateConfigRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.SessionPrefix != nil {
		if *req.SessionPrefix == "" {
			return badRequest(c, "session_prefix must not be empty")
		}
		if err := s.cfg.SetPrefix(*req.SessionPrefix); err != nil {
			return respondError(c, err)
		}
	}
	return c.JSON(http.StatusOK, s.cfg.Snapshot())
}
