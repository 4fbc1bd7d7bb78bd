package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/termpanel/termpanel/internal/display"
	"github.com/termpanel/termpanel/internal/errdefs"
	"github.com/termpanel/termpanel/internal/tmux"
	"github.com/termpanel/termpanel/pkg/types"
)

func notFoundSession(id tmux.SessionID) error {
	return errdefs.NotFound("session %s not found", id)
}

func notFoundDisplay(num int) error {
	return errdefs.NotFound("display :%d is not running", num)
}

func slotInfo(slot *display.Slot) types.DisplayInfo {
	return types.DisplayInfo{
		DisplayNum: slot.DisplayNum,
		PanelIndex: slot.PanelIndex,
		Display:    slot.Display,
		VNCPort:    slot.VNCPort,
		WSPort:     slot.WSPort,
		Width:      slot.Width,
		Height:     slot.Height,
	}
}

func displayParam(c echo.Context) (int, error) {
	num, err := strconv.Atoi(c.Param("num"))
	if err != nil {
		return 0, errdefs.NotFound("invalid display number %q", c.Param("num"))
	}
	return num, nil
}

func (s *Server) listDisplays(c echo.Context) error {
	slots := s.displays.List()
	infos := make([]types.DisplayInfo, 0, len(slots))
	for _, slot := range slots {
		infos = append(infos, slotInfo(slot))
	}
	return c.JSON(http.StatusOK, types.DisplayList{
		Displays: infos,
		Count:    len(infos),
	})
}

func (s *Server) createDisplay(c echo.Context) error {
	var req types.CreateDisplayRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	num, err := display.ResolveNumber(req.DisplayNum, req.PanelIndex)
	if err != nil {
		return badRequest(c, err.Error())
	}
	width, height := req.Width, req.Height
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 800
	}

	slot, created, err := s.displays.Allocate(num, width, height)
	if err != nil {
		return respondError(c, err)
	}
	status := "running"
	code := http.StatusOK
	if created {
		status = "created"
		code = http.StatusCreated
	}
	return c.JSON(code, types.CreateDisplayResponse{
		Status:  status,
		Created: created,
		Display: slotInfo(slot),
	})
}

func (s *Server) getDisplay(c echo.Context) error {
	num, err := displayParam(c)
	if err != nil {
		return respondError(c, err)
	}
	slot, ok := s.displays.Probe(num)
	if !ok {
		return respondError(c, notFoundDisplay(num))
	}
	return c.JSON(http.StatusOK, slotInfo(slot))
}

func (s *Server) deleteDisplay(c echo.Context) error {
	num, err := displayParam(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.displays.Release(num); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "released",
		"display_num": num,
	})
}

func (s *Server) resizeDisplay(c echo.Context) error {
	num, err := displayParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req types.ResizeDisplayRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Width <= 0 || req.Height <= 0 {
		return badRequest(c, "width and height are required")
	}
	slot, err := s.displays.Resize(num, req.Width, req.Height)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, types.CreateDisplayResponse{
		Status:  "resized",
		Created: true,
		Display: slotInfo(slot),
	})
}

func (s *Server) displayEnv(c echo.Context) error {
	num, err := displayParam(c)
	if err != nil {
		return respondError(c, err)
	}
	env, ok := s.displays.BindingEnv(num)
	if !ok {
		return respondError(c, notFoundDisplay(num))
	}
	return c.JSON(http.StatusOK, types.DisplayEnvResponse{
		DisplayNum:    num,
		Env:           env.Vars(),
		Unset:         env.Unset(),
		ExportCommand: env.ExportCommand(),
	})
}

func (s *Server) panelLayout(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"panels": s.displays.PanelLayout(),
	})
}
