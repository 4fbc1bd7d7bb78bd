package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/termpanel/termpanel/internal/commands"
	"github.com/termpanel/termpanel/pkg/types"
)

func commandEntries(cmds []commands.Command) []types.CommandEntry {
	entries := make([]types.CommandEntry, 0, len(cmds))
	for _, cmd := range cmds {
		entries = append(entries, types.CommandEntry{
			Label:   cmd.Label,
			Command: cmd.Command,
		})
	}
	return entries
}

func (s *Server) getAllCommands(c echo.Context) error {
	all := s.commands.All()
	out := make(map[string][]types.CommandEntry, len(all))
	for session, cmds := range all {
		out[session] = commandEntries(cmds)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getSessionCommands(c echo.Context) error {
	session := c.Param("session")
	return c.JSON(http.StatusOK, types.SessionCommands{
		Session:  session,
		Commands: commandEntries(s.commands.Get(session)),
	})
}

func (s *Server) addCommand(c echo.Context) error {
	session := c.Param("session")
	var req types.CommandEntry
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Label == "" || req.Command == "" {
		return badRequest(c, "label and command are required")
	}
	cmds, err := s.commands.Add(session, req.Label, req.Command)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, types.SessionCommands{
		Session:  session,
		Commands: commandEntries(cmds),
	})
}

func (s *Server) deleteCommand(c echo.Context) error {
	session := c.Param("session")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return badRequest(c, "invalid command index")
	}
	cmds, err := s.commands.Delete(session, index)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, types.SessionCommands{
		Session:  session,
		Commands: commandEntries(cmds),
	})
}

func (s *Server) clearCommands(c echo.Context) error {
	session := c.Param("session")
	if err := s.commands.Clear(session); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, types.SessionCommands{
		Session:  session,
		Commands: []types.CommandEntry{},
	})
}
