package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/termpanel/termpanel/internal/errdefs"
	"github.com/termpanel/termpanel/pkg/types"
)

// respondError maps an error to an HTTP status based on its kind and
// writes a JSON error body.
func respondError(c echo.Context, err error) error {
	kind := errdefs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errdefs.KindNotFound:
		status = http.StatusNotFound
	case errdefs.KindResourceBusy:
		status = http.StatusConflict
	case errdefs.KindDependencyMissing:
		status = http.StatusServiceUnavailable
	case errdefs.KindProcessStartFailure:
		status = http.StatusBadGateway
	}
	return c.JSON(status, types.ErrorResponse{
		Error: err.Error(),
		Kind:  string(kind),
	})
}

// badRequest writes a 400 response with the given message.
func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: msg})
}
