package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/termpanel/termpanel/pkg/types"
)

// APIKeyMiddleware validates the X-API-Key header (or api_key query
// parameter, for WebSocket dials) against the configured key. An empty
// configured key disables authentication.
func APIKeyMiddleware(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return next(c)
			}

			provided := c.Request().Header.Get("X-API-Key")
			if provided == "" {
				provided = c.QueryParam("api_key")
			}
			if provided == "" {
				return c.JSON(http.StatusUnauthorized, types.ErrorResponse{
					Error: "missing API key",
				})
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				return c.JSON(http.StatusForbidden, types.ErrorResponse{
					Error: "invalid API key",
				})
			}
			return next(c)
		}
	}
}
