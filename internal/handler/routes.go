package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The guard
// is the bearer authoriser; health and status stay unguarded for probes.
func RegisterRoutes(e *echo.Echo, token *TokenHandler, ping *PingHandler, health *HealthHandler, guard echo.MiddlewareFunc) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.Any("/ping", ping.Handle, guard)
	e.Any("/realtime/token", token.Handle, guard)
}
