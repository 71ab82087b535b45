// Package handler serves the proxy's admin HTTP endpoints.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"forward-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// ConnectionCounter reports how many proxied connections are in flight.
type ConnectionCounter interface {
	Active() int64
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	conns   ConnectionCounter
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, conns ConnectionCounter) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, conns: conns}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusResponse is the body of GET /proxy/status.
type statusResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	ListenAddr        string `json:"listen_addr"`
	ActiveConnections int64  `json:"active_connections"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:     "ok",
		Version:    string(h.version),
		ListenAddr: h.cfg.Server.Addr(),
	}
	if h.conns != nil {
		resp.ActiveConnections = h.conns.Active()
	}
	return c.JSON(http.StatusOK, resp)
}
