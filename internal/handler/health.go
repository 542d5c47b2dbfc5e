package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chat-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse describes the running relay.
type StatusResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	APIVersion     string `json:"api_version"`
	ChatPath       string `json:"chat_path"`
	AllowedHosts   int    `json:"allowed_hosts"`
	MetricsEnabled bool   `json:"metrics_enabled"`
}

// Status returns relay status information. Allowed hosts are reported as a
// count only.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:         "ok",
		Version:        string(h.version),
		APIVersion:     h.cfg.Relay.APIVersion,
		ChatPath:       h.cfg.Relay.ChatPath,
		AllowedHosts:   len(h.cfg.Upstream.AllowedHosts),
		MetricsEnabled: h.cfg.Metrics.Enabled,
	})
}
