package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"media-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	creds   *config.Credentials
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(creds *config.Credentials, v Version) *HealthHandler {
	return &HealthHandler{creds: creds, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status     string   `json:"status"`
	Version    string   `json:"version"`
	Configured []string `json:"configured_providers"`
}

// Status reports the build version and which providers have a credential.
// Key values are never included.
func (h *HealthHandler) Status(c echo.Context) error {
	configured := h.creds.Configured()
	if configured == nil {
		configured = []string{}
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:     "ok",
		Version:    string(h.version),
		Configured: configured,
	})
}
