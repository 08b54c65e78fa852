package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"media-relay/internal/config"
	"media-relay/internal/ingest"
	"media-relay/internal/model"
	"media-relay/internal/provider"
	"media-relay/internal/service"
	"media-relay/internal/translate"
)

// secretParamPattern matches key-like query parameter values in URLs embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)((?:api[_-]?key|key|token)=)[^&\s"]+`)

// RelayHandler serves the background-removal and video-lookup endpoints.
type RelayHandler struct {
	service  *service.RelayService
	registry *provider.Registry
	upload   ingest.Options
	logger   *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, reg *provider.Registry, cfg *config.Config, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service:  svc,
		registry: reg,
		upload: ingest.Options{
			Field:        cfg.Upload.Field,
			MaxBytes:     cfg.Upload.MaxBytes,
			AllowedTypes: cfg.Upload.AllowedTypes,
		},
		logger: logger.With("component", "relay_handler"),
	}
}

// RemoveBackground reads the uploaded image and relays it to the
// background-removal provider.
func (h *RelayHandler) RemoveBackground(c echo.Context) error {
	file, err := ingest.ReadFile(c.Request(), h.upload)
	if err != nil {
		return h.respond(c, model.ProviderRemoveBG, model.GatewayResult{}, h.service.Reject(model.ProviderRemoveBG, err))
	}

	payload, err := h.service.RemoveBackground(c.Request().Context(), file)
	return h.respond(c, model.ProviderRemoveBG, model.Success(payload), err)
}

// LookupVideo relays the url query parameter to the video-metadata provider.
func (h *RelayHandler) LookupVideo(c echo.Context) error {
	payload, err := h.service.LookupVideo(c.Request().Context(), c.QueryParam("url"))
	return h.respond(c, model.ProviderVideoLookup, model.Success(payload), err)
}

func (h *RelayHandler) respond(c echo.Context, name string, result model.GatewayResult, err error) error {
	desc, derr := h.registry.Get(name)
	if derr != nil {
		return derr
	}

	if err != nil {
		result = h.mapError(c, desc, err)
	}

	if result.OK() {
		return c.JSONBlob(result.HTTPStatus, result.Payload)
	}
	if desc.ErrorFormat == provider.ErrorText {
		return c.String(result.HTTPStatus, result.Message)
	}
	return c.JSON(result.HTTPStatus, map[string]string{"error": result.Message})
}

// mapError logs err and converts it into a caller-safe failure result.
func (h *RelayHandler) mapError(c echo.Context, desc *provider.Descriptor, err error) model.GatewayResult {
	status, message := h.classify(desc, err)

	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.logger.Log(c.Request().Context(), level, "relay error",
		"provider", desc.Name,
		"stage", stageOf(err),
		"status", status,
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	return model.Failure(status, message)
}

func (h *RelayHandler) classify(desc *provider.Descriptor, err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrMissingFile), errors.Is(err, service.ErrMissingFile):
		return http.StatusBadRequest, "No image file provided."
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		return http.StatusBadRequest, fmt.Sprintf("Image size must be at most %s.", humanize.IBytes(uint64(h.upload.MaxBytes)))
	case errors.Is(err, ingest.ErrUnsupportedType):
		return http.StatusBadRequest, "Unsupported image type. Use PNG, JPG or WEBP."
	case errors.Is(err, ingest.ErrMalformedForm):
		return http.StatusBadRequest, "Malformed multipart form."
	case errors.Is(err, service.ErrMissingURL):
		return http.StatusBadRequest, "Video URL is required."
	case errors.Is(err, service.ErrInvalidURL):
		return http.StatusBadRequest, "Video URL is invalid."
	case errors.Is(err, config.ErrUnconfigured):
		return http.StatusServiceUnavailable, desc.Messages.Unconfigured
	case errors.Is(err, translate.ErrInvalidCredential):
		return http.StatusInternalServerError, desc.Messages.InvalidCredential
	case errors.Is(err, translate.ErrQuotaExceeded):
		return http.StatusInternalServerError, desc.Messages.QuotaExceeded
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, desc.Messages.Timeout
	}

	if desc.ExposeDetail {
		return http.StatusInternalServerError, desc.Messages.Generic + ": " + sanitizeError(errors.Unwrap(err))
	}
	return http.StatusInternalServerError, desc.Messages.Generic
}

func stageOf(err error) string {
	var se *service.StageError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	return "unknown"
}

// sanitizeError redacts key-like query parameters from error messages that
// may contain provider URLs.
func sanitizeError(err error) string {
	if err == nil {
		return "unknown error"
	}
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
