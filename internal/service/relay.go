// Package service implements the relay: validate, dispatch to a provider,
// translate the response.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"media-relay/internal/client"
	"media-relay/internal/config"
	"media-relay/internal/metrics"
	"media-relay/internal/model"
	"media-relay/internal/provider"
	"media-relay/internal/translate"
)

var (
	// ErrMissingURL is returned when a video lookup has no target URL.
	ErrMissingURL = errors.New("video URL is required")
	// ErrInvalidURL is returned when the target URL is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("video URL is invalid")
	// ErrMissingFile is returned when a file relay is called without a file.
	ErrMissingFile = errors.New("file is required")
)

// Stage is a step of a relayed request. A request moves through
// validating, dispatching and translating in order and stops at the first
// failure.
type Stage string

const (
	StageValidating  Stage = "validating"
	StageDispatching Stage = "dispatching"
	StageTranslating Stage = "translating"
)

// StageError records the provider and stage at which a relay failed.
type StageError struct {
	Provider string
	Stage    Stage
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RelayService runs one provider call per request. It holds no per-request
// state; everything it references is read-only after construction.
type RelayService struct {
	registry *provider.Registry
	creds    *config.Credentials
	client   *client.UpstreamClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRelayService creates a RelayService.
// The metrics parameter is optional; pass nil to disable failure counting.
func NewRelayService(reg *provider.Registry, creds *config.Credentials, c *client.UpstreamClient, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return &RelayService{
		registry: reg,
		creds:    creds,
		client:   c,
		logger:   logger.With("component", "relay_service"),
		metrics:  m,
	}
}

// RemoveBackground relays file to the background-removal provider and
// returns {"processedImage": "data:image/png;base64,..."}.
func (s *RelayService) RemoveBackground(ctx context.Context, file *model.UploadedFile) (json.RawMessage, error) {
	if file == nil || len(file.Bytes) == 0 {
		return nil, s.Reject(model.ProviderRemoveBG, ErrMissingFile)
	}
	if s.metrics != nil {
		s.metrics.UploadBytes.Observe(float64(file.SizeBytes))
	}
	return s.Relay(ctx, model.ProviderRemoveBG, provider.Input{File: file})
}

// LookupVideo relays targetURL to the video-metadata provider and returns
// the provider's JSON unchanged.
func (s *RelayService) LookupVideo(ctx context.Context, targetURL string) (json.RawMessage, error) {
	normalized, err := validateTargetURL(targetURL)
	if err != nil {
		return nil, s.Reject(model.ProviderVideoLookup, err)
	}
	return s.Relay(ctx, model.ProviderVideoLookup, provider.Input{TargetURL: normalized})
}

// Relay calls the named provider with in. No retries are made: the first
// failure is returned as a *StageError.
func (s *RelayService) Relay(ctx context.Context, name string, in provider.Input) (json.RawMessage, error) {
	desc, err := s.registry.Get(name)
	if err != nil {
		return nil, s.fail(name, StageValidating, err)
	}

	s.logger.Debug("relay stage", "provider", name, "stage", StageDispatching, "endpoint", desc.Endpoint)

	apiKey, err := s.creds.Lookup(name)
	if err != nil {
		return nil, s.fail(name, StageDispatching, err)
	}

	pr, err := desc.Build(ctx, apiKey, in)
	if err != nil {
		return nil, s.fail(name, StageDispatching, err)
	}

	resp, err := s.client.Do(ctx, name, pr)
	if err != nil {
		return nil, s.fail(name, StageDispatching, err)
	}
	if err := translate.CheckStatus(resp); err != nil {
		return nil, s.fail(name, StageDispatching, err)
	}

	s.logger.Debug("relay stage", "provider", name, "stage", StageTranslating, "status", resp.StatusCode, "bytes_in", len(resp.Body))

	payload, err := translate.Translate(desc.Mode, resp)
	if err != nil {
		return nil, s.fail(name, StageTranslating, err)
	}

	return payload, nil
}

// Reject records a validation failure for provider and returns it as a
// *StageError. Callers that validate input themselves (such as multipart
// ingestion) use it so that every failure is accounted the same way.
func (s *RelayService) Reject(name string, err error) error {
	return s.fail(name, StageValidating, err)
}

func (s *RelayService) fail(name string, stage Stage, err error) error {
	if s.metrics != nil {
		s.metrics.RelayFailures.WithLabelValues(name, string(stage)).Inc()
	}
	return &StageError{Provider: name, Stage: stage, Err: err}
}

// validateTargetURL requires an absolute http or https URL.
func validateTargetURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return raw, nil
}
