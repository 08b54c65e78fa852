package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"media-relay/internal/model"
)

// ErrUnconfigured is returned when a provider has no API key configured.
var ErrUnconfigured = errors.New("provider credential not configured")

// Credentials is the process-wide provider key store. It is built once at
// start and never mutated, so it is safe for concurrent use.
type Credentials struct {
	keys map[string]string
}

// NewCredentials snapshots the provider API keys from cfg.
func NewCredentials(cfg *Config) *Credentials {
	return &Credentials{keys: map[string]string{
		model.ProviderRemoveBG:    strings.TrimSpace(cfg.RemoveBG.APIKey),
		model.ProviderVideoLookup: strings.TrimSpace(cfg.VideoLookup.APIKey),
	}}
}

// Lookup returns the API key for provider, or ErrUnconfigured when the key
// is absent or blank.
func (c *Credentials) Lookup(provider string) (string, error) {
	key := c.keys[provider]
	if key == "" {
		return "", fmt.Errorf("%s: %w", provider, ErrUnconfigured)
	}
	return key, nil
}

// Configured returns the sorted names of providers that have a key.
func (c *Credentials) Configured() []string {
	var names []string
	for name, key := range c.keys {
		if key != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// WarnUnconfigured logs one warning per provider without a key. Requests to
// those providers fail until the key is set.
func (c *Credentials) WarnUnconfigured(logger *slog.Logger) {
	for _, name := range []string{model.ProviderRemoveBG, model.ProviderVideoLookup} {
		if c.keys[name] == "" {
			logger.Warn("provider has no API key; requests to it will be rejected", "provider", name)
		}
	}
}
