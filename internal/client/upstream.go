// Package client provides the outbound HTTP client for provider calls.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"media-relay/internal/config"
	"media-relay/internal/metrics"
	"media-relay/internal/model"
)

// ErrResponseTooLarge is returned when a provider body exceeds upstream.response_max_bytes.
var ErrResponseTooLarge = errors.New("provider response exceeds size limit")

// UpstreamClient sends provider requests and reads their responses.
type UpstreamClient struct {
	httpClient   *http.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
	maxBodyBytes int64
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:       logger.With("component", "upstream_client"),
		metrics:      m,
		maxBodyBytes: cfg.Upstream.ResponseMaxBytes,
	}
}

// Do sends pr on behalf of provider and returns the fully read response.
// The context controls the lifetime of the upstream request: when it is
// canceled (e.g. the client disconnects), the upstream call is canceled too.
func (c *UpstreamClient) Do(ctx context.Context, provider string, pr *model.ProviderRequest) (*model.ProviderResponse, error) {
	var body io.Reader
	if pr.Body != nil {
		body = bytes.NewReader(pr.Body)
	}
	req, err := http.NewRequestWithContext(ctx, pr.Method, pr.TargetURL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = pr.Header.Clone()

	c.logger.Debug("upstream request",
		"provider", provider,
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
		"bytes_out", len(pr.Body),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(provider, "error", start)
		return nil, fmt.Errorf("upstream request: %w", asDeadline(err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := c.readBody(resp.Body)
	c.observe(provider, strconv.Itoa(resp.StatusCode), start)
	if err != nil {
		return nil, asDeadline(err)
	}

	return &model.ProviderResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func (c *UpstreamClient) readBody(r io.Reader) ([]byte, error) {
	if c.maxBodyBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read upstream body: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(data)) > c.maxBodyBytes {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

func (c *UpstreamClient) observe(provider, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	c.metrics.UpstreamResponses.WithLabelValues(provider, status).Inc()
}

// asDeadline makes client timeouts match context.DeadlineExceeded so callers
// can tell them apart from other transport failures.
func asDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}
