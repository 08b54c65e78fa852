// Package translate turns provider responses into relay payloads.
package translate

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"media-relay/internal/model"
)

// Mode selects how a successful provider body is turned into a payload.
type Mode int

const (
	// DataURI wraps a binary image body as {"processedImage": "data:image/png;base64,..."}.
	DataURI Mode = iota
	// JSONPassthrough forwards a JSON object body unchanged.
	JSONPassthrough
)

func (m Mode) String() string {
	switch m {
	case DataURI:
		return "data_uri"
	case JSONPassthrough:
		return "json_passthrough"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

const dataURIPrefix = "data:image/png;base64,"

// maxErrorExcerpt caps how much of an error body is kept for logging.
const maxErrorExcerpt = 256

var (
	// ErrInvalidCredential is returned when the provider rejects the API key (401).
	ErrInvalidCredential = errors.New("provider rejected API key")
	// ErrQuotaExceeded is returned when the provider reports an exhausted quota (402).
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrMalformedResponse is returned when a 2xx body does not have the expected shape.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// UpstreamError is a non-2xx provider response not covered by a more specific error.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

type processedImage struct {
	ProcessedImage string `json:"processedImage"`
}

// Translate checks the response status and converts the body according to mode.
func Translate(mode Mode, resp *model.ProviderResponse) (json.RawMessage, error) {
	if err := CheckStatus(resp); err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	switch mode {
	case DataURI:
		if err := validatePNG(resp); err != nil {
			return nil, err
		}
		return json.Marshal(processedImage{
			ProcessedImage: dataURIPrefix + base64.StdEncoding.EncodeToString(resp.Body),
		})
	case JSONPassthrough:
		if err := validateObject(resp.Body); err != nil {
			return nil, err
		}
		return json.RawMessage(resp.Body), nil
	default:
		return nil, fmt.Errorf("translate: unknown mode %v", mode)
	}
}

// CheckStatus maps a non-2xx provider status to an error.
func CheckStatus(resp *model.ProviderResponse) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrInvalidCredential
	case resp.StatusCode == http.StatusPaymentRequired:
		return ErrQuotaExceeded
	default:
		return &UpstreamError{StatusCode: resp.StatusCode, Message: excerpt(resp.Body)}
	}
}

// validatePNG sniffs body and requires a PNG. An intermediary error page
// must not be relabeled as an image.
func validatePNG(resp *model.ProviderResponse) error {
	detected := mimetype.Detect(resp.Body)
	if !detected.Is("image/png") {
		return fmt.Errorf("%w: expected image/png, got %s (content-type %q)", ErrMalformedResponse, detected.String(), resp.ContentType)
	}
	return nil
}

func validateObject(body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: top-level value is not an object", ErrMalformedResponse)
	}
	return nil
}

func excerpt(body []byte) string {
	b := bytes.TrimSpace(body)
	if len(b) > maxErrorExcerpt {
		b = b[:maxErrorExcerpt]
	}
	if !utf8.Valid(b) {
		return fmt.Sprintf("<%d bytes of binary data>", len(body))
	}
	return string(b)
}
