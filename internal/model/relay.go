// Package model defines shared request-scoped types for the relay.
package model

import (
	"encoding/json"
	"net/http"
)

// Provider names used as credential and registry keys.
const (
	ProviderRemoveBG    = "remove_bg"
	ProviderVideoLookup = "video_lookup"
)

// UploadedFile is a single file read from an inbound multipart request.
// SizeBytes always equals len(Bytes).
type UploadedFile struct {
	Bytes        []byte
	OriginalName string
	MimeType     string
	SizeBytes    int64
}

// ProviderRequest is an outbound call to a provider. It is built fresh for
// every relayed request.
type ProviderRequest struct {
	Method    string
	TargetURL string
	Header    http.Header
	Body      []byte
}

// ProviderResponse is the fully read upstream response.
type ProviderResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// GatewayResult is what the relay returns to the caller: either a JSON
// payload on success or an HTTP status and safe message on failure.
type GatewayResult struct {
	HTTPStatus int
	Payload    json.RawMessage
	Message    string
}

// Success returns a 200 result carrying payload.
func Success(payload json.RawMessage) GatewayResult {
	return GatewayResult{HTTPStatus: http.StatusOK, Payload: payload}
}

// Failure returns a result with the given status and caller-facing message.
func Failure(status int, message string) GatewayResult {
	return GatewayResult{HTTPStatus: status, Message: message}
}

// OK reports whether the result is a success.
func (r GatewayResult) OK() bool {
	return r.HTTPStatus >= 200 && r.HTTPStatus < 300 && r.Message == ""
}
