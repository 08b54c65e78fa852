// Package provider describes the upstream providers the relay talks to and
// builds their outbound requests.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"media-relay/internal/config"
	"media-relay/internal/model"
	"media-relay/internal/translate"
)

const userAgent = "media-relay/1.0"

// ErrorFormat selects how failures are written back to the caller.
type ErrorFormat int

const (
	// ErrorJSON writes {"error": message}.
	ErrorJSON ErrorFormat = iota
	// ErrorText writes the message as text/plain.
	ErrorText
)

// Messages are the caller-facing texts for a provider's failures.
type Messages struct {
	Generic           string
	InvalidCredential string
	QuotaExceeded     string
	Unconfigured      string
	Timeout           string
}

// Input carries the per-request data a builder needs. Exactly one of File
// and TargetURL is set, depending on the provider.
type Input struct {
	File      *model.UploadedFile
	TargetURL string
}

// BuildFunc constructs the outbound request for one relayed call.
type BuildFunc func(ctx context.Context, apiKey string, in Input) (*model.ProviderRequest, error)

// Descriptor is everything the relay needs to call one provider.
type Descriptor struct {
	Name        string
	Endpoint    string
	Mode        translate.Mode
	Build       BuildFunc
	Messages    Messages
	ErrorFormat ErrorFormat
	// ExposeDetail appends a sanitized error detail to generic failure messages.
	ExposeDetail bool
}

// ErrUnknownProvider is returned by Registry.Get for unregistered names.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry holds the provider descriptors. It is immutable after construction.
type Registry struct {
	descriptors map[string]*Descriptor
}

// NewRegistry builds descriptors for all providers from cfg.
func NewRegistry(cfg *config.Config) *Registry {
	return NewRegistryFrom(RemoveBG(cfg.RemoveBG.Endpoint), VideoLookup(cfg.VideoLookup.Endpoint, cfg.VideoLookup.Host))
}

// NewRegistryFrom builds a registry from explicit descriptors.
func NewRegistryFrom(descs ...*Descriptor) *Registry {
	r := &Registry{descriptors: make(map[string]*Descriptor, len(descs))}
	for _, d := range descs {
		r.descriptors[d.Name] = d
	}
	return r
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (*Descriptor, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return d, nil
}

// RemoveBG describes the remove.bg background-removal API.
func RemoveBG(endpoint string) *Descriptor {
	return &Descriptor{
		Name:     model.ProviderRemoveBG,
		Endpoint: endpoint,
		Mode:     translate.DataURI,
		Build: func(_ context.Context, apiKey string, in Input) (*model.ProviderRequest, error) {
			return BuildRemoveBG(endpoint, apiKey, in.File)
		},
		Messages: Messages{
			Generic:           "Failed to remove background. Please try again.",
			InvalidCredential: "Invalid API key. Please check your remove.bg API key.",
			QuotaExceeded:     "API key usage limit exceeded. Please check your remove.bg account.",
			Unconfigured:      "Background removal is not configured on this server.",
			Timeout:           "Background removal timed out. Please try again.",
		},
		ErrorFormat: ErrorJSON,
	}
}

// VideoLookup describes the RapidAPI social media video downloader.
func VideoLookup(endpoint, host string) *Descriptor {
	return &Descriptor{
		Name:     model.ProviderVideoLookup,
		Endpoint: endpoint,
		Mode:     translate.JSONPassthrough,
		Build: func(_ context.Context, apiKey string, in Input) (*model.ProviderRequest, error) {
			return BuildVideoLookup(endpoint, host, apiKey, in.TargetURL)
		},
		Messages: Messages{
			Generic:           "Error occurred",
			InvalidCredential: "Error occurred: invalid API key",
			QuotaExceeded:     "Error occurred: quota exceeded",
			Unconfigured:      "Video lookup is not configured on this server.",
			Timeout:           "Error occurred: video lookup timed out",
		},
		ErrorFormat:  ErrorText,
		ExposeDetail: true,
	}
}

// BuildRemoveBG encodes file as multipart form data with the image_file and
// size=auto fields and attaches the API key header.
func BuildRemoveBG(endpoint, apiKey string, file *model.UploadedFile) (*model.ProviderRequest, error) {
	if file == nil {
		return nil, errors.New("build remove.bg request: no file")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image_file"; filename="%s"`, escapeQuotes(file.OriginalName)))
	h.Set("Content-Type", contentTypeOrDefault(file.MimeType))
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("build remove.bg request: %w", err)
	}
	if _, err := fw.Write(file.Bytes); err != nil {
		return nil, fmt.Errorf("build remove.bg request: %w", err)
	}
	if err := w.WriteField("size", "auto"); err != nil {
		return nil, fmt.Errorf("build remove.bg request: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build remove.bg request: %w", err)
	}

	header := make(http.Header)
	header.Set("X-Api-Key", apiKey)
	header.Set("Content-Type", w.FormDataContentType())
	header.Set("Accept", "image/png")
	header.Set("User-Agent", userAgent)

	return &model.ProviderRequest{
		Method:    http.MethodPost,
		TargetURL: endpoint,
		Header:    header,
		Body:      body.Bytes(),
	}, nil
}

// BuildVideoLookup passes targetURL as the url query parameter and attaches
// the RapidAPI key and host headers.
func BuildVideoLookup(endpoint, host, apiKey, targetURL string) (*model.ProviderRequest, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("build video lookup request: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("url", targetURL)
	u.RawQuery = q.Encode()

	header := make(http.Header)
	header.Set("X-RapidAPI-Key", apiKey)
	header.Set("X-RapidAPI-Host", host)
	header.Set("Accept", "application/json")
	header.Set("User-Agent", userAgent)

	return &model.ProviderRequest{
		Method:    http.MethodGet,
		TargetURL: u.String(),
		Header:    header,
	}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func contentTypeOrDefault(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
