// Package ingest reads a single uploaded file from a multipart request.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	"media-relay/internal/model"
)

var (
	// ErrMissingFile is returned when the request carries no usable file field.
	ErrMissingFile = errors.New("no file provided")
	// ErrPayloadTooLarge is returned when the file exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("file exceeds size limit")
	// ErrUnsupportedType is returned when the sniffed content type is not allowed.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrMalformedForm is returned when the multipart body cannot be parsed.
	ErrMalformedForm = errors.New("malformed multipart form")
)

// formOverhead is the body allowance on top of MaxBytes for multipart framing
// and small non-file fields.
const formOverhead = 1 << 20

// Options controls which field is read and how it is validated.
type Options struct {
	Field        string
	MaxBytes     int64
	AllowedTypes []string // empty allows any type
}

// ReadFile streams the multipart body of r and returns the file in
// opts.Field. At most MaxBytes+1 bytes of the file are held in memory, so an
// oversized upload fails with ErrPayloadTooLarge before it is fully read.
// Parts other than the file field are discarded.
func ReadFile(r *http.Request, opts Options) (*model.UploadedFile, error) {
	if opts.MaxBytes <= 0 {
		return nil, fmt.Errorf("ingest: max bytes must be positive; got %d", opts.MaxBytes)
	}

	r.Body = http.MaxBytesReader(nil, r.Body, opts.MaxBytes+formOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingFile, err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingFile
		}
		if err != nil {
			return nil, classifyReadError(err)
		}

		if part.FormName() != opts.Field || part.FileName() == "" {
			if _, err := io.Copy(io.Discard, part); err != nil {
				return nil, classifyReadError(err)
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, opts.MaxBytes+1))
		if err != nil {
			return nil, classifyReadError(err)
		}
		if int64(len(data)) > opts.MaxBytes {
			return nil, ErrPayloadTooLarge
		}
		if len(data) == 0 {
			return nil, ErrMissingFile
		}

		detected := mimetype.Detect(data)
		if !allowed(detected, opts.AllowedTypes) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
		}

		return &model.UploadedFile{
			Bytes:        data,
			OriginalName: part.FileName(),
			MimeType:     detected.String(),
			SizeBytes:    int64(len(data)),
		}, nil
	}
}

func allowed(m *mimetype.MIME, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if m.Is(t) {
			return true
		}
	}
	return false
}

func classifyReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return ErrPayloadTooLarge
	}
	return fmt.Errorf("%w: %v", ErrMalformedForm, err)
}
