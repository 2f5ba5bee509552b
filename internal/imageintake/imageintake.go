// Package imageintake reads uploaded images into memory and rejects payloads
// that are too large or are not images.
package imageintake

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxUploadSize bounds a single uploaded image.
const MaxUploadSize = 10 << 20

var (
	ErrTooLarge        = errors.New("imageintake: image exceeds upload limit")
	ErrUnsupportedType = errors.New("imageintake: unsupported image type")
)

// Image is an uploaded image held in memory.
type Image struct {
	Data     []byte
	MIME     string
	Filename string
}

// ReadFile loads a multipart file part. The declared content type may be an
// image type or application/octet-stream; the bytes are sniffed either way.
func ReadFile(fh *multipart.FileHeader) (*Image, error) {
	if fh.Size > MaxUploadSize {
		return nil, ErrTooLarge
	}
	if declared := fh.Header.Get("Content-Type"); declared != "" && !acceptedDeclaredType(declared) {
		return nil, fmt.Errorf("%w: declared %s", ErrUnsupportedType, declared)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	return Read(src, fh.Filename)
}

// Read loads an image from r, failing with ErrTooLarge past MaxUploadSize.
func Read(r io.Reader, name string) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}
	return Inspect(data, name)
}

// Inspect checks that data looks like an image.
func Inspect(data []byte, name string) (*Image, error) {
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrUnsupportedType, detected.String())
	}
	return &Image{Data: data, MIME: detected.String(), Filename: name}, nil
}

func acceptedDeclaredType(declared string) bool {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}
