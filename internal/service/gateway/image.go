package gateway

import (
	"fmt"
	"net/http"
	"strings"
)

var acceptedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// validateImage rejects oversized, empty, or unsupported uploads locally,
// before any network call. It returns the sniffed content type, which is
// trusted over the client-declared one.
func (s *Service) validateImage(data []byte, declaredType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", ErrInvalidImage)
	}
	if len(data) > s.maxImageBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(data), s.maxImageBytes)
	}

	sniffed := http.DetectContentType(data)
	if _, ok := acceptedImageTypes[sniffed]; !ok {
		// Some valid uploads sniff as octet-stream; fall back to the
		// declared type if it names an accepted image format.
		declared := strings.ToLower(strings.TrimSpace(declaredType))
		if _, ok := acceptedImageTypes[declared]; !ok || sniffed != "application/octet-stream" {
			return "", fmt.Errorf("%w: unsupported content type %s", ErrInvalidImage, sniffed)
		}
		sniffed = declared
	}

	return sniffed, nil
}
