package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrModelUnavailable     = errors.New("model unavailable")
	ErrModelRateLimited     = errors.New("model rate limited")
	ErrModelContentRejected = errors.New("model rejected content")
	ErrInvalidImage         = errors.New("invalid image")
)

var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"ratelimit",
	"too many requests",
	"quota",
	"throttl",
}

var contentRejectionMarkers = []string{
	"content_filter",
	"content filter",
	"content policy",
	"moderation",
	"sensitive",
	"blocked by",
}

// classifyModelError folds provider-specific failures into the gateway's
// error taxonomy so nothing model-shaped leaks to callers.
func classifyModelError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range contentRejectionMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrModelContentRejected, err)
		}
	}
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrModelRateLimited, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}

// retryable reports whether a classified error is worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrModelRateLimited)
}
