package model

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hupe1980/agencymesh/core"
)

var contextLengthMarkers = []string{
	"context length",
	"context_length",
	"context window",
	"prompt is too long",
	"maximum context",
	"too many tokens",
	"exceeds the maximum number of tokens",
}

// IsContextLengthMessage reports whether a provider error message describes
// an oversized prompt.
func IsContextLengthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range contextLengthMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps an HTTP status code (and the provider's error message)
// to a provider error kind.
func ClassifyStatus(status int, msg string) core.ProviderErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return core.KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return core.KindTimeout
	case status >= 500:
		// Includes Anthropic's 529 "overloaded".
		return core.KindServerError
	case status == http.StatusRequestEntityTooLarge || IsContextLengthMessage(msg):
		return core.KindContextLengthExceeded
	case status >= 400:
		return core.KindInvalidRequest
	default:
		return core.KindUnknown
	}
}

// ClassifyError turns an arbitrary error into a *core.ProviderError. Errors
// that already are provider errors are returned unchanged; deadline expiry
// becomes a Timeout.
func ClassifyError(provider string, err error) *core.ProviderError {
	if err == nil {
		return nil
	}
	if pe, ok := core.AsProviderError(err); ok {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewProviderError(provider, core.KindTimeout, err)
	}
	if IsContextLengthMessage(err.Error()) {
		return core.NewProviderError(provider, core.KindContextLengthExceeded, err)
	}
	return core.NewProviderError(provider, core.KindUnknown, err)
}
