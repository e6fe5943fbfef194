package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used to classify failures with errors.Is. Every typed error
// in this package matches exactly one of them.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrRouting            = errors.New("routing error")
	ErrProvider           = errors.New("provider error")
	ErrTool               = errors.New("tool error")
	ErrRoundLimitExceeded = errors.New("round limit exceeded")
	ErrInvalidInput       = errors.New("invalid input")
)

// ConfigurationError reports invalid construction parameters. It is always
// returned synchronously from a constructor, never at call time.
type ConfigurationError struct {
	Field   string // Offending parameter (e.g. "temperature", "chart[2]")
	Message string
	Err     error // Optional cause
}

// NewConfigurationError creates a ConfigurationError for field.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Field != "" {
		b.WriteString(" [" + e.Field + "]")
	}
	b.WriteString(": " + e.Message)
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// RoutingError reports a route that is not permitted by the communication
// graph or that names an unknown agent. It is raised before any network call.
type RoutingError struct {
	From   string
	To     string
	Reason string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing error (%s -> %s): %s", orNone(e.From), orNone(e.To), e.Reason)
}

// Is reports whether target is ErrRouting.
func (e *RoutingError) Is(target error) bool { return target == ErrRouting }

// ProviderErrorKind classifies provider failures for retry decisions.
type ProviderErrorKind string

const (
	KindRateLimited           ProviderErrorKind = "rate_limited"
	KindServerError           ProviderErrorKind = "server_error"
	KindTimeout               ProviderErrorKind = "timeout"
	KindContextLengthExceeded ProviderErrorKind = "context_length_exceeded"
	KindSafetyBlocked         ProviderErrorKind = "safety_blocked"
	KindInvalidRequest        ProviderErrorKind = "invalid_request"
	KindUnknown               ProviderErrorKind = "unknown"
)

// DefaultRetryableKinds are the transient kinds retried when a policy does not
// name its own set.
var DefaultRetryableKinds = []ProviderErrorKind{KindRateLimited, KindServerError, KindTimeout}

// ParseProviderErrorKind maps a retry_on name to a kind.
func ParseProviderErrorKind(s string) (ProviderErrorKind, error) {
	k := ProviderErrorKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindRateLimited, KindServerError, KindTimeout, KindContextLengthExceeded,
		KindSafetyBlocked, KindInvalidRequest, KindUnknown:
		return k, nil
	}
	return "", NewConfigurationError("retry_on", "unknown condition %q", s)
}

// Transient reports whether the kind may ever be retried. Context length and
// safety blocks are permanent regardless of policy.
func (k ProviderErrorKind) Transient() bool {
	switch k {
	case KindRateLimited, KindServerError, KindTimeout:
		return true
	default:
		return false
	}
}

// ProviderError is a failure surfaced by a hosted model provider.
type ProviderError struct {
	Kind     ProviderErrorKind
	Provider string
	Attempts int // Number of attempts made before surfacing; 0 when unknown
	Err      error
}

// NewProviderError wraps err with a kind.
func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider error [%s/%s]", orNone(e.Provider), e.Kind)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying SDK error.
func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports whether target is ErrProvider.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Retryable reports whether the failure is transient.
func (e *ProviderError) Retryable() bool { return e.Kind.Transient() }

// AsProviderError extracts a *ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// RoundLimitError is returned when a top-level exchange exceeds the agency's
// configured maximum number of routing rounds.
type RoundLimitError struct {
	Limit  int
	Rounds int
}

func (e *RoundLimitError) Error() string {
	return fmt.Sprintf("round limit exceeded: %d round(s) attempted, limit %d", e.Rounds, e.Limit)
}

// Is reports whether target is ErrRoundLimitExceeded.
func (e *RoundLimitError) Is(target error) bool { return target == ErrRoundLimitExceeded }

// InvalidInputError reports a request rejected before reaching a provider.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input [%s]: %s", e.Field, e.Message)
}

// Is reports whether target is ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// DispatchError annotates a failure raised by an agent with the route that
// was being served.
type DispatchError struct {
	Agent string
	From  string
	To    string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("agent %s failed (route %s -> %s): %v", e.Agent, orNone(e.From), orNone(e.To), e.Err)
}

// Unwrap returns the agent failure.
func (e *DispatchError) Unwrap() error { return e.Err }

// ChainError reports the step at which a chain aborted together with the
// output accumulated before the failure.
type ChainError struct {
	Step    int    // Zero-based index into the chain
	Agent   string // Agent that failed
	Partial string // Output of the last successful step ("" if step 0 failed)
	Err     error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain aborted at step %d (%s): %v", e.Step, e.Agent, e.Err)
}

// Unwrap returns the step failure.
func (e *ChainError) Unwrap() error { return e.Err }

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
