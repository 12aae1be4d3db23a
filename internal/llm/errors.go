package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a completion failure.
type Kind string

const (
	KindTransport Kind = "transport"
	KindTimeout   Kind = "timeout"
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindServer    Kind = "server"
	KindInvalid   Kind = "invalid_request"
	KindEmpty     Kind = "empty_response"
	KindUnknown   Kind = "unknown"
)

// CollaboratorError is returned for any failed completion call. Stages turn
// it into context fields; it never aborts a run on its own.
type CollaboratorError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *CollaboratorError) Error() string {
	msg := "completion failed"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s error (status=%d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, msg)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Retryable reports whether the same call may succeed later.
func (e *CollaboratorError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout, KindRateLimit, KindServer, KindUnknown:
		return true
	default:
		return false
	}
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.TrimSpace(e.Message)
}

var statusRE = regexp.MustCompile(`\b(?:status(?: code)?[=: ]+|HTTP )?([45]\d\d)\b`)

// classify wraps a provider error into a CollaboratorError. Provider SDKs
// surface HTTP failures as text, so the status code and hints are recovered
// from the message.
func classify(provider string, err error) *CollaboratorError {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce
	}
	out := &CollaboratorError{Provider: provider, Kind: KindUnknown, Err: err}
	if errors.Is(err, context.DeadlineExceeded) {
		out.Kind = KindTimeout
		return out
	}
	if errors.Is(err, context.Canceled) {
		out.Kind = KindTransport
		return out
	}
	lower := strings.ToLower(err.Error())
	if m := statusRE.FindStringSubmatch(err.Error()); m != nil {
		out.StatusCode, _ = strconv.Atoi(m[1])
	}
	switch {
	case out.StatusCode == 401 || out.StatusCode == 403 ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid x-api-key") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication"):
		out.Kind = KindAuth
	case out.StatusCode == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		out.Kind = KindRateLimit
	case out.StatusCode >= 500 || strings.Contains(lower, "overloaded"):
		out.Kind = KindServer
	case out.StatusCode == 408 || strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		out.Kind = KindTimeout
	case out.StatusCode >= 400:
		out.Kind = KindInvalid
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "dial tcp") || strings.Contains(lower, "no such host") || strings.Contains(lower, "eof"):
		out.Kind = KindTransport
	}
	return out
}

// IsCollaboratorError reports whether err came from a completion call.
func IsCollaboratorError(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
