package providers

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the uniform error taxonomy shared by all providers.
type Kind string

const (
	KindAuth                Kind = "AUTH_ERROR"
	KindRateLimit           Kind = "RATE_LIMIT"
	KindInsufficientCredits Kind = "INSUFFICIENT_CREDITS"
	KindModelNotFound       Kind = "MODEL_NOT_FOUND"
	KindOverloaded          Kind = "OVERLOADED"
	KindInsufficientQuota   Kind = "INSUFFICIENT_QUOTA"
	KindTimeout             Kind = "TIMEOUT"
	KindQueue               Kind = "QUEUE_ERROR"
	KindAPI                 Kind = "API_ERROR"
)

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// KindOf extracts the taxonomy kind from any error, classifying plain
// errors by message inspection.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return classify(err.Error())
}

// classify maps an error message onto the taxonomy by substring inspection.
// Provider APIs disagree on shapes, so the status code or phrase embedded
// in the message is the only reliable signal.
func classify(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication"):
		return KindAuth
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return KindRateLimit
	case strings.Contains(lower, "402") || strings.Contains(lower, "credit"):
		return KindInsufficientCredits
	case strings.Contains(lower, "quota"):
		return KindInsufficientQuota
	case strings.Contains(lower, "not found") && strings.Contains(lower, "model"):
		return KindModelNotFound
	case strings.Contains(lower, "overloaded"):
		return KindOverloaded
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return KindTimeout
	default:
		return KindAPI
	}
}

// wrapErr classifies err into a provider Error, passing through errors that
// are already classified.
func wrapErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: classify(err.Error()), Provider: provider, Message: err.Error()}
}

func apiErr(provider string, kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}
