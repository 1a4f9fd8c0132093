package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrEmptyCompletion is returned when a model replies with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Request is one call to a text generation service.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// UpstreamKind tags a failure of an external model service.
type UpstreamKind string

const (
	UpstreamAuth        UpstreamKind = "auth"
	UpstreamRateLimit   UpstreamKind = "rate_limit"
	UpstreamTimeout     UpstreamKind = "timeout"
	UpstreamAPI         UpstreamKind = "api"
	UpstreamUnavailable UpstreamKind = "unavailable"
)

// UpstreamError is returned by embedding and generation clients when the
// remote service fails. Anything else reaching the composer is unexpected.
type UpstreamError struct {
	Kind UpstreamKind
	Err  error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError creates an UpstreamError.
func NewUpstreamError(kind UpstreamKind, err error) *UpstreamError {
	return &UpstreamError{Kind: kind, Err: err}
}

// AsUpstream extracts an UpstreamError from err's chain.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// KindForStatus maps an HTTP status from a model service to an upstream kind.
func KindForStatus(code int) UpstreamKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return UpstreamAuth
	case code == http.StatusTooManyRequests:
		return UpstreamRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return UpstreamTimeout
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway:
		return UpstreamUnavailable
	default:
		return UpstreamAPI
	}
}

// Upstream tags err as a failure of the remote model service. Errors that
// are already tagged pass through unchanged.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsUpstream(err); ok {
		return err
	}
	return NewUpstreamError(kindOf(err), err)
}

func kindOf(err error) UpstreamKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return UpstreamTimeout
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return KindForStatus(ae.StatusCode)
	}
	if IsRateLimit(err) {
		return UpstreamRateLimit
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "api key") || strings.Contains(msg, "permission_denied") || strings.Contains(msg, "unauthenticated") {
		return UpstreamAuth
	}
	return UpstreamAPI
}

// IsRateLimit reports whether err reads like a quota or 429 failure. Gemini
// only reports these in the error text.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") ||
		strings.Contains(s, "RESOURCE_EXHAUSTED") ||
		strings.Contains(s, "quota")
}
