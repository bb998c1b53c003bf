package resolver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
)

// ErrorType classifies a failed resolution.
type ErrorType string

const (
	ErrorNotFound      ErrorType = "not_found"
	ErrorForbidden     ErrorType = "forbidden"
	ErrorSigningFailed ErrorType = "signing_failed"
	ErrorNetwork       ErrorType = "network_error"
	ErrorUnknown       ErrorType = "unknown"
)

// Retryable reports whether another attempt may succeed without intervention
func (t ErrorType) Retryable() bool {
	return t != ErrorNotFound && t != ErrorForbidden
}

// AllowsFallback reports whether a public URL may stand in for a signed one.
// A missing or inaccessible asset must never be served through the fallback.
func (t ErrorType) AllowsFallback() bool {
	return t != ErrorNotFound && t != ErrorForbidden
}

// ResolutionError is the classified failure surfaced by a controller.
type ResolutionError struct {
	Type     ErrorType `json:"type"`
	Message  string    `json:"message"`
	CanRetry bool      `json:"canRetry"`
	Err      error     `json:"-"`
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return string(e.Type) + ": " + e.Message
	}
	return string(e.Type) + ": " + e.Message + ": " + e.Err.Error()
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

var messages = map[ErrorType]string{
	ErrorNotFound:      "asset not found",
	ErrorForbidden:     "access to asset denied",
	ErrorSigningFailed: "failed to generate signed URL",
	ErrorNetwork:       "could not reach signing service",
	ErrorUnknown:       "failed to resolve asset URL",
}

// Classify maps a cache or transport failure onto the resolution taxonomy.
// A nil error yields nil.
func Classify(err error) *ResolutionError {
	if err == nil {
		return nil
	}

	var already *ResolutionError
	if errors.As(err, &already) {
		return already
	}

	t := classifyType(err)
	return &ResolutionError{
		Type:     t,
		Message:  messages[t],
		CanRetry: t.Retryable(),
		Err:      err,
	}
}

func classifyType(err error) ErrorType {
	var statusErr *signedurl.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusNotFound:
			return ErrorNotFound
		case statusErr.StatusCode == http.StatusUnauthorized, statusErr.StatusCode == http.StatusForbidden:
			return ErrorForbidden
		case statusErr.StatusCode >= 500:
			return ErrorSigningFailed
		default:
			return ErrorUnknown
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorNetwork
	}
	return ErrorUnknown
}
