package diagnostic

import (
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/tracelens/tracelens/internal/apperr"
	"github.com/tracelens/tracelens/internal/infrastructure/resilience"
)

// Retryable reports whether a backend failure is worth another attempt.
// Timeouts and transport failures are transient. Classified application
// errors, malformed completions, and an open circuit are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, resilience.ErrTimeout) {
		return true
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
