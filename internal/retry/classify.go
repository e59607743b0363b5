package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/smallbiznis/photoledger/internal/apperror"
)

// StatusError is a non-2xx response from an outbound HTTP call.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func (e *StatusError) ErrorKind() apperror.Kind {
	switch {
	case e.Retryable():
		return apperror.KindTransient
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return apperror.KindAuthentication
	case e.StatusCode == http.StatusNotFound:
		return apperror.KindNotFound
	default:
		return apperror.KindValidation
	}
}

// Classify reports whether err is worth another attempt: transport
// failures, timeouts, 5xx and 429 are; other 4xx and input or signature
// errors are not. Unrecognized errors are treated as transport uncertainty.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var kinded apperror.Kinded
	if errors.As(err, &kinded) {
		switch kinded.ErrorKind() {
		case apperror.KindValidation,
			apperror.KindAuthentication,
			apperror.KindConflict,
			apperror.KindNotFound,
			apperror.KindForbidden,
			apperror.KindCapacity:
			return false
		default:
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return true
}
