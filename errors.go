package onvif

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/juju/errors"
)

// ErrMalformedResponse matches replies that could not be parsed
var ErrMalformedResponse = errors.New("malformed response")

// HTTPStatusError is returned when a camera answers with a non-2xx status
// and no SOAP fault in the body
type HTTPStatusError struct {
	StatusCode int
	Endpoint   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s from %s", e.StatusCode, http.StatusText(e.StatusCode), e.Endpoint)
}

type malformedError struct {
	msg   string
	cause error
}

func (e *malformedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.msg, e.cause)
	}
	return "malformed response: " + e.msg
}

func (e *malformedError) Is(target error) bool { return target == ErrMalformedResponse }

func (e *malformedError) Unwrap() error { return e.cause }

func malformedf(cause error, format string, args ...interface{}) error {
	return &malformedError{msg: fmt.Sprintf(format, args...), cause: cause}
}

// IsTransient reports whether err is a transport-level failure that a fresh
// subscription is likely to cure: SOAP faults, HTTP errors, timeouts and
// connection-level errors. Cancellation and unparsable replies are not
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformedResponse) {
		return false
	}

	var fault *FaultError
	if errors.As(err, &fault) {
		return true
	}

	var status *HTTPStatusError
	if errors.As(err, &status) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
