// Package upstream holds what the hosted-model clients share: the error type
// for non-2xx replies and the request observer hook.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"vaani/internal/apperr"
)

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Error struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s request failed with status %d", e.Service, e.StatusCode)
}

// IsTimeout reports whether err is a deadline or transport timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// AsAppError tags a collaborator failure as upstream_timeout or
// upstream_error. Errors that already carry a kind pass through.
func AsAppError(service string, err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) {
		return apperr.Wrap(apperr.KindUpstreamTimeout, service+" timed out", err)
	}
	msg := service + " request failed"
	var upErr *Error
	if errors.As(err, &upErr) && upErr.Body != "" {
		msg = fmt.Sprintf("%s request failed: %s", service, upErr.Body)
	}
	return apperr.Wrap(apperr.KindUpstreamError, msg, err)
}

func TruncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
