package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
)

// StatusMarker maps an HTTP response status to the sentinel taxonomy. Service
// clients use it so every non-2xx response enters the pipeline already
// classified.
func StatusMarker(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrTimeout
	case status >= http.StatusInternalServerError:
		return ErrUnavailable
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrPermission
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= http.StatusBadRequest:
		return ErrValidation
	default:
		return ErrTransient
	}
}

// TransportMarker classifies a transport-level failure from http.Client.Do.
func TransportMarker(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrTimeout
	}
	return ErrUnavailable
}
