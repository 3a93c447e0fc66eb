// Package reliability classifies upstream failures into stable metric codes.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// StatusError carries the HTTP status an upstream returned while refusing a
// connection or request.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d %s", e.Code, http.StatusText(e.Code))
}

// WithStatus wraps err with the response status when one is available.
func WithStatus(err error, resp *http.Response) error {
	if err == nil || resp == nil {
		return err
	}
	return fmt.Errorf("%w: %w", &StatusError{Code: resp.StatusCode}, err)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps err to a short code for provider error metrics.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.Code == http.StatusUnauthorized || status.Code == http.StatusForbidden:
			return "unauthorized"
		case status.Code == http.StatusTooManyRequests:
			return "rate_limited"
		case IsRetryableHTTPStatus(status.Code):
			return "upstream_unavailable"
		default:
			return "rejected"
		}
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
			return "closed"
		}
		return "abnormal_close"
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return "handshake_failed"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	return "unknown"
}
