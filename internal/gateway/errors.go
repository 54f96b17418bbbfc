package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies chat API failures by how callers should react.
type Kind string

const (
	// KindUnknown covers failures with no actionable classification.
	KindUnknown Kind = "UNKNOWN"
	// KindNotFound means the resource is gone for good; callers stop retrying.
	KindNotFound Kind = "NOT_FOUND"
	// KindPermission means the bot lacks access to the channel or message.
	KindPermission Kind = "PERMISSION"
	// KindTransient means the call may succeed if repeated later.
	KindTransient Kind = "TRANSIENT"
)

// Error classifies chat API call failures.
type Error struct {
	StatusCode int
	Kind       Kind
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "chat api error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsNotFound reports whether the watched resource no longer exists.
func IsNotFound(err error) bool {
	var gatewayErr *Error
	return errors.As(err, &gatewayErr) && gatewayErr.Kind == KindNotFound
}

// IsPermission reports whether the bot was denied access.
func IsPermission(err error) bool {
	var gatewayErr *Error
	return errors.As(err, &gatewayErr) && gatewayErr.Kind == KindPermission
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gatewayErr *Error
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Kind == KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	return false
}

func classifyStatus(statusCode int) Kind {
	switch {
	case statusCode == http.StatusNotFound:
		return KindNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindPermission
	case statusCode == http.StatusTooManyRequests:
		return KindTransient
	case statusCode >= http.StatusInternalServerError && statusCode <= 599:
		return KindTransient
	default:
		return KindUnknown
	}
}
