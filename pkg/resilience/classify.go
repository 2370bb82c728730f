// Package resilience wraps upstream calls with classification, retries and
// per-endpoint circuit breaking.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/freedive-ai/coach/pkg/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorType names a failure category.
type ErrorType string

const (
	TypeRateLimit     ErrorType = "rate_limit"
	TypeQuotaExceeded ErrorType = "quota_exceeded"
	TypeAuthFailure   ErrorType = "auth_failure"
	TypeServerError   ErrorType = "server_error"
	TypeTimeout       ErrorType = "timeout"
	TypeNetworkError  ErrorType = "network_error"
	TypeValidation    ErrorType = "validation_error"
	TypeUnknown       ErrorType = "unknown_error"
	TypeCircuitOpen   ErrorType = "circuit_open"
)

// Classification is the outcome of Classify.
type Classification struct {
	Type      ErrorType       `json:"type"`
	Severity  models.Severity `json:"severity"`
	Retryable bool            `json:"retryable"`
}

// StatusError is an upstream failure that carries an HTTP status.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("upstream status %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, msg)
}

func (e *StatusError) Unwrap() error { return e.Err }

var (
	rateLimited   = Classification{TypeRateLimit, models.SeverityMedium, true}
	quotaExceeded = Classification{TypeQuotaExceeded, models.SeverityCritical, false}
	authFailure   = Classification{TypeAuthFailure, models.SeverityCritical, false}
	serverError   = Classification{TypeServerError, models.SeverityHigh, true}
	timedOut      = Classification{TypeTimeout, models.SeverityMedium, true}
	networkError  = Classification{TypeNetworkError, models.SeverityMedium, true}
	validation    = Classification{TypeValidation, models.SeverityLow, false}
	unknown       = Classification{TypeUnknown, models.SeverityMedium, false}
	circuitOpen   = Classification{TypeCircuitOpen, models.SeverityHigh, false}
)

var networkMarkers = []string{
	"connection refused",
	"connection reset",
	"econnreset",
	"econnrefused",
	"no such host",
	"broken pipe",
	"network",
	"eof",
}

// Classify maps an error to its type, severity and retryability.
// Rules are evaluated in order and the first match wins.
func Classify(err error) Classification {
	if err == nil {
		return unknown
	}
	if errors.Is(err, ErrCircuitOpen) {
		return circuitOpen
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.Status, se.Code)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return timedOut
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return timedOut
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return classifyGRPC(st.Code())
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return timedOut
	}
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return networkError
		}
	}
	return unknown
}

func classifyStatus(code int, apiCode string) Classification {
	switch {
	case code == http.StatusTooManyRequests && apiCode == "insufficient_quota":
		return quotaExceeded
	case code == http.StatusTooManyRequests:
		return rateLimited
	case apiCode == "insufficient_quota":
		return quotaExceeded
	case code == http.StatusUnauthorized || code == http.StatusForbidden || apiCode == "invalid_api_key":
		return authFailure
	case code >= 500:
		return serverError
	case code == http.StatusRequestTimeout:
		return timedOut
	case code == http.StatusBadRequest:
		return validation
	}
	return unknown
}

func classifyGRPC(c codes.Code) Classification {
	switch c {
	case codes.ResourceExhausted:
		return rateLimited
	case codes.Unauthenticated, codes.PermissionDenied:
		return authFailure
	case codes.Internal, codes.DataLoss:
		return serverError
	case codes.DeadlineExceeded, codes.Canceled:
		return timedOut
	case codes.Unavailable:
		return networkError
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
		return validation
	}
	return unknown
}
