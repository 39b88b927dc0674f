package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound     = errors.New("payment_provider_not_found")
	ErrInvalidConfig        = errors.New("invalid_payment_provider_config")
	ErrGatewayNotConfigured = errors.New("payment_gateway_not_configured")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrMissingPaymentID     = errors.New("invalid_payment_id")
)

type GatewayErrorKind string

const (
	GatewayTimeout   GatewayErrorKind = "timeout"
	GatewayTransport GatewayErrorKind = "transport"
	GatewayClient    GatewayErrorKind = "client"
	GatewayServer    GatewayErrorKind = "server"
	GatewayDecode    GatewayErrorKind = "decode"
)

// GatewayError is returned for every failed provider call.
type GatewayError struct {
	Op         string
	Kind       GatewayErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("gateway %s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: %s (status %d)", e.Op, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Kind)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed: timeouts,
// transport failures, 5xx and 429.
func (e *GatewayError) Retryable() bool {
	switch e.Kind {
	case GatewayTimeout, GatewayTransport, GatewayServer:
		return true
	case GatewayClient:
		return e.StatusCode == 429
	default:
		return false
	}
}

// IsRetryable unwraps err looking for a retryable GatewayError.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable()
	}
	return false
}
