package shipper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Operation names used when wrapping partner errors.
const (
	OpQuoteRate      = "quote_rate"
	OpCreateShipment = "create_shipment"
	OpTrackShipment  = "track_shipment"
	OpServiceability = "check_serviceability"
	OpAuthenticate   = "authenticate"
)

// ShipperError represents an error from a delivery partner. Kind is one of the
// sentinel errors below and is matched by errors.Is.
type ShipperError struct {
	Carrier    string
	Op         string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Kind       error
	Cause      error
}

// Error implements the error interface.
func (e *ShipperError) Error() string {
	prefix := e.Carrier
	if e.Op != "" {
		prefix += " " + e.Op
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", prefix, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", prefix, e.Code, e.Message)
}

// Unwrap returns the kind and the underlying cause.
func (e *ShipperError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Is implements errors.Is for ShipperError.
func (e *ShipperError) Is(target error) bool {
	t, ok := target.(*ShipperError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewShipperError creates a new ShipperError.
func NewShipperError(carrier, code, message string) *ShipperError {
	return &ShipperError{
		Carrier: carrier,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *ShipperError) WithCause(err error) *ShipperError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *ShipperError) WithStatusCode(code int) *ShipperError {
	e.StatusCode = code
	return e
}

// WithRetryable marks the error as retryable.
func (e *ShipperError) WithRetryable(retryable bool) *ShipperError {
	e.Retryable = retryable
	return e
}

// WithKind sets the taxonomy kind. Unavailable kinds are always retryable.
func (e *ShipperError) WithKind(kind error) *ShipperError {
	e.Kind = kind
	if errors.Is(kind, ErrProviderUnavailable) {
		e.Retryable = true
	}
	return e
}

// WithOp sets the operation name.
func (e *ShipperError) WithOp(op string) *ShipperError {
	e.Op = op
	return e
}

// Sentinel errors for the provider taxonomy.
var (
	// ErrProviderUnavailable indicates a transport, auth or 5xx failure. Retryable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrShipmentRejected indicates the partner refused the booking. Not retryable.
	ErrShipmentRejected = errors.New("shipment rejected")

	// ErrNoServiceableRoute indicates the partner offers no option for the corridor.
	ErrNoServiceableRoute = errors.New("no serviceable route")

	// ErrTrackingUnavailable indicates the partner has no record of the shipment yet.
	ErrTrackingUnavailable = errors.New("tracking unavailable")

	// ErrUnknownProvider indicates the requested partner is not registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrAuthenticationFailed indicates partner authentication failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRateLimitExceeded indicates the partner rate limit was exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidPackage indicates package dimensions or weight are invalid.
	ErrInvalidPackage = errors.New("invalid package")
)

// Unavailable builds a retryable ShipperError.
func Unavailable(carrier, op string, cause error) *ShipperError {
	return NewShipperError(carrier, "UNAVAILABLE", "partner unavailable").
		WithOp(op).WithKind(ErrProviderUnavailable).WithCause(cause)
}

// Rejected builds a non-retryable booking rejection.
func Rejected(carrier, code, message string) *ShipperError {
	return NewShipperError(carrier, code, message).WithOp(OpCreateShipment).WithKind(ErrShipmentRejected)
}

// Wrap tags err with the partner and operation name before it leaves an adapter.
// Errors that are not already classified are treated as provider unavailability.
func Wrap(carrier, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ShipperError
	if errors.As(err, &se) {
		if se.Carrier == "" {
			se.Carrier = carrier
		}
		if se.Op == "" {
			se.Op = op
		}
		if se.Kind == nil {
			se.WithKind(ErrProviderUnavailable)
		}
		return se
	}
	if errors.Is(err, ErrTrackingUnavailable) || errors.Is(err, ErrNoServiceableRoute) || errors.Is(err, ErrShipmentRejected) {
		return fmt.Errorf("%s %s: %w", carrier, op, err)
	}
	return Unavailable(carrier, op, err)
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var shipperErr *ShipperError
	if errors.As(err, &shipperErr) {
		return shipperErr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrRateLimitExceeded)
}
