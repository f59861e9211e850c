package uplink

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument indicates a nil or out-of-range input.
	ErrInvalidArgument = errors.New("uplink: invalid argument")
	// ErrNotInitialized is returned when a zero-value Core is used.
	ErrNotInitialized = errors.New("uplink: not initialized")
	// ErrQueueFull is returned by Enqueue when the ring buffer is at capacity.
	ErrQueueFull = errors.New("uplink: queue full")
	// ErrQueueEmpty is returned by queue reads when no message is pending.
	ErrQueueEmpty = errors.New("uplink: queue empty")
	// ErrValueTooLong indicates a kind or payload exceeding its fixed capacity.
	ErrValueTooLong = errors.New("uplink: value exceeds buffer capacity")
	// ErrUnsupported indicates a configured feature with no implementation,
	// such as the secure scheme.
	ErrUnsupported = errors.New("uplink: unsupported")
	// ErrBodyTruncated is returned by a Transport together with the captured
	// body prefix when the response exceeded the receive buffer. Callers must
	// assume application-level parsing of the body may be incomplete.
	ErrBodyTruncated = errors.New("uplink: response body truncated")
	// ErrInternal indicates a state that should be unreachable.
	ErrInternal = errors.New("uplink: internal error")
)

// TransportError wraps a failure from a delivery attempt with the
// operation that failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("uplink: transport %s failed", e.Op)
	}
	return fmt.Sprintf("uplink: transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
