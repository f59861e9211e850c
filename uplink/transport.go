package uplink

import "context"

// Ack carries the collector's reply to one delivery attempt.
type Ack struct {
	// StatusCode is the HTTP-style status of the exchange. Transports
	// without a native status synthesize 200 when a reply arrives.
	StatusCode int
	// Body is the captured response body. It aliases the receive buffer
	// passed to Post and is only valid until the next call.
	Body []byte
}

// Transport performs one request/response exchange with the collector.
// Post writes the response body into respBuf; if the body does not fit,
// the transport returns the captured prefix in the Ack together with
// ErrBodyTruncated so the caller knows parsing may be incomplete.
//
// The core never calls Post concurrently: its sending flag guarantees a
// single in-flight attempt per Core.
type Transport interface {
	Post(ctx context.Context, payload []byte, respBuf []byte) (Ack, error)
}
