package uplink

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

const (
	maxHeadLen   = 256
	maxHeaderLen = 512
	readChunkLen = 512
)

// headerEndMarker is the rolling value of the last four response bytes
// once "\r\n\r\n" has been seen.
const headerEndMarker = 0x0d0a0d0a

var (
	errIncompleteHeader = errors.New("response ended before header terminator")
	errBadStatusLine    = errors.New("malformed status line")
)

// HTTPTransport is the reference Transport: a plaintext HTTP/1.1 POST
// over a raw TCP connection. Every attempt opens a fresh connection and
// closes it after the exchange; the response is parsed incrementally, so
// the header/body split is found correctly across arbitrary read
// fragment boundaries.
//
// Scratch buffers are reused across attempts. The core's single
// in-flight guarantee makes that safe; an HTTPTransport must not be
// shared between cores.
type HTTPTransport struct {
	endpoint    Endpoint
	sendTimeout time.Duration
	recvTimeout time.Duration

	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	headBuf   []byte
	headerBuf []byte
	readBuf   [readChunkLen]byte
}

// NewHTTPTransport creates the reference transport for the given
// endpoint. The timeouts bound the write and read side of every
// exchange, including connection establishment on the write side.
func NewHTTPTransport(endpoint Endpoint, sendTimeout, recvTimeout time.Duration) *HTTPTransport {
	t := &HTTPTransport{
		endpoint:    endpoint,
		sendTimeout: sendTimeout,
		recvTimeout: recvTimeout,
		headBuf:     make([]byte, 0, maxHeadLen),
		headerBuf:   make([]byte, 0, maxHeaderLen),
	}
	t.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: sendTimeout}
		return d.DialContext(ctx, network, addr)
	}
	return t
}

// Post implements Transport.
func (t *HTTPTransport) Post(ctx context.Context, payload []byte, respBuf []byte) (Ack, error) {
	if len(respBuf) == 0 {
		return Ack{}, ErrInvalidArgument
	}

	head, err := t.buildHead(len(payload))
	if err != nil {
		return Ack{}, err
	}

	conn, err := t.dial(ctx, "tcp", t.endpoint.Addr())
	if err != nil {
		return Ack{}, &TransportError{Op: "connect", Err: err}
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(t.sendTimeout)); err != nil {
		return Ack{}, &TransportError{Op: "send", Err: err}
	}
	if _, err := conn.Write(head); err != nil {
		return Ack{}, &TransportError{Op: "send", Err: err}
	}
	if _, err := conn.Write(payload); err != nil {
		return Ack{}, &TransportError{Op: "send", Err: err}
	}

	return t.readResponse(conn, respBuf)
}

// buildHead renders the request line and headers into the reused head
// buffer. Content-Length is the exact payload byte length and the
// connection is closed after each exchange.
func (t *HTTPTransport) buildHead(contentLength int) ([]byte, error) {
	b := t.headBuf[:0]
	b = append(b, "POST "...)
	b = append(b, t.endpoint.Path...)
	b = append(b, " HTTP/1.1\r\nHost: "...)
	b = append(b, t.endpoint.Host...)
	b = append(b, "\r\nContent-Type: application/json\r\nContent-Length: "...)
	b = strconv.AppendInt(b, int64(contentLength), 10)
	b = append(b, "\r\nConnection: close\r\n\r\n"...)
	if len(b) > maxHeadLen {
		return nil, ErrValueTooLong
	}
	t.headBuf = b
	return b, nil
}

// readResponse consumes the connection until close or deadline, tracking
// the header/body boundary with a rolling four-byte marker. The header
// prefix is kept only up to maxHeaderLen, enough for the status line;
// marker tracking continues regardless so an oversized header still
// terminates correctly.
func (t *HTTPTransport) readResponse(conn net.Conn, respBuf []byte) (Ack, error) {
	if err := conn.SetReadDeadline(time.Now().Add(t.recvTimeout)); err != nil {
		return Ack{}, &TransportError{Op: "recv", Err: err}
	}

	header := t.headerBuf[:0]
	headerDone := false
	truncated := false
	var marker uint32
	var ack Ack
	bodyLen := 0

	for {
		n, err := conn.Read(t.readBuf[:])
		for i := 0; i < n; i++ {
			ch := t.readBuf[i]
			if !headerDone {
				if len(header) < maxHeaderLen {
					header = append(header, ch)
				}
				marker = marker<<8 | uint32(ch)
				if marker == headerEndMarker {
					headerDone = true
					ack.StatusCode = parseStatusLine(header)
				}
				continue
			}
			if bodyLen < len(respBuf) {
				respBuf[bodyLen] = ch
				bodyLen++
			} else {
				// Keep draining so the peer sees an orderly close.
				truncated = true
			}
		}
		if err != nil {
			break
		}
	}
	t.headerBuf = header[:0]

	ack.Body = respBuf[:bodyLen]
	if !headerDone {
		return ack, &TransportError{Op: "recv", Err: errIncompleteHeader}
	}
	if ack.StatusCode == 0 {
		return ack, &TransportError{Op: "recv", Err: errBadStatusLine}
	}
	if truncated {
		return ack, ErrBodyTruncated
	}
	return ack, nil
}

// parseStatusLine extracts the three-digit status code following the
// first space of the status line, e.g. "HTTP/1.1 200 OK". It returns 0
// when the line is malformed.
func parseStatusLine(header []byte) int {
	space := -1
	for i, ch := range header {
		if ch == ' ' {
			space = i
			break
		}
		if ch == '\r' || ch == '\n' {
			return 0
		}
	}
	if space < 0 || space+4 > len(header) {
		return 0
	}
	code := 0
	for _, ch := range header[space+1 : space+4] {
		if ch < '0' || ch > '9' {
			return 0
		}
		code = code*10 + int(ch-'0')
	}
	return code
}
