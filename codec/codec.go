package codec

import "errors"

// ErrBufferTooSmall is returned when the destination buffer cannot hold
// the complete output. The buffer contents are unspecified after a failure.
var ErrBufferTooSmall = errors.New("codec: buffer too small")

// statusKey is the collector's application status field, matched byte
// for byte including the surrounding quotes.
const statusKey = `"code"`

// BuildEvent writes the wire envelope for one event into dst and returns
// the filled prefix. dst is written starting at index 0; its length sets
// the capacity limit. An empty payload is normalized to {} so the
// envelope is always syntactically valid JSON.
//
// The envelope shape is fixed:
//
//	{"deviceId":"...","messageId":N,"ts":N,"type":"...","payload":...}
//
// payload is embedded verbatim as a JSON value and is not escaped.
func BuildEvent(dst []byte, deviceID string, messageID uint32, ts uint32, kind []byte, payload []byte) ([]byte, error) {
	w := writer{buf: dst}

	w.literal(`{"deviceId":"`)
	w.escapedString(deviceID)
	w.literal(`","messageId":`)
	w.uint32(messageID)
	w.literal(`,"ts":`)
	w.uint32(ts)
	w.literal(`,"type":"`)
	w.escaped(kind)
	w.literal(`","payload":`)
	if len(payload) == 0 {
		w.literal("{}")
	} else {
		w.raw(payload)
	}
	w.byte('}')

	if w.overflow {
		return nil, ErrBufferTooSmall
	}
	return w.buf[:w.n], nil
}

// BuildReadingPayload writes a single-field numeric payload, e.g.
// {"adc":1234}, into dst and returns the filled prefix.
func BuildReadingPayload(dst []byte, field string, value uint32) ([]byte, error) {
	w := writer{buf: dst}
	w.literal(`{"`)
	w.escapedString(field)
	w.literal(`":`)
	w.uint32(value)
	w.byte('}')
	if w.overflow {
		return nil, ErrBufferTooSmall
	}
	return w.buf[:w.n], nil
}

// StatusCode scans body for the first occurrence of the "code" field and
// parses its optionally-signed integer value, saturating at the int32
// range. The second return value is false when the field is absent or
// its value is not an integer; that is not an error, the caller decides
// how to treat an unknown code. Malformed or empty bodies simply yield
// (0, false).
func StatusCode(body []byte) (int32, bool) {
	pos := -1
	for i := 0; i+len(statusKey) <= len(body); i++ {
		if body[i] == '"' && string(body[i:i+len(statusKey)]) == statusKey {
			pos = i + len(statusKey)
			break
		}
	}
	if pos < 0 {
		return 0, false
	}

	pos = skipSpace(body, pos)
	if pos >= len(body) || body[pos] != ':' {
		return 0, false
	}
	pos = skipSpace(body, pos+1)
	if pos >= len(body) {
		return 0, false
	}

	negative := false
	if body[pos] == '-' {
		negative = true
		pos++
	}

	var value int32
	hasDigit := false
	for pos < len(body) && body[pos] >= '0' && body[pos] <= '9' {
		hasDigit = true
		d := int32(body[pos] - '0')
		// Saturate instead of wrapping on overflow.
		if value > (1<<31-1)/10 || value*10 > (1<<31-1)-d {
			value = 1<<31 - 1
		} else {
			value = value*10 + d
		}
		pos++
	}
	if !hasDigit {
		return 0, false
	}
	if negative {
		return -value, true
	}
	return value, true
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r' || b[i] == '\n') {
		i++
	}
	return i
}

// writer appends into a fixed-size buffer, latching an overflow flag
// instead of growing. All output is discarded once overflow is set.
type writer struct {
	buf      []byte
	n        int
	overflow bool
}

func (w *writer) byte(c byte) {
	if w.n >= len(w.buf) {
		w.overflow = true
		return
	}
	w.buf[w.n] = c
	w.n++
}

func (w *writer) literal(s string) {
	for i := 0; i < len(s); i++ {
		w.byte(s[i])
	}
}

func (w *writer) raw(b []byte) {
	for i := 0; i < len(b); i++ {
		w.byte(b[i])
	}
}

func (w *writer) escaped(b []byte) {
	for i := 0; i < len(b); i++ {
		w.escapedByte(b[i])
	}
}

func (w *writer) escapedString(s string) {
	for i := 0; i < len(s); i++ {
		w.escapedByte(s[i])
	}
}

func (w *writer) escapedByte(c byte) {
	switch c {
	case '\\', '"':
		w.byte('\\')
		w.byte(c)
	case '\b':
		w.literal(`\b`)
	case '\f':
		w.literal(`\f`)
	case '\n':
		w.literal(`\n`)
	case '\r':
		w.literal(`\r`)
	case '\t':
		w.literal(`\t`)
	default:
		if c < 0x20 {
			w.literal(`\u00`)
			w.byte(hexdigits[c>>4])
			w.byte(hexdigits[c&0x0f])
		} else {
			w.byte(c)
		}
	}
}

func (w *writer) uint32(v uint32) {
	var tmp [10]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	w.raw(tmp[i:])
}

const hexdigits = "0123456789abcdef"
