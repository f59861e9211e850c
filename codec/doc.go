// Package codec builds the uplink wire envelope and extracts the
// application status code from collector replies.
//
// The builder writes into a caller-owned buffer and never allocates;
// running out of buffer is reported as ErrBufferTooSmall, never as
// silent truncation. The status scanner is deliberately not a JSON
// parser: it locates the "code" field by byte scanning and tolerates
// arbitrary surrounding content, which keeps it dependency-free and
// cheap enough for the retry hot path.
package codec
