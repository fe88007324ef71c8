// Package varint implements the QUIC variable-length integer encoding
// defined in RFC 9000 Section 16.
//
// The two most significant bits of the first byte select the encoded
// length: 00 = 1 byte, 01 = 2 bytes, 10 = 4 bytes, 11 = 8 bytes. The
// remaining bits of those bytes, concatenated big-endian, carry the value.
package varint

import "errors"

// ErrInsufficientData is returned when the buffer does not contain enough
// bytes to decode a complete varint. Callers should buffer more data and
// retry; it is never a protocol error on its own.
var ErrInsufficientData = errors.New("varint: insufficient data")

// Max is the largest value representable in the 8-byte form (2^62 - 1).
const Max = (uint64(1) << 62) - 1

const (
	len1Max = 1<<6 - 1
	len2Max = 1<<14 - 1
	len4Max = 1<<30 - 1
)

// Len returns the number of bytes Encode would use for value.
func Len(value uint64) int {
	switch {
	case value <= len1Max:
		return 1
	case value <= len2Max:
		return 2
	case value <= len4Max:
		return 4
	default:
		return 8
	}
}

// Append encodes value in its shortest form and appends it to b, returning
// the extended slice.
func Append(b []byte, value uint64) []byte {
	switch {
	case value <= len1Max:
		return append(b, byte(value))
	case value <= len2Max:
		return append(b, 0x40|byte(value>>8), byte(value))
	case value <= len4Max:
		return append(b,
			0x80|byte(value>>24),
			byte(value>>16),
			byte(value>>8),
			byte(value),
		)
	default:
		return append(b,
			0xC0|byte(value>>56),
			byte(value>>48),
			byte(value>>40),
			byte(value>>32),
			byte(value>>24),
			byte(value>>16),
			byte(value>>8),
			byte(value),
		)
	}
}

// Encode writes value into out (which must have capacity for at least 8
// bytes) and returns the number of bytes written.
func Encode(out []byte, value uint64) int {
	n := Len(value)
	b := Append(out[:0:0], value)
	copy(out[:n], b)
	return n
}

// Parse decodes a single varint from the front of b, returning the value
// and the number of bytes consumed. It returns ErrInsufficientData if b
// does not hold a complete encoding.
func Parse(b []byte) (value uint64, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, ErrInsufficientData
	}
	n := 1 << (b[0] >> 6)
	if len(b) < n {
		return 0, 0, ErrInsufficientData
	}
	v := uint64(b[0] & 0x3F)
	for i := 1; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, n, nil
}
