package qpack

import (
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// QPACK reuses HPACK's Huffman code (RFC 9204 §4.1.2 references RFC 7541
// Appendix B directly, byte for byte) rather than defining its own, so the
// encoding and decoding here is delegated to golang.org/x/net/http2/hpack,
// which already carries that exact table.

// huffmanEncodedLen returns the length in bytes Huffman-encoding s would
// produce, without actually encoding it.
func huffmanEncodedLen(s string) int {
	return int(hpack.HuffmanEncodeLength(s))
}

// huffmanEncode appends the Huffman encoding of s to dst.
func huffmanEncode(dst []byte, s string) []byte {
	var buf bytes.Buffer
	// hpack.HuffmanEncode never returns an error for a Writer that never
	// errors, such as bytes.Buffer.
	_, _ = hpack.HuffmanEncode(&buf, []byte(s))
	return append(dst, buf.Bytes()...)
}

// huffmanDecode decodes b, which must hold exactly one Huffman-coded
// string.
func huffmanDecode(b []byte) (string, error) {
	var buf bytes.Buffer
	if err := hpack.HuffmanDecode(&buf, b); err != nil {
		return "", err
	}
	return buf.String(), nil
}
