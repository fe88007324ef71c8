package qpack

import (
	"errors"
	"fmt"
)

// MaxHeaders bounds the number of field lines a single section may
// contain, defending against decompression bombs.
const MaxHeaders = 256

// MaxHeaderSize bounds the combined name+value length of a single field
// line.
const MaxHeaderSize = 8192

// ErrTooManyHeaders is returned when a field section would exceed
// MaxHeaders entries.
var ErrTooManyHeaders = errors.New("qpack: too many header fields")

// ErrHeaderTooLarge is returned when a single field line's name+value
// exceeds MaxHeaderSize.
var ErrHeaderTooLarge = errors.New("qpack: header field too large")

// ErrBlocked is returned when a field section references a dynamic-table
// entry not yet known to the decoder (insert count not yet reached);
// RFC 9204 calls this a blocked stream.
var ErrBlocked = errors.New("qpack: decoding blocked on dynamic table insert")

// ErrUnsupportedFieldLine is returned for post-base indexed/literal field
// lines (RFC 9204 §4.5.3/§4.5.5), which this implementation's
// static-table-only design never needs to produce and therefore does not
// decode.
var ErrUnsupportedFieldLine = errors.New("qpack: unsupported post-base field line")

// ErrMalformed is returned when a field section references an out-of-
// range table index or otherwise violates the wire format.
var ErrMalformed = errors.New("qpack: malformed field section")

// Decoder performs QPACK field-section decoding. Dynamic may be nil if
// the peer's SETTINGS advertised a zero dynamic-table capacity, the
// default posture of this implementation.
type Decoder struct {
	Dynamic *DynamicTable
}

// NewDecoder returns a Decoder. dynamic may be nil.
func NewDecoder(dynamic *DynamicTable) *Decoder {
	return &Decoder{Dynamic: dynamic}
}

// DecodeFieldSection decodes a complete QPACK-encoded field section into
// an ordered list of header entries.
func (dec *Decoder) DecodeFieldSection(b []byte) ([]Entry, error) {
	reqInsertCount, n, err := decodePrefixInt(b, 8)
	if err != nil {
		return nil, err
	}
	off := n

	if off >= len(b) {
		return nil, ErrInsufficientData
	}
	sign := b[off]&0x80 != 0
	deltaBase, n2, err := decodePrefixInt(b[off:], 7)
	if err != nil {
		return nil, err
	}
	off += n2
	_ = sign
	_ = deltaBase

	if dec.Dynamic != nil && reqInsertCount > dec.Dynamic.InsertCount() {
		return nil, ErrBlocked
	}

	var headers []Entry
	for off < len(b) {
		h, consumed, err := dec.decodeField(b[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		if len(h.Name)+len(h.Value) > MaxHeaderSize {
			return nil, ErrHeaderTooLarge
		}
		headers = append(headers, h)
		if len(headers) > MaxHeaders {
			return nil, ErrTooManyHeaders
		}
	}
	return headers, nil
}

func (dec *Decoder) decodeField(b []byte) (Entry, int, error) {
	if len(b) == 0 {
		return Entry{}, 0, ErrInsufficientData
	}
	switch {
	case b[0]&indexedFlag != 0:
		return dec.decodeIndexed(b)
	case b[0]&literalNameRefFlag != 0:
		return dec.decodeLiteralWithNameRef(b)
	case b[0]&literalNameFlag != 0:
		return decodeLiteralWithLiteralName(b)
	default:
		return Entry{}, 0, fmt.Errorf("qpack: field line pattern %#x: %w", b[0], ErrUnsupportedFieldLine)
	}
}

func (dec *Decoder) decodeIndexed(b []byte) (Entry, int, error) {
	static := b[0]&indexedTStatic != 0
	index, n, err := decodePrefixInt(b, 6)
	if err != nil {
		return Entry{}, 0, err
	}
	if static {
		if index >= uint64(len(StaticTable)) {
			return Entry{}, 0, fmt.Errorf("qpack: static index %d out of range: %w", index, ErrMalformed)
		}
		return StaticTable[index], n, nil
	}
	if dec.Dynamic == nil {
		return Entry{}, 0, fmt.Errorf("qpack: dynamic reference with no dynamic table: %w", ErrMalformed)
	}
	abs, ok := dec.Dynamic.RelativeToAbsolute(index)
	if !ok {
		return Entry{}, 0, ErrBlocked
	}
	e, ok := dec.Dynamic.Get(abs)
	if !ok {
		return Entry{}, 0, fmt.Errorf("qpack: dynamic index %d evicted: %w", index, ErrMalformed)
	}
	return e, n, nil
}

func (dec *Decoder) decodeLiteralWithNameRef(b []byte) (Entry, int, error) {
	static := b[0]&literalNameRefT != 0
	nameIndex, n, err := decodePrefixInt(b, 4)
	if err != nil {
		return Entry{}, 0, err
	}
	off := n

	var name string
	if static {
		if nameIndex >= uint64(len(StaticTable)) {
			return Entry{}, 0, fmt.Errorf("qpack: static name index %d out of range: %w", nameIndex, ErrMalformed)
		}
		name = StaticTable[nameIndex].Name
	} else {
		if dec.Dynamic == nil {
			return Entry{}, 0, fmt.Errorf("qpack: dynamic name reference with no dynamic table: %w", ErrMalformed)
		}
		abs, ok := dec.Dynamic.RelativeToAbsolute(nameIndex)
		if !ok {
			return Entry{}, 0, ErrBlocked
		}
		e, ok := dec.Dynamic.Get(abs)
		if !ok {
			return Entry{}, 0, fmt.Errorf("qpack: dynamic name index %d evicted: %w", nameIndex, ErrMalformed)
		}
		name = e.Name
	}

	value, consumed, err := decodeString(b[off:])
	if err != nil {
		return Entry{}, 0, err
	}
	return Entry{Name: name, Value: value}, off + consumed, nil
}

func decodeLiteralWithLiteralName(b []byte) (Entry, int, error) {
	huff := b[0]&literalNameH != 0
	nameLen, n, err := decodePrefixInt(b, 3)
	if err != nil {
		return Entry{}, 0, err
	}
	off := n
	if uint64(len(b)-off) < nameLen {
		return Entry{}, 0, ErrInsufficientData
	}
	rawName := b[off : off+int(nameLen)]
	off += int(nameLen)

	var name string
	if huff {
		name, err = huffmanDecode(rawName)
		if err != nil {
			return Entry{}, 0, fmt.Errorf("qpack: huffman name: %w", err)
		}
	} else {
		name = string(rawName)
	}

	value, consumed, err := decodeString(b[off:])
	if err != nil {
		return Entry{}, 0, err
	}
	return Entry{Name: name, Value: value}, off + consumed, nil
}

// decodeString decodes an H-bit-prefixed, 7-bit-length-prefixed string
// from b's front.
func decodeString(b []byte) (string, int, error) {
	if len(b) == 0 {
		return "", 0, ErrInsufficientData
	}
	huff := b[0]&valueHuffmanFlag != 0
	length, n, err := decodePrefixInt(b, 7)
	if err != nil {
		return "", 0, err
	}
	off := n
	if uint64(len(b)-off) < length {
		return "", 0, ErrInsufficientData
	}
	raw := b[off : off+int(length)]
	off += int(length)
	if huff {
		s, err := huffmanDecode(raw)
		if err != nil {
			return "", 0, fmt.Errorf("qpack: huffman value: %w", err)
		}
		return s, off, nil
	}
	return string(raw), off, nil
}
