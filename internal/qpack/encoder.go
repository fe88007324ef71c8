package qpack

// Field-line type bits, per RFC 9204 §4.5.
const (
	indexedFlag        = 0x80 // 1T......
	indexedTStatic     = 0x40 // T bit within indexedFlag byte
	literalNameRefFlag = 0x40 // 01NT....
	literalNameRefN    = 0x20
	literalNameRefT    = 0x10
	literalNameFlag    = 0x20 // 001N....
	literalNameN       = 0x10
	literalNameH       = 0x08
	valueHuffmanFlag   = 0x80 // H.......
)

// Encoder performs QPACK field-section encoding. Since this implementation
// never emits dynamic-table insertions of its own (it only ever consumes
// a peer's advertised table via Dynamic for safety bookkeeping on
// decode), Dynamic is typically nil, and EncodeFieldSection always emits
// Required Insert Count = 0 / Delta Base = 0. With a nil Dynamic every
// field line is either indexed-static or literal; when Dynamic is set,
// entries found in it are referenced by relative index.
type Encoder struct {
	Dynamic *DynamicTable // nil disables dynamic-table reference attempts
}

// NewEncoder returns an Encoder. dynamic may be nil.
func NewEncoder(dynamic *DynamicTable) *Encoder {
	return &Encoder{Dynamic: dynamic}
}

// EncodeFieldSection encodes headers (in order) into a single QPACK field
// section, suitable for an HTTP/3 HEADERS frame payload.
func (enc *Encoder) EncodeFieldSection(headers []Entry) []byte {
	var b []byte
	// Required Insert Count: always 0 in this implementation (RFC 9204
	// §4.5.1.1: ReqInsertCount == 0 encodes directly as EncInsCount == 0).
	b = append(b, 0)
	b = appendPrefixInt(b, 8, 0)
	// Delta Base: sign=0, value=0 (always relative to Base==0).
	b = append(b, 0)
	b = appendPrefixInt(b, 7, 0)

	for _, h := range headers {
		b = enc.encodeField(b, h)
	}
	return b
}

func (enc *Encoder) encodeField(b []byte, h Entry) []byte {
	if idx := findStaticExact(h.Name, h.Value); idx >= 0 {
		return encodeIndexed(b, true, uint64(idx))
	}
	if enc.Dynamic != nil {
		if abs, ok := enc.Dynamic.FindExact(h.Name, h.Value); ok {
			if rel, ok := enc.Dynamic.AbsoluteToRelative(abs); ok {
				return encodeIndexed(b, false, rel)
			}
		}
	}
	if idx := findStaticName(h.Name); idx >= 0 {
		return encodeLiteralWithNameRef(b, true, uint64(idx), h.Value)
	}
	if enc.Dynamic != nil {
		if abs, ok := enc.Dynamic.FindName(h.Name); ok {
			if rel, ok := enc.Dynamic.AbsoluteToRelative(abs); ok {
				return encodeLiteralWithNameRef(b, false, rel, h.Value)
			}
		}
	}
	return encodeLiteralWithLiteralName(b, h.Name, h.Value)
}

func encodeIndexed(b []byte, static bool, index uint64) []byte {
	flag := byte(indexedFlag)
	if static {
		flag |= indexedTStatic
	}
	b = append(b, flag)
	return appendPrefixInt(b, 6, index)
}

func encodeLiteralWithNameRef(b []byte, static bool, nameIndex uint64, value string) []byte {
	flag := byte(literalNameRefFlag)
	if static {
		flag |= literalNameRefT
	}
	b = append(b, flag)
	b = appendPrefixInt(b, 4, nameIndex)
	return encodeString(b, value)
}

func encodeLiteralWithLiteralName(b []byte, name, value string) []byte {
	huffLen := huffmanEncodedLen(name)
	useHuffman := huffLen < len(name)
	flag := byte(literalNameFlag)
	if useHuffman {
		flag |= literalNameH
	}
	b = append(b, flag)
	if useHuffman {
		b = appendPrefixInt(b, 3, uint64(huffLen))
		b = huffmanEncode(b, name)
	} else {
		b = appendPrefixInt(b, 3, uint64(len(name)))
		b = append(b, name...)
	}
	return encodeString(b, value)
}

// encodeString appends an H-bit-prefixed, 7-bit-length-prefixed string,
// choosing Huffman coding only when it is strictly smaller than the
// literal encoding (RFC 9204's "opportunistic" Huffman use).
func encodeString(b []byte, s string) []byte {
	huffLen := huffmanEncodedLen(s)
	if huffLen < len(s) {
		b = append(b, valueHuffmanFlag)
		b = appendPrefixInt(b, 7, uint64(huffLen))
		return huffmanEncode(b, s)
	}
	b = append(b, 0)
	b = appendPrefixInt(b, 7, uint64(len(s)))
	return append(b, s...)
}
