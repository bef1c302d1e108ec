package perf

import (
	"encoding/binary"
)

// FieldParser consumes native-endian fields from a record body. Every
// accessor reports false instead of reading past the end of the data.
type FieldParser []byte

func (parser *FieldParser) advance(c int) {
	*parser = (*parser)[c:]
}

func (parser *FieldParser) Len() int {
	return len(*parser)
}

func (parser *FieldParser) Uint64(val *uint64) bool {
	if len(*parser) < 8 {
		return false
	}
	*val = binary.NativeEndian.Uint64(*parser)
	parser.advance(8)
	return true
}

func (parser *FieldParser) Uint32(val *uint32) bool {
	if len(*parser) < 4 {
		return false
	}
	*val = binary.NativeEndian.Uint32(*parser)
	parser.advance(4)
	return true
}

func (parser *FieldParser) Skip(c int) bool {
	if len(*parser) < c {
		return false
	}
	parser.advance(c)
	return true
}
