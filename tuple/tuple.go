package tuple

// Encoding follows the FoundationDB tuple layer https://github.com/apple/foundationdb/blob/main/design/tuple.md
// restricted to byte and unicode strings, which is all the engine needs to prefix keys by column family.

import (
	"errors"
	"fmt"
)

const (
	itemSeparator = '/'
	nullByte      = 0x00
	boundaryByte  = 0xFF

	typeBytes  = 0x01
	typeString = 0x02
)

// Tuple is an ordered list of string and []byte elements. Encoded tuples sort the same way their elements do,
// element by element.
type Tuple []any

// Pack creates a new Tuple from the provided items, which must be strings or []bytes.
//
//	key := Pack("default", []byte("user/1")).Encode()
func Pack(items ...any) Tuple {
	return items
}

// ErrInvalidTuple indicates the encoded tuple is malformed
var ErrInvalidTuple = errors.New("invalid tuple encoding")

// ErrUnsupportedElement is returned when encoding an element that is not a string or []byte
var ErrUnsupportedElement = errors.New("unsupported tuple element")

// Encode encodes the tuple into a sortable byte key. Panics on elements that are not strings or []bytes, use
// EncodeChecked when elements come from outside the program.
func (t Tuple) Encode() []byte {
	b, err := t.EncodeChecked()
	if err != nil {
		panic(err)
	}
	return b
}

func (t Tuple) EncodeChecked() ([]byte, error) {
	result := []byte{itemSeparator}
	for i, item := range t {
		switch v := item.(type) {
		case string:
			result = append(result, typeString)
			result = appendEscaped(result, []byte(v))
		case []byte:
			result = append(result, typeBytes)
			result = appendEscaped(result, v)
		default:
			return nil, fmt.Errorf("%w: got %T at index %d", ErrUnsupportedElement, item, i)
		}
		result = append(result, nullByte)
	}
	return result, nil
}

// appendEscaped replaces null bytes with \x00\xFF so the terminator stays unambiguous and order is kept
func appendEscaped(dst, b []byte) []byte {
	for _, c := range b {
		dst = append(dst, c)
		if c == nullByte {
			dst = append(dst, boundaryByte)
		}
	}
	return dst
}

// GetPrefixRange returns [start, end) covering every tuple that begins with the elements of t.
func (t Tuple) GetPrefixRange() ([]byte, []byte) {
	startKey := t.Encode()
	endKey := append(append([]byte{}, startKey...), boundaryByte)
	return startKey, endKey
}

// Decode parses an encoded tuple back into a Tuple.
func Decode(encoded []byte) (Tuple, error) {
	if len(encoded) == 0 || encoded[0] != itemSeparator {
		return nil, ErrInvalidTuple
	}

	var result Tuple
	pos := 1
	for pos < len(encoded) {
		typeCode := encoded[pos]
		if typeCode != typeBytes && typeCode != typeString {
			return nil, fmt.Errorf("%w: type code %x at %d", ErrInvalidTuple, typeCode, pos)
		}
		val, n, err := decodeEscaped(encoded[pos+1:])
		if err != nil {
			return nil, err
		}
		if typeCode == typeString {
			result = append(result, string(val))
		} else {
			result = append(result, val)
		}
		pos += 1 + n
	}

	return result, nil
}

// decodeEscaped reads until the null terminator, returning the value and the bytes consumed
func decodeEscaped(encoded []byte) ([]byte, int, error) {
	result := []byte{}
	for pos := 0; pos < len(encoded); pos++ {
		if encoded[pos] != nullByte {
			result = append(result, encoded[pos])
			continue
		}
		if pos+1 < len(encoded) && encoded[pos+1] == boundaryByte {
			result = append(result, nullByte)
			pos++
			continue
		}
		return result, pos + 1, nil
	}

	return nil, 0, ErrInvalidTuple
}
