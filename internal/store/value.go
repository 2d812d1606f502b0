package store

import "strconv"

// Kind tags the active variant of a Value
type Kind byte

const (
	KindString Kind = iota + 1
	KindInteger
	KindList
)

// Value is the closed set of payloads an object can hold.
// Exactly one variant is active, selected by Kind
type Value struct {
	Kind Kind
	Str  []byte   // KindString
	Int  int64    // KindInteger
	List [][]byte // KindList, index 0 is the front
}

// NewStringValue construct Value from raw bytes
func NewStringValue(b []byte) Value {
	return Value{Kind: KindString, Str: b}
}

// NewIntegerValue construct Value from int64
func NewIntegerValue(n int64) Value {
	return Value{Kind: KindInteger, Int: n}
}

// NewListValue construct Value from a sequence of elements
func NewListValue(elems [][]byte) Value {
	return Value{Kind: KindList, List: elems}
}

// AsInt returns the integer form of the value.
// A KindString parses as base-10 int64; KindList never coerces
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInteger:
		return v.Int, true
	case KindString:
		n, err := strconv.ParseInt(string(v.Str), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case KindList:
		return 0, false
	}
	return 0, false
}

// Bytes returns the wire form of the value for bulk replies.
// Lists have no single bulk form and return false
func (v Value) Bytes() ([]byte, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindInteger:
		return strconv.AppendInt(nil, v.Int, 10), true
	case KindList:
		return nil, false
	}
	return nil, false
}
