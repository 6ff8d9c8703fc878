package fuzzable

import (
	"fmt"
	"strings"

	"github.com/phobologic/fuzzgraph/internal/types"
)

// TypeKind is the variant tag of a decodable Type.
type TypeKind int

const (
	// Invalid marks a value that cannot be decoded from bytes.
	Invalid TypeKind = iota
	PrimType
	StrType
	SliceType
	ArrayType
	TupleType
)

// Type is the decodable shape of a fuzzable parameter.
type Type struct {
	Kind  TypeKind   `cbor:"k"`
	Prim  types.Prim `cbor:"p,omitempty"`
	Elem  *Type      `cbor:"e,omitempty"`
	Elems []Type     `cbor:"es,omitempty"`
	Len   int        `cbor:"l,omitempty"`
}

func noType() Type { return Type{Kind: Invalid} }

func Prim(p types.Prim) Type { return Type{Kind: PrimType, Prim: p} }

func Str() Type { return Type{Kind: StrType} }

func Slice(elem Type) Type { return Type{Kind: SliceType, Elem: &elem} }

func Array(elem Type, n int) Type { return Type{Kind: ArrayType, Elem: &elem, Len: n} }

func Tuple(elems ...Type) Type { return Type{Kind: TupleType, Elems: elems} }

// primSize is the encoded width of each primitive. usize and isize use a
// 64-bit pointer width.
func primSize(p types.Prim) int {
	switch p {
	case types.U8, types.I8, types.Bool:
		return 1
	case types.U16, types.I16:
		return 2
	case types.U32, types.I32, types.F32, types.Char:
		return 4
	case types.U64, types.I64, types.F64, types.Usize, types.Isize:
		return 8
	case types.U128, types.I128:
		return 16
	default:
		panic(fmt.Sprintf("fuzzable: unknown primitive %v", p))
	}
}

// MinSize is the least number of input bytes needed to decode t.
func (t Type) MinSize() int {
	switch t.Kind {
	case PrimType:
		return primSize(t.Prim)
	case StrType:
		return 1
	case SliceType:
		return t.Elem.MinSize()
	case ArrayType:
		return t.Len * t.Elem.MinSize()
	case TupleType:
		n := 0
		for _, e := range t.Elems {
			n += e.MinSize()
		}
		return n
	case Invalid:
		return 0
	default:
		panic(fmt.Sprintf("fuzzable: unhandled type kind %d", t.Kind))
	}
}

// IsFixedSize reports whether t contains no str or slice.
func (t Type) IsFixedSize() bool {
	return t.DynamicParts() == 0
}

// FixedPartSize is the number of bytes taken by the statically sized parts
// of t.
func (t Type) FixedPartSize() int {
	switch t.Kind {
	case PrimType:
		return primSize(t.Prim)
	case StrType, SliceType, Invalid:
		return 0
	case ArrayType:
		return t.Len * t.Elem.FixedPartSize()
	case TupleType:
		n := 0
		for _, e := range t.Elems {
			n += e.FixedPartSize()
		}
		return n
	default:
		panic(fmt.Sprintf("fuzzable: unhandled type kind %d", t.Kind))
	}
}

// DynamicParts counts the variable-length parts of t.
func (t Type) DynamicParts() int {
	switch t.Kind {
	case PrimType, Invalid:
		return 0
	case StrType, SliceType:
		return 1
	case ArrayType:
		return t.Len * t.Elem.DynamicParts()
	case TupleType:
		n := 0
		for _, e := range t.Elems {
			n += e.DynamicParts()
		}
		return n
	default:
		panic(fmt.Sprintf("fuzzable: unhandled type kind %d", t.Kind))
	}
}

// HasNestedDynamic reports whether a variable-length part sits below
// another container, for example a slice of slices or a tuple holding a
// str. Such values cannot be split from a flat buffer unambiguously.
func (t Type) HasNestedDynamic() bool {
	switch t.Kind {
	case PrimType, StrType, Invalid:
		return false
	case SliceType, ArrayType:
		return !t.Elem.IsFixedSize()
	case TupleType:
		return !t.IsFixedSize()
	default:
		panic(fmt.Sprintf("fuzzable: unhandled type kind %d", t.Kind))
	}
}

// IsPlainData reports whether every byte pattern of the right width is a
// valid t. Only such element types can be read straight out of the input
// buffer as a slice; bool and char have invalid patterns.
func (t Type) IsPlainData() bool {
	switch t.Kind {
	case PrimType:
		return t.Prim != types.Bool && t.Prim != types.Char
	case ArrayType:
		return t.Elem.IsPlainData()
	case TupleType:
		for _, e := range t.Elems {
			if !e.IsPlainData() {
				return false
			}
		}
		return true
	case StrType, SliceType, Invalid:
		return false
	default:
		panic(fmt.Sprintf("fuzzable: unhandled type kind %d", t.Kind))
	}
}

// RustType is the Rust type the decoder yields for t.
func (t Type) RustType() string {
	switch t.Kind {
	case PrimType:
		return t.Prim.String()
	case StrType:
		return "&str"
	case SliceType:
		return "&[" + t.Elem.RustType() + "]"
	case ArrayType:
		return fmt.Sprintf("[%s; %d]", t.Elem.RustType(), t.Len)
	case TupleType:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.RustType()
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case Invalid:
		return "<unfuzzable>"
	default:
		panic(fmt.Sprintf("fuzzable: unhandled type kind %d", t.Kind))
	}
}

func (t Type) String() string { return t.RustType() }
