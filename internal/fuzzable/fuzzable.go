// Package fuzzable classifies types that can be decoded straight from fuzz
// input bytes and computes their byte layout.
package fuzzable

import (
	"fmt"

	"github.com/phobologic/fuzzgraph/internal/calltype"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// CallKind is the variant tag of a CallType.
type CallKind int

const (
	NoFuzzable CallKind = iota
	PrimitiveCall
	TupleCall
	SliceCall
	ArrayCall
	ConstRawPtrCall
	MutRawPtrCall
	StrCall
	BorrowedRefCall
	MutBorrowedRefCall
	ToOptionCall
)

// CallType describes a declared parameter type in terms of a decodable
// value and the wrapping needed to reach the declared type.
type CallType struct {
	Kind   CallKind
	Prim   types.Prim
	Elems  []CallType
	Inner  *CallType
	Len    int
	Target *types.Type
}

// IsFuzzable reports whether c can be decoded from bytes.
func (c CallType) IsFuzzable() bool {
	return c.Kind != NoFuzzable
}

func none() CallType { return CallType{Kind: NoFuzzable} }

func wrap(kind CallKind, inner CallType) CallType {
	if inner.Kind == NoFuzzable {
		return inner
	}
	return CallType{Kind: kind, Inner: &inner}
}

// Classify maps a declared parameter type onto its fuzzable shape. Any
// unsupported leaf makes the whole type NoFuzzable.
func Classify(t types.Type, p types.Prelude) CallType {
	switch t.Kind {
	case types.KindPrim:
		return CallType{Kind: PrimitiveCall, Prim: t.Prim}
	case types.KindStr:
		return CallType{Kind: StrCall}
	case types.KindTuple:
		if len(t.Args) == 0 {
			return none()
		}
		elems := make([]CallType, len(t.Args))
		for i, a := range t.Args {
			elems[i] = Classify(a, p)
			if !elems[i].IsFuzzable() {
				return none()
			}
		}
		return CallType{Kind: TupleCall, Elems: elems}
	case types.KindSlice:
		return wrap(SliceCall, Classify(*t.Elem, p))
	case types.KindArray:
		c := wrap(ArrayCall, Classify(*t.Elem, p))
		c.Len = t.Len
		return c
	case types.KindRawPtr:
		kind := ConstRawPtrCall
		if t.Mut {
			kind = MutRawPtrCall
		}
		c := wrap(kind, Classify(*t.Elem, p))
		if c.IsFuzzable() {
			target := *t.Elem
			c.Target = &target
		}
		return c
	case types.KindRef:
		// A 'static str must be a literal; it cannot come from input bytes.
		if t.IsStaticStr() {
			return none()
		}
		if t.Mut {
			return wrap(MutBorrowedRefCall, Classify(*t.Elem, p))
		}
		return wrap(BorrowedRefCall, Classify(*t.Elem, p))
	case types.KindPath:
		if w, payload := p.Unwrap(t); w == types.OptionWrapper {
			return wrap(ToOptionCall, Classify(payload, p))
		}
		return none()
	case types.KindGeneric, types.KindFunc, types.KindOpaque:
		return none()
	default:
		panic(fmt.Sprintf("fuzzable: unhandled kind %v", t.Kind))
	}
}

// Generate derives the decodable Type and the conversion that adapts the
// decoded value to the declared parameter. A NoFuzzable input, or a shape
// that cannot be adapted, yields (NoFuzzable, NotCompatible).
func (c CallType) Generate() (Type, calltype.CallType) {
	switch c.Kind {
	case NoFuzzable:
		return noType(), calltype.Incompatible()
	case PrimitiveCall:
		return Prim(c.Prim), calltype.Direct()
	case StrCall:
		// Decoded strings are already &str.
		return Str(), calltype.Direct()
	case TupleCall:
		elems := make([]Type, len(c.Elems))
		for i, e := range c.Elems {
			ft, ct := e.Generate()
			if ft.Kind == Invalid || ct.Kind != calltype.DirectCall {
				return noType(), calltype.Incompatible()
			}
			elems[i] = ft
		}
		return Tuple(elems...), calltype.Direct()
	case SliceCall:
		ft, ct := c.Inner.Generate()
		if ft.Kind == Invalid || ct.Kind != calltype.DirectCall {
			return noType(), calltype.Incompatible()
		}
		// Decoded slices are already &[T].
		return Slice(ft), calltype.Direct()
	case ArrayCall:
		ft, ct := c.Inner.Generate()
		if ft.Kind == Invalid || ct.Kind != calltype.DirectCall {
			return noType(), calltype.Incompatible()
		}
		return Array(ft, c.Len), calltype.Direct()
	case BorrowedRefCall:
		ft, ct := c.Inner.Generate()
		if ft.Kind == Invalid {
			return noType(), calltype.Incompatible()
		}
		if c.Inner.Kind == StrCall || c.Inner.Kind == SliceCall {
			return ft, ct
		}
		return ft, calltype.Wrap(calltype.BorrowedRef, ct)
	case MutBorrowedRefCall:
		ft, ct := c.Inner.Generate()
		if ft.Kind == Invalid {
			return noType(), calltype.Incompatible()
		}
		return ft, calltype.Wrap(calltype.MutBorrowedRef, ct)
	case ConstRawPtrCall, MutRawPtrCall:
		ft, ct := c.Inner.Generate()
		if ft.Kind == Invalid {
			return noType(), calltype.Incompatible()
		}
		return ft, calltype.Pointer(c.Kind == MutRawPtrCall, ct, *c.Target)
	case ToOptionCall:
		ft, ct := c.Inner.Generate()
		if ft.Kind == Invalid {
			return noType(), calltype.Incompatible()
		}
		return ft, calltype.Wrap(calltype.ToOption, ct)
	default:
		panic(fmt.Sprintf("fuzzable: unhandled call kind %d", c.Kind))
	}
}

// Supported reports whether a parameter type classified as fuzzable can be
// generated and laid out unambiguously. Types that are not fuzzable at all
// return true since they are satisfied by dependencies instead.
func Supported(t types.Type, p types.Prelude) bool {
	c := Classify(t, p)
	if !c.IsFuzzable() {
		return true
	}
	ft, ct := c.Generate()
	if ft.Kind == Invalid || !ct.Compatible() {
		return false
	}
	if ft.Kind == SliceType && !ft.Elem.IsPlainData() {
		return false
	}
	return !ft.HasNestedDynamic()
}
