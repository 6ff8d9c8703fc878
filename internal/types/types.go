// Package types models Rust type descriptors as a closed set of kinds.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the variant tag of a Type. The set is closed: every switch over
// Kind ends in a panicking default so a new variant cannot slip past a
// consumer unnoticed.
type Kind int

const (
	KindPrim Kind = iota + 1
	KindStr
	KindGeneric
	KindTuple
	KindSlice
	KindArray
	KindRawPtr
	KindRef
	KindPath
	KindFunc
	KindOpaque
)

var kindNames = map[Kind]string{
	KindPrim:    "prim",
	KindStr:     "str",
	KindGeneric: "generic",
	KindTuple:   "tuple",
	KindSlice:   "slice",
	KindArray:   "array",
	KindRawPtr:  "rawptr",
	KindRef:     "ref",
	KindPath:    "path",
	KindFunc:    "func",
	KindOpaque:  "opaque",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Prim enumerates the scalar primitives.
type Prim int

const (
	U8 Prim = iota + 1
	U16
	U32
	U64
	U128
	Usize
	I8
	I16
	I32
	I64
	I128
	Isize
	F32
	F64
	Char
	Bool
)

var primNames = []string{"", "u8", "u16", "u32", "u64", "u128", "usize", "i8", "i16", "i32", "i64", "i128", "isize", "f32", "f64", "char", "bool"}

func (p Prim) String() string {
	if p > 0 && int(p) < len(primNames) {
		return primNames[p]
	}
	return "Prim(" + strconv.Itoa(int(p)) + ")"
}

// IsNumeric reports whether p is an integer or float primitive.
func (p Prim) IsNumeric() bool {
	return p >= U8 && p <= F64
}

// AllPrims lists every primitive in declaration order.
func AllPrims() []Prim {
	out := make([]Prim, 0, len(primNames)-1)
	for p := U8; p <= Bool; p++ {
		out = append(out, p)
	}
	return out
}

// PrimByName returns the primitive spelled name.
func PrimByName(name string) (Prim, bool) {
	for i := 1; i < len(primNames); i++ {
		if primNames[i] == name {
			return Prim(i), true
		}
	}
	return 0, false
}

// Type is a Rust type descriptor. Which fields are meaningful depends on
// Kind:
//
//	KindPrim    Prim
//	KindStr     (none)
//	KindGeneric Name
//	KindTuple   Args (elements; empty is the unit type)
//	KindSlice   Elem
//	KindArray   Elem, Len
//	KindRawPtr  Elem, Mut
//	KindRef     Elem, Mut, Lifetimes (at most one)
//	KindPath    Name, Args, Lifetimes
//	KindFunc    Args (parameters), Elem (result, may be nil)
//	KindOpaque  Name (source text)
type Type struct {
	Kind      Kind     `cbor:"k"`
	Prim      Prim     `cbor:"p,omitempty"`
	Name      string   `cbor:"n,omitempty"`
	Args      []Type   `cbor:"a,omitempty"`
	Elem      *Type    `cbor:"e,omitempty"`
	Mut       bool     `cbor:"m,omitempty"`
	Len       int      `cbor:"l,omitempty"`
	Lifetimes []string `cbor:"lt,omitempty"`
}

func Primitive(p Prim) Type { return Type{Kind: KindPrim, Prim: p} }

func Str() Type { return Type{Kind: KindStr} }

func Generic(name string) Type { return Type{Kind: KindGeneric, Name: name} }

func Tuple(elems ...Type) Type { return Type{Kind: KindTuple, Args: elems} }

func Unit() Type { return Type{Kind: KindTuple} }

func Slice(elem Type) Type { return Type{Kind: KindSlice, Elem: &elem} }

func Array(elem Type, n int) Type { return Type{Kind: KindArray, Elem: &elem, Len: n} }

func RawPtr(mut bool, elem Type) Type { return Type{Kind: KindRawPtr, Elem: &elem, Mut: mut} }

func Ref(mut bool, elem Type) Type { return Type{Kind: KindRef, Elem: &elem, Mut: mut} }

// StaticRef builds a `&'static T` reference.
func StaticRef(elem Type) Type {
	t := Ref(false, elem)
	t.Lifetimes = []string{"static"}
	return t
}

func Path(name string, args ...Type) Type { return Type{Kind: KindPath, Name: name, Args: args} }

// Func builds a function-pointer type; result may be nil.
func Func(params []Type, result *Type) Type {
	return Type{Kind: KindFunc, Args: params, Elem: result}
}

func Opaque(text string) Type { return Type{Kind: KindOpaque, Name: text} }

// IsUnit reports whether t is the empty tuple.
func (t Type) IsUnit() bool {
	return t.Kind == KindTuple && len(t.Args) == 0
}

// IsImmutableRef reports whether t is a shared reference.
func (t Type) IsImmutableRef() bool {
	return t.Kind == KindRef && !t.Mut
}

// IsStaticStr reports whether t is `&'static str`.
func (t Type) IsStaticStr() bool {
	return t.Kind == KindRef && t.Elem.Kind == KindStr &&
		len(t.Lifetimes) > 0 && t.Lifetimes[0] == "static"
}

// Equal compares two types structurally. Lifetime annotations are ignored.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindPrim:
		return t.Prim == o.Prim
	case KindStr:
		return true
	case KindGeneric, KindOpaque:
		return t.Name == o.Name
	case KindTuple:
		return equalAll(t.Args, o.Args)
	case KindSlice:
		return t.Elem.Equal(*o.Elem)
	case KindArray:
		return t.Len == o.Len && t.Elem.Equal(*o.Elem)
	case KindRawPtr, KindRef:
		return t.Mut == o.Mut && t.Elem.Equal(*o.Elem)
	case KindPath:
		return t.Name == o.Name && equalAll(t.Args, o.Args)
	case KindFunc:
		if (t.Elem == nil) != (o.Elem == nil) {
			return false
		}
		if t.Elem != nil && !t.Elem.Equal(*o.Elem) {
			return false
		}
		return equalAll(t.Args, o.Args)
	default:
		panic(fmt.Sprintf("types: unhandled kind %v", t.Kind))
	}
}

func equalAll(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// IsCopy reports whether values of t are Copy. Named types are treated as
// non-Copy since their trait impls are unknown.
func (t Type) IsCopy() bool {
	switch t.Kind {
	case KindPrim, KindRawPtr:
		return true
	case KindRef:
		return !t.Mut
	case KindTuple:
		for _, e := range t.Args {
			if !e.IsCopy() {
				return false
			}
		}
		return true
	case KindArray:
		return t.Elem.IsCopy()
	case KindStr, KindGeneric, KindSlice, KindPath, KindFunc, KindOpaque:
		return false
	default:
		panic(fmt.Sprintf("types: unhandled kind %v", t.Kind))
	}
}

// ContainsGeneric reports whether a generic placeholder appears anywhere in t.
func (t Type) ContainsGeneric() bool {
	switch t.Kind {
	case KindGeneric:
		return true
	case KindPrim, KindStr, KindOpaque:
		return false
	case KindSlice, KindArray, KindRawPtr, KindRef:
		return t.Elem.ContainsGeneric()
	case KindTuple, KindPath, KindFunc:
		for _, a := range t.Args {
			if a.ContainsGeneric() {
				return true
			}
		}
		return t.Elem != nil && t.Elem.ContainsGeneric()
	default:
		panic(fmt.Sprintf("types: unhandled kind %v", t.Kind))
	}
}

// ContainsOpaque reports whether an opaque type appears anywhere in t.
func (t Type) ContainsOpaque() bool {
	switch t.Kind {
	case KindOpaque:
		return true
	case KindPrim, KindStr, KindGeneric:
		return false
	case KindSlice, KindArray, KindRawPtr, KindRef:
		return t.Elem.ContainsOpaque()
	case KindTuple, KindPath, KindFunc:
		for _, a := range t.Args {
			if a.ContainsOpaque() {
				return true
			}
		}
		return t.Elem != nil && t.Elem.ContainsOpaque()
	default:
		panic(fmt.Sprintf("types: unhandled kind %v", t.Kind))
	}
}

// ContainsFunc reports whether a function type appears anywhere in t.
func (t Type) ContainsFunc() bool {
	switch t.Kind {
	case KindFunc:
		return true
	case KindPrim, KindStr, KindGeneric, KindOpaque:
		return false
	case KindSlice, KindArray, KindRawPtr, KindRef:
		return t.Elem.ContainsFunc()
	case KindTuple, KindPath:
		for _, a := range t.Args {
			if a.ContainsFunc() {
				return true
			}
		}
		return false
	default:
		panic(fmt.Sprintf("types: unhandled kind %v", t.Kind))
	}
}

// Substitute replaces generic placeholders using subst. The boolean result
// is false when a placeholder has no entry.
func (t Type) Substitute(subst map[string]Type) (Type, bool) {
	switch t.Kind {
	case KindGeneric:
		r, ok := subst[t.Name]
		if !ok {
			return t, false
		}
		return r, true
	case KindPrim, KindStr, KindOpaque:
		return t, true
	case KindSlice, KindArray, KindRawPtr, KindRef:
		elem, ok := t.Elem.Substitute(subst)
		out := t
		out.Elem = &elem
		return out, ok
	case KindTuple, KindPath, KindFunc:
		out := t
		ok := true
		if len(t.Args) > 0 {
			out.Args = make([]Type, len(t.Args))
			for i, a := range t.Args {
				var argOK bool
				out.Args[i], argOK = a.Substitute(subst)
				ok = ok && argOK
			}
		}
		if t.Elem != nil {
			elem, elemOK := t.Elem.Substitute(subst)
			out.Elem = &elem
			ok = ok && elemOK
		}
		return out, ok
	default:
		panic(fmt.Sprintf("types: unhandled kind %v", t.Kind))
	}
}

// String renders t in Rust syntax.
func (t Type) String() string {
	switch t.Kind {
	case KindPrim:
		return t.Prim.String()
	case KindStr:
		return "str"
	case KindGeneric, KindOpaque:
		return t.Name
	case KindTuple:
		if len(t.Args) == 1 {
			return "(" + t.Args[0].String() + ",)"
		}
		return "(" + joinTypes(t.Args) + ")"
	case KindSlice:
		return "[" + t.Elem.String() + "]"
	case KindArray:
		return fmt.Sprintf("[%s; %d]", t.Elem, t.Len)
	case KindRawPtr:
		if t.Mut {
			return "*mut " + t.Elem.String()
		}
		return "*const " + t.Elem.String()
	case KindRef:
		var b strings.Builder
		b.WriteString("&")
		if len(t.Lifetimes) > 0 {
			b.WriteString("'" + t.Lifetimes[0] + " ")
		}
		if t.Mut {
			b.WriteString("mut ")
		}
		b.WriteString(t.Elem.String())
		return b.String()
	case KindPath:
		if len(t.Args) == 0 && len(t.Lifetimes) == 0 {
			return t.Name
		}
		params := make([]string, 0, len(t.Lifetimes)+len(t.Args))
		for _, lt := range t.Lifetimes {
			params = append(params, "'"+lt)
		}
		for _, a := range t.Args {
			params = append(params, a.String())
		}
		return t.Name + "<" + strings.Join(params, ", ") + ">"
	case KindFunc:
		s := "fn(" + joinTypes(t.Args) + ")"
		if t.Elem != nil {
			s += " -> " + t.Elem.String()
		}
		return s
	default:
		panic(fmt.Sprintf("types: unhandled kind %v", t.Kind))
	}
}

func joinTypes(ts []Type) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}
