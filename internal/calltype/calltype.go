// Package calltype describes how a produced value is adapted to a parameter.
package calltype

import (
	"fmt"

	"github.com/phobologic/fuzzgraph/internal/types"
)

// Kind is the conversion step at one level of a CallType chain.
type Kind int

const (
	NotCompatible Kind = iota
	DirectCall
	BorrowedRef
	MutBorrowedRef
	ConstRawPointer
	MutRawPointer
	AsConvert
	UnsafeDeref
	Deref
	UnwrapOption
	ToOption
	UnwrapResult
	ToResult
)

var kindNames = [...]string{
	NotCompatible:   "NotCompatible",
	DirectCall:      "DirectCall",
	BorrowedRef:     "BorrowedRef",
	MutBorrowedRef:  "MutBorrowedRef",
	ConstRawPointer: "ConstRawPointer",
	MutRawPointer:   "MutRawPointer",
	AsConvert:       "AsConvert",
	UnsafeDeref:     "UnsafeDeref",
	Deref:           "Deref",
	UnwrapOption:    "UnwrapOption",
	ToOption:        "ToOption",
	UnwrapResult:    "UnwrapResult",
	ToResult:        "ToResult",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsLeaf reports whether k terminates a chain.
func (k Kind) IsLeaf() bool {
	return k == NotCompatible || k == DirectCall || k == AsConvert
}

// IsUnwrap reports whether k unwraps an option or result.
func (k Kind) IsUnwrap() bool {
	return k == UnwrapOption || k == UnwrapResult
}

// producerSide reports whether k acts on the produced value before the
// inner chain runs. Consumer-side kinds act after it.
func (k Kind) producerSide() bool {
	switch k {
	case UnsafeDeref, Deref, UnwrapOption, UnwrapResult:
		return true
	default:
		return false
	}
}

// CallType is one node of a conversion chain. Wrapping kinds carry Inner;
// raw pointer kinds also carry Target (the pointee type named in the cast);
// AsConvert carries As, the target primitive name.
type CallType struct {
	Kind   Kind        `cbor:"k"`
	Inner  *CallType   `cbor:"i,omitempty"`
	Target *types.Type `cbor:"t,omitempty"`
	As     string      `cbor:"as,omitempty"`
}

// Direct is the identity conversion.
func Direct() CallType { return CallType{Kind: DirectCall} }

// Incompatible is the terminal failure verdict.
func Incompatible() CallType { return CallType{Kind: NotCompatible} }

// Convert is an `as` cast to the named primitive.
func Convert(prim string) CallType { return CallType{Kind: AsConvert, As: prim} }

// Wrap nests inner below a non-pointer wrapping kind. An incompatible inner
// chain stays incompatible.
func Wrap(kind Kind, inner CallType) CallType {
	if inner.Kind == NotCompatible {
		return inner
	}
	if kind.IsLeaf() || kind == ConstRawPointer || kind == MutRawPointer {
		panic(fmt.Sprintf("calltype: Wrap called with %v", kind))
	}
	return CallType{Kind: kind, Inner: &inner}
}

// Pointer nests inner below a raw pointer cast to target.
func Pointer(mut bool, inner CallType, target types.Type) CallType {
	if inner.Kind == NotCompatible {
		return inner
	}
	kind := ConstRawPointer
	if mut {
		kind = MutRawPointer
	}
	return CallType{Kind: kind, Inner: &inner, Target: &target}
}

// Compatible reports whether c is anything other than NotCompatible.
func (c CallType) Compatible() bool {
	return c.Kind != NotCompatible
}

// ContainsUnwrap reports whether an unwrap step occurs anywhere in the chain.
func (c CallType) ContainsUnwrap() bool {
	for cur := &c; cur != nil; cur = cur.Inner {
		if cur.Kind.IsUnwrap() {
			return true
		}
	}
	return false
}

// IsUnsafe reports whether the chain dereferences a raw pointer.
func (c CallType) IsUnsafe() bool {
	for cur := &c; cur != nil; cur = cur.Inner {
		if cur.Kind == UnsafeDeref {
			return true
		}
	}
	return false
}

// NeedsMut reports whether the source binding must be declared `mut`.
func (c CallType) NeedsMut() bool {
	return c.Kind == MutBorrowedRef || c.Kind == MutRawPointer
}

// Equal compares two chains structurally.
func (c CallType) Equal(o CallType) bool {
	if c.Kind != o.Kind || c.As != o.As {
		return false
	}
	if (c.Target == nil) != (o.Target == nil) {
		return false
	}
	if c.Target != nil && !c.Target.Equal(*o.Target) {
		return false
	}
	if (c.Inner == nil) != (o.Inner == nil) {
		return false
	}
	return c.Inner == nil || c.Inner.Equal(*o.Inner)
}

// Flatten lists the chain outermost first. Each element keeps its own Kind,
// Target and As but not its Inner.
func (c CallType) Flatten() []CallType {
	var out []CallType
	for cur := &c; cur != nil; cur = cur.Inner {
		step := *cur
		step.Inner = nil
		out = append(out, step)
	}
	return out
}

// FromSteps rebuilds a chain from Flatten output. The last step must be a
// leaf.
func FromSteps(steps []CallType) CallType {
	if len(steps) == 0 {
		panic("calltype: FromSteps on empty chain")
	}
	last := steps[len(steps)-1]
	if !last.Kind.IsLeaf() {
		panic(fmt.Sprintf("calltype: chain ends in %v", last.Kind))
	}
	out := last
	for i := len(steps) - 2; i >= 0; i-- {
		step := steps[i]
		if step.Kind.IsLeaf() {
			panic(fmt.Sprintf("calltype: leaf %v inside chain", step.Kind))
		}
		inner := out
		step.Inner = &inner
		out = step
	}
	return out
}

// SplitAtUnwrap breaks c into consecutive steps where every step except the
// last ends with an unwrap. Each step is applied to the binding produced by
// the previous one, so unwrapped values get their own `let` before any
// borrow is taken of them.
func (c CallType) SplitAtUnwrap() []CallType {
	if !c.ContainsUnwrap() {
		return []CallType{c}
	}
	steps := c.Flatten()
	leaf := steps[len(steps)-1]
	var consumer, pending []CallType
	var out []CallType
	for _, s := range steps[:len(steps)-1] {
		if !s.Kind.producerSide() {
			consumer = append(consumer, s)
			continue
		}
		pending = append(pending, s)
		if s.Kind.IsUnwrap() {
			out = append(out, FromSteps(append(pending, Direct())))
			pending = nil
		}
	}
	final := append(append(consumer, pending...), leaf)
	return append(out, FromSteps(final))
}

// Render prints the Rust expression that adapts the variable v.
// Producer-side steps act on v before the inner chain; consumer-side steps
// wrap the inner chain's result.
func (c CallType) Render(v string) string {
	switch c.Kind {
	case NotCompatible:
		return ""
	case DirectCall:
		return v
	case AsConvert:
		return v + " as " + c.As
	case BorrowedRef:
		return "&(" + c.Inner.Render(v) + ")"
	case MutBorrowedRef:
		return "&mut (" + c.Inner.Render(v) + ")"
	case ConstRawPointer:
		return "&(" + c.Inner.Render(v) + ") as *const " + c.Target.String()
	case MutRawPointer:
		return "&mut (" + c.Inner.Render(v) + ") as *mut " + c.Target.String()
	case ToOption:
		return "Some(" + c.Inner.Render(v) + ")"
	case ToResult:
		return "Ok(" + c.Inner.Render(v) + ")"
	case UnsafeDeref, Deref:
		return c.Inner.Render("*(" + v + ")")
	case UnwrapOption:
		return c.Inner.Render("_unwrap_option(" + v + ")")
	case UnwrapResult:
		return c.Inner.Render("_unwrap_result(" + v + ")")
	default:
		panic(fmt.Sprintf("calltype: unhandled kind %v", c.Kind))
	}
}

// String prints the chain in constructor notation, e.g.
// MutBorrowedRef(UnwrapOption(DirectCall)).
func (c CallType) String() string {
	switch {
	case c.Kind == AsConvert:
		return "AsConvert(" + c.As + ")"
	case c.Inner == nil:
		return c.Kind.String()
	case c.Target != nil:
		return c.Kind.String() + "(" + c.Inner.String() + ", " + c.Target.String() + ")"
	default:
		return c.Kind.String() + "(" + c.Inner.String() + ")"
	}
}
