// Package resolve decides whether a produced type can feed a parameter type.
package resolve

import (
	"fmt"

	"github.com/phobologic/fuzzgraph/internal/calltype"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// Resolver computes conversion chains between types.
type Resolver struct {
	Prelude types.Prelude
}

// New returns a Resolver using p to recognize wrapper types.
func New(p types.Prelude) *Resolver {
	return &Resolver{Prelude: p}
}

// Resolve returns how a value of type out reaches a parameter of type in.
// Both types must be free of generic placeholders.
func (r *Resolver) Resolve(out, in types.Type) calltype.CallType {
	if out.ContainsGeneric() || in.ContainsGeneric() {
		panic(fmt.Sprintf("resolve: unsubstituted generic in %s -> %s", out, in))
	}
	return r.resolve(out, in)
}

func (r *Resolver) resolve(out, in types.Type) calltype.CallType {
	if out.Equal(in) {
		return calltype.Direct()
	}

	switch in.Kind {
	case types.KindRef:
		inner := r.resolve(out, *in.Elem)
		if in.Mut {
			return calltype.Wrap(calltype.MutBorrowedRef, inner)
		}
		return calltype.Wrap(calltype.BorrowedRef, inner)
	case types.KindRawPtr:
		return calltype.Pointer(in.Mut, r.resolve(out, *in.Elem), *in.Elem)
	}

	if w, payload := r.Prelude.Unwrap(in); w != types.NoWrapper {
		inner := r.resolve(out, payload)
		if w == types.OptionWrapper {
			return calltype.Wrap(calltype.ToOption, inner)
		}
		return calltype.Wrap(calltype.ToResult, inner)
	}

	return r.fromOutput(out, in)
}

func (r *Resolver) fromOutput(out, in types.Type) calltype.CallType {
	switch out.Kind {
	case types.KindPath:
		if w, payload := r.Prelude.Unwrap(out); w != types.NoWrapper {
			inner := r.resolve(payload, in)
			if w == types.OptionWrapper {
				return calltype.Wrap(calltype.UnwrapOption, inner)
			}
			return calltype.Wrap(calltype.UnwrapResult, inner)
		}
		// Distinct named types never coerce; equality was checked already.
		return calltype.Incompatible()
	case types.KindPrim:
		return convertPrim(out.Prim, in)
	case types.KindRawPtr:
		return calltype.Wrap(calltype.UnsafeDeref, r.resolve(*out.Elem, in))
	case types.KindRef:
		if !out.Elem.IsCopy() {
			return calltype.Incompatible()
		}
		return calltype.Wrap(calltype.Deref, r.resolve(*out.Elem, in))
	case types.KindStr, types.KindTuple, types.KindSlice, types.KindArray, types.KindFunc, types.KindOpaque:
		return calltype.Incompatible()
	case types.KindGeneric:
		panic(fmt.Sprintf("resolve: unsubstituted generic %s", out))
	default:
		panic(fmt.Sprintf("resolve: unhandled kind %v", out.Kind))
	}
}

// convertPrim applies the `as` cast table. Numeric types cast to every
// other numeric type; only u8 casts to char; char casts to every integer.
// bool never converts.
func convertPrim(from types.Prim, in types.Type) calltype.CallType {
	if in.Kind != types.KindPrim {
		return calltype.Incompatible()
	}
	to := in.Prim
	switch {
	case from == to:
		return calltype.Direct()
	case from == types.Bool || to == types.Bool:
		return calltype.Incompatible()
	case from.IsNumeric() && to.IsNumeric():
		return calltype.Convert(to.String())
	case from == types.U8 && to == types.Char:
		return calltype.Convert(to.String())
	case from == types.Char && to.IsNumeric() && !isFloat(to):
		return calltype.Convert(to.String())
	default:
		return calltype.Incompatible()
	}
}

func isFloat(p types.Prim) bool {
	return p == types.F32 || p == types.F64
}
