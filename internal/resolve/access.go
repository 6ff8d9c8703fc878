package resolve

import (
	"github.com/phobologic/fuzzgraph/internal/calltype"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// Access is the effect a dependency edge has on the value it consumes.
type Access int

const (
	// Copy reads a Copy value without changing its ownership state.
	Copy Access = iota
	Move
	MutBorrow
	SharedBorrow
)

func (a Access) String() string {
	switch a {
	case Move:
		return "move"
	case MutBorrow:
		return "mut-borrow"
	case SharedBorrow:
		return "borrow"
	default:
		return "copy"
	}
}

// CausesMove reports whether passing a value through ct into a parameter of
// type in consumes it.
func CausesMove(in types.Type, ct calltype.CallType) bool {
	if ct.ContainsUnwrap() {
		return true
	}
	if in.IsCopy() {
		return false
	}
	switch ct.Kind {
	case calltype.DirectCall, calltype.Deref, calltype.UnsafeDeref:
		return true
	default:
		return false
	}
}

// IsMutableBorrow reports whether ct mutably borrows its source when the
// parameter has type in.
func IsMutableBorrow(in types.Type, ct calltype.CallType) bool {
	if ct.ContainsUnwrap() {
		return false
	}
	switch in.Kind {
	case types.KindRef, types.KindRawPtr:
		if !in.Mut {
			return false
		}
	default:
		return false
	}
	switch ct.Kind {
	case calltype.DirectCall, calltype.MutBorrowedRef, calltype.MutRawPointer:
		return true
	default:
		return false
	}
}

// IsImmutableBorrow reports whether ct shares a borrow of its source when
// the parameter has type in.
func IsImmutableBorrow(in types.Type, ct calltype.CallType) bool {
	switch in.Kind {
	case types.KindRef, types.KindRawPtr:
		if in.Mut {
			return false
		}
	default:
		return false
	}
	switch ct.Kind {
	case calltype.DirectCall, calltype.BorrowedRef, calltype.ConstRawPointer:
		return true
	default:
		return false
	}
}

// Classify maps an edge onto the access it performs. Move is checked
// before mutable borrow, which is checked before shared borrow.
func Classify(in types.Type, ct calltype.CallType) Access {
	switch {
	case CausesMove(in, ct):
		return Move
	case IsMutableBorrow(in, ct):
		return MutBorrow
	case IsImmutableBorrow(in, ct):
		return SharedBorrow
	default:
		return Copy
	}
}
