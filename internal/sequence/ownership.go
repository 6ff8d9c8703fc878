package sequence

import (
	"fmt"

	"github.com/phobologic/fuzzgraph/internal/resolve"
)

// State is the ownership state of one call's return value.
type State int

const (
	Unused State = iota
	Borrowed
	MutBorrowed
	Moved
)

func (st State) String() string {
	switch st {
	case Unused:
		return "unused"
	case Borrowed:
		return "borrowed"
	case MutBorrowed:
		return "mut-borrowed"
	case Moved:
		return "moved"
	default:
		return fmt.Sprintf("State(%d)", int(st))
	}
}

// Binding is the ownership state of a call's return value. Shared counts
// live shared borrows while State is Borrowed.
type Binding struct {
	State  State
	Shared int
}

// Transition table, indexed by current state and incoming access:
//
//	            copy    move    mut-borrow   borrow
//	unused      ok      moved   mut          borrowed(1)
//	borrowed    ok      -       -            borrowed(n+1)
//	mut         -       -       -            -
//	moved       -       -       -            -
func (b Binding) next(a resolve.Access) (Binding, bool) {
	switch b.State {
	case Moved:
		return b, false
	case MutBorrowed:
		return b, false
	case Unused:
		switch a {
		case resolve.Copy:
			return b, true
		case resolve.Move:
			return Binding{State: Moved}, true
		case resolve.MutBorrow:
			return Binding{State: MutBorrowed}, true
		case resolve.SharedBorrow:
			return Binding{State: Borrowed, Shared: 1}, true
		}
	case Borrowed:
		switch a {
		case resolve.Copy:
			return b, true
		case resolve.SharedBorrow:
			return Binding{State: Borrowed, Shared: b.Shared + 1}, true
		default:
			return b, false
		}
	}
	panic(fmt.Sprintf("sequence: unhandled transition %v on %v", a, b.State))
}

func (s *Sequence) binding(i int) Binding {
	if i < 0 || i >= len(s.states) {
		panic(fmt.Sprintf("sequence: call %d out of range [0,%d)", i, len(s.states)))
	}
	return s.states[i]
}

// State returns the ownership state of call i's return value.
func (s *Sequence) State(i int) Binding {
	return s.binding(i)
}

// IsMoved reports whether call i's return value has been consumed.
func (s *Sequence) IsMoved(i int) bool {
	return s.binding(i).State == Moved
}

// CanAccess reports whether call i's return value may be accessed as a.
func (s *Sequence) CanAccess(i int, a resolve.Access) bool {
	_, ok := s.binding(i).next(a)
	return ok
}

// Access applies a to call i. It panics on a transition CanAccess would
// refuse.
func (s *Sequence) Access(i int, a resolve.Access) {
	nb, ok := s.binding(i).next(a)
	if !ok {
		panic(fmt.Sprintf("sequence: %v of call %d in state %v", a, i, s.states[i].State))
	}
	s.states[i] = nb
}

// AddCarefulPair records that call derived may hold a reference into the
// value of call source. Source is Borrowed from then on and Borrowed never
// admits a move or mutable borrow, so the pair needs no invalidation; it is
// kept for reporting.
func (s *Sequence) AddCarefulPair(source, derived int) {
	for _, d := range s.careful[source] {
		if d == derived {
			return
		}
	}
	s.carefulMap()[source] = append(s.careful[source], derived)
}

// CarefulPairs returns the calls recorded as derived from source.
func (s *Sequence) CarefulPairs(source int) []int {
	return s.careful[source]
}

func (s *Sequence) carefulMap() map[int][]int {
	if s.careful == nil {
		s.careful = make(map[int][]int)
	}
	return s.careful
}
