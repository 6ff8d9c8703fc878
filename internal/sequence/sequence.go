// Package sequence models an ordered list of API calls together with the
// ownership bookkeeping needed to keep it acceptable to the borrow checker.
package sequence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/phobologic/fuzzgraph/internal/calltype"
	"github.com/phobologic/fuzzgraph/internal/fuzzable"
)

// Source says where a parameter's value comes from.
type Source int

const (
	// FromFuzzer reads the value from a fuzzable slot.
	FromFuzzer Source = iota
	// FromCall uses the return value of an earlier call.
	FromCall
)

// Param is one argument of a Call. Index is a fuzzable slot for FromFuzzer
// and a call position for FromCall.
type Param struct {
	Source Source
	Index  int
	Call   calltype.CallType
}

// Call invokes function Func with Params in declaration order.
type Call struct {
	Func   int
	Params []Param
}

// Sequence is a chain of calls with the fuzzable slots it reads. The zero
// value is an empty sequence ready for use.
type Sequence struct {
	Calls     []Call
	Fuzzables []fuzzable.Type

	states       []Binding
	careful      map[int][]int
	mutCalls     map[int]struct{}
	mutFuzzables map[int]struct{}
	unsafe       bool
	traits       []string
	covered      map[int]struct{}
}

// Len is the number of calls.
func (s *Sequence) Len() int {
	return len(s.Calls)
}

// Clone returns a deep copy that can be extended independently.
func (s *Sequence) Clone() *Sequence {
	c := &Sequence{
		Calls:     make([]Call, len(s.Calls)),
		Fuzzables: append([]fuzzable.Type(nil), s.Fuzzables...),
		states:    append([]Binding(nil), s.states...),
		unsafe:    s.unsafe,
		traits:    append([]string(nil), s.traits...),
	}
	for i, call := range s.Calls {
		c.Calls[i] = Call{Func: call.Func, Params: append([]Param(nil), call.Params...)}
	}
	for k, v := range s.careful {
		c.carefulMap()[k] = append([]int(nil), v...)
	}
	for k := range s.mutCalls {
		c.MarkCallMut(k)
	}
	for k := range s.mutFuzzables {
		c.MarkFuzzableMut(k)
	}
	for k := range s.covered {
		c.Cover(k)
	}
	return c
}

// AddFuzzable allocates a new fuzzable slot and returns its index.
func (s *Sequence) AddFuzzable(t fuzzable.Type) int {
	s.Fuzzables = append(s.Fuzzables, t)
	return len(s.Fuzzables) - 1
}

// AddCall appends call. Every FromCall parameter must refer to an earlier
// position and every FromFuzzer parameter to an allocated slot.
func (s *Sequence) AddCall(call Call) {
	for _, p := range call.Params {
		switch p.Source {
		case FromCall:
			if p.Index < 0 || p.Index >= len(s.Calls) {
				panic(fmt.Sprintf("sequence: call %d out of range [0,%d)", p.Index, len(s.Calls)))
			}
		case FromFuzzer:
			if p.Index < 0 || p.Index >= len(s.Fuzzables) {
				panic(fmt.Sprintf("sequence: fuzzable slot %d out of range [0,%d)", p.Index, len(s.Fuzzables)))
			}
		}
	}
	s.Calls = append(s.Calls, call)
	s.states = append(s.states, Binding{})
}

// Functions lists the distinct function indices called, in first-call
// order.
func (s *Sequence) Functions() []int {
	seen := make(map[int]struct{}, len(s.Calls))
	var out []int
	for _, c := range s.Calls {
		if _, ok := seen[c.Func]; ok {
			continue
		}
		seen[c.Func] = struct{}{}
		out = append(out, c.Func)
	}
	return out
}

// Last returns the function index of the final call.
func (s *Sequence) Last() (int, bool) {
	if len(s.Calls) == 0 {
		return 0, false
	}
	return s.Calls[len(s.Calls)-1].Func, true
}

// Contains reports whether fn is called anywhere in the sequence.
func (s *Sequence) Contains(fn int) bool {
	for _, c := range s.Calls {
		if c.Func == fn {
			return true
		}
	}
	return false
}

// IsUsed reports whether the return value of call i feeds a later call.
func (s *Sequence) IsUsed(i int) bool {
	for _, c := range s.Calls[i+1:] {
		for _, p := range c.Params {
			if p.Source == FromCall && p.Index == i {
				return true
			}
		}
	}
	return false
}

// SetUnsafe marks the sequence as needing an unsafe block.
func (s *Sequence) SetUnsafe() { s.unsafe = true }

// Unsafe reports whether any call or conversion is unsafe.
func (s *Sequence) Unsafe() bool { return s.unsafe }

// AddTrait records a trait path that must be in scope.
func (s *Sequence) AddTrait(path string) {
	i := sort.SearchStrings(s.traits, path)
	if i < len(s.traits) && s.traits[i] == path {
		return
	}
	s.traits = append(s.traits, "")
	copy(s.traits[i+1:], s.traits[i:])
	s.traits[i] = path
}

// Traits returns the recorded trait paths in sorted order.
func (s *Sequence) Traits() []string { return s.traits }

// MarkCallMut records that the binding of call i must be declared mut.
func (s *Sequence) MarkCallMut(i int) {
	if s.mutCalls == nil {
		s.mutCalls = make(map[int]struct{})
	}
	s.mutCalls[i] = struct{}{}
}

// CallNeedsMut reports whether the binding of call i is declared mut.
func (s *Sequence) CallNeedsMut(i int) bool {
	_, ok := s.mutCalls[i]
	return ok
}

// MarkFuzzableMut records that fuzzable slot i must be declared mut.
func (s *Sequence) MarkFuzzableMut(i int) {
	if s.mutFuzzables == nil {
		s.mutFuzzables = make(map[int]struct{})
	}
	s.mutFuzzables[i] = struct{}{}
}

// FuzzableNeedsMut reports whether fuzzable slot i is declared mut.
func (s *Sequence) FuzzableNeedsMut(i int) bool {
	_, ok := s.mutFuzzables[i]
	return ok
}

// Cover records dependency edge dep as exercised by the sequence.
func (s *Sequence) Cover(dep int) {
	if s.covered == nil {
		s.covered = make(map[int]struct{})
	}
	s.covered[dep] = struct{}{}
}

// Covered returns the exercised dependency edge indices, sorted.
func (s *Sequence) Covered() []int {
	out := make([]int, 0, len(s.covered))
	for k := range s.covered {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Covers reports whether dependency edge dep is exercised.
func (s *Sequence) Covers(dep int) bool {
	_, ok := s.covered[dep]
	return ok
}

// HasNoFuzzables reports whether the sequence reads no input bytes.
func (s *Sequence) HasNoFuzzables() bool {
	return len(s.Fuzzables) == 0
}

// IsFixedLength reports whether every fuzzable slot has a static size.
func (s *Sequence) IsFixedLength() bool {
	for _, f := range s.Fuzzables {
		if !f.IsFixedSize() {
			return false
		}
	}
	return true
}

// HasAmbiguousFuzzable reports whether some slot nests a variable-length
// part inside another container, which the flat buffer split cannot
// decode.
func (s *Sequence) HasAmbiguousFuzzable() bool {
	for _, f := range s.Fuzzables {
		if f.HasNestedDynamic() {
			return true
		}
	}
	return false
}

// Layout plans the byte layout of the fuzzable slots.
func (s *Sequence) Layout() (fuzzable.Layout, error) {
	return fuzzable.Plan(s.Fuzzables)
}

// Merge appends the calls of other after those of s, renumbering call and
// slot references. Ownership state, careful pairs, mut marks, unsafe,
// traits and coverage are carried over.
func (s *Sequence) Merge(other *Sequence) *Sequence {
	out := s.Clone()
	callOff := len(s.Calls)
	slotOff := len(s.Fuzzables)
	out.Fuzzables = append(out.Fuzzables, other.Fuzzables...)
	for _, c := range other.Calls {
		nc := Call{Func: c.Func, Params: make([]Param, len(c.Params))}
		for i, p := range c.Params {
			if p.Source == FromCall {
				p.Index += callOff
			} else {
				p.Index += slotOff
			}
			nc.Params[i] = p
		}
		out.Calls = append(out.Calls, nc)
	}
	out.states = append(out.states, other.states...)
	for k, v := range other.careful {
		for _, d := range v {
			out.carefulMap()[k+callOff] = append(out.carefulMap()[k+callOff], d+callOff)
		}
	}
	for k := range other.mutCalls {
		out.MarkCallMut(k + callOff)
	}
	for k := range other.mutFuzzables {
		out.MarkFuzzableMut(k + slotOff)
	}
	if other.unsafe {
		out.unsafe = true
	}
	for _, t := range other.traits {
		out.AddTrait(t)
	}
	for k := range other.covered {
		out.Cover(k)
	}
	return out
}

// MergeAll merges seqs left to right. It returns an empty sequence for no
// input.
func MergeAll(seqs []*Sequence) *Sequence {
	out := &Sequence{}
	for _, s := range seqs {
		out = out.Merge(s)
	}
	return out
}

// String renders the sequence as a list of function indices, for logs.
func (s *Sequence) String() string {
	parts := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		parts[i] = fmt.Sprint(c.Func)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
