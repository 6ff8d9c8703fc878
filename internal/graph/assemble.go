package graph

import (
	"github.com/phobologic/fuzzgraph/internal/fuzzable"
	"github.com/phobologic/fuzzgraph/internal/resolve"
	"github.com/phobologic/fuzzgraph/internal/sequence"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// TryAppend extends a copy of seq with a call to fn. Fuzzable parameters
// get fresh input slots. Every other parameter takes the first earlier call
// whose return value reaches it and whose ownership state admits the
// access; a blocked producer does not end the search. The input sequence
// is never modified.
func (g *Graph) TryAppend(fn int, seq *sequence.Sequence) (*sequence.Sequence, bool) {
	f := &g.Functions[fn]
	s := seq.Clone()
	if f.Unsafe {
		s.SetUnsafe()
	}
	if f.Trait != "" {
		s.AddTrait(f.Trait)
	}

	cur := s.Len()
	call := sequence.Call{Func: fn, Params: make([]sequence.Param, 0, len(f.Params))}
	for k, in := range f.Params {
		if fc := g.fuzz[fn][k]; fc.IsFuzzable() {
			ft, ct := fc.Generate()
			if ft.Kind == fuzzable.Invalid || !ct.Compatible() {
				return nil, false
			}
			slot := s.AddFuzzable(ft)
			if ct.NeedsMut() {
				s.MarkFuzzableMut(slot)
			}
			call.Params = append(call.Params, sequence.Param{Source: sequence.FromFuzzer, Index: slot, Call: ct})
			continue
		}

		p, ok := g.satisfy(s, fn, k, in, cur)
		if !ok {
			return nil, false
		}
		call.Params = append(call.Params, p)
	}

	s.AddCall(call)
	if s.HasAmbiguousFuzzable() {
		return nil, false
	}
	return s, true
}

// satisfy finds the producer for parameter k of fn among the first cur
// calls of s and applies the resulting access to s.
func (g *Graph) satisfy(s *sequence.Sequence, fn, k int, in types.Type, cur int) (sequence.Param, bool) {
	for i := 0; i < cur; i++ {
		if s.IsMoved(i) {
			continue
		}
		prior := s.Calls[i].Func
		dep, ok := g.Edge(prior, fn, k)
		if !ok {
			continue
		}
		ct := g.Edges[dep].Call
		access := resolve.Classify(in, ct)
		if !s.CanAccess(i, access) {
			continue
		}
		s.Access(i, access)
		if access == resolve.SharedBorrow && g.returnsImmutableRef(fn) && !g.returnsImmutableRef(prior) {
			s.AddCarefulPair(i, cur)
		}
		if ct.NeedsMut() {
			s.MarkCallMut(i)
		}
		if ct.IsUnsafe() {
			s.SetUnsafe()
		}
		s.Cover(dep)
		return sequence.Param{Source: sequence.FromCall, Index: i, Call: ct}, true
	}
	return sequence.Param{}, false
}
