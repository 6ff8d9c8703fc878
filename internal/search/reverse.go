package search

import (
	"github.com/google/btree"

	"github.com/phobologic/fuzzgraph/internal/sequence"
)

// CandidatesForMerge lists the indices of generated sequences that may
// feed an uncovered function: non-empty, not ended, and without dead code
// before their last call.
func (s *Searcher) CandidatesForMerge() []int {
	var out []int
	for i, seq := range s.g.Sequences {
		if seq.Len() == 0 || s.g.IsEnded(seq) {
			continue
		}
		if seq.Len() > 1 && s.dead != nil && s.dead.DeadExceptLast(seq) {
			continue
		}
		out = append(out, i)
	}
	return out
}

// CoverUnvisited tries to reach every function no sequence calls yet. For
// each one it picks, per produced parameter, a candidate sequence whose
// last call feeds that parameter, merges the picks and appends the
// function. When that fails it builds the function's inputs backwards
// with ReverseConstruct. Passes repeat until one covers nothing new.
func (s *Searcher) CoverUnvisited() {
	uncovered := btree.NewG[int](2, func(a, b int) bool { return a < b })
	for fn := range s.g.Functions {
		if !s.g.Visited(fn) {
			uncovered.ReplaceOrInsert(fn)
		}
	}

	total := 0
	memo := make(map[int]*sequence.Sequence)
	for pass := uncovered.Len(); pass > 0; pass-- {
		candidates := s.CandidatesForMerge()
		var covered []int
		uncovered.Ascend(func(fn int) bool {
			next, ok := s.mergeInto(fn, candidates)
			if !ok {
				next, ok = s.reverse(fn, memo)
			}
			if ok {
				s.g.AddSequence(next)
				covered = append(covered, fn)
			}
			return true
		})
		if len(covered) == 0 {
			break
		}
		for _, fn := range covered {
			uncovered.Delete(fn)
		}
		total += len(covered)
	}
	s.log.Info("covered unvisited functions", "covered", total, "remaining", uncovered.Len())
}

// mergeInto satisfies each produced parameter of fn from the last call of
// some candidate, preferring candidates that read fuzz input, and appends
// fn to the merged candidates.
func (s *Searcher) mergeInto(fn int, candidates []int) (*sequence.Sequence, bool) {
	var picks []*sequence.Sequence
	for k := range s.g.Functions[fn].Params {
		if s.g.FuzzableParam(fn, k) {
			continue
		}
		var pick *sequence.Sequence
		for _, ci := range candidates {
			cand := s.g.Sequences[ci]
			last, _ := cand.Last()
			if _, ok := s.g.Edge(last, fn, k); !ok {
				continue
			}
			pick = cand
			if !cand.HasNoFuzzables() {
				break
			}
		}
		if pick == nil {
			return nil, false
		}
		picks = append(picks, pick)
	}
	return s.g.TryAppend(fn, sequence.MergeAll(picks))
}

// ReverseConstruct builds a sequence ending in a call to fn by recursively
// constructing a producer for each of its produced parameters. Only
// functions with a lower index than the one being built are considered as
// producers, which bounds the recursion.
func (s *Searcher) ReverseConstruct(fn int) (*sequence.Sequence, bool) {
	return s.reverse(fn, make(map[int]*sequence.Sequence))
}

// reverse memoizes results per function; a nil entry records failure.
func (s *Searcher) reverse(fn int, memo map[int]*sequence.Sequence) (*sequence.Sequence, bool) {
	if seq, ok := memo[fn]; ok {
		return seq, seq != nil
	}
	memo[fn] = nil

	var parts []*sequence.Sequence
	for k := range s.g.Functions[fn].Params {
		if s.g.FuzzableParam(fn, k) {
			continue
		}
		found := false
		for _, p := range s.g.Producers(fn, k) {
			if p >= fn {
				break
			}
			sub, ok := s.reverse(p, memo)
			if !ok {
				continue
			}
			parts = append(parts, sub)
			found = true
			break
		}
		if !found {
			return nil, false
		}
	}

	seq, ok := s.g.TryAppend(fn, sequence.MergeAll(parts))
	if !ok {
		return nil, false
	}
	memo[fn] = seq
	return seq, true
}
