package search

import (
	"math"

	"github.com/phobologic/fuzzgraph/internal/sequence"
)

// RandomWalk repeatedly extends a uniformly chosen sequence, the empty one
// included, by a uniformly chosen function. It stops once more than
// maxSequences extensions have reached minLen calls or after budget
// attempts.
func (s *Searcher) RandomWalk(maxSequences int, stopAtEnd bool, minLen, budget int) {
	s.g.ResetVisited()
	n := len(s.g.Functions)
	if n == 0 {
		return
	}

	pool := []*sequence.Sequence{{}}
	count := 0
	for attempt := 0; attempt < budget; attempt++ {
		seq := pool[s.rng.Intn(len(pool))]
		if stopAtEnd && s.g.IsEnded(seq) {
			continue
		}
		fn := s.rng.Intn(n)
		next, ok := s.g.TryAppend(fn, seq)
		if !ok {
			continue
		}
		pool = append(pool, next)
		s.g.AddSequence(next)
		if next.Len() >= minLen {
			count++
			if count > maxSequences {
				return
			}
		}
	}
	s.log.Debug("random walk budget exhausted", "budget", budget, "sequences", len(s.g.Sequences))
}

type successor struct {
	fn     int
	weight float64
}

// successors builds, per producer, one weighted entry for every edge
// leaving it.
func (s *Searcher) successors(stats Frequencies) [][]successor {
	table := make([][]successor, len(s.g.Functions))
	for p := range s.g.Functions {
		out := s.g.Outgoing(p)
		if len(out) == 0 {
			continue
		}
		raw := make([]int, len(out))
		for i, idx := range out {
			c := s.g.Edges[idx].Consumer
			raw[i] = stats.Dependency(s.g.Name(p), s.g.Name(c)) + stats.Order(s.g.Name(p), s.g.Name(c))
		}
		weights := normalizeWeights(raw)
		table[p] = make([]successor, len(out))
		for i, idx := range out {
			table[p][i] = successor{fn: s.g.Edges[idx].Consumer, weight: weights[i]}
		}
	}
	return table
}

// normalizeWeights log-scales counts and maps them into [0.05, 0.95).
func normalizeWeights(counts []int) []float64 {
	if len(counts) == 0 {
		return nil
	}
	w := make([]float64, len(counts))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, c := range counts {
		w[i] = math.Log(float64(c) + 2)
		lo = math.Min(lo, w[i])
		hi = math.Max(hi, w[i])
	}
	for i := range w {
		w[i] = 0.05 + (w[i]-lo)*0.9/(1+hi-lo)
	}
	return w
}

func (s *Searcher) pickWeighted(table []successor) int {
	var total float64
	for _, e := range table {
		total += e.weight
	}
	r := s.rng.Float64() * total
	for i, e := range table {
		r -= e.weight
		if r < 0 {
			return i
		}
	}
	return len(table) - 1
}

// CorpusWalk grows maxSequences sequences of up to maxLen calls. Each one
// starts from the next start function in turn. Every step either restarts
// from a random start function, with probability 1/(len+3) or when no
// live return value has a successor, or picks a live call and draws up to
// three successors by weight, keeping the first one not yet covered. At
// most budget appends are attempted overall.
func (s *Searcher) CorpusWalk(stats Frequencies, maxSequences, maxLen, budget int) {
	s.g.ResetVisited()
	starts := s.g.StartFunctions()
	if len(starts) == 0 {
		s.log.Warn("corpus walk has no start function")
		return
	}
	table := s.successors(stats)

	attempts := 0
	try := func(fn int, seq *sequence.Sequence) (*sequence.Sequence, bool) {
		attempts++
		next, ok := s.g.TryAppend(fn, seq)
		if ok {
			s.g.MarkVisited(fn)
		}
		return next, ok
	}

	produced := 0
	for round := 0; produced < maxSequences && attempts < budget; round++ {
		seq, ok := try(starts[round%len(starts)], &sequence.Sequence{})
		if !ok {
			continue
		}

		needStart := false
		for seq.Len() < maxLen && attempts < budget {
			if needStart || s.rng.Intn(seq.Len()+3) == 0 {
				if next, ok := try(starts[s.rng.Intn(len(starts))], seq); ok {
					seq, needStart = next, false
				}
				continue
			}

			live := s.liveProducers(seq, table)
			if len(live) == 0 {
				needStart = true
				continue
			}
			succ := table[live[s.rng.Intn(len(live))]]
			pick := 0
			for draw := 0; draw < 3; draw++ {
				pick = s.pickWeighted(succ)
				if !s.g.Visited(succ[pick].fn) {
					break
				}
			}
			if next, ok := try(succ[pick].fn, seq); ok {
				seq = next
			}
		}
		s.g.Sequences = append(s.g.Sequences, seq)
		produced++
	}
}

// liveProducers lists the functions of calls in seq whose return value is
// not moved and has at least one successor.
func (s *Searcher) liveProducers(seq *sequence.Sequence, table [][]successor) []int {
	var out []int
	for i, c := range seq.Calls {
		if len(table[c.Func]) > 0 && !seq.IsMoved(i) {
			out = append(out, c.Func)
		}
	}
	return out
}
