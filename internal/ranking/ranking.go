// Package ranking picks the subset of generated sequences that becomes
// fuzz targets.
package ranking

import (
	"fmt"
	"math/rand"

	"github.com/google/btree"

	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/sequence"
)

// Selector names a selection algorithm.
type Selector string

const (
	Heuristic Selector = "heuristic"
	First     Selector = "first"
	Random    Selector = "random"
)

// ParseSelector validates a selector name.
func ParseSelector(s string) (Selector, error) {
	switch Selector(s) {
	case Heuristic, First, Random:
		return Selector(s), nil
	}
	return "", fmt.Errorf("unknown selector %q (want heuristic, first or random)", s)
}

// DeadCode reports whether a sequence has an unused call before its last
// one.
type DeadCode interface {
	DeadExceptLast(seq *sequence.Sequence) bool
}

// Options configures Select.
type Options struct {
	Selector Selector
	// MaxCount caps the number of chosen sequences. Zero or less means no
	// cap.
	MaxCount int
	// MinLen is the shortest sequence the first selector accepts.
	MinLen int
	// StopAtAllNodes ends heuristic selection once every function reached
	// by an eligible sequence is covered.
	StopAtAllNodes bool
	// Dead excludes sequences with dead code from heuristic selection.
	Dead DeadCode
	// Rand drives the random selector.
	Rand *rand.Rand
}

// Select returns the indices of the chosen sequences in choice order.
func Select(seqs []*sequence.Sequence, totalEdges int, opts Options) ([]int, error) {
	switch opts.Selector {
	case Heuristic, "":
		return HeuristicChoose(seqs, opts.Dead, totalEdges, opts.MaxCount, opts.StopAtAllNodes), nil
	case First:
		return FirstChoose(seqs, opts.MaxCount, opts.MinLen), nil
	case Random:
		rng := opts.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		return RandomChoose(seqs, opts.MaxCount, rng), nil
	default:
		return nil, fmt.Errorf("unknown selector %q", opts.Selector)
	}
}

// intSet is an ordered set of function or edge indices.
type intSet struct {
	t *btree.BTreeG[int]
}

func newIntSet() intSet {
	return intSet{t: btree.NewG[int](8, func(a, b int) bool { return a < b })}
}

func (s intSet) Has(v int) bool { return s.t.Has(v) }
func (s intSet) Add(v int)      { s.t.ReplaceOrInsert(v) }
func (s intSet) Len() int       { return s.t.Len() }

func (s intSet) missing(vs []int) int {
	n := 0
	for _, v := range vs {
		if !s.Has(v) {
			n++
		}
	}
	return n
}

func eligible(seq *sequence.Sequence, dead DeadCode) bool {
	if seq.HasNoFuzzables() {
		return false
	}
	return dead == nil || !dead.DeadExceptLast(seq)
}

// HeuristicChoose greedily picks the eligible sequence adding the most new
// functions, then the most new edges, then the fewest calls. Eligible
// sequences read fuzz input and have no dead code before their last call.
// Sequences with a dynamically sized input are exhausted first; once none
// adds a new function, fixed size ones are considered until nothing adds
// a function or an edge. Selection also ends at maxCount choices, when
// every eligible sequence is chosen, when every edge is covered, or, with
// stopAtAllNodes, when every function an eligible sequence reaches is
// covered.
func HeuristicChoose(seqs []*sequence.Sequence, dead DeadCode, totalEdges, maxCount int, stopAtAllNodes bool) []int {
	ok := make([]bool, len(seqs))
	reachable := newIntSet()
	valid := 0
	for i, seq := range seqs {
		if !eligible(seq, dead) {
			continue
		}
		ok[i] = true
		valid++
		for _, fn := range seq.Functions() {
			reachable.Add(fn)
		}
	}
	if valid == 0 {
		return nil
	}

	nodes, edges := newIntSet(), newIntSet()
	chosen := make([]bool, len(seqs))
	var order []int
	dynamic := true
	for maxCount <= 0 || len(order) < maxCount {
		best, bestNodes, bestEdges, bestLen := -1, 0, 0, 0
		for i, seq := range seqs {
			if chosen[i] || !ok[i] || seq.IsFixedLength() == dynamic {
				continue
			}
			n := nodes.missing(seq.Functions())
			e := edges.missing(seq.Covered())
			better := n > bestNodes ||
				(n == bestNodes && e > bestEdges) ||
				(n == bestNodes && e == bestEdges && best >= 0 && seq.Len() < bestLen)
			if better {
				best, bestNodes, bestEdges, bestLen = i, n, e, seq.Len()
			}
		}

		if dynamic && bestNodes == 0 {
			dynamic = false
			continue
		}
		if !dynamic && bestNodes == 0 && bestEdges == 0 {
			break
		}

		chosen[best] = true
		order = append(order, best)
		for _, fn := range seqs[best].Functions() {
			nodes.Add(fn)
		}
		for _, e := range seqs[best].Covered() {
			edges.Add(e)
		}

		switch {
		case len(order) == valid:
			return order
		case totalEdges != 0 && edges.Len() == totalEdges:
			return order
		case stopAtAllNodes && nodes.Len() == reachable.Len():
			return order
		}
	}
	return order
}

// FirstChoose takes sequences in generation order that read fuzz input and
// have at least minLen calls. maxCount <= 0 takes all of them.
func FirstChoose(seqs []*sequence.Sequence, maxCount, minLen int) []int {
	var order []int
	for i, seq := range seqs {
		if seq.HasNoFuzzables() || seq.Len() < minLen {
			continue
		}
		order = append(order, i)
		if maxCount > 0 && len(order) >= maxCount {
			break
		}
	}
	return order
}

// RandomChoose picks up to maxCount distinct sequences uniformly.
// maxCount <= 0 returns every sequence in random order.
func RandomChoose(seqs []*sequence.Sequence, maxCount int, rng *rand.Rand) []int {
	perm := rng.Perm(len(seqs))
	if maxCount > 0 && maxCount < len(perm) {
		perm = perm[:maxCount]
	}
	return perm
}

// Stats measures the coverage of the chosen sequences against the graph's
// functions and edges.
func Stats(seqs []*sequence.Sequence, chosen []int, functions, totalEdges int) model.Coverage {
	nodes, edges := newIntSet(), newIntSet()
	calls := 0
	for _, i := range chosen {
		seq := seqs[i]
		calls += seq.Len()
		for _, fn := range seq.Functions() {
			nodes.Add(fn)
		}
		for _, e := range seq.Covered() {
			edges.Add(e)
		}
	}
	return model.Coverage{
		CoveredFunctions: nodes.Len(),
		ValidFunctions:   functions,
		CoveredEdges:     edges.Len(),
		TotalEdges:       totalEdges,
		Sequences:        len(chosen),
		TotalCalls:       calls,
	}
}
