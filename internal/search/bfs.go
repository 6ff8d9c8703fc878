package search

import (
	"github.com/gammazero/deque"

	"github.com/phobologic/fuzzgraph/internal/sequence"
)

// BFS extends every sequence of length L by every function for L below
// maxLen. With stopAtEnd, sequences ending in an end function are not
// extended. With fast, functions already visited are not tried again.
func (s *Searcher) BFS(maxLen int, stopAtEnd, fast bool) {
	s.g.ResetVisited()
	if maxLen < 1 {
		return
	}

	frontier := deque.New[*sequence.Sequence]()
	frontier.PushBack(&sequence.Sequence{})
	for depth := 0; depth < maxLen && frontier.Len() > 0; depth++ {
		for n := frontier.Len(); n > 0; n-- {
			seq := frontier.PopFront()
			if stopAtEnd && s.g.IsEnded(seq) {
				continue
			}
			for fn := range s.g.Functions {
				if fast && s.g.Visited(fn) {
					continue
				}
				next, ok := s.g.TryAppend(fn, seq)
				if !ok {
					continue
				}
				s.g.AddSequence(next)
				frontier.PushBack(next)
			}
		}
		s.log.Debug("bfs level done", "depth", depth+1, "sequences", len(s.g.Sequences))
	}
}

// DeepBFS runs an unbounded-depth breadth-first search that always stops
// at end functions. It gives up once a level adds no function or edge
// coverage, or once past depth two the number of sequences times the
// number of covered functions exceeds budget.
func (s *Searcher) DeepBFS(budget int) {
	s.g.ResetVisited()
	n := len(s.g.Functions)
	if n == 0 {
		return
	}

	nodes := make(map[int]struct{})
	edges := make(map[int]struct{})
	frontier := deque.New[*sequence.Sequence]()
	frontier.PushBack(&sequence.Sequence{})
	for depth := 0; depth < n; depth++ {
		if depth > 2 && len(s.g.Sequences)*s.g.VisitedCount() > budget {
			s.log.Debug("deep bfs budget reached", "depth", depth)
			break
		}
		grew := false
		for k := frontier.Len(); k > 0; k-- {
			seq := frontier.PopFront()
			if s.g.IsEnded(seq) {
				continue
			}
			for fn := range s.g.Functions {
				next, ok := s.g.TryAppend(fn, seq)
				if !ok {
					continue
				}
				for _, f := range next.Functions() {
					if _, seen := nodes[f]; !seen {
						nodes[f] = struct{}{}
						grew = true
					}
				}
				for _, e := range next.Covered() {
					if _, seen := edges[e]; !seen {
						edges[e] = struct{}{}
						grew = true
					}
				}
				s.g.AddSequence(next)
				frontier.PushBack(next)
			}
		}
		if !grew {
			s.log.Debug("deep bfs found no new coverage", "depth", depth+1)
			break
		}
	}
}
