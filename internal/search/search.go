// Package search generates call sequences by walking the API dependency
// graph.
package search

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/phobologic/fuzzgraph/internal/graph"
	"github.com/phobologic/fuzzgraph/internal/logging"
	"github.com/phobologic/fuzzgraph/internal/sequence"
)

// Strategy names a sequence generation algorithm.
type Strategy string

const (
	BFS           Strategy = "bfs"
	FastBFS       Strategy = "fastbfs"
	BFSEnd        Strategy = "bfs-end"
	FastBFSEnd    Strategy = "fastbfs-end"
	DeepBFS       Strategy = "deepbfs"
	RandomWalk    Strategy = "random"
	RandomWalkEnd Strategy = "random-end"
	CorpusWalk    Strategy = "corpus"
	Reverse       Strategy = "reverse"
	DefaultSearch Strategy = "default"
)

const (
	defaultBFSLen = 5
	defaultBudget = 100000
)

// Strategies lists every accepted strategy name.
var Strategies = []Strategy{
	BFS, FastBFS, BFSEnd, FastBFSEnd, DeepBFS,
	RandomWalk, RandomWalkEnd, CorpusWalk, Reverse, DefaultSearch,
}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	names := make([]string, len(Strategies))
	for i, st := range Strategies {
		names[i] = string(st)
	}
	return "", fmt.Errorf("unknown strategy %q (want one of %s)", s, strings.Join(names, ", "))
}

// DeadCode reports whether a sequence has an unused call before its last
// one.
type DeadCode interface {
	DeadExceptLast(seq *sequence.Sequence) bool
}

// Frequencies supplies usage statistics mined from code that already uses
// the crate. Both lookups take fully qualified function names.
type Frequencies interface {
	Dependency(producer, consumer string) int
	Order(first, second string) int
}

// Params tunes the strategies. Zero values select defaults.
type Params struct {
	// MaxLen bounds breadth-first depth (default 5) and the length of
	// corpus walk sequences. For the random walk it is the length a
	// sequence must reach to count towards MaxSequences.
	MaxLen int
	// MaxSequences is the number of sequences the random and corpus
	// walks produce.
	MaxSequences int
	// Budget caps append attempts for the walks and the sequence-coverage
	// product for the deep breadth-first search (default 100000).
	Budget int
	// Stats drives the corpus walk, which fails without it.
	Stats Frequencies
}

func (p Params) withDefaults() Params {
	if p.MaxLen <= 0 {
		p.MaxLen = defaultBFSLen
	}
	if p.MaxSequences <= 0 {
		p.MaxSequences = defaultBudget
	}
	if p.Budget <= 0 {
		p.Budget = defaultBudget
	}
	return p
}

// Searcher runs strategies against one graph. Strategies that start a
// fresh run clear the graph's sequences and visited marks first.
type Searcher struct {
	g    *graph.Graph
	dead DeadCode
	rng  *rand.Rand
	log  *logging.Logger
}

// New returns a Searcher. rng drives the random and corpus walks.
func New(g *graph.Graph, dead DeadCode, rng *rand.Rand, log *logging.Logger) *Searcher {
	if log == nil {
		log = logging.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Searcher{g: g, dead: dead, rng: rng, log: log}
}

// Run executes strategy and leaves the generated sequences in the graph.
func (s *Searcher) Run(strategy Strategy, p Params) error {
	p = p.withDefaults()
	switch strategy {
	case BFS:
		s.BFS(p.MaxLen, false, false)
	case FastBFS:
		s.BFS(p.MaxLen, false, true)
	case BFSEnd:
		s.BFS(p.MaxLen, true, false)
	case FastBFSEnd:
		s.BFS(p.MaxLen, true, true)
	case DeepBFS:
		s.DeepBFS(p.Budget)
	case RandomWalk:
		s.RandomWalk(p.MaxSequences, false, p.MaxLen, p.Budget)
	case RandomWalkEnd:
		s.RandomWalk(p.MaxSequences, true, 0, p.Budget)
	case CorpusWalk:
		if p.Stats == nil {
			return fmt.Errorf("strategy %s needs corpus statistics", strategy)
		}
		s.CorpusWalk(p.Stats, p.MaxSequences, p.MaxLen, p.Budget)
	case Reverse:
		s.g.ResetVisited()
		s.CoverUnvisited()
	case DefaultSearch, "":
		s.BFS(defaultBFSLen, true, false)
		s.CoverUnvisited()
	default:
		return fmt.Errorf("unknown strategy %q", strategy)
	}
	s.log.Info("generated sequences",
		"strategy", strategy,
		"sequences", len(s.g.Sequences),
		"covered", s.g.VisitedCount(),
		"functions", len(s.g.Functions),
	)
	return nil
}
