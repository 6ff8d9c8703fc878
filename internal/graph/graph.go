// Package graph builds the API dependency graph and assembles call
// sequences over it.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/phobologic/fuzzgraph/internal/fuzzable"
	"github.com/phobologic/fuzzgraph/internal/logging"
	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/resolve"
	"github.com/phobologic/fuzzgraph/internal/sequence"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// Visibility decides whether a function is reachable from outside the
// crate.
type Visibility interface {
	Reachable(fn *model.Function) bool
}

// Options controls filtering and generic handling.
type Options struct {
	// Generics substitutes type parameters instead of dropping generic
	// functions.
	Generics bool
	// Placeholder is the concrete type used for type parameters without a
	// declared default. It defaults to i32.
	Placeholder *types.Type
	// Exclude drops functions whose name starts with any of these prefixes.
	Exclude []string
	// Visibility drops unreachable functions when set.
	Visibility Visibility
	// Prelude classifies wrapper types. It defaults to types.StdPrelude.
	Prelude types.Prelude
	// Crate is the root module of the crate under test. Methods on crate
	// types that share a name with a standard type, such as a crate's own
	// geom::Box, are kept.
	Crate string
}

// FilterStats counts functions dropped before graph construction.
type FilterStats struct {
	Excluded    int
	Invisible   int
	Foreign     int
	Unsupported int
	Generic     int
}

// Total is the number of dropped functions.
func (f FilterStats) Total() int {
	return f.Excluded + f.Invisible + f.Foreign + f.Unsupported + f.Generic
}

// Graph owns the filtered functions, their dependency edges, the per
// function visited marks and the sequences generated so far.
type Graph struct {
	Functions []model.Function
	Edges     []model.Dependency
	Sequences []*sequence.Sequence
	Filtered  FilterStats

	prelude  types.Prelude
	resolver *resolve.Resolver
	log      *logging.Logger

	fuzz       [][]fuzzable.CallType
	start      []bool
	end        []bool
	edgeIndex  map[edgeKey]int
	byProducer [][]int
	byConsumer [][]int
	visited    []bool
}

type edgeKey struct {
	producer, consumer, param int
}

// preludeTypes are standard library types whose methods never belong to
// the crate under test.
var preludeTypes = map[string]struct{}{
	"Option": {}, "Result": {}, "Vec": {}, "String": {}, "Box": {},
	"Rc": {}, "Arc": {}, "HashMap": {}, "HashSet": {}, "BTreeMap": {},
	"BTreeSet": {}, "VecDeque": {}, "Cow": {},
}

// New filters functions, classifies start and end functions and builds
// every dependency edge.
func New(ctx context.Context, functions []model.Function, opts Options, log *logging.Logger) (*Graph, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if opts.Prelude == nil {
		opts.Prelude = types.StdPrelude{}
	}
	g := &Graph{
		prelude:  opts.Prelude,
		resolver: resolve.New(opts.Prelude),
		log:      log,
	}
	g.Functions = g.filter(functions, opts)
	log.Info("filtered functions",
		"kept", len(g.Functions),
		"excluded", g.Filtered.Excluded,
		"invisible", g.Filtered.Invisible,
		"foreign", g.Filtered.Foreign,
		"unsupported", g.Filtered.Unsupported,
		"generic", g.Filtered.Generic,
	)

	n := len(g.Functions)
	g.fuzz = make([][]fuzzable.CallType, n)
	g.start = make([]bool, n)
	g.end = make([]bool, n)
	g.visited = make([]bool, n)
	for i := range g.Functions {
		f := &g.Functions[i]
		g.fuzz[i] = make([]fuzzable.CallType, len(f.Params))
		for k, p := range f.Params {
			g.fuzz[i][k] = fuzzable.Classify(p, g.prelude)
		}
		g.start[i] = g.isStart(f)
		g.end[i] = g.isEnd(f)
	}

	edges, err := g.buildEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("building dependencies: %w", err)
	}
	g.setEdges(edges)
	log.Info("built dependency graph", "functions", n, "edges", len(g.Edges))
	return g, nil
}

func (g *Graph) filter(functions []model.Function, opts Options) []model.Function {
	placeholder := types.Primitive(types.I32)
	if opts.Placeholder != nil {
		placeholder = *opts.Placeholder
	}

	var kept []model.Function
	for i := range functions {
		f := functions[i]
		switch {
		case hasPrefix(f.Name, opts.Exclude):
			g.Filtered.Excluded++
			continue
		case opts.Visibility != nil && !opts.Visibility.Reachable(&f):
			g.Filtered.Invisible++
			g.log.Debug("dropping invisible function", "name", f.Name)
			continue
		case definedOnPreludeType(&f, opts.Crate) || hasOpaqueParam(&f):
			g.Filtered.Foreign++
			continue
		}

		if f.IsGeneric() {
			if !opts.Generics {
				g.Filtered.Generic++
				continue
			}
			f = substitute(f, placeholder)
		}
		if !concrete(&f) {
			g.Filtered.Generic++
			g.log.Debug("dropping function with unresolved generics", "name", f.Name)
			continue
		}

		if !g.supported(&f) {
			g.Filtered.Unsupported++
			g.log.Debug("dropping function with unsupported fuzzable parameter", "name", f.Name)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func hasPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// definedOnPreludeType reports whether f is a method of a standard type,
// as written by a trait impl for Vec<T> or Option<T>. Linked crate types
// carry their full path, so a type rooted at crate is always local.
func definedOnPreludeType(f *model.Function, crate string) bool {
	segs := strings.Split(f.Name, "::")
	if len(segs) < 2 {
		return false
	}
	if _, ok := preludeTypes[segs[len(segs)-2]]; !ok {
		return false
	}
	return crate == "" || segs[0] != crate
}

func hasOpaqueParam(f *model.Function) bool {
	for _, p := range f.Params {
		if p.ContainsOpaque() || p.ContainsFunc() {
			return true
		}
	}
	return false
}

// substitute fills every type parameter without a declared default with
// the placeholder and rewrites the signature.
func substitute(f model.Function, placeholder types.Type) model.Function {
	subst := make(map[string]types.Type, len(f.Generics))
	for k, v := range f.Substitutions {
		subst[k] = v
	}
	for _, name := range f.Generics {
		if _, ok := subst[name]; !ok {
			subst[name] = placeholder
		}
	}
	f.Substitutions = subst
	params := make([]types.Type, len(f.Params))
	for i, p := range f.Params {
		params[i], _ = p.Substitute(subst)
	}
	f.Params = params
	if f.Output != nil {
		out, _ := f.Output.Substitute(subst)
		f.Output = &out
	}
	return f
}

func concrete(f *model.Function) bool {
	for _, p := range f.Params {
		if p.ContainsGeneric() {
			return false
		}
	}
	return f.Output == nil || !f.Output.ContainsGeneric()
}

func (g *Graph) supported(f *model.Function) bool {
	for _, p := range f.Params {
		if !fuzzable.Supported(p, g.prelude) {
			return false
		}
	}
	return true
}

// isEndType reports whether values of t can only be consumed, never fed
// into a named-type parameter: primitives and str, and containers,
// references and wrappers of them.
func (g *Graph) isEndType(t types.Type) bool {
	switch t.Kind {
	case types.KindPrim, types.KindStr:
		return true
	case types.KindPath:
		if w, inner := g.prelude.Unwrap(t); w != types.NoWrapper {
			return g.isEndType(inner)
		}
		return false
	case types.KindTuple:
		for _, a := range t.Args {
			if !g.isEndType(a) {
				return false
			}
		}
		return true
	case types.KindSlice, types.KindArray, types.KindRawPtr, types.KindRef:
		return g.isEndType(*t.Elem)
	case types.KindGeneric, types.KindFunc, types.KindOpaque:
		return false
	default:
		panic(fmt.Sprintf("graph: unhandled kind %v", t.Kind))
	}
}

// isStart reports whether every parameter of f is an end type, so f needs
// no earlier call.
func (g *Graph) isStart(f *model.Function) bool {
	for _, p := range f.Params {
		if !g.isEndType(p) {
			return false
		}
	}
	return true
}

// isEnd reports whether f cannot usefully seed later calls. A function
// taking a mutable reference is never an end since the mutation may be the
// point of calling it.
func (g *Graph) isEnd(f *model.Function) bool {
	for _, p := range f.Params {
		if (p.Kind == types.KindRef || p.Kind == types.KindRawPtr) && p.Mut {
			return false
		}
	}
	return f.Output == nil || f.Output.IsUnit() || g.isEndType(*f.Output)
}

// IsStart reports whether function fn needs no earlier call.
func (g *Graph) IsStart(fn int) bool { return g.start[fn] }

// IsEnd reports whether function fn terminates a sequence.
func (g *Graph) IsEnd(fn int) bool { return g.end[fn] }

// StartFunctions lists the indices of start functions.
func (g *Graph) StartFunctions() []int {
	var out []int
	for i, s := range g.start {
		if s {
			out = append(out, i)
		}
	}
	return out
}

// IsEnded reports whether the last call of seq is an end function.
func (g *Graph) IsEnded(seq *sequence.Sequence) bool {
	last, ok := seq.Last()
	return ok && g.end[last]
}

// FuzzableParam reports whether parameter k of fn is read from input
// bytes rather than produced by an earlier call.
func (g *Graph) FuzzableParam(fn, k int) bool {
	return g.fuzz[fn][k].IsFuzzable()
}

// Prelude returns the wrapper classifier the graph was built with.
func (g *Graph) Prelude() types.Prelude { return g.prelude }

// Visited reports whether function fn is covered by some sequence.
func (g *Graph) Visited(fn int) bool { return g.visited[fn] }

// MarkVisited records function fn as covered.
func (g *Graph) MarkVisited(fn int) { g.visited[fn] = true }

// VisitSequence marks every function called by seq.
func (g *Graph) VisitSequence(seq *sequence.Sequence) {
	for _, fn := range seq.Functions() {
		g.visited[fn] = true
	}
}

// VisitedCount is the number of covered functions.
func (g *Graph) VisitedCount() int {
	n := 0
	for _, v := range g.visited {
		if v {
			n++
		}
	}
	return n
}

// AllVisited reports whether every function is covered.
func (g *Graph) AllVisited() bool {
	return g.VisitedCount() == len(g.visited)
}

// ResetVisited clears all visited marks and generated sequences.
func (g *Graph) ResetVisited() {
	for i := range g.visited {
		g.visited[i] = false
	}
	g.Sequences = nil
}

// AddSequence records seq as generated and marks its functions visited.
func (g *Graph) AddSequence(seq *sequence.Sequence) {
	g.Sequences = append(g.Sequences, seq)
	g.VisitSequence(seq)
}

// Name returns the name of function fn.
func (g *Graph) Name(fn int) string {
	return g.Functions[fn].Name
}
