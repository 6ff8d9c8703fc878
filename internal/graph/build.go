package graph

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/phobologic/fuzzgraph/internal/calltype"
	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// buildEdges resolves every (producer, consumer, parameter) triple. Each
// producer is handled by one worker writing into its own slot, so the
// concatenated result is ordered by producer, consumer and parameter
// regardless of scheduling.
func (g *Graph) buildEdges(ctx context.Context) ([]model.Dependency, error) {
	n := len(g.Functions)
	perProducer := make([][]model.Dependency, n)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		if g.end[i] {
			continue
		}
		i := i
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perProducer[i] = g.producerEdges(i)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var edges []model.Dependency
	for _, deps := range perProducer {
		edges = append(edges, deps...)
	}
	return edges, nil
}

// producerEdges finds every parameter that the output of function i can
// satisfy. Start functions never consume a produced value.
func (g *Graph) producerEdges(i int) []model.Dependency {
	producer := &g.Functions[i]
	if producer.Output == nil || producer.Output.IsUnit() {
		return nil
	}
	out := *producer.Output
	if out.ContainsGeneric() {
		return nil
	}

	var deps []model.Dependency
	for j := range g.Functions {
		if g.start[j] {
			continue
		}
		consumer := &g.Functions[j]
		for k, in := range consumer.Params {
			if g.fuzz[j][k].IsFuzzable() || in.ContainsGeneric() {
				continue
			}
			ct := g.resolveEdge(out, in)
			if !ct.Compatible() {
				continue
			}
			deps = append(deps, model.Dependency{Producer: i, Consumer: j, Param: k, Call: ct})
		}
	}
	return deps
}

// resolveEdge tries the produced type as is, then with its option and
// result layers peeled off one at a time. Accessors such as
// `fn get(&self) -> Option<&Inner>` only reach a `&Inner` parameter once the
// wrapper is gone, because a borrowed payload is never copied out.
func (g *Graph) resolveEdge(out, in types.Type) calltype.CallType {
	ct := g.resolver.Resolve(out, in)
	if ct.Compatible() {
		return ct
	}
	final := types.FinalType(g.resolver.Prelude, out)
	var unwraps []calltype.Kind
	for cur := out; !cur.Equal(final); {
		w, payload := g.resolver.Prelude.Unwrap(cur)
		unwraps = append(unwraps, unwrapKind(w))
		cur = payload
		inner := g.resolver.Resolve(cur, in)
		if !inner.Compatible() {
			continue
		}
		for i := len(unwraps) - 1; i >= 0; i-- {
			inner = calltype.Wrap(unwraps[i], inner)
		}
		return inner
	}
	return ct
}

func unwrapKind(w types.Wrapper) calltype.Kind {
	if w == types.OptionWrapper {
		return calltype.UnwrapOption
	}
	return calltype.UnwrapResult
}

func (g *Graph) setEdges(edges []model.Dependency) {
	n := len(g.Functions)
	g.Edges = edges
	g.edgeIndex = make(map[edgeKey]int, len(edges))
	g.byProducer = make([][]int, n)
	g.byConsumer = make([][]int, n)
	for idx, e := range edges {
		g.edgeIndex[edgeKey{e.Producer, e.Consumer, e.Param}] = idx
		g.byProducer[e.Producer] = append(g.byProducer[e.Producer], idx)
		g.byConsumer[e.Consumer] = append(g.byConsumer[e.Consumer], idx)
	}
}

// Edge returns the index of the edge feeding the output of producer into
// parameter param of consumer.
func (g *Graph) Edge(producer, consumer, param int) (int, bool) {
	idx, ok := g.edgeIndex[edgeKey{producer, consumer, param}]
	return idx, ok
}

// Outgoing lists the indices of edges whose producer is fn.
func (g *Graph) Outgoing(fn int) []int { return g.byProducer[fn] }

// Producers lists the distinct functions with an edge into parameter k of
// fn, in index order.
func (g *Graph) Producers(fn, k int) []int {
	var out []int
	for _, idx := range g.byConsumer[fn] {
		e := &g.Edges[idx]
		if e.Param == k && (len(out) == 0 || out[len(out)-1] != e.Producer) {
			out = append(out, e.Producer)
		}
	}
	return out
}

// returnsImmutableRef reports whether function fn returns a shared
// reference.
func (g *Graph) returnsImmutableRef(fn int) bool {
	out := g.Functions[fn].Output
	return out != nil && out.Kind == types.KindRef && !out.Mut
}
