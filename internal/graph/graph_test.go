package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/fuzzgraph/internal/calltype"
	"github.com/phobologic/fuzzgraph/internal/logging"
	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/resolve"
	"github.com/phobologic/fuzzgraph/internal/sequence"
	"github.com/phobologic/fuzzgraph/internal/types"
)

var (
	widget = types.Path("crate::Widget")
	inner  = types.Path("crate::Inner")
)

func fn(name string, out *types.Type, params ...types.Type) model.Function {
	return model.Function{Name: name, Params: params, Output: out, Public: true}
}

func ptr(t types.Type) *types.Type { return &t }

func build(t *testing.T, fns ...model.Function) *Graph {
	t.Helper()
	g, err := New(context.Background(), fns, Options{}, logging.NewNop())
	require.NoError(t, err)
	return g
}

// chain appends each function in order and fails if any step is rejected.
func chain(t *testing.T, g *Graph, fns ...int) *sequence.Sequence {
	t.Helper()
	s := &sequence.Sequence{}
	for _, f := range fns {
		next, ok := g.TryAppend(f, s)
		if !ok {
			t.Fatalf("appending %s to %s rejected", g.Name(f), s)
		}
		s = next
	}
	return s
}

func TestSingleMoveEdge(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::make", ptr(widget)),
		fn("crate::consume", nil, widget),
	)
	if len(g.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d: %+v", len(g.Edges), g.Edges)
	}
	e := g.Edges[0]
	if e.Producer != 0 || e.Consumer != 1 || e.Param != 0 || e.Call.Kind != calltype.DirectCall {
		t.Errorf("edge: %+v", e)
	}

	s := chain(t, g, 0, 1)
	if !s.IsMoved(0) {
		t.Errorf("make's return value should be moved")
	}
	if !s.Covers(0) {
		t.Errorf("edge 0 should be covered")
	}
	if !g.IsEnded(s) {
		t.Errorf("consume returns nothing and should end the sequence")
	}
}

func TestSharedBorrowsThenMutableBorrow(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::make", ptr(widget)),
		fn("crate::read", nil, types.Ref(false, widget)),
		fn("crate::read2", nil, types.Ref(false, widget)),
		fn("crate::mutate", nil, types.Ref(true, widget)),
	)

	s := chain(t, g, 0, 1, 2)
	assert.Equal(t, sequence.Binding{State: sequence.Borrowed, Shared: 2}, s.State(0))

	afterRead := chain(t, g, 0, 1)
	_, ok := g.TryAppend(3, afterRead)
	assert.False(t, ok, "mutable borrow after a shared borrow must be rejected")

	m := chain(t, g, 0, 3)
	assert.True(t, m.CallNeedsMut(0))
	assert.Equal(t, sequence.MutBorrowed, m.State(0).State)
}

func TestDoubleMutableBorrow(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::make", ptr(widget)),
		fn("crate::mutate", nil, types.Ref(true, widget)),
		fn("crate::mutate2", nil, types.Ref(true, widget)),
	)

	s := chain(t, g, 0, 1)
	_, ok := g.TryAppend(2, s)
	assert.False(t, ok)

	chain(t, g, 0, 2)
}

func TestBlockedProducerFallsThroughToLaterOne(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::make", ptr(widget)),
		fn("crate::read", nil, types.Ref(false, widget)),
		fn("crate::mutate", nil, types.Ref(true, widget)),
	)

	// Two producers; the first is shared-borrowed so the mutable borrow
	// must take the second.
	s := chain(t, g, 0, 0, 1, 2)
	last := s.Calls[3]
	require.Len(t, last.Params, 1)
	assert.Equal(t, sequence.FromCall, last.Params[0].Source)
	assert.Equal(t, 1, last.Params[0].Index)
	assert.Equal(t, sequence.Borrowed, s.State(0).State)
	assert.Equal(t, sequence.MutBorrowed, s.State(1).State)
}

func TestRejectedAppendLeavesSequenceUntouched(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::make", ptr(widget)),
		fn("crate::read", nil, types.Ref(false, widget)),
		fn("crate::pair", nil, types.Ref(false, widget), types.Ref(true, widget)),
	)

	s := chain(t, g, 0)
	_, ok := g.TryAppend(2, s)
	assert.False(t, ok)
	assert.Equal(t, sequence.Unused, s.State(0).State)
	assert.Empty(t, s.Covered())
}

func TestFuzzableParameters(t *testing.T) {
	t.Parallel()

	i32 := types.Primitive(types.I32)
	g := build(t,
		fn("crate::process", ptr(i32), i32, i32),
		fn("crate::fill", nil, types.Ref(true, types.Slice(types.Primitive(types.U8)))),
	)
	assert.True(t, g.IsStart(0))
	assert.True(t, g.IsEnd(0))

	s := chain(t, g, 0)
	require.Len(t, s.Fuzzables, 2)
	for _, f := range s.Fuzzables {
		assert.Equal(t, "i32", f.RustType())
	}
	l, err := s.Layout()
	require.NoError(t, err)
	assert.Equal(t, 8, l.MinLen)
	assert.Equal(t, 0, l.Dynamic)

	m := chain(t, g, 1)
	assert.True(t, m.FuzzableNeedsMut(0))
	assert.False(t, g.IsEnd(1), "functions taking &mut are never end functions")
}

func TestDynamicSlotsAcrossCalls(t *testing.T) {
	t.Parallel()

	bytes := types.Ref(false, types.Slice(types.Primitive(types.U8)))
	g := build(t,
		fn("crate::open", ptr(widget), bytes),
		fn("crate::feed", nil, types.Ref(true, widget), bytes),
	)
	s := chain(t, g, 0, 1)
	require.Len(t, s.Fuzzables, 2)

	l, err := s.Layout()
	require.NoError(t, err)
	assert.Equal(t, 2, l.Dynamic)
	ranges, err := l.Ranges(11)
	require.NoError(t, err)
	assert.Equal(t, 0, ranges[0].Start)
	assert.Equal(t, 5, ranges[0].End)
	assert.Equal(t, 5, ranges[1].Start)
	assert.Equal(t, 11, ranges[1].End)
}

func TestCarefulPairRecorded(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::make", ptr(widget)),
		fn("crate::Widget::inner", ptr(types.Ref(false, inner)), types.Ref(false, widget)),
		fn("crate::Inner::len", ptr(types.Primitive(types.Usize)), types.Ref(false, inner)),
	)
	s := chain(t, g, 0, 1, 2)
	assert.Equal(t, []int{1}, s.CarefulPairs(0))
	assert.Equal(t, sequence.Binding{State: sequence.Borrowed, Shared: 1}, s.State(1))
}

func TestUnwrapMovesProducer(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::parse", ptr(types.Path("Option", widget)), types.Ref(false, types.Str())),
		fn("crate::read", nil, types.Ref(false, widget)),
		fn("crate::read2", nil, types.Ref(false, widget)),
	)
	s := chain(t, g, 0, 1)
	assert.True(t, s.IsMoved(0))
	assert.Equal(t, "BorrowedRef(UnwrapOption(DirectCall))", s.Calls[1].Params[0].Call.String())

	_, ok := g.TryAppend(2, s)
	assert.False(t, ok, "an unwrapped value cannot be reused")
}

func TestWrappedReferenceAccessors(t *testing.T) {
	t.Parallel()

	errT := types.Path("crate::Error")
	g := build(t,
		fn("crate::make", ptr(widget)),
		fn("crate::Widget::get", ptr(types.Path("Option", types.Ref(false, inner))), types.Ref(false, widget)),
		fn("crate::Widget::try_get_mut", ptr(types.Path("Result", types.Ref(true, inner), errT)), types.Ref(true, widget)),
		fn("crate::Inner::read", nil, types.Ref(false, inner)),
		fn("crate::Inner::write", nil, types.Ref(true, inner)),
		fn("crate::Inner::maybe", nil, types.Path("Option", types.Ref(false, inner))),
		fn("crate::Widget::find", ptr(types.Path("Result", types.Ref(false, inner), errT)), types.Ref(false, widget)),
	)

	tests := []struct {
		producer, consumer int
		want               string
	}{
		{1, 3, "UnwrapOption(DirectCall)"},
		{2, 4, "UnwrapResult(DirectCall)"},
		{1, 5, "DirectCall"},
		{6, 3, "UnwrapResult(DirectCall)"},
		{6, 5, "UnwrapResult(ToOption(DirectCall))"},
	}
	for _, tt := range tests {
		idx, ok := g.Edge(tt.producer, tt.consumer, 0)
		if !assert.True(t, ok, "no edge %s -> %s", g.Name(tt.producer), g.Name(tt.consumer)) {
			continue
		}
		assert.Equal(t, tt.want, g.Edges[idx].Call.String())
	}
	_, ok := g.Edge(1, 4, 0)
	assert.False(t, ok, "a shared reference cannot feed &mut Inner")

	s := chain(t, g, 0, 2, 4)
	assert.True(t, s.IsMoved(1), "unwrapping consumes the result")
	assert.Equal(t, sequence.MutBorrowed, s.State(0).State)

	r := chain(t, g, 0, 1, 3)
	_, ok = g.TryAppend(3, r)
	assert.False(t, ok, "the unwrapped option is spent")
}

func TestUnsafeAndTraitsPropagate(t *testing.T) {
	t.Parallel()

	mk := fn("crate::make", ptr(widget))
	mk.Unsafe = true
	rd := fn("crate::Widget::read", ptr(types.Primitive(types.U8)), types.Ref(false, widget))
	rd.Trait = "std::io::Read"
	g := build(t, mk, rd)

	s := chain(t, g, 0, 1)
	assert.True(t, s.Unsafe())
	assert.Equal(t, []string{"std::io::Read"}, s.Traits())
}

func TestFilters(t *testing.T) {
	t.Parallel()

	gen := fn("crate::wrap", ptr(types.Path("crate::Box", types.Generic("T"))), types.Generic("T"))
	gen.Generics = []string{"T"}

	fns := []model.Function{
		fn("crate::make", ptr(widget)),
		fn("crate::internal::helper", ptr(widget)),
		fn("crate::Option::weird", nil, widget),
		fn("crate::callback", nil, types.Func(nil, nil)),
		fn("crate::boxed", nil, types.Opaque("dyn Read")),
		fn("crate::nested", nil, types.Ref(false, types.Slice(types.Ref(false, types.Str())))),
		fn("crate::tupled", nil, types.Tuple(types.Ref(false, types.Primitive(types.U8)))),
		gen,
	}
	opts := Options{Exclude: []string{"crate::internal::"}}
	g, err := New(context.Background(), fns, opts, logging.NewNop())
	require.NoError(t, err)

	require.Len(t, g.Functions, 1)
	assert.Equal(t, "crate::make", g.Functions[0].Name)
	assert.Equal(t, FilterStats{Excluded: 1, Foreign: 3, Unsupported: 2, Generic: 1}, g.Filtered)
	assert.Equal(t, 7, g.Filtered.Total())
}

func TestGenericsSubstituted(t *testing.T) {
	t.Parallel()

	gen := fn("crate::Holder::new", ptr(types.Path("crate::Holder", types.Generic("T"))), types.Generic("T"))
	gen.Generics = []string{"T"}
	get := fn("crate::Holder::get", ptr(types.Generic("U")), types.Ref(false, types.Path("crate::Holder", types.Generic("U"))))
	get.Generics = []string{"U"}
	get.Substitutions = map[string]types.Type{"U": types.Primitive(types.U64)}

	g, err := New(context.Background(), []model.Function{gen, get}, Options{Generics: true}, logging.NewNop())
	require.NoError(t, err)
	require.Len(t, g.Functions, 2)
	assert.Equal(t, "fn crate::Holder::new<T>(i32) -> crate::Holder<i32>", g.Functions[0].Signature())
	assert.Equal(t, "u64", g.Functions[1].Output.String())
	// Holder<i32> does not reach &Holder<u64>.
	assert.Empty(t, g.Edges)
}

func TestCrateTypesNamedLikePreludeTypes(t *testing.T) {
	t.Parallel()

	fns := []model.Function{
		fn("mycrate::geom::Box::new", ptr(types.Path("mycrate::geom::Box"))),
		fn("Vec::extend_widgets", nil, types.Ref(true, types.Path("Vec", types.Path("mycrate::Widget")))),
		fn("std::borrow::Cow::len", ptr(types.Primitive(types.Usize))),
	}
	g, err := New(context.Background(), fns, Options{Crate: "mycrate"}, logging.NewNop())
	require.NoError(t, err)
	require.Len(t, g.Functions, 1)
	assert.Equal(t, "mycrate::geom::Box::new", g.Functions[0].Name)
	assert.Equal(t, 2, g.Filtered.Foreign)
}

type hideModule string

func (h hideModule) Reachable(f *model.Function) bool {
	return f.Module() != string(h)
}

func TestVisibilityFilter(t *testing.T) {
	t.Parallel()

	fns := []model.Function{
		fn("crate::a::make", ptr(widget)),
		fn("crate::b::make", ptr(widget)),
	}
	g, err := New(context.Background(), fns, Options{Visibility: hideModule("crate::b")}, logging.NewNop())
	require.NoError(t, err)
	require.Len(t, g.Functions, 1)
	assert.Equal(t, 1, g.Filtered.Invisible)
}

// apiSurface mixes moves, borrows, wrappers and references.
func apiSurface() []model.Function {
	u8s := types.Ref(false, types.Slice(types.Primitive(types.U8)))
	return []model.Function{
		fn("crate::Widget::new", ptr(widget)),
		fn("crate::Widget::parse", ptr(types.Path("Result", widget, types.Path("crate::Error"))), u8s),
		fn("crate::Widget::read", ptr(types.Primitive(types.U8)), types.Ref(false, widget)),
		fn("crate::Widget::push", nil, types.Ref(true, widget), types.Primitive(types.U8)),
		fn("crate::Widget::finish", ptr(types.Path("Vec", types.Primitive(types.U8))), widget),
		fn("crate::Widget::inner", ptr(types.Ref(false, inner)), types.Ref(false, widget)),
		fn("crate::Inner::len", ptr(types.Primitive(types.Usize)), types.Ref(false, inner)),
		fn("crate::merge", ptr(widget), widget, types.Ref(false, widget)),
		fn("crate::Widget::raw", nil, types.RawPtr(true, widget)),
	}
}

func edgeSet(edges []model.Dependency) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = fmt.Sprintf("%d->%d.%d %s", e.Producer, e.Consumer, e.Param, e.Call)
	}
	sort.Strings(out)
	return out
}

func TestBuildIsIdempotent(t *testing.T) {
	t.Parallel()

	a := build(t, apiSurface()...)
	b := build(t, apiSurface()...)
	if len(a.Edges) == 0 {
		t.Fatal("expected edges")
	}
	assert.Equal(t, edgeSet(a.Edges), edgeSet(b.Edges))
	assert.Equal(t, a.Edges, b.Edges, "edge order should not depend on scheduling")

	for i, e := range a.Edges {
		idx, ok := a.Edge(e.Producer, e.Consumer, e.Param)
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}
	_, ok := a.Edge(2, 0, 0)
	assert.False(t, ok)
}

func TestBuildCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(ctx, apiSurface(), Options{}, logging.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

// TestOwnershipInvariants extends every sequence up to length four and
// checks each accepted one against an independent replay of the borrow
// rules.
func TestOwnershipInvariants(t *testing.T) {
	t.Parallel()

	g := build(t, apiSurface()...)
	frontier := []*sequence.Sequence{{}}
	accepted := 0
	for depth := 0; depth < 4; depth++ {
		var next []*sequence.Sequence
		for _, s := range frontier {
			for f := range g.Functions {
				ext, ok := g.TryAppend(f, s)
				if !ok {
					continue
				}
				accepted++
				checkOwnership(t, g, ext)
				next = append(next, ext)
			}
		}
		frontier = next
	}
	assert.Greater(t, accepted, 20)
}

func checkOwnership(t *testing.T, g *Graph, s *sequence.Sequence) {
	t.Helper()
	moved := map[int]bool{}
	mut := map[int]bool{}
	shared := map[int]bool{}
	for ci, c := range s.Calls {
		params := g.Functions[c.Func].Params
		for k, p := range c.Params {
			if p.Source != sequence.FromCall {
				continue
			}
			if moved[p.Index] {
				t.Fatalf("%s: call %d uses moved value of call %d", s, ci, p.Index)
			}
			switch resolve.Classify(params[k], p.Call) {
			case resolve.Move:
				if mut[p.Index] || shared[p.Index] {
					t.Fatalf("%s: call %d moves borrowed call %d", s, ci, p.Index)
				}
				moved[p.Index] = true
			case resolve.MutBorrow:
				if mut[p.Index] || shared[p.Index] {
					t.Fatalf("%s: call %d mutably borrows call %d twice", s, ci, p.Index)
				}
				mut[p.Index] = true
			case resolve.SharedBorrow:
				if mut[p.Index] {
					t.Fatalf("%s: call %d shares mutably borrowed call %d", s, ci, p.Index)
				}
				shared[p.Index] = true
			case resolve.Copy:
				if mut[p.Index] {
					t.Fatalf("%s: call %d copies mutably borrowed call %d", s, ci, p.Index)
				}
			}
		}
	}
}

func TestRankUniform(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::a", ptr(types.Primitive(types.U8))),
		fn("crate::b", nil),
		fn("crate::c", nil),
	)
	expected := 1.0 / 3.0
	for i, r := range g.Rank() {
		if math.Abs(r-expected) > 1e-9 {
			t.Errorf("%s rank = %f, want %f", g.Name(i), r, expected)
		}
	}
}

func TestRankWithEdges(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::make", ptr(widget)),
		fn("crate::read", nil, types.Ref(false, widget)),
		fn("crate::consume", nil, widget),
	)
	ranks := g.Rank()

	// make feeds both consumers.
	if ranks[0] <= ranks[1] || ranks[0] <= ranks[2] {
		t.Errorf("make should rank highest: %v", ranks)
	}
	var sum float64
	for _, r := range ranks {
		sum += r
	}
	if math.Abs(sum-1.0) > 0.01 {
		t.Errorf("ranks sum to %f, expected ~1.0", sum)
	}
}

func TestRankEmpty(t *testing.T) {
	t.Parallel()
	g := build(t)
	if g.Rank() != nil {
		t.Errorf("expected nil ranks for empty graph")
	}
}

func TestVisitedBookkeeping(t *testing.T) {
	t.Parallel()

	g := build(t,
		fn("crate::make", ptr(widget)),
		fn("crate::consume", nil, widget),
	)
	s := chain(t, g, 0, 1)
	g.AddSequence(s)
	assert.True(t, g.AllVisited())
	assert.Equal(t, 2, g.VisitedCount())
	g.ResetVisited()
	assert.Equal(t, 0, g.VisitedCount())
	assert.Empty(t, g.Sequences)
	assert.Equal(t, []int{0}, g.StartFunctions())
}
