package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/fuzzgraph/internal/calltype"
	"github.com/phobologic/fuzzgraph/internal/fuzzable"
	"github.com/phobologic/fuzzgraph/internal/resolve"
	"github.com/phobologic/fuzzgraph/internal/types"
)

func fromCall(i int) Param {
	return Param{Source: FromCall, Index: i, Call: calltype.Direct()}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from   Binding
		access resolve.Access
		ok     bool
		to     Binding
	}{
		{Binding{}, resolve.Copy, true, Binding{}},
		{Binding{}, resolve.Move, true, Binding{State: Moved}},
		{Binding{}, resolve.MutBorrow, true, Binding{State: MutBorrowed}},
		{Binding{}, resolve.SharedBorrow, true, Binding{State: Borrowed, Shared: 1}},
		{Binding{State: Borrowed, Shared: 1}, resolve.SharedBorrow, true, Binding{State: Borrowed, Shared: 2}},
		{Binding{State: Borrowed, Shared: 1}, resolve.Copy, true, Binding{State: Borrowed, Shared: 1}},
		{Binding{State: Borrowed, Shared: 1}, resolve.MutBorrow, false, Binding{}},
		{Binding{State: Borrowed, Shared: 1}, resolve.Move, false, Binding{}},
		{Binding{State: MutBorrowed}, resolve.SharedBorrow, false, Binding{}},
		{Binding{State: MutBorrowed}, resolve.MutBorrow, false, Binding{}},
		{Binding{State: MutBorrowed}, resolve.Copy, false, Binding{}},
		{Binding{State: Moved}, resolve.Copy, false, Binding{}},
		{Binding{State: Moved}, resolve.Move, false, Binding{}},
	}
	for _, tt := range tests {
		got, ok := tt.from.next(tt.access)
		require.Equal(t, tt.ok, ok, "%v on %v", tt.access, tt.from.State)
		if ok {
			assert.Equal(t, tt.to, got, "%v on %v", tt.access, tt.from.State)
		}
	}
}

func TestAccessPanicsOnRefusedTransition(t *testing.T) {
	t.Parallel()

	s := &Sequence{}
	s.AddCall(Call{Func: 0})
	s.Access(0, resolve.Move)
	assert.True(t, s.IsMoved(0))
	assert.Panics(t, func() { s.Access(0, resolve.SharedBorrow) })
	assert.Panics(t, func() { s.State(3) })
}

func TestCarefulPairsAreDeduplicated(t *testing.T) {
	t.Parallel()

	s := &Sequence{}
	s.AddCall(Call{Func: 0})
	s.AddCall(Call{Func: 1})
	s.Access(0, resolve.SharedBorrow)
	s.AddCarefulPair(0, 1)
	s.AddCarefulPair(0, 1)
	assert.Equal(t, []int{1}, s.CarefulPairs(0))

	// The borrowed source can no longer be moved out from under call 1.
	assert.False(t, s.CanAccess(0, resolve.Move))
	assert.False(t, s.CanAccess(0, resolve.MutBorrow))
	assert.Equal(t, Unused, s.State(1).State)
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	s := &Sequence{}
	slot := s.AddFuzzable(fuzzable.Prim(types.U8))
	s.AddCall(Call{Func: 4, Params: []Param{{Source: FromFuzzer, Index: slot, Call: calltype.Direct()}}})
	s.Cover(2)
	s.AddTrait("std::io::Read")

	c := s.Clone()
	c.Access(0, resolve.Move)
	c.AddCall(Call{Func: 5, Params: []Param{fromCall(0)}})
	c.Cover(7)
	c.MarkCallMut(0)
	c.Calls[0].Params[0].Index = 99

	assert.Equal(t, 1, s.Len())
	assert.False(t, s.IsMoved(0))
	assert.False(t, s.Covers(7))
	assert.False(t, s.CallNeedsMut(0))
	assert.Equal(t, slot, s.Calls[0].Params[0].Index)
	assert.Equal(t, []int{2, 7}, c.Covered())
	assert.Equal(t, []string{"std::io::Read"}, c.Traits())
}

func TestAddCallRejectsForwardReferences(t *testing.T) {
	t.Parallel()

	s := &Sequence{}
	assert.Panics(t, func() { s.AddCall(Call{Func: 0, Params: []Param{fromCall(0)}}) })
	assert.Panics(t, func() {
		s.AddCall(Call{Func: 0, Params: []Param{{Source: FromFuzzer, Index: 0}}})
	})
}

func TestMergeRenumbers(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	a := &Sequence{}
	a.AddFuzzable(fuzzable.Str())
	a.AddCall(Call{Func: 0, Params: []Param{{Source: FromFuzzer, Index: 0, Call: calltype.Direct()}}})
	a.AddTrait("crate::B")

	b := &Sequence{}
	b.AddFuzzable(fuzzable.Prim(types.I32))
	b.AddCall(Call{Func: 1, Params: []Param{{Source: FromFuzzer, Index: 0, Call: calltype.Direct()}}})
	b.AddCall(Call{Func: 2, Params: []Param{fromCall(0)}})
	b.Access(0, resolve.SharedBorrow)
	b.AddCarefulPair(0, 1)
	b.MarkCallMut(1)
	b.MarkFuzzableMut(0)
	b.SetUnsafe()
	b.AddTrait("crate::A")
	b.Cover(3)

	m := a.Merge(b)
	require.Equal(3, m.Len())
	require.Len(m.Fuzzables, 2)
	require.Equal(1, m.Calls[1].Params[0].Index)
	require.Equal(1, m.Calls[2].Params[0].Index)
	require.Equal(Borrowed, m.State(1).State)
	require.Equal([]int{2}, m.CarefulPairs(1))
	require.True(m.CallNeedsMut(2))
	require.True(m.FuzzableNeedsMut(1))
	require.True(m.Unsafe())
	require.Equal([]string{"crate::A", "crate::B"}, m.Traits())
	require.Equal([]int{3}, m.Covered())
	require.Equal([]int{0, 1, 2}, m.Functions())

	// Inputs are untouched.
	require.Equal(1, a.Len())
	require.False(a.Unsafe())
}

func TestMergeAll(t *testing.T) {
	t.Parallel()

	one := func(fn int) *Sequence {
		s := &Sequence{}
		s.AddCall(Call{Func: fn})
		return s
	}
	m := MergeAll([]*Sequence{one(3), one(1), one(3)})
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []int{3, 1}, m.Functions())
	assert.Equal(t, 0, MergeAll(nil).Len())
}

func TestAccessors(t *testing.T) {
	t.Parallel()

	s := &Sequence{}
	_, ok := s.Last()
	assert.False(t, ok)
	assert.True(t, s.HasNoFuzzables())
	assert.True(t, s.IsFixedLength())

	s.AddFuzzable(fuzzable.Prim(types.U16))
	s.AddCall(Call{Func: 2, Params: []Param{{Source: FromFuzzer, Index: 0, Call: calltype.Direct()}}})
	s.AddCall(Call{Func: 5})
	s.AddCall(Call{Func: 6, Params: []Param{fromCall(0)}})

	last, ok := s.Last()
	assert.True(t, ok)
	assert.Equal(t, 6, last)
	assert.True(t, s.Contains(5))
	assert.False(t, s.Contains(9))
	assert.True(t, s.IsUsed(0))
	assert.False(t, s.IsUsed(1))
	assert.False(t, s.IsUsed(2))
	assert.True(t, s.IsFixedLength())
	assert.Equal(t, "[2 5 6]", s.String())

	s.AddFuzzable(fuzzable.Slice(fuzzable.Prim(types.U8)))
	assert.False(t, s.IsFixedLength())
	assert.False(t, s.HasAmbiguousFuzzable())
	l, err := s.Layout()
	require.NoError(t, err)
	assert.Equal(t, 3, l.MinLen)

	s.AddFuzzable(fuzzable.Slice(fuzzable.Str()))
	assert.True(t, s.HasAmbiguousFuzzable())
	_, err = s.Layout()
	assert.Error(t, err)
}
