package parse

import (
	"sort"
	"strings"

	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/types"
	"github.com/phobologic/fuzzgraph/internal/visibility"
)

// Crate is the linked result of extracting every file of a crate.
type Crate struct {
	Name       string           `cbor:"name"`
	Functions  []model.Function `cbor:"functions"`
	Visibility *visibility.Tree `cbor:"visibility"`
}

// Link qualifies type and trait names across files and builds the module
// visibility tree. Functions are ordered by file then line so repeated runs
// see the same order.
func Link(crate string, files []*File) *Crate {
	sorted := make([]*File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	tree := visibility.New(crate)
	typeIdx := newIndex()
	traitIdx := newIndex()
	for _, f := range sorted {
		for _, m := range f.Modules {
			tree.Add(m.Path, m.Public)
		}
		for _, t := range f.Types {
			typeIdx.add(t)
		}
		for _, t := range f.Traits {
			traitIdx.add(t)
		}
	}

	c := &Crate{Name: crate, Visibility: tree}
	for _, f := range sorted {
		for _, fn := range f.Functions {
			out := fn.Function
			out.Params = make([]types.Type, len(fn.Params))
			for i, p := range fn.Params {
				out.Params[i] = typeIdx.qualifyType(p, fn.Scope)
			}
			if fn.Output != nil {
				t := typeIdx.qualifyType(*fn.Output, fn.Scope)
				out.Output = &t
			}
			if len(fn.Substitutions) > 0 {
				out.Substitutions = make(map[string]types.Type, len(fn.Substitutions))
				for k, v := range fn.Substitutions {
					out.Substitutions[k] = typeIdx.qualifyType(v, fn.Scope)
				}
			}
			if fn.Trait != "" {
				out.Trait = traitIdx.qualify(fn.Trait, fn.Scope)
			}
			if fn.Self != "" {
				out.Name = typeIdx.qualify(fn.Self, fn.Scope) + "::" + fn.Method
			}
			c.Functions = append(c.Functions, out)
		}
	}
	return c
}

// index resolves names written in source to declared absolute paths.
type index struct {
	declared map[string]struct{}
	byLast   map[string][]string
}

func newIndex() *index {
	return &index{declared: make(map[string]struct{}), byLast: make(map[string][]string)}
}

func (x *index) add(p string) {
	if _, ok := x.declared[p]; ok {
		return
	}
	x.declared[p] = struct{}{}
	last := lastSegment(p)
	x.byLast[last] = append(x.byLast[last], p)
}

// qualify resolves name as seen from scope. Names declared in scope win,
// then absolute names, then a single declaration anywhere in the crate with
// the same final segment. Anything else is left as written.
func (x *index) qualify(name, scope string) string {
	if p := scope + "::" + name; x.has(p) {
		return p
	}
	if x.has(name) {
		return name
	}
	if !strings.Contains(name, "::") {
		if c := x.byLast[name]; len(c) == 1 {
			return c[0]
		}
	}
	return name
}

func (x *index) has(p string) bool {
	_, ok := x.declared[p]
	return ok
}

func (x *index) qualifyType(t types.Type, scope string) types.Type {
	switch t.Kind {
	case types.KindPath:
		t.Name = x.qualify(t.Name, scope)
		t.Args = x.qualifyAll(t.Args, scope)
	case types.KindTuple:
		t.Args = x.qualifyAll(t.Args, scope)
	case types.KindFunc:
		t.Args = x.qualifyAll(t.Args, scope)
		if t.Elem != nil {
			e := x.qualifyType(*t.Elem, scope)
			t.Elem = &e
		}
	case types.KindSlice, types.KindArray, types.KindRawPtr, types.KindRef:
		e := x.qualifyType(*t.Elem, scope)
		t.Elem = &e
	case types.KindPrim, types.KindStr, types.KindGeneric, types.KindOpaque:
	}
	return t
}

func (x *index) qualifyAll(ts []types.Type, scope string) []types.Type {
	if len(ts) == 0 {
		return ts
	}
	out := make([]types.Type, len(ts))
	for i, t := range ts {
		out[i] = x.qualifyType(t, scope)
	}
	return out
}
