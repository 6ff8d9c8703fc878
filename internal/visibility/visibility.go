// Package visibility decides which functions of a crate can be called
// from outside it.
package visibility

import (
	"sort"
	"strings"

	"github.com/phobologic/fuzzgraph/internal/model"
)

// Tree records the declared visibility of every module of a crate. A
// module is visible when it and all of its ancestors are public; the crate
// root always is. Modules that were never declared inherit the visibility
// of their parent.
type Tree struct {
	Root    string          `cbor:"root"`
	Modules map[string]bool `cbor:"modules"`
}

// New returns a Tree for the crate named root.
func New(root string) *Tree {
	return &Tree{Root: root, Modules: make(map[string]bool)}
}

// Add declares module with the given visibility.
func (t *Tree) Add(module string, public bool) {
	if t.Modules == nil {
		t.Modules = make(map[string]bool)
	}
	t.Modules[module] = public
}

// Visible reports whether module can be named from outside the crate.
func (t *Tree) Visible(module string) bool {
	for module != "" && module != t.Root {
		if pub, ok := t.Modules[module]; ok && !pub {
			return false
		}
		module = parent(module)
	}
	return true
}

// Reachable reports whether fn is public and neither its own path nor the
// path of the trait it implements passes through an invisible module.
func (t *Tree) Reachable(fn *model.Function) bool {
	if !fn.Public {
		return false
	}
	if !t.Visible(fn.Module()) {
		return false
	}
	return fn.Trait == "" || t.Visible(parent(fn.Trait))
}

// Invisible lists the declared modules that are not visible, sorted.
func (t *Tree) Invisible() []string {
	var out []string
	for m := range t.Modules {
		if !t.Visible(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func parent(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		return path[:i]
	}
	return ""
}
