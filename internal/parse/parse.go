// Package parse extracts function signatures and module structure from Rust
// source files using tree-sitter.
package parse

import (
	"context"
	"path"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/fuzzgraph/internal/lang"
	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// Module is a declared module and whether it is marked pub.
type Module struct {
	Path   string `cbor:"path"`
	Public bool   `cbor:"public"`
}

// Func is an extracted function before type names are resolved against
// the whole crate.
type Func struct {
	model.Function `cbor:"fn"`

	// Scope is the module the function is declared in.
	Scope string `cbor:"scope"`
	// Self is the self type path as written for methods, empty for free
	// functions. Method is the bare method name.
	Self   string `cbor:"self,omitempty"`
	Method string `cbor:"method,omitempty"`
}

// File is everything extracted from one source file.
type File struct {
	Path      string   `cbor:"path"`
	Module    string   `cbor:"module"`
	Functions []Func   `cbor:"functions,omitempty"`
	Modules   []Module `cbor:"modules,omitempty"`
	Types     []string `cbor:"types,omitempty"`
	Traits    []string `cbor:"traits,omitempty"`
}

// ModulePath maps a slash-separated, crate-relative source path to the
// module it defines. Files outside src/ and binary targets are not part of
// the library and report false.
func ModulePath(rel, crate string) (string, bool) {
	rel = strings.TrimPrefix(rel, "./")
	if !strings.HasPrefix(rel, "src/") || path.Ext(rel) != ".rs" {
		return "", false
	}
	rel = strings.TrimSuffix(strings.TrimPrefix(rel, "src/"), ".rs")
	switch {
	case rel == "lib":
		return crate, true
	case rel == "main" || strings.HasPrefix(rel, "bin/"):
		return "", false
	}
	rel = strings.TrimSuffix(rel, "/mod")
	return crate + "::" + strings.ReplaceAll(rel, "/", "::"), true
}

// Extract parses a source file that defines module and returns its items.
// The parser must be created for Rust and query must be the Rust item
// query. filePath is recorded on every function.
func Extract(parser *sitter.Parser, query *sitter.Query, source []byte, filePath, module, crate string) *File {
	f := &File{Path: filePath, Module: module}
	if len(source) == 0 {
		return f
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return f
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	x := &extractor{source: source, file: filePath, module: module, crate: crate}
	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var nameNode, defNode *sitter.Node
		var captureName string
		for _, c := range match.Captures {
			cname := query.CaptureNameForId(c.Index)
			if cname == "name" {
				nameNode = c.Node
			} else if strings.HasPrefix(cname, "definition.") {
				captureName = cname
				defNode = c.Node
			}
		}
		if nameNode == nil || defNode == nil {
			continue
		}

		sc, ok := x.scopeOf(defNode)
		if !ok || lang.IsTestOnly(defNode, source) {
			continue
		}
		name := lang.NodeText(nameNode, source)

		switch captureName {
		case "definition.module":
			f.Modules = append(f.Modules, Module{Path: sc.module + "::" + name, Public: lang.IsPub(defNode, source)})
		case "definition.type":
			if sc.impl == nil && !sc.inTrait {
				f.Types = append(f.Types, sc.module+"::"+name)
			}
		case "definition.trait":
			f.Traits = append(f.Traits, sc.module+"::"+name)
		case "definition.function":
			if sc.inTrait {
				continue
			}
			if fn, ok := x.function(defNode, name, sc); ok {
				f.Functions = append(f.Functions, fn)
			}
		}
	}
	return f
}

type extractor struct {
	source []byte
	file   string
	module string
	crate  string
}

type scope struct {
	module  string
	impl    *sitter.Node
	inTrait bool
}

// scopeOf finds the module path and enclosing impl of an item. Items
// inside function bodies or test-only modules report false.
func (x *extractor) scopeOf(node *sitter.Node) (scope, bool) {
	var sc scope
	var mods []string
	for p := node.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "function_item", "closure_expression":
			return sc, false
		case "mod_item":
			if lang.IsTestOnly(p, x.source) {
				return sc, false
			}
			if n := p.ChildByFieldName("name"); n != nil {
				mods = append(mods, lang.NodeText(n, x.source))
			}
		case "impl_item":
			if sc.impl == nil {
				sc.impl = p
			}
		case "trait_item":
			sc.inTrait = true
		}
	}
	sc.module = x.module
	for i := len(mods) - 1; i >= 0; i-- {
		sc.module += "::" + mods[i]
	}
	return sc, true
}

// typeContext carries what a type expression may refer to.
type typeContext struct {
	module   string
	generics map[string]struct{}
	self     *types.Type
}

func (x *extractor) function(node *sitter.Node, name string, sc scope) (Func, bool) {
	if lang.HasModifier(node, x.source, "async") {
		return Func{}, false
	}

	ctx := typeContext{module: sc.module, generics: make(map[string]struct{})}
	fn := Func{
		Function: model.Function{
			Unsafe: lang.HasModifier(node, x.source, "unsafe"),
			File:   x.file,
			Line:   int(node.StartPoint().Row) + 1,
		},
		Scope: sc.module,
	}

	if sc.impl != nil {
		x.generics(sc.impl.ChildByFieldName("type_parameters"), &ctx, &fn.Function)
		tn := sc.impl.ChildByFieldName("type")
		if tn == nil {
			return Func{}, false
		}
		self := x.convert(tn, ctx)
		if self.Kind != types.KindPath {
			return Func{}, false
		}
		ctx.self = &self
		fn.Self = self.Name
		fn.Method = name
		if trait := sc.impl.ChildByFieldName("trait"); trait != nil {
			fn.Trait = x.absPath(pathName(trait, x.source), sc.module)
			fn.Public = true
		} else {
			fn.Public = lang.IsPub(node, x.source)
		}
		fn.Name = sc.module + "::" + lastSegment(self.Name) + "::" + name
	} else {
		fn.Public = lang.IsPub(node, x.source)
		fn.Name = sc.module + "::" + name
	}
	x.generics(node.ChildByFieldName("type_parameters"), &ctx, &fn.Function)

	params := node.ChildByFieldName("parameters")
	if params == nil {
		return Func{}, false
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "self_parameter":
			if ctx.self == nil {
				return Func{}, false
			}
			self := *ctx.self
			if lang.HasChildType(p, "&") {
				self = types.Ref(lang.HasChildType(p, "mutable_specifier"), self)
				if lt := firstChildOfType(p, "lifetime"); lt != nil {
					self.Lifetimes = []string{lifetimeName(lt, x.source)}
				}
			}
			fn.Params = append(fn.Params, self)
		case "parameter":
			t := p.ChildByFieldName("type")
			if t == nil {
				return Func{}, false
			}
			fn.Params = append(fn.Params, x.convert(t, ctx))
		case "variadic_parameter":
			return Func{}, false
		}
	}

	if ret := node.ChildByFieldName("return_type"); ret != nil {
		out := x.convert(ret, ctx)
		if !out.IsUnit() {
			fn.Output = &out
		}
	}
	return fn, true
}

// generics records the type parameters declared by a type_parameters node,
// with their defaults as substitutions.
func (x *extractor) generics(tp *sitter.Node, ctx *typeContext, fn *model.Function) {
	if tp == nil {
		return
	}
	for i := 0; i < int(tp.NamedChildCount()); i++ {
		p := tp.NamedChild(i)
		var name string
		var def *sitter.Node
		switch p.Type() {
		case "type_identifier":
			name = lang.NodeText(p, x.source)
		case "constrained_type_parameter":
			if left := p.ChildByFieldName("left"); left != nil {
				name = lang.NodeText(left, x.source)
			}
		case "optional_type_parameter", "type_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				name = lang.NodeText(n, x.source)
			} else if n := firstChildOfType(p, "type_identifier"); n != nil {
				name = lang.NodeText(n, x.source)
			}
			def = p.ChildByFieldName("default_type")
		default:
			// lifetimes and const generics
			continue
		}
		if name == "" {
			continue
		}
		ctx.generics[name] = struct{}{}
		fn.Generics = append(fn.Generics, name)
		if def != nil {
			if fn.Substitutions == nil {
				fn.Substitutions = make(map[string]types.Type)
			}
			fn.Substitutions[name] = x.convert(def, *ctx)
		}
	}
}

// convert builds a type descriptor from a type node.
func (x *extractor) convert(n *sitter.Node, ctx typeContext) types.Type {
	text := lang.CollapseWhitespace(lang.NodeText(n, x.source))
	switch n.Type() {
	case "primitive_type":
		if text == "str" {
			return types.Str()
		}
		if p, ok := types.PrimByName(text); ok {
			return types.Primitive(p)
		}
		return types.Opaque(text)

	case "type_identifier":
		if text == "Self" {
			if ctx.self == nil {
				return types.Opaque(text)
			}
			return *ctx.self
		}
		if _, ok := ctx.generics[text]; ok {
			return types.Generic(text)
		}
		return types.Path(text)

	case "scoped_type_identifier":
		return types.Path(x.absPath(strings.ReplaceAll(text, " ", ""), ctx.module))

	case "generic_type":
		base := n.ChildByFieldName("type")
		if base == nil {
			return types.Opaque(text)
		}
		t := types.Path(x.absPath(pathName(base, x.source), ctx.module))
		if args := n.ChildByFieldName("type_arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				a := args.NamedChild(i)
				switch a.Type() {
				case "lifetime":
					t.Lifetimes = append(t.Lifetimes, lifetimeName(a, x.source))
				case "type_binding":
					return types.Opaque(text)
				default:
					t.Args = append(t.Args, x.convert(a, ctx))
				}
			}
		}
		return t

	case "reference_type":
		elem := n.ChildByFieldName("type")
		if elem == nil {
			return types.Opaque(text)
		}
		t := types.Ref(lang.HasChildType(n, "mutable_specifier"), x.convert(elem, ctx))
		if lt := firstChildOfType(n, "lifetime"); lt != nil {
			t.Lifetimes = []string{lifetimeName(lt, x.source)}
		}
		return t

	case "pointer_type":
		elem := n.ChildByFieldName("type")
		if elem == nil {
			return types.Opaque(text)
		}
		return types.RawPtr(lang.HasChildType(n, "mutable_specifier"), x.convert(elem, ctx))

	case "array_type":
		elem := n.ChildByFieldName("element")
		if elem == nil {
			return types.Opaque(text)
		}
		e := x.convert(elem, ctx)
		length := n.ChildByFieldName("length")
		if length == nil {
			return types.Slice(e)
		}
		size, ok := arrayLen(lang.NodeText(length, x.source))
		if !ok {
			return types.Opaque(text)
		}
		return types.Array(e, size)

	case "tuple_type":
		var elems []types.Type
		for i := 0; i < int(n.NamedChildCount()); i++ {
			elems = append(elems, x.convert(n.NamedChild(i), ctx))
		}
		return types.Tuple(elems...)

	case "unit_type":
		return types.Unit()

	case "function_type":
		var params []types.Type
		if ps := n.ChildByFieldName("parameters"); ps != nil {
			for i := 0; i < int(ps.NamedChildCount()); i++ {
				p := ps.NamedChild(i)
				if p.Type() == "parameter" {
					p = p.ChildByFieldName("type")
				}
				if p != nil {
					params = append(params, x.convert(p, ctx))
				}
			}
		}
		var result *types.Type
		if r := n.ChildByFieldName("return_type"); r != nil {
			t := x.convert(r, ctx)
			result = &t
		}
		return types.Func(params, result)

	default:
		// dyn Trait, impl Trait, !, qualified paths and macros
		return types.Opaque(text)
	}
}

// absPath rewrites crate::, self:: and super:: prefixes into absolute
// module paths.
func (x *extractor) absPath(p, module string) string {
	p = strings.TrimPrefix(p, "::")
	switch {
	case p == "crate" || strings.HasPrefix(p, "crate::"):
		return x.crate + strings.TrimPrefix(p, "crate")
	case strings.HasPrefix(p, "self::"):
		return module + strings.TrimPrefix(p, "self")
	}
	for strings.HasPrefix(p, "super::") {
		p = strings.TrimPrefix(p, "super::")
		if i := strings.LastIndex(module, "::"); i >= 0 {
			module = module[:i]
		}
		if !strings.HasPrefix(p, "super::") {
			return module + "::" + p
		}
	}
	return p
}

// pathName returns the path of a type node without generic arguments.
func pathName(n *sitter.Node, source []byte) string {
	if n.Type() == "generic_type" {
		if base := n.ChildByFieldName("type"); base != nil {
			n = base
		}
	}
	return strings.ReplaceAll(lang.NodeText(n, source), " ", "")
}

func firstChildOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

func lifetimeName(n *sitter.Node, source []byte) string {
	return strings.TrimPrefix(lang.NodeText(n, source), "'")
}

// arrayLen parses an integer literal array length such as 16 or 4usize.
func arrayLen(s string) (int, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 || (s[end:] != "" && s[end:] != "usize") {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	return n, err == nil
}

func lastSegment(p string) string {
	if i := strings.LastIndex(p, "::"); i >= 0 {
		return p[i+2:]
	}
	return p
}
