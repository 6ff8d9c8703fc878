package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

func init() {
	Languages["rust"] = &Language{
		Name:       "rust",
		Extensions: []string{".rs"},
		lang:       rust.GetLanguage(),
	}
}

// IsPub reports whether an item node carries a bare `pub` modifier.
// Restricted forms such as pub(crate) do not make an item reachable from
// other crates.
func IsPub(item *sitter.Node, source []byte) bool {
	for i := 0; i < int(item.NamedChildCount()); i++ {
		child := item.NamedChild(i)
		if child.Type() == "visibility_modifier" {
			return CollapseWhitespace(NodeText(child, source)) == "pub"
		}
	}
	return false
}

// HasModifier reports whether a function_item or impl_item is marked with
// keyword (unsafe, async, const, extern).
func HasModifier(item *sitter.Node, source []byte, keyword string) bool {
	for i := 0; i < int(item.ChildCount()); i++ {
		child := item.Child(i)
		switch child.Type() {
		case keyword:
			return true
		case "function_modifiers":
			for j := 0; j < int(child.ChildCount()); j++ {
				if child.Child(j).Type() == keyword {
					return true
				}
			}
		case "extern_modifier":
			if keyword == "extern" {
				return true
			}
		}
	}
	return false
}

// HasChildType reports whether node has a direct child of type typ.
func HasChildType(node *sitter.Node, typ string) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

// IsTestOnly reports whether item is preceded by a #[cfg(test)] or #[test]
// attribute.
func IsTestOnly(item *sitter.Node, source []byte) bool {
	for prev := item.PrevNamedSibling(); prev != nil && prev.Type() == "attribute_item"; prev = prev.PrevNamedSibling() {
		text := strings.ReplaceAll(NodeText(prev, source), " ", "")
		if strings.Contains(text, "cfg(test)") || text == "#[test]" {
			return true
		}
	}
	return false
}
