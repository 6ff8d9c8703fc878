package types

import "strings"

// Wrapper identifies an option- or result-like type that needs unwrapping.
type Wrapper int

const (
	NoWrapper Wrapper = iota
	OptionWrapper
	ResultWrapper
)

func (w Wrapper) String() string {
	switch w {
	case OptionWrapper:
		return "option"
	case ResultWrapper:
		return "result"
	default:
		return "none"
	}
}

// Prelude classifies wrapper types. Unwrap returns the wrapper kind and the
// payload type, or NoWrapper and t unchanged.
type Prelude interface {
	Unwrap(t Type) (Wrapper, Type)
}

// StdPrelude recognizes the standard Option and Result types, including
// module-local Result aliases such as io::Result<T>.
type StdPrelude struct{}

var optionPaths = map[string]struct{}{
	"Option":               {},
	"std::option::Option":  {},
	"core::option::Option": {},
}

func (StdPrelude) Unwrap(t Type) (Wrapper, Type) {
	if t.Kind != KindPath || len(t.Args) == 0 {
		return NoWrapper, t
	}
	if _, ok := optionPaths[t.Name]; ok && len(t.Args) == 1 {
		return OptionWrapper, t.Args[0]
	}
	last := t.Name
	if i := strings.LastIndex(last, "::"); i >= 0 {
		last = last[i+2:]
	}
	if last == "Result" && len(t.Args) <= 2 {
		return ResultWrapper, t.Args[0]
	}
	return NoWrapper, t
}

// FinalType strips every wrapper layer from t.
func FinalType(p Prelude, t Type) Type {
	for {
		w, inner := p.Unwrap(t)
		if w == NoWrapper {
			return t
		}
		t = inner
	}
}
