// Package model defines core data structures for fuzzgraph.
package model

import (
	"strings"

	"github.com/phobologic/fuzzgraph/internal/calltype"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// Function is one callable item of the target crate's public API.
type Function struct {
	// Name is the fully-qualified path, e.g. "mycrate::codec::Decoder::new".
	// It is the unique key of a function.
	Name string `cbor:"name"`

	Params []types.Type `cbor:"params"`

	// Output is nil for functions returning nothing or the unit type.
	Output *types.Type `cbor:"output,omitempty"`

	Unsafe bool `cbor:"unsafe,omitempty"`
	Public bool `cbor:"public,omitempty"`

	// Trait is the path of the trait an impl method comes from, if any.
	Trait string `cbor:"trait,omitempty"`

	// Generics lists type parameter names in declaration order.
	Generics []string `cbor:"generics,omitempty"`

	// Substitutions maps generic names to concrete types. Declared defaults
	// are recorded here by the extractor; the graph fills in placeholders.
	Substitutions map[string]types.Type `cbor:"subst,omitempty"`

	File string `cbor:"file,omitempty"`
	Line int    `cbor:"line,omitempty"`
}

// IsGeneric reports whether the function declares type parameters.
func (f *Function) IsGeneric() bool {
	return len(f.Generics) > 0
}

// Module returns the name minus its last segment. For methods this is the
// path of the self type.
func (f *Function) Module() string {
	if i := strings.LastIndex(f.Name, "::"); i >= 0 {
		return f.Name[:i]
	}
	return ""
}

// Signature renders the function as a Rust signature line.
func (f *Function) Signature() string {
	var b strings.Builder
	if f.Unsafe {
		b.WriteString("unsafe ")
	}
	b.WriteString("fn ")
	b.WriteString(f.Name)
	if len(f.Generics) > 0 {
		b.WriteString("<" + strings.Join(f.Generics, ", ") + ">")
	}
	b.WriteString("(")
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(")")
	if f.Output != nil {
		b.WriteString(" -> " + f.Output.String())
	}
	return b.String()
}

// Dependency is an edge of the API graph: the output of Producer reaches
// parameter Param of Consumer through Call.
type Dependency struct {
	Producer int
	Consumer int
	Param    int
	Call     calltype.CallType
}

// Coverage summarizes how much of the graph a set of sequences touches.
type Coverage struct {
	CoveredFunctions int
	ValidFunctions   int
	CoveredEdges     int
	TotalEdges       int
	Sequences        int
	TotalCalls       int
}

// NodeRatio is the fraction of valid functions covered.
func (c Coverage) NodeRatio() float64 {
	if c.ValidFunctions == 0 {
		return 0
	}
	return float64(c.CoveredFunctions) / float64(c.ValidFunctions)
}

// EdgeRatio is the fraction of dependency edges covered.
func (c Coverage) EdgeRatio() float64 {
	if c.TotalEdges == 0 {
		return 0
	}
	return float64(c.CoveredEdges) / float64(c.TotalEdges)
}

// FunctionReport is one row of the functions table.
type FunctionReport struct {
	Name      string
	Signature string
	Start     bool
	End       bool
	Covered   bool
	Rank      float64
}

// SequenceReport is one chosen sequence, rendered for output.
type SequenceReport struct {
	Calls     []string
	Fuzzables []string
	MinLen    int
	Unsafe    bool
	Harness   string
}

// Report is the complete generation result, ready for serialization.
type Report struct {
	Crate     string
	Strategy  string
	Functions []FunctionReport
	Edges     []EdgeReport
	Sequences []SequenceReport
	Coverage  Coverage
}

// EdgeReport is one dependency edge rendered by function name.
type EdgeReport struct {
	Producer string
	Consumer string
	Param    int
	Call     string
}
