// Package deadcode finds calls in a sequence whose only observable result
// is a return value that nothing reads.
package deadcode

import (
	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/sequence"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// Analyzer judges calls against the function table they index into.
type Analyzer struct {
	functions []model.Function
}

// New returns an Analyzer over functions.
func New(functions []model.Function) *Analyzer {
	return &Analyzer{functions: functions}
}

// Dead reports, per call of seq, whether the call is dead: it returns a
// value, that value is never passed to a later call, and none of its
// parameters is a mutable reference or pointer through which it could
// change state the harness observes.
func (a *Analyzer) Dead(seq *sequence.Sequence) []bool {
	dead := make([]bool, seq.Len())
	for i, c := range seq.Calls {
		f := &a.functions[c.Func]
		if f.Output == nil || f.Output.IsUnit() {
			continue
		}
		if seq.IsUsed(i) || mutates(f) {
			continue
		}
		dead[i] = true
	}
	return dead
}

// DeadExceptLast reports whether any call other than the last is dead. The
// last call's value is what a harness inspects, so it never counts.
func (a *Analyzer) DeadExceptLast(seq *sequence.Sequence) bool {
	dead := a.Dead(seq)
	for i := 0; i < len(dead)-1; i++ {
		if dead[i] {
			return true
		}
	}
	return false
}

func mutates(f *model.Function) bool {
	for _, p := range f.Params {
		if (p.Kind == types.KindRef || p.Kind == types.KindRawPtr) && p.Mut {
			return true
		}
	}
	return false
}
