// Package emit renders selected call sequences as AFL fuzz harnesses for
// the crate under test.
package emit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/phobologic/fuzzgraph/internal/calltype"
	"github.com/phobologic/fuzzgraph/internal/fuzzable"
	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/sequence"
)

var harnessSrc = template.Must(template.New("harness").Parse(`// Generated by fuzzgraph. Do not edit.
// Sequence: {{.Chain}}
#[macro_use]
extern crate afl;
extern crate {{.Crate}};
{{- range .Traits}}
use {{.}};
{{- end}}
{{range .Helpers}}
{{.}}
{{end}}
fn main() {
    fuzz!(|data: &[u8]| {
        if data.len() < {{.MinLen}} {
            return;
        }
{{- if .Dynamic}}
        let dynamic_length = (data.len() - {{.Fixed}}) / {{.Dynamic}};
{{- end}}
{{- range .Params}}
        {{.}}
{{- end}}
{{- if .Unsafe}}
        unsafe {
{{- range .Body}}
            {{.}}
{{- end}}
        }
{{- else}}
{{- range .Body}}
        {{.}}
{{- end}}
{{- end}}
    });
}
`))

type harnessData struct {
	Crate   string
	Chain   string
	Traits  []string
	Helpers []string
	MinLen  int
	Fixed   int
	Dynamic int
	Params  []string
	Unsafe  bool
	Body    []string
}

// Emitter renders sequences whose calls index into Functions.
type Emitter struct {
	crate     string
	functions []model.Function
}

// New returns an Emitter for sequences built over functions.
func New(crate string, functions []model.Function) *Emitter {
	return &Emitter{crate: crate, functions: functions}
}

// FileName is the harness file name for the i-th selected sequence.
func (e *Emitter) FileName(i int) string {
	return fmt.Sprintf("test_%s%05d.rs", e.crate, i)
}

// Render returns the Rust source of a harness that runs seq.
func (e *Emitter) Render(seq *sequence.Sequence) (string, error) {
	layout, err := seq.Layout()
	if err != nil {
		return "", fmt.Errorf("planning input layout: %w", err)
	}

	helpers := make(helperSet)
	d := harnessData{
		Crate:   e.crate,
		Traits:  seq.Traits(),
		MinLen:  layout.MinLen,
		Fixed:   layout.Fixed,
		Dynamic: layout.Dynamic,
		Unsafe:  seq.Unsafe(),
	}

	// Decoded str and slice values borrow the input, so a slot that is
	// mutably borrowed gets its own copy and is passed as a full-range slice.
	owned := make(map[int]bool)
	for _, p := range layout.Parts {
		decl := "let "
		expr := decodeExpr(p, layout, helpers)
		if seq.FuzzableNeedsMut(p.Slot) {
			decl = "let mut "
			if p.Dynamic {
				expr = ownedExpr(p.Type, expr)
				owned[p.Slot] = true
			}
		}
		d.Params = append(d.Params, fmt.Sprintf("%s%s = %s;", decl, paramName(p.Slot), expr))
	}

	names := make([]string, len(seq.Calls))
	for i, call := range seq.Calls {
		if call.Func < 0 || call.Func >= len(e.functions) {
			return "", fmt.Errorf("call %d: function %d out of range", i, call.Func)
		}
		fn := &e.functions[call.Func]
		names[i] = fn.Name
		if fn.Unsafe {
			d.Unsafe = true
		}

		args := make([]string, len(call.Params))
		for k, p := range call.Params {
			noteUnwraps(p.Call, helpers)
			if p.Source == sequence.FromFuzzer {
				v := paramName(p.Index)
				if owned[p.Index] {
					v += "[..]"
				}
				args[k] = p.Call.Render(v)
				continue
			}
			v := localName(p.Index)
			steps := p.Call.SplitAtUnwrap()
			for j, step := range steps[:len(steps)-1] {
				tmp := fmt.Sprintf("_unwrap%d_%d_%d", i, k, j)
				decl := "let "
				if j == len(steps)-2 && steps[len(steps)-1].NeedsMut() {
					decl = "let mut "
				}
				d.Body = append(d.Body, fmt.Sprintf("%s%s = %s;", decl, tmp, step.Render(v)))
				v = tmp
			}
			args[k] = steps[len(steps)-1].Render(v)
		}

		expr := fmt.Sprintf("%s(%s)", fn.Name, strings.Join(args, ", "))
		switch {
		case fn.Output == nil:
			d.Body = append(d.Body, expr+";")
		case seq.CallNeedsMut(i):
			d.Body = append(d.Body, fmt.Sprintf("let mut %s = %s;", localName(i), expr))
		default:
			d.Body = append(d.Body, fmt.Sprintf("let %s = %s;", localName(i), expr))
		}
	}
	d.Chain = strings.Join(names, " -> ")
	d.Helpers = helpers.sources()

	var b bytes.Buffer
	if err := harnessSrc.Execute(&b, d); err != nil {
		return "", fmt.Errorf("rendering harness: %w", err)
	}
	return b.String(), nil
}

// WriteAll renders every sequence into dir, replacing harnesses left over
// from an earlier run. It returns the written paths in sequence order.
func (e *Emitter) WriteAll(dir string, seqs []*sequence.Sequence) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	stale, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("test_%s[0-9]*.rs", e.crate)))
	if err != nil {
		return nil, err
	}
	for _, p := range stale {
		if err := os.Remove(p); err != nil {
			return nil, fmt.Errorf("removing stale harness: %w", err)
		}
	}

	paths := make([]string, 0, len(seqs))
	for i, seq := range seqs {
		src, err := e.Render(seq)
		if err != nil {
			return paths, fmt.Errorf("sequence %d: %w", i, err)
		}
		p := filepath.Join(dir, e.FileName(i))
		if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
			return paths, fmt.Errorf("writing %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func paramName(slot int) string { return fmt.Sprintf("_param%d", slot) }

func localName(call int) string { return fmt.Sprintf("_local%d", call) }

// decodeExpr reads one part. Fixed parts use constant offsets; dynamic
// parts split the rest of the buffer, the last one taking the remainder.
func decodeExpr(p fuzzable.Part, l fuzzable.Layout, helpers helperSet) string {
	if !p.Dynamic {
		return fixedExpr(p.Type, p.Offset, helpers)
	}
	start := dynOffset(l.Fixed, p.DynIndex)
	end := "data.len()"
	if p.DynIndex < l.Dynamic-1 {
		end = dynOffset(l.Fixed, p.DynIndex+1)
	}
	if p.Type.Kind == fuzzable.StrType {
		helpers.named(helperStr)
		return fmt.Sprintf("_to_str(data, %s, %s)", start, end)
	}
	helpers.named(helperSlice)
	return fmt.Sprintf("_to_slice::<%s>(data, %s, %s)", p.Type.Elem.RustType(), start, end)
}

func ownedExpr(t fuzzable.Type, expr string) string {
	if t.Kind == fuzzable.StrType {
		return expr + ".to_owned()"
	}
	return expr + ".to_vec()"
}

func dynOffset(fixed, i int) string {
	switch i {
	case 0:
		return fmt.Sprint(fixed)
	case 1:
		return fmt.Sprintf("%d + dynamic_length", fixed)
	default:
		return fmt.Sprintf("%d + %d * dynamic_length", fixed, i)
	}
}

func fixedExpr(t fuzzable.Type, off int, helpers helperSet) string {
	switch t.Kind {
	case fuzzable.PrimType:
		helpers.prim(t.Prim)
		return fmt.Sprintf("_to_%s(data, %d)", t.Prim, off)
	case fuzzable.ArrayType:
		size := t.Elem.MinSize()
		elems := make([]string, t.Len)
		for i := range elems {
			elems[i] = fixedExpr(*t.Elem, off+i*size, helpers)
		}
		return "[" + strings.Join(elems, ", ") + "]"
	case fuzzable.TupleType:
		elems := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = fixedExpr(e, off, helpers)
			off += e.MinSize()
		}
		if len(elems) == 1 {
			return "(" + elems[0] + ",)"
		}
		return "(" + strings.Join(elems, ", ") + ")"
	default:
		panic(fmt.Sprintf("emit: %s is not fixed-size", t))
	}
}

func noteUnwraps(c calltype.CallType, helpers helperSet) {
	for cur := &c; cur != nil; cur = cur.Inner {
		switch cur.Kind {
		case calltype.UnwrapOption:
			helpers.named(helperUnwrapOption)
		case calltype.UnwrapResult:
			helpers.named(helperUnwrapResult)
		}
	}
}
