// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/fuzzgraph/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a generation report into TOON format.
func Encode(r *model.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("crate: %s", encodeValue(r.Crate)))
	parts = append(parts, fmt.Sprintf("strategy: %s", encodeValue(r.Strategy)))

	c := r.Coverage
	parts = append(parts, "coverage:")
	parts = append(parts, fmt.Sprintf("  functions: %d", c.CoveredFunctions))
	parts = append(parts, fmt.Sprintf("  valid_functions: %d", c.ValidFunctions))
	parts = append(parts, fmt.Sprintf("  node_ratio: %.4f", c.NodeRatio()))
	parts = append(parts, fmt.Sprintf("  edges: %d", c.CoveredEdges))
	parts = append(parts, fmt.Sprintf("  total_edges: %d", c.TotalEdges))
	parts = append(parts, fmt.Sprintf("  edge_ratio: %.4f", c.EdgeRatio()))
	parts = append(parts, fmt.Sprintf("  sequences: %d", c.Sequences))
	parts = append(parts, fmt.Sprintf("  calls: %d", c.TotalCalls))

	var fnRows [][]any
	for i := range r.Functions {
		f := &r.Functions[i]
		fnRows = append(fnRows, []any{
			f.Name,
			f.Signature,
			f.Start,
			f.End,
			f.Covered,
			rank(f.Rank),
		})
	}
	parts = append(parts, formatTabular("functions", []string{"name", "signature", "start", "end", "covered", "rank"}, fnRows))

	var edgeRows [][]any
	for i := range r.Edges {
		e := &r.Edges[i]
		edgeRows = append(edgeRows, []any{e.Producer, e.Consumer, e.Param, e.Call})
	}
	parts = append(parts, formatTabular("edges", []string{"producer", "consumer", "param", "call"}, edgeRows))

	var seqRows [][]any
	for i := range r.Sequences {
		s := &r.Sequences[i]
		seqRows = append(seqRows, []any{
			i,
			strings.Join(s.Calls, " -> "),
			strings.Join(s.Fuzzables, " "),
			s.MinLen,
			s.Unsafe,
			s.Harness,
		})
	}
	parts = append(parts, formatTabular("sequences", []string{"id", "calls", "fuzzables", "min_len", "unsafe", "harness"}, seqRows))

	return strings.Join(parts, "\n")
}

// rank is printed with fixed precision.
type rank float64

// formatTabular writes a uniform array. Strings are quoted as needed;
// numbers and booleans are written bare.
func formatTabular(name string, columns []string, rows [][]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			switch v := cell.(type) {
			case string:
				encoded[i] = encodeValue(v)
			case rank:
				encoded[i] = fmt.Sprintf("%.4f", float64(v))
			case bool:
				encoded[i] = strconv.FormatBool(v)
			case int:
				encoded[i] = strconv.Itoa(v)
			default:
				encoded[i] = encodeValue(fmt.Sprint(v))
			}
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
