package fuzzable

import "fmt"

// Part locates one fuzzable slot in the input buffer. Fixed parts sit at a
// constant Offset in the leading fixed region. Dynamic parts share the
// remainder evenly in DynIndex order, the last one running to the end of
// the buffer.
type Part struct {
	Slot     int
	Type     Type
	Dynamic  bool
	Offset   int
	DynIndex int
}

// Layout is the byte plan for every fuzzable slot of a sequence.
type Layout struct {
	Parts   []Part
	Fixed   int // bytes in the fixed region
	Dynamic int // number of dynamic parts
	MinLen  int // shortest buffer that decodes every slot
}

// Range is a half-open byte interval.
type Range struct {
	Start, End int
}

// Plan lays out slots in order. Every slot must be either fixed-size or a
// single top-level str or slice.
func Plan(slots []Type) (Layout, error) {
	var l Layout
	for i, s := range slots {
		if s.Kind == Invalid {
			return Layout{}, fmt.Errorf("slot %d: not decodable", i)
		}
		if s.HasNestedDynamic() {
			return Layout{}, fmt.Errorf("slot %d: %s has nested variable-length parts", i, s)
		}
		p := Part{Slot: i, Type: s}
		if s.IsFixedSize() {
			p.Offset = l.Fixed
			l.Fixed += s.MinSize()
		} else {
			p.Dynamic = true
			p.DynIndex = l.Dynamic
			l.Dynamic++
		}
		l.MinLen += s.MinSize()
		l.Parts = append(l.Parts, p)
	}
	return l, nil
}

// DynamicLength is the share of an n-byte buffer given to each dynamic
// part before the last one.
func (l Layout) DynamicLength(n int) int {
	if l.Dynamic == 0 {
		return 0
	}
	return (n - l.Fixed) / l.Dynamic
}

// Ranges resolves every part against a buffer of n bytes.
func (l Layout) Ranges(n int) ([]Range, error) {
	if n < l.MinLen {
		return nil, fmt.Errorf("buffer of %d bytes is shorter than minimum %d", n, l.MinLen)
	}
	dyn := l.DynamicLength(n)
	out := make([]Range, len(l.Parts))
	for i, p := range l.Parts {
		if !p.Dynamic {
			out[i] = Range{Start: p.Offset, End: p.Offset + p.Type.MinSize()}
			continue
		}
		start := l.Fixed + p.DynIndex*dyn
		end := start + dyn
		if p.DynIndex == l.Dynamic-1 {
			end = n
		}
		out[i] = Range{Start: start, End: end}
	}
	return out, nil
}
