package emit

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/phobologic/fuzzgraph/internal/types"
)

// Helper names other than the per-primitive _to_<prim> decoders.
const (
	helperStr          = "_to_str"
	helperSlice        = "_to_slice"
	helperUnwrapOption = "_unwrap_option"
	helperUnwrapResult = "_unwrap_result"
)

// Invalid input ends the process with status 0 so the fuzzer discards it
// instead of recording a crash.
var fixedHelpers = map[string]string{
	"_to_u8": `fn _to_u8(data: &[u8], index: usize) -> u8 {
    data[index]
}`,
	"_to_i8": `fn _to_i8(data: &[u8], index: usize) -> i8 {
    data[index] as i8
}`,
	"_to_bool": `fn _to_bool(data: &[u8], index: usize) -> bool {
    data[index] & 1 == 1
}`,
	"_to_char": `fn _to_char(data: &[u8], index: usize) -> char {
    let mut bytes = [0u8; 4];
    bytes.copy_from_slice(&data[index..index + 4]);
    match char::from_u32(u32::from_be_bytes(bytes)) {
        Some(c) => c,
        None => std::process::exit(0),
    }
}`,
	helperStr: `fn _to_str(data: &[u8], start: usize, end: usize) -> &str {
    match std::str::from_utf8(&data[start..end]) {
        Ok(s) => s,
        Err(_) => std::process::exit(0),
    }
}`,
	helperSlice: `fn _to_slice<T>(data: &[u8], start: usize, end: usize) -> &[T] {
    let (_, items, _) = unsafe { data[start..end].align_to::<T>() };
    items
}`,
	helperUnwrapOption: `fn _unwrap_option<T>(opt: Option<T>) -> T {
    match opt {
        Some(v) => v,
        None => std::process::exit(0),
    }
}`,
	helperUnwrapResult: `fn _unwrap_result<T, E>(res: Result<T, E>) -> T {
    match res {
        Ok(v) => v,
        Err(_) => std::process::exit(0),
    }
}`,
}

// numericHelper decodes a big-endian integer or float. usize and isize
// are always read as 8 bytes so harness inputs are portable.
var numericHelper = template.Must(template.New("numeric").Parse(
	`fn _to_{{.Name}}(data: &[u8], index: usize) -> {{.Name}} {
    let mut bytes = [0u8; {{.Size}}];
    bytes.copy_from_slice(&data[index..index + {{.Size}}]);
    {{.Wire}}::from_be_bytes(bytes){{if ne .Wire .Name}} as {{.Name}}{{end}}
}`))

func primHelper(p types.Prim) string {
	name := "_to_" + p.String()
	if src, ok := fixedHelpers[name]; ok {
		return src
	}
	data := struct {
		Name string
		Wire string
		Size int
	}{Name: p.String(), Wire: p.String()}
	switch p {
	case types.U16, types.I16:
		data.Size = 2
	case types.U32, types.I32, types.F32:
		data.Size = 4
	case types.U64, types.I64, types.F64:
		data.Size = 8
	case types.U128, types.I128:
		data.Size = 16
	case types.Usize:
		data.Size, data.Wire = 8, "u64"
	case types.Isize:
		data.Size, data.Wire = 8, "i64"
	default:
		panic(fmt.Sprintf("emit: no decoder for %v", p))
	}
	var b bytes.Buffer
	if err := numericHelper.Execute(&b, data); err != nil {
		panic(err)
	}
	return b.String()
}

// helperSet collects the helpers a harness needs.
type helperSet map[string]types.Prim

func (h helperSet) prim(p types.Prim) { h["_to_"+p.String()] = p }

func (h helperSet) named(name string) { h[name] = 0 }

// sources returns the helper definitions sorted by name.
func (h helperSet) sources() []string {
	names := make([]string, 0, len(h))
	for n := range h {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, n := range names {
		if p := h[n]; p != 0 {
			out[i] = primHelper(p)
		} else {
			out[i] = fixedHelpers[n]
		}
	}
	return out
}
