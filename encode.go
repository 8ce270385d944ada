package octave

import (
	"log"
	"log/slog"
	"math"
	"os"
	"reflect"
	"slices"
	"sort"
	"unicode/utf16"

	"github.com/matgo/octave/matfile"
)

// CodecOptions configures the value codec. The zero value is ready to
// use: integers convert to float64 on encode, 1-D slices become row
// vectors, output is native-endian, and diagnostics go to
// slog.Default().
type CodecOptions struct {
	// KeepInts disables the default integer-to-float conversion, so
	// integer arrays cross the boundary with their width and
	// signedness intact.
	KeepInts bool
	// OneDColumn writes 1-D numeric slices as column vectors instead
	// of row vectors.
	OneDColumn bool
	// Logger receives pruning diagnostics.
	Logger *slog.Logger
	// Order is the byte order of encoded output.
	Order matfile.ByteOrder
}

func (o *CodecOptions) logger() *slog.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *CodecOptions) order() matfile.ByteOrder {
	if o != nil && o.Order != nil {
		return o.Order
	}
	return matfile.NativeEndian
}

// A Var is one named top-level value in an interchange file.
type Var struct {
	Name  string
	Value any
}

// fieldPrefix reserves a field-name namespace for the protocol's
// marker records (sentinel and object handles). User struct fields
// may not use it.
const fieldPrefix = "oct__"

const (
	sentinelField = fieldPrefix + "sentinel"
	objectField   = fieldPrefix + "object"
	classField    = fieldPrefix + "class"
)

// maxNesting bounds value recursion. The record graph is required to
// be a tree; hitting the bound means a cycle or absurd nesting.
const maxNesting = 64

// maxFieldName is the stored width of struct field names, including
// the terminating null.
const maxFieldName = 64

// Marshal encodes the named values as a complete interchange file.
func Marshal(vars []Var, opts *CodecOptions) ([]byte, error) {
	enc := &matfile.Encoder{Order: opts.order()}
	enc.Header("MATLAB 5.0 MAT-file, written by matgo/octave")
	for _, v := range vars {
		if v.Name == "" {
			return nil, encodeErr(nil, "empty variable name")
		}
		norm, err := normalize(v.Value, opts, 0)
		if err != nil {
			return nil, err
		}
		if err := encodeMatrix(enc, v.Name, norm); err != nil {
			return nil, err
		}
	}
	return enc.Out, nil
}

// WriteFile encodes the named values to a file on path.
func WriteFile(path string, vars []Var, opts *CodecOptions) error {
	bs, err := Marshal(vars, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bs, 0600)
}

// normalize converts an arbitrary supported Go value into the
// canonical set encodeMatrix understands: *Array, string, TextGrid,
// *Cell, *Struct, *StructArray, *Sparse, *ObjectHandle and Sentinel.
func normalize(v any, opts *CodecOptions, depth int) (any, error) {
	if depth > maxNesting {
		return nil, encodeErr(reflect.TypeOf(v), "nesting deeper than %d levels (cyclic value?)", maxNesting)
	}
	switch v := v.(type) {
	case nil:
		// The engine has no null; NaN is the conventional stand-in.
		return scalarArray(math.NaN()), nil
	case Sentinel, *ObjectHandle, TextGrid:
		return v, nil
	case Ref:
		return string(v), nil
	case bool:
		return &Array{Kind: Bool, Dims: []int{1, 1}, Data: []bool{v}}, nil
	case string:
		return v, nil
	case float64:
		return scalarArray(v), nil
	case float32:
		return &Array{Kind: Float32, Dims: []int{1, 1}, Data: []float32{v}}, nil
	case complex64:
		return normalize(complex128(v), opts, depth)
	case complex128:
		return &Array{
			Kind: Float64, Dims: []int{1, 1},
			Data: []float64{real(v)}, Imag: []float64{imag(v)},
		}, nil
	case int:
		return normalizeArray(&Array{Kind: Int64, Dims: []int{1, 1}, Data: []int64{int64(v)}}, opts)
	case int8:
		return normalizeArray(&Array{Kind: Int8, Dims: []int{1, 1}, Data: []int8{v}}, opts)
	case int16:
		return normalizeArray(&Array{Kind: Int16, Dims: []int{1, 1}, Data: []int16{v}}, opts)
	case int32:
		return normalizeArray(&Array{Kind: Int32, Dims: []int{1, 1}, Data: []int32{v}}, opts)
	case int64:
		return normalizeArray(&Array{Kind: Int64, Dims: []int{1, 1}, Data: []int64{v}}, opts)
	case uint8:
		return normalizeArray(&Array{Kind: Uint8, Dims: []int{1, 1}, Data: []uint8{v}}, opts)
	case uint16:
		return normalizeArray(&Array{Kind: Uint16, Dims: []int{1, 1}, Data: []uint16{v}}, opts)
	case uint32:
		return normalizeArray(&Array{Kind: Uint32, Dims: []int{1, 1}, Data: []uint32{v}}, opts)
	case uint64:
		return normalizeArray(&Array{Kind: Uint64, Dims: []int{1, 1}, Data: []uint64{v}}, opts)
	case *Array:
		return normalizeArray(v, opts)
	case *Sparse:
		return v, nil
	case *Cell:
		out := &Cell{Dims: v.Dims, Elems: make([]any, len(v.Elems))}
		for i, e := range v.Elems {
			ne, err := normalize(e, opts, depth+1)
			if err != nil {
				return nil, err
			}
			out.Elems[i] = ne
		}
		return out, nil
	case *Struct:
		return normalizeStruct(v, opts, depth)
	case *StructArray:
		elems := make([]*Struct, len(v.elems))
		for i, e := range v.elems {
			ne, err := normalizeStruct(e, opts, depth+1)
			if err != nil {
				return nil, err
			}
			elems[i] = ne
		}
		return &StructArray{Dims: v.Dims, names: v.names, elems: elems}, nil
	case []any:
		out := &Cell{Dims: []int{1, len(v)}, Elems: make([]any, len(v))}
		for i, e := range v {
			ne, err := normalize(e, opts, depth+1)
			if err != nil {
				return nil, err
			}
			out.Elems[i] = ne
		}
		return out, nil
	case []string:
		elems := make([]any, len(v))
		for i, s := range v {
			elems[i] = s
		}
		return &Cell{Dims: []int{1, len(v)}, Elems: elems}, nil
	case map[string]any:
		// Maps have no field order; sort keys for determinism.
		s := NewStruct()
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s.Set(k, v[k])
		}
		return normalizeStruct(s, opts, depth)
	}
	return normalizeReflect(reflect.ValueOf(v), opts, depth)
}

func scalarArray(v float64) *Array {
	return &Array{Kind: Float64, Dims: []int{1, 1}, Data: []float64{v}}
}

// normalizeArray validates an Array and applies the default
// integer-to-float conversion.
func normalizeArray(a *Array, opts *CodecOptions) (*Array, error) {
	data := reflect.ValueOf(a.Data)
	if a.Data == nil || data.Kind() != reflect.Slice {
		return nil, encodeErr(reflect.TypeOf(a.Data), "Array.Data must be a slice")
	}
	if data.Len() != a.Size() {
		return nil, encodeErr(data.Type(), "Array data has %d elements, shape %v wants %d", data.Len(), a.Dims, a.Size())
	}
	dims := a.Dims
	if len(dims) == 0 {
		dims = []int{1, 1}
	} else if len(dims) == 1 {
		if opts != nil && opts.OneDColumn {
			dims = []int{dims[0], 1}
		} else {
			dims = []int{1, dims[0]}
		}
	}
	if !a.Kind.integer() || (opts != nil && opts.KeepInts) {
		if slices.Equal(dims, a.Dims) {
			return a, nil
		}
		return &Array{Kind: a.Kind, Dims: dims, Data: a.Data, Imag: a.Imag}, nil
	}
	// Default conversion: integer content becomes float64 on the way
	// out. Width preservation is opt-in via KeepInts.
	fl := make([]float64, data.Len())
	for i := range fl {
		switch data.Index(i).Kind() {
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fl[i] = float64(data.Index(i).Uint())
		default:
			fl[i] = float64(data.Index(i).Int())
		}
	}
	return &Array{Kind: Float64, Dims: dims, Data: fl}, nil
}

func normalizeStruct(s *Struct, opts *CodecOptions, depth int) (*Struct, error) {
	out := NewStruct()
	for name, v := range s.Fields() {
		if err := checkFieldName(name); err != nil {
			return nil, err
		}
		nv, err := normalize(v, opts, depth+1)
		if err != nil {
			return nil, err
		}
		out.Set(name, nv)
	}
	return out, nil
}

func checkFieldName(name string) error {
	if name == "" {
		return encodeErr(nil, "empty struct field name")
	}
	if len(name) >= maxFieldName {
		return encodeErr(nil, "struct field name %q longer than %d bytes", name, maxFieldName-1)
	}
	if len(name) >= len(fieldPrefix) && name[:len(fieldPrefix)] == fieldPrefix {
		return encodeErr(nil, "struct field name %q uses the reserved %q prefix", name, fieldPrefix)
	}
	return nil
}

// normalizeReflect handles the Go-native conveniences: numeric
// slices, uniform nested slices, and tagged structs.
func normalizeReflect(rv reflect.Value, opts *CodecOptions, depth int) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return normalize(nil, opts, depth)
		}
		return normalize(rv.Elem().Interface(), opts, depth+1)
	case reflect.Slice, reflect.Array:
		return normalizeSlice(rv, opts)
	case reflect.Struct:
		s := NewStruct()
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("octave"); ok {
				if tag == "-" {
					continue
				}
				name = tag
			}
			s.Set(name, rv.Field(i).Interface())
		}
		return normalizeStruct(s, opts, depth)
	case reflect.Map:
		return nil, encodeErr(rv.Type(), "map keys have no order; use map[string]any or *Struct")
	}
	return nil, encodeErr(rv.Type(), "no known mapping")
}

// normalizeSlice converts a possibly nested numeric slice into an
// Array, inferring the shape from the nesting and requiring it to be
// rectangular.
func normalizeSlice(rv reflect.Value, opts *CodecOptions) (any, error) {
	dims, elem, err := sliceShape(rv)
	if err != nil {
		return nil, err
	}
	kind, ok := goKind(elem)
	if !ok {
		return nil, encodeErr(rv.Type(), "slice element type has no engine mapping")
	}
	flat := reflect.MakeSlice(reflect.SliceOf(elem), 0, 0)
	flat, err = flatten(rv, len(dims), flat)
	if err != nil {
		return nil, err
	}
	if elem.Kind() == reflect.Complex128 || elem.Kind() == reflect.Complex64 {
		re := make([]float64, flat.Len())
		im := make([]float64, flat.Len())
		for i := range re {
			c := flat.Index(i).Complex()
			re[i], im[i] = real(c), imag(c)
		}
		return normalizeArray(&Array{Kind: Float64, Dims: dims, Data: re, Imag: im}, opts)
	}
	return normalizeArray(&Array{Kind: kind, Dims: dims, Data: flat.Interface()}, opts)
}

func goKind(t reflect.Type) (Kind, bool) {
	switch t.Kind() {
	case reflect.Float64:
		return Float64, true
	case reflect.Float32:
		return Float32, true
	case reflect.Int8:
		return Int8, true
	case reflect.Int16:
		return Int16, true
	case reflect.Int32:
		return Int32, true
	case reflect.Int64, reflect.Int:
		return Int64, true
	case reflect.Uint8:
		return Uint8, true
	case reflect.Uint16:
		return Uint16, true
	case reflect.Uint32:
		return Uint32, true
	case reflect.Uint64:
		return Uint64, true
	case reflect.Bool:
		return Bool, true
	case reflect.Complex64, reflect.Complex128:
		return Float64, true
	}
	return 0, false
}

// sliceShape walks nested slice types down to a non-slice element,
// returning the rectangular shape.
func sliceShape(rv reflect.Value) ([]int, reflect.Type, error) {
	var dims []int
	t := rv.Type()
	cur := rv
	for t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		dims = append(dims, cur.Len())
		t = t.Elem()
		if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
			break
		}
		if cur.Len() == 0 {
			return nil, nil, encodeErr(rv.Type(), "cannot infer shape of empty nested slice")
		}
		cur = cur.Index(0)
	}
	if t.Kind() == reflect.Int {
		// Go's int is platform sized; treat as int64.
		t = reflect.TypeFor[int64]()
	}
	return dims, t, nil
}

// flatten appends the elements of a nested slice in row-major order,
// verifying every level is rectangular.
func flatten(rv reflect.Value, levels int, out reflect.Value) (reflect.Value, error) {
	if levels == 1 {
		for i := 0; i < rv.Len(); i++ {
			e := rv.Index(i)
			if e.Kind() == reflect.Int {
				out = reflect.Append(out, reflect.ValueOf(e.Int()))
				continue
			}
			out = reflect.Append(out, e)
		}
		return out, nil
	}
	want := -1
	for i := 0; i < rv.Len(); i++ {
		row := rv.Index(i)
		if want == -1 {
			want = row.Len()
		} else if row.Len() != want {
			return out, encodeErr(rv.Type(), "ragged nested slice: row %d has %d elements, want %d", i, row.Len(), want)
		}
		var err error
		out, err = flatten(row, levels-1, out)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// encodeMatrix writes one canonical value as a complete miMATRIX
// element.
func encodeMatrix(e *matfile.Encoder, name string, v any) error {
	debugEncoder("encodeMatrix(%q, %T)", name, v)
	switch v := v.(type) {
	case *Array:
		return encodeArray(e, name, v)
	case string:
		return encodeChar(e, name, [][]uint16{utf16.Encode([]rune(v))})
	case TextGrid:
		rows := make([][]uint16, len(v))
		width := -1
		for i, s := range v {
			rows[i] = utf16.Encode([]rune(s))
			if width == -1 {
				width = len(rows[i])
			} else if len(rows[i]) != width {
				return encodeErr(reflect.TypeOf(v), "text grid rows have unequal widths")
			}
		}
		return encodeChar(e, name, rows)
	case *Cell:
		return encodeCell(e, name, v)
	case *Struct:
		return encodeStruct(e, name, []int{1, 1}, v.Names(), []*Struct{v})
	case *StructArray:
		return encodeStruct(e, name, v.Dims, v.names, v.elems)
	case *Sparse:
		return encodeSparse(e, name, v)
	case *ObjectHandle:
		m := &Struct{
			names:  []string{objectField, classField},
			fields: map[string]any{objectField: v.Name, classField: v.Class},
		}
		return encodeStruct(e, name, []int{1, 1}, m.names, []*Struct{m})
	case Sentinel:
		m := &Struct{
			names:  []string{sentinelField},
			fields: map[string]any{sentinelField: &Array{Kind: Float64, Dims: []int{0, 0}, Data: []float64{}}},
		}
		return encodeStruct(e, name, []int{1, 1}, m.names, []*Struct{m})
	}
	return encodeErr(reflect.TypeOf(v), "no known mapping")
}

func encodeArray(e *matfile.Encoder, name string, a *Array) error {
	var flags uint16
	if a.Kind == Bool {
		flags |= matfile.FlagLogical
	}
	if a.Imag != nil {
		flags |= matfile.FlagComplex
	}
	mark := e.BeginMatrix()
	e.ArrayFlags(kindToClass[a.Kind], flags, 0)
	e.Dimensions(a.Dims)
	e.Name(name)
	perm := colMajorPerm(a.Dims)
	re, err := numericPayload(e.Order, a.Kind, a.Data, perm)
	if err != nil {
		return err
	}
	e.Element(kindToType[a.Kind], re)
	if a.Imag != nil {
		im, err := numericPayload(e.Order, a.Kind, a.Imag, perm)
		if err != nil {
			return err
		}
		e.Element(kindToType[a.Kind], im)
	}
	e.EndMatrix(mark)
	return nil
}

// numericPayload serializes one numeric slice in column-major order.
func numericPayload(ord matfile.ByteOrder, kind Kind, data any, perm []int) ([]byte, error) {
	var out []byte
	switch d := data.(type) {
	case []float64:
		for _, i := range perm {
			out = ord.AppendUint64(out, math.Float64bits(d[i]))
		}
	case []float32:
		for _, i := range perm {
			out = ord.AppendUint32(out, math.Float32bits(d[i]))
		}
	case []int8:
		for _, i := range perm {
			out = append(out, byte(d[i]))
		}
	case []int16:
		for _, i := range perm {
			out = ord.AppendUint16(out, uint16(d[i]))
		}
	case []int32:
		for _, i := range perm {
			out = ord.AppendUint32(out, uint32(d[i]))
		}
	case []int64:
		for _, i := range perm {
			out = ord.AppendUint64(out, uint64(d[i]))
		}
	case []uint8:
		for _, i := range perm {
			out = append(out, d[i])
		}
	case []uint16:
		for _, i := range perm {
			out = ord.AppendUint16(out, d[i])
		}
	case []uint32:
		for _, i := range perm {
			out = ord.AppendUint32(out, d[i])
		}
	case []uint64:
		for _, i := range perm {
			out = ord.AppendUint64(out, d[i])
		}
	case []bool:
		for _, i := range perm {
			if d[i] {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	default:
		return nil, encodeErr(reflect.TypeOf(data), "Array data slice does not match kind %v", kind)
	}
	return out, nil
}

func encodeChar(e *matfile.Encoder, name string, rows [][]uint16) error {
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	mark := e.BeginMatrix()
	e.ArrayFlags(matfile.CharClass, 0, 0)
	e.Dimensions([]int{len(rows), width})
	e.Name(name)
	// Column-major: character j of every row, for each column j.
	var payload []byte
	for j := 0; j < width; j++ {
		for i := range rows {
			payload = e.Order.AppendUint16(payload, rows[i][j])
		}
	}
	e.Element(matfile.Uint16, payload)
	e.EndMatrix(mark)
	return nil
}

func encodeCell(e *matfile.Encoder, name string, c *Cell) error {
	if len(c.Elems) != c.Size() {
		return encodeErr(reflect.TypeOf(c), "cell has %d elements, shape %v wants %d", len(c.Elems), c.Dims, c.Size())
	}
	mark := e.BeginMatrix()
	e.ArrayFlags(matfile.CellClass, 0, 0)
	e.Dimensions(c.Dims)
	e.Name(name)
	for _, i := range colMajorPerm(c.Dims) {
		if err := encodeMatrix(e, "", c.Elems[i]); err != nil {
			return err
		}
	}
	e.EndMatrix(mark)
	return nil
}

func encodeStruct(e *matfile.Encoder, name string, dims []int, fields []string, elems []*Struct) error {
	mark := e.BeginMatrix()
	e.ArrayFlags(matfile.StructClass, 0, 0)
	e.Dimensions(dims)
	e.Name(name)
	// Field name length subelement.
	var fl [4]byte
	e.Order.PutUint32(fl[:], maxFieldName)
	e.Element(matfile.Int32, fl[:])
	// Field names, each null-padded to the stored width.
	names := make([]byte, 0, maxFieldName*len(fields))
	for _, f := range fields {
		var cell [maxFieldName]byte
		copy(cell[:], f)
		names = append(names, cell[:]...)
	}
	e.Element(matfile.Int8, names)
	// Element-major: all fields of element 1 (column-major element
	// order), then element 2, and so on.
	for _, i := range colMajorPerm(dims) {
		for _, f := range fields {
			v, ok := elems[i].Get(f)
			if !ok {
				return encodeErr(nil, "struct array element missing field %q", f)
			}
			if err := encodeMatrix(e, "", v); err != nil {
				return err
			}
		}
	}
	e.EndMatrix(mark)
	return nil
}

func encodeSparse(e *matfile.Encoder, name string, s *Sparse) error {
	for _, ent := range s.Entries {
		if ent.Row < 0 || ent.Row >= s.Rows || ent.Col < 0 || ent.Col >= s.Cols {
			return encodeErr(reflect.TypeOf(s), "sparse entry (%d,%d) outside %dx%d", ent.Row, ent.Col, s.Rows, s.Cols)
		}
	}
	entries := slices.Clone(s.Entries)
	slices.SortFunc(entries, func(a, b SparseEntry) int {
		if a.Col != b.Col {
			return a.Col - b.Col
		}
		return a.Row - b.Row
	})
	nz := len(entries)
	nzmax := max(nz, 1)
	var flags uint16
	if s.Logical {
		flags |= matfile.FlagLogical
	}
	cpx := s.Complex()
	if cpx {
		flags |= matfile.FlagComplex
	}
	mark := e.BeginMatrix()
	e.ArrayFlags(matfile.SparseClass, flags, uint32(nzmax))
	e.Dimensions([]int{s.Rows, s.Cols})
	e.Name(name)
	// Row indices.
	ir := make([]byte, 0, 4*nz)
	for _, ent := range entries {
		ir = e.Order.AppendUint32(ir, uint32(int32(ent.Row)))
	}
	e.Element(matfile.Int32, ir)
	// Column pointers: jc[c] is the index of the first entry in
	// column c; jc[cols] is the entry count.
	jc := make([]byte, 0, 4*(s.Cols+1))
	at := 0
	for c := 0; c <= s.Cols; c++ {
		for at < nz && entries[at].Col < c {
			at++
		}
		jc = e.Order.AppendUint32(jc, uint32(int32(at)))
	}
	e.Element(matfile.Int32, jc)
	re := make([]byte, 0, 8*nz)
	for _, ent := range entries {
		re = e.Order.AppendUint64(re, math.Float64bits(ent.Re))
	}
	e.Element(matfile.Double, re)
	if cpx {
		im := make([]byte, 0, 8*nz)
		for _, ent := range entries {
			im = e.Order.AppendUint64(im, math.Float64bits(ent.Im))
		}
		e.Element(matfile.Double, im)
	}
	e.EndMatrix(mark)
	return nil
}

const debugEncoders = false

func debugEncoder(msg string, args ...any) {
	if !debugEncoders {
		return
	}
	log.Printf(msg, args...)
}
