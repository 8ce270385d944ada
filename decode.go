package octave

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"unicode/utf16"

	"github.com/matgo/octave/matfile"
)

// Unmarshal decodes a complete interchange file into its named
// top-level values, in file order.
//
// Unsupported content nested inside a struct, struct array or cell is
// pruned: the offending field or element is dropped (cells keep their
// shape, so a pruned cell element decodes as [Missing]) and a
// diagnostic is logged through opts. An unsupported top-level value
// is an error.
func Unmarshal(bs []byte, opts *CodecOptions) ([]Var, error) {
	d, err := matfile.NewDecoder(bs)
	if err != nil {
		return nil, err
	}
	var out []Var
	for d.More() {
		t, payload, err := d.Element()
		if err != nil {
			return nil, err
		}
		if t != matfile.Matrix {
			return nil, fmt.Errorf("octave: top-level element is %v, want miMATRIX", t)
		}
		name, v, err := decodeMatrix(d.Sub(payload), opts)
		if err != nil {
			return nil, err
		}
		out = append(out, Var{Name: name, Value: v})
	}
	return out, nil
}

// ReadFile decodes the interchange file on path.
func ReadFile(path string, opts *CodecOptions) ([]Var, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(bs, opts)
}

const debugDecoders = false

func debugDecoder(msg string, args ...any) {
	if !debugDecoders {
		return
	}
	log.Printf(msg, args...)
}

// matrixHeader is the common prefix of every matrix element: array
// flags, dimensions and name.
type matrixHeader struct {
	class matfile.Class
	flags uint16
	nzmax uint32
	dims  []int
	name  string
}

func decodeHeader(d *matfile.Decoder) (matrixHeader, error) {
	var h matrixHeader
	t, payload, err := d.Element()
	if err != nil {
		return h, err
	}
	h.class, h.flags, h.nzmax, err = d.ArrayFlags(t, payload)
	if err != nil {
		return h, err
	}
	t, payload, err = d.Element()
	if err != nil {
		return h, err
	}
	h.dims, err = d.Dimensions(t, payload)
	if err != nil {
		return h, err
	}
	t, payload, err = d.Element()
	if err != nil {
		return h, err
	}
	if t != matfile.Int8 {
		return h, fmt.Errorf("octave: bad array name subelement type %v", t)
	}
	h.name = string(payload)
	return h, nil
}

// decodeMatrix decodes one matrix element (the payload following a
// miMATRIX tag).
func decodeMatrix(d *matfile.Decoder, opts *CodecOptions) (string, any, error) {
	h, err := decodeHeader(d)
	if err != nil {
		return "", nil, err
	}
	debugDecoder("decodeMatrix(%q, %v, dims %v)", h.name, h.class, h.dims)
	var v any
	switch h.class {
	case matfile.CharClass:
		v, err = decodeChar(d, h)
	case matfile.CellClass:
		v, err = decodeCell(d, h, opts)
	case matfile.StructClass:
		v, err = decodeStruct(d, h, opts)
	case matfile.SparseClass:
		v, err = decodeSparse(d, h)
	case matfile.ObjectClass:
		// A serialized class instance. The content is engine-defined;
		// surface an opaque handle carrying the class name.
		v, err = decodeObject(d)
	case matfile.FunctionClass:
		err = &unsupportedError{"function handle"}
	default:
		if _, ok := classToKind[h.class]; !ok {
			err = &unsupportedError{h.class.String()}
			break
		}
		v, err = decodeNumeric(d, h)
	}
	if err != nil {
		return h.name, nil, err
	}
	return h.name, v, nil
}

// readPart reads one real or imaginary part subelement, validating
// that its payload is whole elements of a sized numeric type.
func readPart(d *matfile.Decoder) (matfile.Type, []byte, error) {
	t, payload, err := d.Element()
	if err != nil {
		return 0, nil, err
	}
	if t.Size() == 0 {
		return 0, nil, fmt.Errorf("octave: bad numeric subelement type %v", t)
	}
	if len(payload)%t.Size() != 0 {
		return 0, nil, fmt.Errorf("octave: %v payload of %d bytes not a multiple of %d", t, len(payload), t.Size())
	}
	return t, payload, nil
}

// partFloats converts a numeric subelement payload to float64s in
// file order. The engine may store any class's data in a narrower
// type when values fit; widths are reconciled here.
func partFloats(ord matfile.ByteOrder, t matfile.Type, payload []byte) []float64 {
	n := len(payload) / t.Size()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = readElem(ord, t, payload, i)
	}
	return out
}

func readElem(ord matfile.ByteOrder, t matfile.Type, payload []byte, i int) float64 {
	switch t {
	case matfile.Int8:
		return float64(int8(payload[i]))
	case matfile.Uint8, matfile.UTF8:
		return float64(payload[i])
	case matfile.Int16:
		return float64(int16(ord.Uint16(payload[2*i:])))
	case matfile.Uint16, matfile.UTF16:
		return float64(ord.Uint16(payload[2*i:]))
	case matfile.Int32:
		return float64(int32(ord.Uint32(payload[4*i:])))
	case matfile.Uint32:
		return float64(ord.Uint32(payload[4*i:]))
	case matfile.Single:
		return float64(math.Float32frombits(ord.Uint32(payload[4*i:])))
	case matfile.Double:
		return math.Float64frombits(ord.Uint64(payload[8*i:]))
	case matfile.Int64:
		return float64(int64(ord.Uint64(payload[8*i:])))
	case matfile.Uint64:
		return float64(ord.Uint64(payload[8*i:]))
	}
	return math.NaN()
}

// decodeNumeric decodes a numeric matrix, preserving the class's
// width and signedness, and squeezing 1x1 real matrices to scalars.
func decodeNumeric(d *matfile.Decoder, h matrixHeader) (any, error) {
	kind := classToKind[h.class]
	if h.flags&matfile.FlagLogical != 0 {
		kind = Bool
	}
	t, payload, err := readPart(d)
	if err != nil {
		return nil, err
	}
	size := 1
	for _, dim := range h.dims {
		size *= dim
	}
	if h.flags&(matfile.FlagComplex|matfile.FlagLogical) == 0 &&
		((kind == Int64 && t == matfile.Int64) || (kind == Uint64 && t == matfile.Uint64)) {
		return decodeWide(d.Order, kind, h.dims, payload, size)
	}
	re := partFloats(d.Order, t, payload)
	var im []float64
	if h.flags&matfile.FlagComplex != 0 {
		t, payload, err := readPart(d)
		if err != nil {
			return nil, err
		}
		im = partFloats(d.Order, t, payload)
	}
	if len(re) != size || (im != nil && len(im) != size) {
		return nil, fmt.Errorf("octave: numeric matrix %v has %d elements, shape wants %d", h.dims, len(re), size)
	}
	// Scalar squeeze.
	if size == 1 {
		if im != nil {
			return complex(re[0], im[0]), nil
		}
		return scalarFromFloat(kind, re[0]), nil
	}
	perm := colMajorPerm(h.dims)
	a := &Array{Kind: kind, Dims: h.dims}
	a.Data = scatter(kind, re, perm)
	if im != nil {
		a.Imag = scatter(kind, im, perm)
	}
	return a, nil
}

// decodeWide decodes 64-bit integer content stored width-exactly.
// These hold values a float64 cannot, so they bypass the shared
// float conversion.
func decodeWide(ord matfile.ByteOrder, kind Kind, dims []int, payload []byte, size int) (any, error) {
	n := len(payload) / 8
	if n != size {
		return nil, fmt.Errorf("octave: numeric matrix %v has %d elements, shape wants %d", dims, n, size)
	}
	perm := colMajorPerm(dims)
	if kind == Int64 {
		out := make([]int64, n)
		for k := range out {
			out[perm[k]] = int64(ord.Uint64(payload[8*k:]))
		}
		if size == 1 {
			return out[0], nil
		}
		return &Array{Kind: Int64, Dims: dims, Data: out}, nil
	}
	out := make([]uint64, n)
	for k := range out {
		out[perm[k]] = ord.Uint64(payload[8*k:])
	}
	if size == 1 {
		return out[0], nil
	}
	return &Array{Kind: Uint64, Dims: dims, Data: out}, nil
}

func scalarFromFloat(kind Kind, v float64) any {
	switch kind {
	case Float64:
		return v
	case Float32:
		return float32(v)
	case Int8:
		return int8(v)
	case Int16:
		return int16(v)
	case Int32:
		return int32(v)
	case Int64:
		return int64(v)
	case Uint8:
		return uint8(v)
	case Uint16:
		return uint16(v)
	case Uint32:
		return uint32(v)
	case Uint64:
		return uint64(v)
	case Bool:
		return v != 0
	}
	return v
}

// scatter converts file-order float64s into the row-major typed slice
// for kind, using the column-major permutation.
func scatter(kind Kind, file []float64, perm []int) any {
	n := len(file)
	switch kind {
	case Float64:
		out := make([]float64, n)
		for k, v := range file {
			out[perm[k]] = v
		}
		return out
	case Float32:
		out := make([]float32, n)
		for k, v := range file {
			out[perm[k]] = float32(v)
		}
		return out
	case Int8:
		out := make([]int8, n)
		for k, v := range file {
			out[perm[k]] = int8(v)
		}
		return out
	case Int16:
		out := make([]int16, n)
		for k, v := range file {
			out[perm[k]] = int16(v)
		}
		return out
	case Int32:
		out := make([]int32, n)
		for k, v := range file {
			out[perm[k]] = int32(v)
		}
		return out
	case Int64:
		out := make([]int64, n)
		for k, v := range file {
			out[perm[k]] = int64(v)
		}
		return out
	case Uint8:
		out := make([]uint8, n)
		for k, v := range file {
			out[perm[k]] = uint8(v)
		}
		return out
	case Uint16:
		out := make([]uint16, n)
		for k, v := range file {
			out[perm[k]] = uint16(v)
		}
		return out
	case Uint32:
		out := make([]uint32, n)
		for k, v := range file {
			out[perm[k]] = uint32(v)
		}
		return out
	case Uint64:
		out := make([]uint64, n)
		for k, v := range file {
			out[perm[k]] = uint64(v)
		}
		return out
	case Bool:
		out := make([]bool, n)
		for k, v := range file {
			out[perm[k]] = v != 0
		}
		return out
	}
	return nil
}

// decodeChar decodes a character matrix: a single row becomes a
// string, multiple rows a TextGrid. The source marks the distinction
// from a cell of strings and it is preserved.
func decodeChar(d *matfile.Decoder, h matrixHeader) (any, error) {
	t, payload, err := d.Element()
	if err != nil {
		return nil, err
	}
	var units []uint16
	switch t {
	case matfile.Uint16, matfile.UTF16, matfile.Int16:
		units = make([]uint16, len(payload)/2)
		for i := range units {
			units[i] = d.Order.Uint16(payload[2*i:])
		}
	case matfile.Uint8, matfile.Int8:
		units = make([]uint16, len(payload))
		for i, b := range payload {
			units[i] = uint16(b)
		}
	case matfile.UTF8:
		for _, r := range string(payload) {
			units = append(units, utf16.Encode([]rune{r})...)
		}
	default:
		return nil, fmt.Errorf("octave: bad char storage type %v", t)
	}
	if len(h.dims) != 2 {
		return nil, fmt.Errorf("octave: char matrix has %d dimensions, want 2", len(h.dims))
	}
	rows, cols := h.dims[0], h.dims[1]
	if rows*cols != len(units) {
		return nil, fmt.Errorf("octave: char matrix %dx%d has %d units", rows, cols, len(units))
	}
	if rows <= 1 {
		return string(utf16.Decode(units)), nil
	}
	// Data is column-major: unit (i,j) lives at j*rows+i.
	grid := make(TextGrid, rows)
	row := make([]uint16, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			row[j] = units[j*rows+i]
		}
		grid[i] = string(utf16.Decode(row))
	}
	return grid, nil
}

func decodeCell(d *matfile.Decoder, h matrixHeader, opts *CodecOptions) (any, error) {
	size := 1
	for _, dim := range h.dims {
		size *= dim
	}
	perm := colMajorPerm(h.dims)
	c := &Cell{Dims: h.dims, Elems: make([]any, size)}
	for k := 0; k < size; k++ {
		v, err := decodeNested(d, opts, fmt.Sprintf("cell element %d", k))
		if err != nil {
			return nil, err
		}
		c.Elems[perm[k]] = v
	}
	return c, nil
}

// decodeNested decodes one matrix subelement inside a container,
// applying the pruning policy: unsupported content becomes Missing
// with a logged diagnostic instead of failing the whole structure.
func decodeNested(d *matfile.Decoder, opts *CodecOptions, where string) (any, error) {
	t, payload, err := d.Element()
	if err != nil {
		return nil, err
	}
	if t != matfile.Matrix {
		return nil, fmt.Errorf("octave: container subelement is %v, want miMATRIX", t)
	}
	if len(payload) == 0 {
		// An empty matrix element; the engine writes these for [].
		return &Array{Kind: Float64, Dims: []int{0, 0}, Data: []float64{}}, nil
	}
	_, v, err := decodeMatrix(d.Sub(payload), opts)
	if err != nil {
		var un *unsupportedError
		if errors.As(err, &un) {
			opts.logger().Warn("pruned unsupported content from decoded value",
				"where", where, "content", un.what)
			return Missing, nil
		}
		return nil, err
	}
	return v, nil
}

func decodeStruct(d *matfile.Decoder, h matrixHeader, opts *CodecOptions) (any, error) {
	// Field name width.
	t, payload, err := d.Element()
	if err != nil {
		return nil, err
	}
	if t != matfile.Int32 || len(payload) != 4 {
		return nil, fmt.Errorf("octave: bad field name length subelement (%v, %d bytes)", t, len(payload))
	}
	width := int(int32(d.Order.Uint32(payload)))
	if width <= 0 {
		return nil, fmt.Errorf("octave: bad field name width %d", width)
	}
	// Field names.
	t, payload, err = d.Element()
	if err != nil {
		return nil, err
	}
	if t != matfile.Int8 || len(payload)%width != 0 {
		return nil, fmt.Errorf("octave: bad field names subelement (%v, %d bytes, width %d)", t, len(payload), width)
	}
	nf := len(payload) / width
	fields := make([]string, nf)
	for i := range fields {
		cell := payload[i*width : (i+1)*width]
		fields[i] = strings.TrimRight(string(cell), "\x00")
	}
	size := 1
	for _, dim := range h.dims {
		size *= dim
	}
	perm := colMajorPerm(h.dims)
	elems := make([]*Struct, size)
	for k := 0; k < size; k++ {
		s := NewStruct()
		for _, f := range fields {
			v, err := decodeNested(d, opts, fmt.Sprintf("struct field %q", f))
			if err != nil {
				return nil, err
			}
			if v == any(Missing) {
				// Pruned: the field is absent from the result.
				continue
			}
			s.Set(f, v)
		}
		elems[perm[k]] = s
	}
	if size == 1 {
		return unmarkStruct(elems[0]), nil
	}
	sa, err := NewStructArray(h.dims, elems...)
	if err != nil {
		// Pruning can leave elements with differing field sets; the
		// array form is no longer uniform, so fall back to a cell.
		c := &Cell{Dims: h.dims, Elems: make([]any, size)}
		for i, e := range elems {
			c.Elems[i] = e
		}
		return c, nil
	}
	return sa, nil
}

// unmarkStruct resolves the protocol's reserved marker records.
func unmarkStruct(s *Struct) any {
	if s.Len() == 1 {
		if _, ok := s.Get(sentinelField); ok {
			return Missing
		}
	}
	if name, ok := s.Get(objectField); ok {
		h := &ObjectHandle{}
		if n, ok := name.(string); ok {
			h.Name = n
		}
		if c, ok := s.Get(classField); ok {
			if cs, ok := c.(string); ok {
				h.Class = cs
			}
		}
		return h
	}
	return s
}

func decodeObject(d *matfile.Decoder) (any, error) {
	// Object layout: class name subelement, then struct-style fields.
	// The fields only make sense to the engine; keep the class name
	// and let callers interact through the handle API.
	t, payload, err := d.Element()
	if err != nil {
		return nil, err
	}
	if t != matfile.Int8 {
		return nil, fmt.Errorf("octave: bad object class name subelement type %v", t)
	}
	return &ObjectHandle{Class: string(payload)}, nil
}

func decodeSparse(d *matfile.Decoder, h matrixHeader) (any, error) {
	if len(h.dims) != 2 {
		return nil, fmt.Errorf("octave: sparse matrix has %d dimensions, want 2", len(h.dims))
	}
	rows, cols := h.dims[0], h.dims[1]
	// Row indices.
	t, payload, err := d.Element()
	if err != nil {
		return nil, err
	}
	ir := partFloats(d.Order, t, payload)
	// Column pointers.
	t, payload, err = d.Element()
	if err != nil {
		return nil, err
	}
	jc := partFloats(d.Order, t, payload)
	if len(jc) != cols+1 {
		return nil, fmt.Errorf("octave: sparse column pointers have %d entries, want %d", len(jc), cols+1)
	}
	nnz := int(jc[cols])
	if nnz > len(ir) {
		return nil, fmt.Errorf("octave: sparse has %d entries but %d row indices", nnz, len(ir))
	}
	// Real part.
	t, payload, err = readPart(d)
	if err != nil {
		return nil, err
	}
	re := partFloats(d.Order, t, payload)
	var im []float64
	if h.flags&matfile.FlagComplex != 0 {
		t, payload, err = readPart(d)
		if err != nil {
			return nil, err
		}
		im = partFloats(d.Order, t, payload)
	}
	if len(re) < nnz || (im != nil && len(im) < nnz) {
		return nil, fmt.Errorf("octave: sparse has %d entries but %d values", nnz, len(re))
	}
	s := &Sparse{
		Rows:    rows,
		Cols:    cols,
		Logical: h.flags&matfile.FlagLogical != 0,
		Entries: make([]SparseEntry, 0, nnz),
	}
	for c := 0; c < cols; c++ {
		for k := int(jc[c]); k < int(jc[c+1]); k++ {
			ent := SparseEntry{Row: int(ir[k]), Col: c, Re: re[k]}
			if im != nil {
				ent.Im = im[k]
			}
			s.Entries = append(s.Entries, ent)
		}
	}
	return s, nil
}
