package octave

import (
	"fmt"
	"iter"
	"slices"

	"github.com/creachadair/mds/mapset"
)

// Values exchanged with the engine are plain Go values drawn from a
// closed set. Decoding produces:
//
//   - bool, int8..int64, uint8..uint64, float32, float64, complex128
//     and string for scalars (a 1x1 matrix decodes to its scalar),
//   - [Array] for numeric arrays,
//   - [TextGrid] for multi-row character matrices,
//   - [Cell], [Struct] and [StructArray] for containers,
//   - [Sparse] for sparse matrices,
//   - [ObjectHandle] for engine-side values that cannot cross the
//     boundary by value,
//   - [Sentinel] for absent outputs.
//
// Encoding accepts the same set, plus Go-native conveniences: numeric
// slices and uniform nested slices become an Array, []any becomes a
// Cell, map[string]any (in sorted key order) and tagged Go structs
// become a Struct, and [Ref] marks an argument for pass-by-name
// resolution.

// Kind identifies the element type of an Array.
type Kind uint8

const (
	Float64 Kind = iota
	Float32
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Bool
)

func (k Kind) String() string {
	switch k {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// integer reports whether k is an integer kind, signed or unsigned.
func (k Kind) integer() bool {
	switch k {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// An Array is an N-dimensional numeric array.
//
// Dims is the engine-side shape. Data holds the elements in row-major
// order as the slice type matching Kind ([]float64 for Float64, and
// so on); the codec performs the transposition to the engine's
// column-major layout. Imag, when non-nil, is a same-typed slice
// holding the imaginary components.
type Array struct {
	Kind Kind
	Dims []int
	Data any
	Imag any
}

// NewArray returns an Array of the given shape over data, which must
// be the slice type matching kind with one element per cell of dims.
func NewArray(kind Kind, dims []int, data any) *Array {
	return &Array{Kind: kind, Dims: dims, Data: data}
}

// Size returns the total number of elements.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// Complex reports whether the array carries imaginary components.
func (a *Array) Complex() bool { return a.Imag != nil }

// A TextGrid is a rectangular character matrix: one entry per matrix
// row, all rows the same width in UTF-16 code units. It is distinct
// from a cell of strings, and the codec preserves the distinction in
// both directions.
type TextGrid []string

// A Cell is an ordered heterogeneous sequence with an engine-side
// shape. Elems is in row-major order.
type Cell struct {
	Dims  []int
	Elems []any
}

// NewCell returns a 1xN cell over the given elements.
func NewCell(elems ...any) *Cell {
	return &Cell{Dims: []int{1, len(elems)}, Elems: elems}
}

// Size returns the total number of elements.
func (c *Cell) Size() int {
	n := 1
	for _, d := range c.Dims {
		n *= d
	}
	return n
}

// A Struct is an engine-style record: an ordered mapping of field
// names to values. Field order is insertion order and survives a
// round trip. The zero value is not usable; call [NewStruct].
type Struct struct {
	names  []string
	fields map[string]any
}

// NewStruct returns an empty struct.
func NewStruct() *Struct {
	return &Struct{fields: make(map[string]any)}
}

// Set assigns a field, appending it to the field order if new, and
// returns s to allow chaining.
func (s *Struct) Set(name string, v any) *Struct {
	if _, ok := s.fields[name]; !ok {
		s.names = append(s.names, name)
	}
	s.fields[name] = v
	return s
}

// Get returns the value of the named field.
func (s *Struct) Get(name string) (any, bool) {
	v, ok := s.fields[name]
	return v, ok
}

// Delete removes the named field, if present.
func (s *Struct) Delete(name string) {
	if _, ok := s.fields[name]; !ok {
		return
	}
	delete(s.fields, name)
	s.names = slices.DeleteFunc(s.names, func(n string) bool { return n == name })
}

// Len returns the number of fields.
func (s *Struct) Len() int { return len(s.names) }

// Names returns the field names in field order. The caller must not
// modify the returned slice.
func (s *Struct) Names() []string { return s.names }

// Fields iterates the fields in field order.
func (s *Struct) Fields() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, n := range s.names {
			if !yield(n, s.fields[n]) {
				return
			}
		}
	}
}

// Path descends through the named nested struct fields, creating
// missing intermediate structs on first write, and returns the
// innermost one. It panics if an intermediate field exists and is not
// a *Struct.
func (s *Struct) Path(names ...string) *Struct {
	cur := s
	for _, n := range names {
		v, ok := cur.fields[n]
		if !ok {
			next := NewStruct()
			cur.Set(n, next)
			cur = next
			continue
		}
		next, ok := v.(*Struct)
		if !ok {
			panic(fmt.Sprintf("octave: field %q holds %T, not a nested struct", n, v))
		}
		cur = next
	}
	return cur
}

// A StructArray is an array of records sharing an identical field
// set.
type StructArray struct {
	Dims  []int
	names []string
	elems []*Struct
}

// NewStructArray returns a struct array of the given shape over
// elems, which is in row-major order and must have one element per
// cell of dims, all sharing an identical field set.
func NewStructArray(dims []int, elems ...*Struct) (*StructArray, error) {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != len(elems) {
		return nil, fmt.Errorf("octave: struct array shape %v wants %d elements, have %d", dims, n, len(elems))
	}
	if len(elems) == 0 {
		return &StructArray{Dims: dims}, nil
	}
	want := mapset.New(elems[0].Names()...)
	for i, e := range elems[1:] {
		if got := mapset.New(e.Names()...); !got.Equals(want) {
			return nil, fmt.Errorf("octave: struct array element %d has field set %v, want %v", i+1, e.Names(), elems[0].Names())
		}
	}
	return &StructArray{Dims: dims, names: elems[0].Names(), elems: elems}, nil
}

// FieldNames returns the shared field names in the first element's
// field order.
func (a *StructArray) FieldNames() []string { return a.names }

// Len returns the number of records.
func (a *StructArray) Len() int { return len(a.elems) }

// At returns the i-th record in row-major order.
func (a *StructArray) At(i int) *Struct { return a.elems[i] }

// A Sparse is a two-dimensional sparse matrix holding only its
// nonzero entries. Entries must be sorted column-major (by Col, then
// Row); [NewSparse] establishes the order.
type Sparse struct {
	Rows, Cols int
	// Logical marks a sparse logical matrix; entry values are 0 or 1.
	Logical bool
	Entries []SparseEntry
}

// A SparseEntry is one nonzero coordinate of a sparse matrix.
type SparseEntry struct {
	Row, Col int
	Re, Im   float64
}

// NewSparse returns a rows x cols sparse matrix over the given
// entries, sorted into column-major order.
func NewSparse(rows, cols int, entries []SparseEntry) *Sparse {
	entries = slices.Clone(entries)
	slices.SortFunc(entries, func(a, b SparseEntry) int {
		if a.Col != b.Col {
			return a.Col - b.Col
		}
		return a.Row - b.Row
	})
	return &Sparse{Rows: rows, Cols: cols, Entries: entries}
}

// Complex reports whether any entry has an imaginary component.
func (s *Sparse) Complex() bool {
	for _, e := range s.Entries {
		if e.Im != 0 {
			return true
		}
	}
	return false
}

// An ObjectHandle is an opaque reference to a value resident in the
// engine's workspace: a user-defined class instance, a function
// handle, or any result bound with a store-as name. Passing a handle
// as a call argument resolves the named binding engine-side instead
// of transferring a value.
type ObjectHandle struct {
	// Name is the binding name in the engine's base workspace.
	Name string
	// Class is the engine-side class name, when known.
	Class string
}

// A Ref marks a call argument for pass-by-name resolution: the
// engine substitutes the current value of the named workspace binding
// at call time, rather than a value captured when the request was
// built.
type Ref string

// Sentinel is the distinguished "no value" marker. It is decoded in
// place of outputs the callee did not produce, and is never a valid
// data payload.
type Sentinel struct{}

// Missing is the Sentinel value returned for absent outputs.
var Missing = Sentinel{}

func (Sentinel) String() string { return "<missing>" }

// colMajorPerm returns perm such that perm[k] is the row-major index
// of the k-th element in column-major traversal of dims. The same
// permutation maps file order to host order in both codec directions.
func colMajorPerm(dims []int) []int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	perm := make([]int, n)
	// Row-major strides.
	rs := make([]int, len(dims))
	acc := 1
	for i := len(dims) - 1; i >= 0; i-- {
		rs[i] = acc
		acc *= dims[i]
	}
	idx := make([]int, len(dims))
	for k := range perm {
		rm := 0
		for i, x := range idx {
			rm += x * rs[i]
		}
		perm[k] = rm
		// Advance the multi-index in column-major order: first axis
		// varies fastest.
		for i := 0; i < len(idx); i++ {
			idx[i]++
			if idx[i] < dims[i] {
				break
			}
			idx[i] = 0
		}
	}
	return perm
}
