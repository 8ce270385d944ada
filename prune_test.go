package octave_test

import (
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/matgo/octave"
	"github.com/matgo/octave/matfile"
)

// scalarMatrix writes a nested 1x1 double matrix.
func scalarMatrix(e *matfile.Encoder, v float64) {
	mark := e.BeginMatrix()
	e.ArrayFlags(matfile.DoubleClass, 0, 0)
	e.Dimensions([]int{1, 1})
	e.Name("")
	e.Element(matfile.Double, e.Order.AppendUint64(nil, math.Float64bits(v)))
	e.EndMatrix(mark)
}

// functionMatrix writes a nested matrix of a class the codec does not
// support.
func functionMatrix(e *matfile.Encoder) {
	mark := e.BeginMatrix()
	e.ArrayFlags(matfile.FunctionClass, 0, 0)
	e.Dimensions([]int{1, 1})
	e.Name("")
	e.Element(matfile.Uint8, []byte{0})
	e.EndMatrix(mark)
}

func TestPruneStructField(t *testing.T) {
	// A struct whose second field holds a function handle, as the
	// engine would write one. The field is dropped; the rest decodes.
	e := &matfile.Encoder{Order: matfile.NativeEndian}
	e.Header("prune test")
	mark := e.BeginMatrix()
	e.ArrayFlags(matfile.StructClass, 0, 0)
	e.Dimensions([]int{1, 1})
	e.Name("s")
	var fl [4]byte
	e.Order.PutUint32(fl[:], 8)
	e.Element(matfile.Int32, fl[:])
	e.Element(matfile.Int8, []byte("good\x00\x00\x00\x00bad\x00\x00\x00\x00\x00"))
	scalarMatrix(e, 7)
	functionMatrix(e)
	e.EndMatrix(mark)

	var logged strings.Builder
	opts := &octave.CodecOptions{
		Logger: slog.New(slog.NewTextHandler(&logged, nil)),
	}
	vars, err := octave.Unmarshal(e.Out, opts)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	s, ok := vars[0].Value.(*octave.Struct)
	if !ok {
		t.Fatalf("decoded %T, want *Struct", vars[0].Value)
	}
	if v, _ := s.Get("good"); v != 7.0 {
		t.Errorf("good = %v, want 7", v)
	}
	if _, ok := s.Get("bad"); ok {
		t.Error("unsupported field survived decoding")
	}
	if !strings.Contains(logged.String(), "pruned") {
		t.Errorf("no pruning diagnostic logged, got %q", logged.String())
	}
}

func TestPruneCellElement(t *testing.T) {
	// A cell keeps its shape when an element is unsupported; the slot
	// decodes as the missing-value sentinel.
	e := &matfile.Encoder{Order: matfile.NativeEndian}
	e.Header("prune test")
	mark := e.BeginMatrix()
	e.ArrayFlags(matfile.CellClass, 0, 0)
	e.Dimensions([]int{1, 3})
	e.Name("c")
	scalarMatrix(e, 1)
	functionMatrix(e)
	scalarMatrix(e, 3)
	e.EndMatrix(mark)

	vars, err := octave.Unmarshal(e.Out, &octave.CodecOptions{Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	c, ok := vars[0].Value.(*octave.Cell)
	if !ok {
		t.Fatalf("decoded %T, want *Cell", vars[0].Value)
	}
	if len(c.Elems) != 3 {
		t.Fatalf("cell has %d elements, want 3", len(c.Elems))
	}
	if c.Elems[0] != 1.0 || c.Elems[2] != 3.0 {
		t.Errorf("cell elements = %v", c.Elems)
	}
	if c.Elems[1] != any(octave.Missing) {
		t.Errorf("pruned element = %v (%T), want Missing", c.Elems[1], c.Elems[1])
	}
}

func TestUnsupportedTopLevel(t *testing.T) {
	// At top level there is no container to prune from; decoding
	// fails outright.
	e := &matfile.Encoder{Order: matfile.NativeEndian}
	e.Header("prune test")
	mark := e.BeginMatrix()
	e.ArrayFlags(matfile.FunctionClass, 0, 0)
	e.Dimensions([]int{1, 1})
	e.Name("f")
	e.Element(matfile.Uint8, []byte{0})
	e.EndMatrix(mark)

	if _, err := octave.Unmarshal(e.Out, nil); err == nil {
		t.Error("Unmarshal of top-level function handle succeeded, want error")
	}
}
