package octave

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestColMajorPerm(t *testing.T) {
	tests := []struct {
		dims []int
		want []int
	}{
		{[]int{1, 1}, []int{0}},
		{[]int{1, 4}, []int{0, 1, 2, 3}},
		{[]int{4, 1}, []int{0, 1, 2, 3}},
		// Column-major traversal of a 2x3 visits (0,0) (1,0) (0,1)
		// (1,1) (0,2) (1,2); row-major indices 0 3 1 4 2 5.
		{[]int{2, 3}, []int{0, 3, 1, 4, 2, 5}},
		{[]int{2, 2, 2}, []int{0, 4, 2, 6, 1, 5, 3, 7}},
		{[]int{0, 3}, []int{}},
	}
	for _, test := range tests {
		got := colMajorPerm(test.dims)
		if diff := cmp.Diff(got, test.want, cmp.Comparer(func(a, b []int) bool {
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		})); diff != "" {
			t.Errorf("colMajorPerm(%v) differs (-got+want):\n%s", test.dims, diff)
		}
	}
}

func TestStructOrder(t *testing.T) {
	s := NewStruct().Set("b", 1).Set("a", 2).Set("c", 3)
	if diff := cmp.Diff(s.Names(), []string{"b", "a", "c"}); diff != "" {
		t.Errorf("field order differs (-got+want):\n%s", diff)
	}

	// Re-setting keeps the original position.
	s.Set("a", 20)
	if diff := cmp.Diff(s.Names(), []string{"b", "a", "c"}); diff != "" {
		t.Errorf("field order after reset differs (-got+want):\n%s", diff)
	}
	if v, _ := s.Get("a"); v != 20 {
		t.Errorf("a = %v, want 20", v)
	}

	s.Delete("b")
	if diff := cmp.Diff(s.Names(), []string{"a", "c"}); diff != "" {
		t.Errorf("field order after delete differs (-got+want):\n%s", diff)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestStructPath(t *testing.T) {
	s := NewStruct()
	s.Path("a", "b", "c").Set("leaf", 1.0)
	if v, _ := s.Path("a", "b", "c").Get("leaf"); v != 1.0 {
		t.Errorf("a.b.c.leaf = %v, want 1", v)
	}

	// Descending through a non-struct field panics.
	s.Set("x", 5.0)
	defer func() {
		if recover() == nil {
			t.Error("Path through non-struct field did not panic")
		}
	}()
	s.Path("x", "y")
}

func TestStructArrayUniformity(t *testing.T) {
	a := NewStruct().Set("f", 1.0).Set("g", 2.0)
	b := NewStruct().Set("g", 3.0).Set("f", 4.0) // same set, different order
	c := NewStruct().Set("f", 5.0)

	if _, err := NewStructArray([]int{1, 2}, a, b); err != nil {
		t.Errorf("same field set rejected: %v", err)
	}
	if _, err := NewStructArray([]int{1, 2}, a, c); err == nil {
		t.Error("differing field sets accepted")
	}
	if _, err := NewStructArray([]int{2, 2}, a, b); err == nil {
		t.Error("shape/element mismatch accepted")
	}
}

func TestNewSparseSorts(t *testing.T) {
	s := NewSparse(3, 3, []SparseEntry{
		{Row: 2, Col: 2, Re: 3},
		{Row: 0, Col: 0, Re: 1},
		{Row: 1, Col: 0, Re: 2},
	})
	want := []SparseEntry{
		{Row: 0, Col: 0, Re: 1},
		{Row: 1, Col: 0, Re: 2},
		{Row: 2, Col: 2, Re: 3},
	}
	if diff := cmp.Diff(s.Entries, want); diff != "" {
		t.Errorf("entries differ (-got+want):\n%s", diff)
	}
	if s.Complex() {
		t.Error("Complex() = true for real entries")
	}
}
