package octave

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRequestMarshal(t *testing.T) {
	req := &Request{
		Dir:     "/tmp/mfiles",
		Func:    "plus",
		Args:    []any{2.0, Ref("counter"), &ObjectHandle{Name: "oct__handle_1"}},
		Nout:    2,
		StoreAs: "total",
	}
	bs, err := req.marshal(nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	vars, err := Unmarshal(bs, nil)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(vars) != 1 || vars[0].Name != reqVar {
		t.Fatalf("marshaled %d vars, want one named %q", len(vars), reqVar)
	}
	rec, ok := vars[0].Value.(*Struct)
	if !ok {
		t.Fatalf("request decoded as %T, want *Struct", vars[0].Value)
	}
	if diff := cmp.Diff(rec.Names(), []string{"dname", "func_name", "func_args", "ref_indices", "nargout", "store_as"}); diff != "" {
		t.Errorf("record fields differ (-got+want):\n%s", diff)
	}

	if v, _ := rec.Get("dname"); v != "/tmp/mfiles" {
		t.Errorf("dname = %v", v)
	}
	if v, _ := rec.Get("func_name"); v != "plus" {
		t.Errorf("func_name = %v", v)
	}
	if v, _ := rec.Get("nargout"); v != 2.0 {
		t.Errorf("nargout = %v", v)
	}
	if v, _ := rec.Get("store_as"); v != "total" {
		t.Errorf("store_as = %v", v)
	}

	// By-name arguments travel as their binding names.
	args, ok := fieldAs[*Cell](rec, "func_args")
	if !ok {
		t.Fatal("func_args is not a cell")
	}
	if diff := cmp.Diff(args.Elems, []any{2.0, "counter", "oct__handle_1"}); diff != "" {
		t.Errorf("arguments differ (-got+want):\n%s", diff)
	}

	// Their 1-based positions land in ref_indices.
	refs, ok := rec.Get("ref_indices")
	if !ok {
		t.Fatal("no ref_indices field")
	}
	ra, ok := refs.(*Array)
	if !ok {
		t.Fatalf("ref_indices decoded as %T, want *Array", refs)
	}
	if diff := cmp.Diff(ra.Data, []float64{2, 3}); diff != "" {
		t.Errorf("ref_indices differ (-got+want):\n%s", diff)
	}
}

func TestRequestMarshalNoRefs(t *testing.T) {
	req := &Request{Func: "rand", Nout: 1}
	bs, err := req.marshal(nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	vars, err := Unmarshal(bs, nil)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	rec := vars[0].Value.(*Struct)
	refs, _ := rec.Get("ref_indices")
	ra, ok := refs.(*Array)
	if !ok {
		t.Fatalf("ref_indices decoded as %T, want *Array", refs)
	}
	if ra.Size() != 0 {
		t.Errorf("ref_indices has %d entries, want 0", ra.Size())
	}
}

func fieldAs[T any](s *Struct, name string) (T, bool) {
	var zero T
	v, ok := s.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
