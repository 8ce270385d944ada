package octave

import (
	"errors"
	"testing"
)

func respBytes(t *testing.T, results []any, execErr *ExecError) []byte {
	t.Helper()
	errRec := NewStruct().Set("message", "").Set("identifier", "")
	if execErr != nil {
		stack := NewStruct().
			Set("file", "foo.m").
			Set("name", "foo").
			Set("line", 3.0).
			Set("column", 1.0)
		errRec = NewStruct().
			Set("message", execErr.Message).
			Set("identifier", execErr.Identifier).
			Set("stack", stack)
	}
	rec := NewStruct().
		Set("results", NewCell(results...)).
		Set("err", errRec)
	bs, err := Marshal([]Var{{Name: respVar, Value: rec}}, nil)
	if err != nil {
		t.Fatalf("building response: %v", err)
	}
	return bs
}

func TestParseResponse(t *testing.T) {
	resp, err := parseResponse(respBytes(t, []any{1.5, "two"}, nil), nil)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.Err != nil {
		t.Fatalf("unexpected error record: %v", resp.Err)
	}
	if len(resp.Results) != 2 || resp.Results[0] != 1.5 || resp.Results[1] != "two" {
		t.Errorf("results = %v", resp.Results)
	}
}

func TestParseResponseError(t *testing.T) {
	in := &ExecError{Message: "operator +: nonconformant arguments", Identifier: "Octave:nonconformant-args"}
	resp, err := parseResponse(respBytes(t, nil, in), nil)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.Err == nil {
		t.Fatal("no error record parsed")
	}
	if resp.Err.Message != in.Message || resp.Err.Identifier != in.Identifier {
		t.Errorf("parsed error = %+v", resp.Err)
	}
	if len(resp.Err.Stack) != 1 || resp.Err.Stack[0].Name != "foo" || resp.Err.Stack[0].Line != 3 {
		t.Errorf("parsed stack = %+v", resp.Err.Stack)
	}

	_, err = resp.values(1)
	var ee *ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("values returned %v, want *ExecError", err)
	}
}

func TestResponseValues(t *testing.T) {
	tests := []struct {
		name    string
		results []any
		err     *ExecError
		nout    int
		want    []any
		wantErr bool
	}{
		{"exact", []any{1.0, 2.0}, nil, 2, []any{1.0, 2.0}, false},
		{"pad", []any{1.0}, nil, 3, []any{1.0, Missing, Missing}, false},
		{"truncate", []any{1.0, 2.0, 3.0}, nil, 1, []any{1.0}, false},
		{"zero still yields one", []any{7.0}, nil, 0, []any{7.0}, false},
		{"zero no output", nil, nil, 0, []any{Missing}, false},
		{
			"no-output condition pads instead of failing",
			nil,
			&ExecError{Message: "element number 2 undefined in return value list"},
			2,
			[]any{Missing, Missing},
			false,
		},
		{
			"real error surfaces",
			nil,
			&ExecError{Message: "something broke"},
			1,
			nil,
			true,
		},
	}
	for _, test := range tests {
		r := &Response{Results: test.results, Err: test.err}
		got, err := r.values(test.nout)
		if test.wantErr {
			if err == nil {
				t.Errorf("%s: no error", test.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", test.name, err)
			continue
		}
		if len(got) != len(test.want) {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
			continue
		}
		for i := range got {
			if got[i] != test.want[i] {
				t.Errorf("%s: slot %d = %v, want %v", test.name, i, got[i], test.want[i])
			}
		}
	}
}

func TestExecErrorClassifiers(t *testing.T) {
	tests := []struct {
		err       ExecError
		noOutput  bool
		parseFail bool
	}{
		{ExecError{Message: "'_' undefined"}, true, false},
		{ExecError{Message: "element number 1 undefined in return value list"}, true, false},
		{ExecError{Message: "x undefined", Identifier: "Octave:undefined-function"}, false, false},
		{ExecError{Message: "parse error:\n  syntax error"}, false, true},
		{ExecError{Message: "bad thing", Identifier: "Octave:parse-error"}, false, true},
		{ExecError{Message: "operator *: nonconformant arguments"}, false, false},
	}
	for _, test := range tests {
		if got := test.err.noOutput(); got != test.noOutput {
			t.Errorf("noOutput(%q) = %v, want %v", test.err.Message, got, test.noOutput)
		}
		if got := test.err.parseFault(); got != test.parseFail {
			t.Errorf("parseFault(%q) = %v, want %v", test.err.Message, got, test.parseFail)
		}
	}
}
