package octave

import "fmt"

// A Response is the engine's reply to one request: the outputs the
// callee produced, or a structured error.
type Response struct {
	// Results are the outputs in order. Slots the callee did not bind
	// hold [Missing].
	Results []any
	// Err is the engine-side error, if the call failed.
	Err *ExecError
}

// parseResponse decodes the reply file the runner wrote. The file
// holds a single struct variable named "resp" with a "results" cell
// and an "err" struct; an empty err message means success.
func parseResponse(bs []byte, opts *CodecOptions) (*Response, error) {
	vars, err := Unmarshal(bs, opts)
	if err != nil {
		return nil, err
	}
	var rec *Struct
	for _, v := range vars {
		if v.Name == respVar {
			rec, _ = v.Value.(*Struct)
		}
	}
	if rec == nil {
		return nil, fmt.Errorf("octave: reply file has no %q struct", respVar)
	}
	resp := &Response{}
	if e, ok := rec.Get("err"); ok {
		if ee := parseExecError(e); ee != nil {
			resp.Err = ee
		}
	}
	if rs, ok := rec.Get("results"); ok {
		switch rs := rs.(type) {
		case *Cell:
			resp.Results = rs.Elems
		case Sentinel:
			// No outputs at all.
		default:
			// A single result may decode without its cell wrapper when
			// the runner stores a lone value.
			resp.Results = []any{rs}
		}
	}
	return resp, nil
}

func parseExecError(v any) *ExecError {
	s, ok := v.(*Struct)
	if !ok {
		return nil
	}
	e := &ExecError{}
	if m, ok := s.Get("message"); ok {
		e.Message, _ = m.(string)
	}
	if id, ok := s.Get("identifier"); ok {
		e.Identifier, _ = id.(string)
	}
	if e.Message == "" {
		return nil
	}
	if st, ok := s.Get("stack"); ok {
		e.Stack = parseStack(st)
	}
	return e
}

func parseStack(v any) []StackFrame {
	frame := func(s *Struct) StackFrame {
		var f StackFrame
		if x, ok := s.Get("file"); ok {
			f.File, _ = x.(string)
		}
		if x, ok := s.Get("name"); ok {
			f.Name, _ = x.(string)
		}
		if x, ok := s.Get("line"); ok {
			f.Line = intFrom(x)
		}
		if x, ok := s.Get("column"); ok {
			f.Column = intFrom(x)
		}
		return f
	}
	switch v := v.(type) {
	case *Struct:
		return []StackFrame{frame(v)}
	case *StructArray:
		out := make([]StackFrame, v.Len())
		for i := range out {
			out[i] = frame(v.At(i))
		}
		return out
	}
	return nil
}

func intFrom(v any) int {
	switch v := v.(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int8:
		return int(v)
	case int16:
		return int(v)
	}
	return 0
}

// values finalizes a response for a call that requested nout outputs.
// Engine errors surface first, with the no-output condition mapped to
// an all-Missing result set. The result list is then padded with
// [Missing] or truncated to exactly nout entries; nout == 0 still
// yields one slot, carrying the callee's implicit first output when
// it bound one.
func (r *Response) values(nout int) ([]any, error) {
	if r.Err != nil && !r.Err.noOutput() {
		return nil, r.Err
	}
	want := nout
	if want < 1 {
		want = 1
	}
	out := make([]any, want)
	for i := range out {
		if i < len(r.Results) && r.Err == nil {
			out[i] = r.Results[i]
		} else {
			out[i] = Missing
		}
	}
	return out, nil
}
