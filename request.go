package octave

// A Request describes one engine call: which function to invoke, with
// what arguments, and what to do with the outputs. Requests are
// written as a single struct variable named "req" in the interchange
// file the engine-side runner loads.
type Request struct {
	// Dir, when nonempty, is prepended to the engine's load path
	// before the call.
	Dir string
	// Func is the engine function name, or "__eval" for raw source
	// evaluation.
	Func string
	// Args are the call arguments, in call order.
	Args []any
	// Nout is the number of outputs to request from the callee.
	Nout int
	// StoreAs, when nonempty, binds the first output to this name in
	// the engine's base workspace instead of returning it by value.
	StoreAs string
}

const (
	reqVar  = "req"
	respVar = "resp"
)

// marshal converts the request into interchange bytes. Arguments of
// type [Ref] or [*ObjectHandle] are passed by name: the argument slot
// carries the binding name as a string, and its 1-based position is
// recorded so the runner resolves the name against the engine's
// workspace at call time.
func (r *Request) marshal(opts *CodecOptions) ([]byte, error) {
	args := make([]any, len(r.Args))
	var refs []int64
	for i, a := range r.Args {
		switch a := a.(type) {
		case Ref:
			args[i] = string(a)
			refs = append(refs, int64(i+1))
		case *ObjectHandle:
			args[i] = a.Name
			refs = append(refs, int64(i+1))
		default:
			args[i] = a
		}
	}
	req := NewStruct().
		Set("dname", r.Dir).
		Set("func_name", r.Func).
		Set("func_args", NewCell(args...)).
		Set("ref_indices", refArray(refs)).
		Set("nargout", float64(r.Nout)).
		Set("store_as", r.StoreAs)
	return Marshal([]Var{{Name: reqVar, Value: req}}, opts)
}

// refArray shapes the reference index list for the runner: a 1xN
// double row vector, empty when no argument is passed by name.
func refArray(refs []int64) *Array {
	data := make([]float64, len(refs))
	for i, r := range refs {
		data[i] = float64(r)
	}
	return &Array{Kind: Float64, Dims: []int{1, len(refs)}, Data: data}
}
