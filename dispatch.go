package octave

import "context"

// A CallOpt adjusts how [Session.Invoke] issues a call.
type CallOpt func(*Request)

// Nout requests n outputs from the callee. The default is one.
func Nout(n int) CallOpt {
	return func(r *Request) { r.Nout = n }
}

// StoreAs binds the first output to name in the engine's base
// workspace instead of returning it by value. The call's first result
// slot decodes as [Missing]; pass an [*ObjectHandle] or [Ref] naming
// the binding to use it in later calls.
func StoreAs(name string) CallOpt {
	return func(r *Request) { r.StoreAs = name }
}

// Dir prepends path to the engine's load path before the call, so a
// function defined in an unloaded directory resolves.
func Dir(path string) CallOpt {
	return func(r *Request) { r.Dir = path }
}

// Kw appends an engine-style name/value option pair after the
// positional arguments. Pairs appear in the order given.
func Kw(name string, v any) CallOpt {
	return func(r *Request) { r.Args = append(r.Args, name, v) }
}

// InvokeN calls the named engine function with the given positional
// arguments and options, returning all requested outputs. Without a
// [Nout] option one output is requested.
func (s *Session) InvokeN(ctx context.Context, name string, args []any, opts ...CallOpt) ([]any, error) {
	req := &Request{Func: name, Args: args, Nout: 1}
	for _, o := range opts {
		o(req)
	}
	resp, err := s.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.values(req.Nout)
}

// Invoke is InvokeN returning only the first output.
func (s *Session) Invoke(ctx context.Context, name string, args []any, opts ...CallOpt) (any, error) {
	out, err := s.InvokeN(ctx, name, args, opts...)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
