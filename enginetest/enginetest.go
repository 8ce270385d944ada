// Package enginetest provides helpers for testing against an engine:
// a fake in-process engine that speaks the session's file protocol
// without a real Octave installation, and a skip-aware constructor
// for tests that want the real thing.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matgo/octave"
	"github.com/matgo/octave/transport"
)

// Available reports whether a real engine binary can be found, via
// the same resolution the session uses.
func Available() bool {
	_, err := transport.Resolve("")
	return err == nil
}

// NewSession returns a session against a real engine, skipping the
// calling test when none is installed.
func NewSession(t *testing.T, opts *octave.Options) *octave.Session {
	t.Helper()
	if !Available() {
		t.Skip("no octave executable available, cannot run engine test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	sess, err := octave.NewSession(ctx, opts)
	if err != nil {
		t.Fatalf("starting engine session: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

// A Func handles one fake engine call. Returning fewer results than
// nout is fine; the host pads. Returning an [*octave.ExecError]
// surfaces it as the engine-side error verbatim.
type Func func(args []any, nout int) ([]any, error)

// Engine is a fake in-process engine. It implements the session's
// file protocol: it reads request files, dispatches to registered
// functions and a few built-ins, writes reply files, and emits the
// protocol markers. Wire a session to it through [Engine.Starter].
//
// Built-in functions: assignin, evalin, addpath, exist, help and the
// raw-source pseudo-function, plus two test triggers. Calling __die
// terminates the fake process without replying, and __hang sleeps for
// its argument in milliseconds before replying.
type Engine struct {
	// Eval, when non-nil, handles raw source evaluation. Nil makes
	// evaluation fail.
	Eval func(src string) ([]any, error)

	mu     sync.Mutex
	fns    map[string]Func
	docs   map[string]string
	vars   map[string]any
	paths  []string
	starts int
}

// NewEngine returns an empty fake engine.
func NewEngine() *Engine {
	return &Engine{
		fns:  make(map[string]Func),
		docs: make(map[string]string),
		vars: make(map[string]any),
	}
}

// Register installs fn as the named engine function.
func (e *Engine) Register(name string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fns[name] = fn
}

// SetDoc installs help text for name.
func (e *Engine) SetDoc(name, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs[name] = text
}

// Var returns the value bound to name in the fake workspace.
func (e *Engine) Var(name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vars[name]
	return v, ok
}

// Paths returns the directories added to the fake load path.
func (e *Engine) Paths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}

// Starts returns how many times a process was started, counting
// restarts.
func (e *Engine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

// Starter returns a process starter for [octave.Options.Starter].
// Each start, including restarts after a fault, produces a fresh fake
// process over the same workspace.
func (e *Engine) Starter() transport.Starter {
	return func(ctx context.Context, cfg *transport.Config) (transport.Process, error) {
		e.mu.Lock()
		e.starts++
		e.mu.Unlock()
		return &fakeProc{
			e:     e,
			dir:   cfg.Dir,
			lines: make(chan string, 64),
			done:  make(chan struct{}),
		}, nil
	}
}

type fakeProc struct {
	e     *Engine
	dir   string
	lines chan string
	done  chan struct{}
	once  sync.Once
}

var runnerLine = regexp.MustCompile(`^__octave_runner\('([^']+)', '([^']+)'\);$`)

func (p *fakeProc) Send(line string) error {
	select {
	case <-p.done:
		return errors.New("fake engine has exited")
	default:
	}
	go p.handle(strings.TrimSpace(line))
	return nil
}

func (p *fakeProc) handle(line string) {
	switch {
	case strings.Contains(line, "disp(char(2))"):
		p.emit("\x02")
	case line == "exit":
		p.terminate()
	default:
		if m := runnerLine.FindStringSubmatch(line); m != nil {
			p.run(m[1], m[2])
		}
	}
}

func (p *fakeProc) emit(s string) {
	select {
	case <-p.done:
	case p.lines <- s:
	}
}

func (p *fakeProc) terminate() {
	p.once.Do(func() { close(p.done) })
}

func (p *fakeProc) Lines() <-chan string  { return p.lines }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) Tail() []string        { return nil }
func (p *fakeProc) Kill() error           { p.terminate(); return nil }
func (p *fakeProc) Close() error          { p.terminate(); return nil }

// run executes one request file and writes the reply, mirroring what
// the engine-side runner script does.
func (p *fakeProc) run(reqName, respName string) {
	results, execErr := p.call(filepath.Join(p.dir, reqName))
	if execErr != nil && execErr.Message == "__die" {
		p.terminate()
		return
	}
	errRec := octave.NewStruct().
		Set("message", "").
		Set("identifier", "")
	if execErr != nil {
		errRec = octave.NewStruct().
			Set("message", execErr.Message).
			Set("identifier", execErr.Identifier)
	}
	resp := octave.NewStruct().
		Set("results", octave.NewCell(results...)).
		Set("err", errRec)
	vars := []octave.Var{{Name: "resp", Value: resp}}
	if err := octave.WriteFile(filepath.Join(p.dir, respName), vars, nil); err != nil {
		p.terminate()
		return
	}
	p.emit("\x03")
}

func (p *fakeProc) call(reqPath string) ([]any, *octave.ExecError) {
	vars, err := octave.ReadFile(reqPath, nil)
	if err != nil {
		return nil, &octave.ExecError{Message: fmt.Sprintf("reading request: %v", err)}
	}
	var req *octave.Struct
	for _, v := range vars {
		if v.Name == "req" {
			req, _ = v.Value.(*octave.Struct)
		}
	}
	if req == nil {
		return nil, &octave.ExecError{Message: "request file has no req struct"}
	}
	fname, _ := field[string](req, "func_name")
	nout := 0
	if n, ok := field[float64](req, "nargout"); ok {
		nout = int(n)
	}
	var args []any
	if c, ok := field[*octave.Cell](req, "func_args"); ok {
		args = c.Elems
	}
	if dir, ok := field[string](req, "dname"); ok && dir != "" {
		p.e.mu.Lock()
		p.e.paths = append(p.e.paths, dir)
		p.e.mu.Unlock()
	}
	for _, i := range refIndices(req) {
		if i < 1 || i > len(args) {
			return nil, &octave.ExecError{Message: fmt.Sprintf("reference index %d out of range", i)}
		}
		name, ok := args[i-1].(string)
		if !ok {
			return nil, &octave.ExecError{Message: fmt.Sprintf("reference argument %d is not a name", i)}
		}
		v, ok := p.e.Var(name)
		if !ok {
			return nil, &octave.ExecError{
				Message:    fmt.Sprintf("'%s' undefined", name),
				Identifier: "Octave:undefined-function",
			}
		}
		args[i-1] = v
	}

	results, execErr := p.dispatch(fname, args, nout)
	if execErr != nil {
		return nil, execErr
	}
	if store, ok := field[string](req, "store_as"); ok && store != "" && len(results) > 0 {
		p.e.mu.Lock()
		p.e.vars[store] = results[0]
		p.e.mu.Unlock()
		results[0] = octave.Missing
	}
	return results, nil
}

func (p *fakeProc) dispatch(fname string, args []any, nout int) ([]any, *octave.ExecError) {
	e := p.e
	switch fname {
	case "assignin":
		if len(args) != 3 {
			return nil, &octave.ExecError{Message: "assignin: wrong number of arguments"}
		}
		name, _ := args[1].(string)
		e.mu.Lock()
		e.vars[name] = args[2]
		e.mu.Unlock()
		return nil, nil
	case "evalin":
		if len(args) != 2 {
			return nil, &octave.ExecError{Message: "evalin: wrong number of arguments"}
		}
		name, _ := args[1].(string)
		v, ok := e.Var(name)
		if !ok {
			return nil, &octave.ExecError{
				Message:    fmt.Sprintf("'%s' undefined", name),
				Identifier: "Octave:undefined-function",
			}
		}
		return []any{v}, nil
	case "addpath":
		dirs := make([]string, 0, len(args))
		for _, a := range args {
			if d, ok := a.(string); ok {
				dirs = append(dirs, d)
			}
		}
		e.mu.Lock()
		e.paths = append(e.paths, dirs...)
		e.mu.Unlock()
		return nil, nil
	case "exist":
		if len(args) < 1 {
			return nil, &octave.ExecError{Message: "exist: wrong number of arguments"}
		}
		name, _ := args[0].(string)
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.vars[name]; ok {
			return []any{1.0}, nil
		}
		if _, ok := e.fns[name]; ok {
			return []any{2.0}, nil
		}
		return []any{0.0}, nil
	case "help":
		name, _ := args[0].(string)
		e.mu.Lock()
		doc, ok := e.docs[name]
		e.mu.Unlock()
		if !ok {
			return nil, &octave.ExecError{Message: fmt.Sprintf("help: '%s' not found", name)}
		}
		return []any{doc}, nil
	case "__eval":
		src, _ := args[0].(string)
		if e.Eval == nil {
			return nil, &octave.ExecError{Message: "parse error: evaluation not supported"}
		}
		out, err := e.Eval(src)
		return out, asExecError(err)
	case "__die":
		return nil, &octave.ExecError{Message: "__die"}
	case "__hang":
		ms, _ := args[0].(float64)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return nil, nil
	}
	e.mu.Lock()
	fn, ok := e.fns[fname]
	e.mu.Unlock()
	if !ok {
		return nil, &octave.ExecError{
			Message:    fmt.Sprintf("'%s' undefined", fname),
			Identifier: "Octave:undefined-function",
		}
	}
	out, err := fn(args, nout)
	return out, asExecError(err)
}

func asExecError(err error) *octave.ExecError {
	if err == nil {
		return nil
	}
	var ee *octave.ExecError
	if errors.As(err, &ee) {
		return ee
	}
	return &octave.ExecError{Message: err.Error()}
}

// field fetches a typed struct field.
func field[T any](s *octave.Struct, name string) (T, bool) {
	var zero T
	v, ok := s.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// refIndices reads the request's by-name argument positions, which
// decode as a scalar when there is exactly one.
func refIndices(req *octave.Struct) []int {
	v, ok := req.Get("ref_indices")
	if !ok {
		return nil
	}
	switch v := v.(type) {
	case float64:
		return []int{int(v)}
	case *octave.Array:
		data, ok := v.Data.([]float64)
		if !ok {
			return nil
		}
		out := make([]int, len(data))
		for i, f := range data {
			out[i] = int(f)
		}
		return out
	}
	return nil
}
