package octave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/matgo/octave/transport"
)

// Options configures a Session. The zero value is usable.
type Options struct {
	// Executable is the engine binary to run. Empty resolves through
	// $OCTAVE_EXECUTABLE and $PATH.
	Executable string
	// Args are extra engine command line arguments.
	Args []string
	// Timeout bounds each call. A call that exceeds it fails with
	// [TimeoutError] and the engine is restarted. Zero means no bound;
	// a context deadline still applies either way.
	Timeout time.Duration
	// TempDir is where exchange files are staged. Empty uses a fresh
	// directory under the system temp dir, removed on Close.
	TempDir string
	// Logger receives session diagnostics. Nil discards them.
	Logger *slog.Logger
	// EngineOutput, when non-nil, receives the engine's printed
	// output (disp, printf and so on) as it arrives.
	EngineOutput io.Writer
	// KeepInts disables the default conversion of integer values to
	// double on encode.
	KeepInts bool
	// OneDColumn orients one-dimensional numeric data as a column
	// vector instead of a row vector.
	OneDColumn bool
	// Starter launches the engine subprocess. Nil uses
	// [transport.Spawn].
	Starter transport.Starter
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o *Options) starter() transport.Starter {
	if o == nil || o.Starter == nil {
		return transport.Spawn
	}
	return o.Starter
}

// Session state. Transitions: starting to ready at handshake, ready
// to busy and back around each call, anything to faulted when a
// restart fails, anything to closed at Close.
type state int

const (
	stateStarting state = iota
	stateReady
	stateBusy
	stateFaulted
	stateClosed
)

// Protocol markers on the engine's standard output. The runner prints
// doneMarker after writing a reply file; the handshake prints
// readyMarker once the engine accepts commands.
const (
	readyMarker = "\x02"
	doneMarker  = "\x03"
)

// startTimeout bounds the engine launch handshake.
const startTimeout = 30 * time.Second

// A Session is a connection to a dedicated engine subprocess. Calls
// are synchronous and serialized: concurrent callers queue on an
// internal lock. Independent sessions are fully isolated and may run
// concurrently.
type Session struct {
	opts  Options
	codec CodecOptions
	log   *slog.Logger
	dir   string
	own   bool // dir was created by us, remove on Close

	mu       sync.Mutex
	state    state
	proc     transport.Process
	serial   uint64
	faultErr error
}

// NewSession launches an engine subprocess and returns a session
// bound to it.
func NewSession(ctx context.Context, opts *Options) (*Session, error) {
	s := &Session{log: opts.logger()}
	if opts != nil {
		s.opts = *opts
	}
	s.codec = CodecOptions{
		KeepInts:   s.opts.KeepInts,
		OneDColumn: s.opts.OneDColumn,
		Logger:     s.opts.Logger,
	}
	if s.opts.TempDir != "" {
		s.dir = s.opts.TempDir
	} else {
		dir, err := os.MkdirTemp("", "octave-*")
		if err != nil {
			return nil, err
		}
		s.dir, s.own = dir, true
	}
	if err := os.WriteFile(filepath.Join(s.dir, runnerName), runnerSource, 0o644); err != nil {
		s.cleanup()
		return nil, err
	}
	if err := s.start(ctx); err != nil {
		s.cleanup()
		return nil, err
	}
	s.state = stateReady
	return s, nil
}

func (s *Session) cleanup() {
	if s.own {
		os.RemoveAll(s.dir)
	}
}

// start launches the subprocess and runs the readiness handshake.
// Callers hold s.mu or have exclusive access.
func (s *Session) start(ctx context.Context) error {
	proc, err := s.opts.starter()(ctx, &transport.Config{
		Executable: s.opts.Executable,
		Args:       s.opts.Args,
		Dir:        s.dir,
		Logger:     s.opts.Logger,
	})
	if err != nil {
		return err
	}
	s.proc = proc
	if err := proc.Send("more off; disp(char(2))"); err != nil {
		proc.Kill()
		return err
	}
	if _, err := s.await(ctx, readyMarker, startTimeout); err != nil {
		proc.Kill()
		return fmt.Errorf("engine did not become ready: %w", err)
	}
	return nil
}

// await reads engine output until a line bearing the marker arrives.
// Non-marker lines are forwarded to the configured output writer.
// Callers hold s.mu or have exclusive access.
func (s *Session) await(ctx context.Context, marker string, timeout time.Duration) (found bool, err error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		select {
		case line, ok := <-s.proc.Lines():
			if !ok {
				return false, fmt.Errorf("engine terminated unexpectedly")
			}
			if strings.Contains(line, marker) {
				return true, nil
			}
			s.log.Debug("engine output", "line", line)
			if s.opts.EngineOutput != nil {
				fmt.Fprintln(s.opts.EngineOutput, line)
			}
		case <-s.proc.Done():
			return false, fmt.Errorf("engine terminated unexpectedly")
		case <-timer:
			return false, context.DeadlineExceeded
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// submit runs one request against the engine and returns its
// response. It owns the full call lifecycle: staging the request
// file, prompting the runner, waiting for the completion marker, and
// classifying faults.
func (s *Session) submit(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateClosed:
		return nil, SessionClosedError{}
	case stateFaulted:
		// A previous restart failed; try once more before giving up.
		if err := s.restartLocked(ctx); err != nil {
			return nil, &FaultError{Reason: err}
		}
	}
	s.state = stateBusy
	defer func() {
		if s.state == stateBusy {
			s.state = stateReady
		}
	}()

	s.serial++
	reqName := fmt.Sprintf("req-%d.mat", s.serial)
	respName := fmt.Sprintf("resp-%d.mat", s.serial)
	reqPath := filepath.Join(s.dir, reqName)
	respPath := filepath.Join(s.dir, respName)
	defer os.Remove(reqPath)
	defer os.Remove(respPath)

	bs, err := req.marshal(&s.codec)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(reqPath, bs, 0o644); err != nil {
		return nil, err
	}
	line := fmt.Sprintf("__octave_runner('%s', '%s');", reqName, respName)
	s.log.Debug("engine command", "line", line, "func", req.Func, "nout", req.Nout)
	if err := s.proc.Send(line); err != nil {
		return nil, s.fault(ctx, fmt.Sprintf("sending command: %v", err))
	}

	found, err := s.await(ctx, doneMarker, s.opts.Timeout)
	if !found {
		switch err {
		case context.DeadlineExceeded:
			s.log.Warn("call timed out, restarting engine", "func", req.Func, "timeout", s.opts.Timeout)
			s.proc.Kill()
			s.restartLocked(context.WithoutCancel(ctx))
			return nil, &TimeoutError{Func: req.Func, Timeout: s.opts.Timeout}
		case ctx.Err():
			// The engine is mid-call with no way to cancel it; a fresh
			// process is the only clean state.
			s.proc.Kill()
			s.restartLocked(context.WithoutCancel(ctx))
			return nil, err
		default:
			return nil, s.fault(ctx, "engine terminated during call")
		}
	}

	out, err := os.ReadFile(respPath)
	if err != nil {
		return nil, s.fault(ctx, fmt.Sprintf("runner produced no reply: %v", err))
	}
	resp, err := parseResponse(out, &s.codec)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil && resp.Err.parseFault() {
		// The engine's parser state is suspect after a parse error;
		// restart rather than risk a wedged interpreter.
		detail := resp.Err.Message
		tail := s.proc.Tail()
		s.proc.Kill()
		s.restartLocked(context.WithoutCancel(ctx))
		return nil, &SyntaxFault{Detail: detail, Output: tail}
	}
	return resp, nil
}

// fault records an engine fault, restarts the subprocess, and returns
// the error for the interrupted call. Callers hold s.mu.
func (s *Session) fault(ctx context.Context, detail string) error {
	tail := s.proc.Tail()
	s.proc.Kill()
	s.restartLocked(context.WithoutCancel(ctx))
	return &SyntaxFault{Detail: detail, Output: tail}
}

// restartLocked replaces the subprocess with a fresh one. On failure
// the session is left faulted. Callers hold s.mu.
func (s *Session) restartLocked(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		s.state = stateFaulted
		s.faultErr = err
		s.log.Error("engine restart failed", "err", err)
		return err
	}
	s.state = stateReady
	s.faultErr = nil
	s.log.Info("engine restarted")
	return nil
}

// Restart replaces the engine subprocess with a fresh one, discarding
// all engine-side workspace state.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return SessionClosedError{}
	}
	if s.proc != nil {
		s.proc.Kill()
	}
	return s.restartLocked(ctx)
}

// Close shuts down the engine subprocess and releases the session's
// resources. Calls issued after Close fail with [SessionClosedError].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	if s.proc != nil {
		// Ask for an orderly exit; force it if the engine dawdles.
		s.proc.Send("exit")
		select {
		case <-s.proc.Done():
		case <-time.After(2 * time.Second):
			s.proc.Kill()
		}
		s.proc.Close()
	}
	s.cleanup()
	return nil
}

// FevalN calls the named engine function with the given arguments,
// requesting nout outputs. Missing outputs decode as [Missing];
// requesting zero outputs still returns one slot carrying the
// callee's implicit first output, if it bound one.
//
// Arguments of type [Ref] or [*ObjectHandle] are passed by name,
// resolving against the engine's base workspace at call time.
func (s *Session) FevalN(ctx context.Context, nout int, name string, args ...any) ([]any, error) {
	resp, err := s.submit(ctx, &Request{Func: name, Args: args, Nout: nout})
	if err != nil {
		return nil, err
	}
	return resp.values(nout)
}

// Feval calls the named engine function and returns its first output.
func (s *Session) Feval(ctx context.Context, name string, args ...any) (any, error) {
	out, err := s.FevalN(ctx, 1, name, args...)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Eval evaluates src as engine source in the base workspace and
// returns the value of ans, or [Missing] if the code bound none.
func (s *Session) Eval(ctx context.Context, src string) (any, error) {
	resp, err := s.submit(ctx, &Request{Func: evalFunc, Args: []any{src}, Nout: 0})
	if err != nil {
		return nil, err
	}
	out, err := resp.values(0)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Push binds name to v in the engine's base workspace.
func (s *Session) Push(ctx context.Context, name string, v any) error {
	_, err := s.FevalN(ctx, 0, "assignin", "base", name, v)
	return err
}

// Pull returns the value bound to name in the engine's base
// workspace, or [UndefinedError] if the name has no binding. Values
// that cannot cross the boundary, such as class instances, come back
// as an [*ObjectHandle].
func (s *Session) Pull(ctx context.Context, name string) (any, error) {
	v, err := s.Feval(ctx, "evalin", "base", name)
	if err != nil {
		var ee *ExecError
		if errors.As(err, &ee) && ee.Identifier == "Octave:undefined-function" {
			if n, eerr := s.Exist(ctx, name); eerr == nil && n == 0 {
				return nil, &UndefinedError{Name: name}
			}
		}
		return nil, err
	}
	return v, nil
}

// AddPath prepends the given directories to the engine's function
// load path.
func (s *Session) AddPath(ctx context.Context, dirs ...string) error {
	args := make([]any, len(dirs))
	for i, d := range dirs {
		args[i] = d
	}
	_, err := s.FevalN(ctx, 0, "addpath", args...)
	return err
}

// Exist reports the engine's classification of name: 0 if unknown, 1
// for a variable, 2 for a file, 5 for a built-in function, and so on
// per the engine's exist function.
func (s *Session) Exist(ctx context.Context, name string) (int, error) {
	v, err := s.Feval(ctx, "exist", name)
	if err != nil {
		return 0, err
	}
	return intFrom(v), nil
}

// Handle returns an opaque handle to the named engine function. The
// handle can be passed as an argument to later calls, where the
// engine resolves it to the function at call time.
func (s *Session) Handle(ctx context.Context, fn string) (*ObjectHandle, error) {
	v, err := s.Eval(ctx, "@"+fn)
	if err != nil {
		return nil, err
	}
	h, ok := v.(*ObjectHandle)
	if !ok {
		return nil, fmt.Errorf("octave: @%s produced %T, not a handle", fn, v)
	}
	return h, nil
}

// Doc returns the engine's help text for name.
func (s *Session) Doc(ctx context.Context, name string) (string, error) {
	v, err := s.Feval(ctx, "help", name)
	if err != nil {
		return "", err
	}
	text, _ := v.(string)
	return text, nil
}
