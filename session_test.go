package octave_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/matgo/octave"
	"github.com/matgo/octave/enginetest"
)

func fakeSession(t *testing.T, eng *enginetest.Engine, opts *octave.Options) *octave.Session {
	t.Helper()
	if opts == nil {
		opts = &octave.Options{}
	}
	opts.Starter = eng.Starter()
	sess, err := octave.NewSession(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func registerAdd(eng *enginetest.Engine) {
	eng.Register("add", func(args []any, nout int) ([]any, error) {
		sum := 0.0
		for _, a := range args {
			f, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("add: argument %T is not numeric", a)
			}
			sum += f
		}
		return []any{sum}, nil
	})
}

func TestSessionFeval(t *testing.T) {
	eng := enginetest.NewEngine()
	registerAdd(eng)
	sess := fakeSession(t, eng, nil)

	v, err := sess.Feval(context.Background(), "add", 1.0, 2.0, 3.5)
	if err != nil {
		t.Fatalf("Feval: %v", err)
	}
	if v != 6.5 {
		t.Errorf("add = %v, want 6.5", v)
	}

	// Integer arguments cross as doubles by default.
	v, err = sess.Feval(context.Background(), "add", 2, 3)
	if err != nil {
		t.Fatalf("Feval: %v", err)
	}
	if v != 5.0 {
		t.Errorf("add = %v, want 5", v)
	}
}

func TestSessionPushPullRef(t *testing.T) {
	eng := enginetest.NewEngine()
	registerAdd(eng)
	sess := fakeSession(t, eng, nil)
	ctx := context.Background()

	if err := sess.Push(ctx, "v", 10.0); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got, ok := eng.Var("v"); !ok || got != 10.0 {
		t.Fatalf("engine-side v = %v, %v", got, ok)
	}

	// A Ref argument resolves against the workspace at call time.
	got, err := sess.Feval(ctx, "add", octave.Ref("v"), 5.0)
	if err != nil {
		t.Fatalf("Feval with ref: %v", err)
	}
	if got != 15.0 {
		t.Errorf("add(v, 5) = %v, want 15", got)
	}

	// Rebinding the name changes what later calls see.
	if err := sess.Push(ctx, "v", 100.0); err != nil {
		t.Fatal(err)
	}
	got, err = sess.Feval(ctx, "add", octave.Ref("v"), 5.0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 105.0 {
		t.Errorf("add(v, 5) after rebind = %v, want 105", got)
	}

	pulled, err := sess.Pull(ctx, "v")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pulled != 100.0 {
		t.Errorf("Pull(v) = %v, want 100", pulled)
	}

	// A dangling reference is an engine-side error.
	if _, err := sess.Feval(ctx, "add", octave.Ref("nosuch")); err == nil {
		t.Error("Feval with dangling ref succeeded, want error")
	}
}

func TestSessionNargout(t *testing.T) {
	eng := enginetest.NewEngine()
	eng.Register("pair", func(args []any, nout int) ([]any, error) {
		return []any{1.0, 2.0}, nil
	})
	sess := fakeSession(t, eng, nil)
	ctx := context.Background()

	// Extra requested outputs pad with the sentinel, without error.
	out, err := sess.FevalN(ctx, 3, "pair")
	if err != nil {
		t.Fatalf("FevalN: %v", err)
	}
	if len(out) != 3 || out[0] != 1.0 || out[1] != 2.0 || out[2] != any(octave.Missing) {
		t.Errorf("FevalN(3) = %v", out)
	}

	out, err = sess.FevalN(ctx, 1, "pair")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != 1.0 {
		t.Errorf("FevalN(1) = %v", out)
	}
}

func TestSessionExecError(t *testing.T) {
	eng := enginetest.NewEngine()
	registerAdd(eng)
	eng.Register("boom", func(args []any, nout int) ([]any, error) {
		return nil, errors.New("boom: deliberate failure")
	})
	sess := fakeSession(t, eng, nil)
	ctx := context.Background()

	_, err := sess.Feval(ctx, "boom")
	var ee *octave.ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("Feval error = %v (%T), want *ExecError", err, err)
	}

	// An ordinary engine error does not fault the session.
	if got := eng.Starts(); got != 1 {
		t.Errorf("engine started %d times, want 1", got)
	}
	if _, err := sess.Feval(ctx, "add", 1.0, 1.0); err != nil {
		t.Errorf("call after engine error failed: %v", err)
	}
}

func TestSessionStoreAs(t *testing.T) {
	eng := enginetest.NewEngine()
	registerAdd(eng)
	sess := fakeSession(t, eng, nil)
	ctx := context.Background()

	out, err := sess.InvokeN(ctx, "add", []any{4.0, 5.0}, octave.StoreAs("total"))
	if err != nil {
		t.Fatalf("InvokeN: %v", err)
	}
	if len(out) != 1 || out[0] != any(octave.Missing) {
		t.Errorf("stored call returned %v, want [Missing]", out)
	}
	if v, ok := eng.Var("total"); !ok || v != 9.0 {
		t.Errorf("engine-side total = %v, %v", v, ok)
	}

	// The stored binding is usable by name in later calls.
	got, err := sess.Feval(ctx, "add", octave.Ref("total"), 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10.0 {
		t.Errorf("add(total, 1) = %v, want 10", got)
	}
}

func TestSessionKw(t *testing.T) {
	eng := enginetest.NewEngine()
	var got []any
	eng.Register("plot", func(args []any, nout int) ([]any, error) {
		got = append([]any(nil), args...)
		return nil, nil
	})
	sess := fakeSession(t, eng, nil)

	_, err := sess.InvokeN(context.Background(), "plot", []any{1.0},
		octave.Nout(0), octave.Kw("color", "red"), octave.Kw("width", 2.0))
	if err != nil {
		t.Fatalf("InvokeN: %v", err)
	}
	want := []any{1.0, "color", "red", "width", 2.0}
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSessionTimeoutRecovery(t *testing.T) {
	eng := enginetest.NewEngine()
	registerAdd(eng)
	sess := fakeSession(t, eng, &octave.Options{Timeout: 100 * time.Millisecond})
	ctx := context.Background()

	_, err := sess.FevalN(ctx, 0, "__hang", 2000.0)
	var te *octave.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("hang error = %v (%T), want *TimeoutError", err, err)
	}
	if te.Func != "__hang" {
		t.Errorf("timeout names %q, want __hang", te.Func)
	}

	// The engine was replaced and the session is usable again.
	if got := eng.Starts(); got != 2 {
		t.Errorf("engine started %d times, want 2", got)
	}
	if v, err := sess.Feval(ctx, "add", 1.0, 2.0); err != nil || v != 3.0 {
		t.Errorf("call after timeout = %v, %v", v, err)
	}
}

func TestSessionDeathRecovery(t *testing.T) {
	eng := enginetest.NewEngine()
	registerAdd(eng)
	sess := fakeSession(t, eng, nil)
	ctx := context.Background()

	_, err := sess.FevalN(ctx, 0, "__die")
	var sf *octave.SyntaxFault
	if !errors.As(err, &sf) {
		t.Fatalf("death error = %v (%T), want *SyntaxFault", err, err)
	}

	if got := eng.Starts(); got != 2 {
		t.Errorf("engine started %d times, want 2", got)
	}
	if v, err := sess.Feval(ctx, "add", 1.0, 2.0); err != nil || v != 3.0 {
		t.Errorf("call after death = %v, %v", v, err)
	}
}

func TestSessionParseFaultRecovery(t *testing.T) {
	eng := enginetest.NewEngine()
	registerAdd(eng)
	eng.Eval = func(src string) ([]any, error) {
		return nil, &octave.ExecError{
			Message:    "parse error:\n  syntax error\n>>> x = = 3",
			Identifier: "Octave:parse-error",
		}
	}
	sess := fakeSession(t, eng, nil)
	ctx := context.Background()

	_, err := sess.Eval(ctx, "x = = 3")
	var sf *octave.SyntaxFault
	if !errors.As(err, &sf) {
		t.Fatalf("parse error = %v (%T), want *SyntaxFault", err, err)
	}

	// Parse faults are fatal: the subprocess is replaced.
	if got := eng.Starts(); got != 2 {
		t.Errorf("engine started %d times, want 2", got)
	}
	if v, err := sess.Feval(ctx, "add", 2.0, 2.0); err != nil || v != 4.0 {
		t.Errorf("call after parse fault = %v, %v", v, err)
	}
}

func TestSessionEval(t *testing.T) {
	eng := enginetest.NewEngine()
	eng.Eval = func(src string) ([]any, error) {
		if src == "6 * 7" {
			return []any{42.0}, nil
		}
		return nil, nil
	}
	sess := fakeSession(t, eng, nil)
	ctx := context.Background()

	v, err := sess.Eval(ctx, "6 * 7")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != 42.0 {
		t.Errorf("Eval = %v, want 42", v)
	}

	// Code that binds no result yields the sentinel, not an error.
	v, err = sess.Eval(ctx, "x = 3;")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != any(octave.Missing) {
		t.Errorf("Eval of statement = %v, want Missing", v)
	}
}

func TestSessionExistDoc(t *testing.T) {
	eng := enginetest.NewEngine()
	registerAdd(eng)
	eng.SetDoc("add", "add returns the sum of its arguments")
	sess := fakeSession(t, eng, nil)
	ctx := context.Background()

	if n, err := sess.Exist(ctx, "add"); err != nil || n == 0 {
		t.Errorf("Exist(add) = %d, %v", n, err)
	}
	if n, err := sess.Exist(ctx, "nosuch"); err != nil || n != 0 {
		t.Errorf("Exist(nosuch) = %d, %v", n, err)
	}
	if doc, err := sess.Doc(ctx, "add"); err != nil || doc != "add returns the sum of its arguments" {
		t.Errorf("Doc(add) = %q, %v", doc, err)
	}
}

func TestSessionPullUndefined(t *testing.T) {
	eng := enginetest.NewEngine()
	sess := fakeSession(t, eng, nil)
	ctx := context.Background()

	_, err := sess.Pull(ctx, "nosuch")
	var ue *octave.UndefinedError
	if !errors.As(err, &ue) {
		t.Fatalf("Pull(nosuch) = %v (%T), want *UndefinedError", err, err)
	}
	if ue.Name != "nosuch" {
		t.Errorf("error names %q, want nosuch", ue.Name)
	}

	// A bound name still pulls normally.
	if err := sess.Push(ctx, "bound", 4.0); err != nil {
		t.Fatal(err)
	}
	if v, err := sess.Pull(ctx, "bound"); err != nil || v != 4.0 {
		t.Errorf("Pull(bound) = %v, %v", v, err)
	}
}

func TestSessionDebugLog(t *testing.T) {
	eng := enginetest.NewEngine()
	registerAdd(eng)
	var buf bytes.Buffer
	sess := fakeSession(t, eng, &octave.Options{
		Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})

	if _, err := sess.Feval(context.Background(), "add", 1.0, 2.0); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "engine command") || !strings.Contains(out, "func=add") {
		t.Errorf("submitted command not logged, got %q", out)
	}
}

func TestSessionAddPath(t *testing.T) {
	eng := enginetest.NewEngine()
	sess := fakeSession(t, eng, nil)

	if err := sess.AddPath(context.Background(), "/tmp/a", "/tmp/b"); err != nil {
		t.Fatalf("AddPath: %v", err)
	}
	paths := eng.Paths()
	if len(paths) != 2 || paths[0] != "/tmp/a" || paths[1] != "/tmp/b" {
		t.Errorf("paths = %v", paths)
	}
}

func TestSessionClosed(t *testing.T) {
	eng := enginetest.NewEngine()
	sess := fakeSession(t, eng, nil)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Closing twice is fine.
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	_, err := sess.Feval(context.Background(), "add", 1.0)
	var ce octave.SessionClosedError
	if !errors.As(err, &ce) {
		t.Errorf("call after Close = %v (%T), want SessionClosedError", err, err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	a, b := enginetest.NewEngine(), enginetest.NewEngine()
	sa := fakeSession(t, a, nil)
	sb := fakeSession(t, b, nil)
	ctx := context.Background()

	if err := sa.Push(ctx, "only_a", 1.0); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Var("only_a"); !ok {
		t.Error("only_a missing from its own engine")
	}
	if _, ok := b.Var("only_a"); ok {
		t.Error("only_a leaked into the other session's engine")
	}
	if _, err := sb.Pull(ctx, "only_a"); err == nil {
		t.Error("Pull of foreign variable succeeded")
	}
}
