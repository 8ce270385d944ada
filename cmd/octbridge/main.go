// Command octbridge is a command line front end for driving an
// Octave engine: evaluate source, call functions, and move values in
// and out of the engine workspace.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/kr/pretty"
	"github.com/matgo/octave"
)

var globalArgs struct {
	Config   string `flag:"config,Path to an HCL config file"`
	Exe      string `flag:"exe,Path to the engine executable"`
	Timeout  string `flag:"timeout,Per-call timeout (Go duration, 0 for none)"`
	KeepInts bool   `flag:"keep-ints,Preserve integer widths instead of converting to double"`
	Verbose  bool   `flag:"v,Echo engine output"`
}

func session(ctx context.Context) (*octave.Session, error) {
	opts := &octave.Options{
		Executable: globalArgs.Exe,
		KeepInts:   globalArgs.KeepInts,
	}
	if globalArgs.Verbose {
		opts.EngineOutput = os.Stderr
	}
	if globalArgs.Config != "" {
		cfg, err := loadConfig(globalArgs.Config)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.apply(opts); err != nil {
			return nil, err
		}
	}
	if globalArgs.Timeout != "" {
		d, err := time.ParseDuration(globalArgs.Timeout)
		if err != nil {
			return nil, fmt.Errorf("bad timeout: %w", err)
		}
		opts.Timeout = d
	}
	return octave.NewSession(ctx, opts)
}

func main() {
	root := &command.C{
		Name:     "octbridge",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:  "eval",
				Usage: "eval source...",
				Help: `Evaluate Octave source in the base workspace.

Multiple arguments are joined with newlines and evaluated as one
block. The value of ans, if the code bound one, is printed.`,
				Run: runEval,
			},
			{
				Name:     "call",
				Usage:    "call function [arg...]",
				Help:     "Call an engine function.\n\nArguments that parse as numbers are passed as doubles, true and\nfalse as logicals, @name as a workspace reference, and anything\nelse as a string.",
				SetFlags: command.Flags(flax.MustBind, &callArgs),
				Run:      runCall,
			},
			{
				Name:  "push",
				Usage: "push name value",
				Help:  "Bind a value in the engine's base workspace.",
				Run:   command.Adapt(runPush),
			},
			{
				Name:  "pull",
				Usage: "pull name",
				Help:  "Print the value bound to a workspace name.",
				Run:   command.Adapt(runPull),
			},
			{
				Name:  "doc",
				Usage: "doc name",
				Help:  "Print the engine's help text for a name.",
				Run:   command.Adapt(runDoc),
			},
			{
				Name:  "exist",
				Usage: "exist name",
				Help:  "Print the engine's classification of a name.",
				Run:   command.Adapt(runExist),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runEval(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("eval requires source text")
	}
	sess, err := session(env.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	v, err := sess.Eval(env.Context(), strings.Join(env.Args, "\n"))
	if err != nil {
		return err
	}
	printResult(v)
	return nil
}

var callArgs struct {
	Nout  int    `flag:"nout,default=1,Number of outputs to request"`
	Store string `flag:"store,Bind the first output to this workspace name"`
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("call requires a function name")
	}
	sess, err := session(env.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	args := make([]any, len(env.Args)-1)
	for i, a := range env.Args[1:] {
		args[i] = parseArg(a)
	}
	opts := []octave.CallOpt{octave.Nout(callArgs.Nout)}
	if callArgs.Store != "" {
		opts = append(opts, octave.StoreAs(callArgs.Store))
	}
	out, err := sess.InvokeN(env.Context(), env.Args[0], args, opts...)
	if err != nil {
		return err
	}
	for _, v := range out {
		printResult(v)
	}
	return nil
}

func runPush(env *command.Env, name, value string) error {
	sess, err := session(env.Context())
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.Push(env.Context(), name, parseArg(value))
}

func runPull(env *command.Env, name string) error {
	sess, err := session(env.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	v, err := sess.Pull(env.Context(), name)
	if err != nil {
		return err
	}
	printResult(v)
	return nil
}

func runDoc(env *command.Env, name string) error {
	sess, err := session(env.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	text, err := sess.Doc(env.Context(), name)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func runExist(env *command.Env, name string) error {
	sess, err := session(env.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	n, err := sess.Exist(env.Context(), name)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

// parseArg maps a command line token to a call argument: numbers to
// doubles, booleans to logicals, @name to a by-name reference, and
// the rest to strings.
func parseArg(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if name, ok := strings.CutPrefix(s, "@"); ok && name != "" {
		return octave.Ref(name)
	}
	return s
}

func printResult(v any) {
	switch v := v.(type) {
	case octave.Sentinel:
		fmt.Println("<no value>")
	case string:
		fmt.Println(v)
	case float64:
		fmt.Println(v)
	default:
		fmt.Printf("%# v\n", pretty.Formatter(v))
	}
}
