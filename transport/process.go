// Package transport manages the engine subprocess underneath a
// session: spawning it, feeding it command lines, and streaming its
// output back a line at a time.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/taskgroup"
)

// A Process is a running engine subprocess. Commands go in as lines
// on standard input; output comes back as lines on the Lines channel,
// which is closed when the process exits.
type Process interface {
	// Send writes one command line to the process's standard input.
	Send(line string) error
	// Lines returns the channel of output lines. Standard output and
	// standard error are interleaved in arrival order. The channel is
	// closed after the process exits and its pipes drain.
	Lines() <-chan string
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// Tail returns the most recent output lines, for diagnostics
	// after a fault.
	Tail() []string
	// Kill forcibly terminates the process and everything it spawned.
	Kill() error
	// Close shuts down standard input and waits for the process to
	// exit.
	Close() error
}

// A Starter launches an engine process. Sessions use [Spawn] unless
// configured otherwise; tests substitute an in-process fake.
type Starter func(ctx context.Context, cfg *Config) (Process, error)

// Config describes how to launch the engine subprocess.
type Config struct {
	// Executable is the engine binary to run. Empty means resolve via
	// [Resolve].
	Executable string
	// Args are additional command line arguments, after the defaults.
	Args []string
	// Dir is the working directory for the subprocess.
	Dir string
	// Logger receives subprocess lifecycle events. Nil discards them.
	Logger *slog.Logger
	// TailSize bounds the retained diagnostic tail. Zero means a
	// small default.
	TailSize int
}

func (c *Config) logger() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

func (c *Config) tailSize() int {
	if c == nil || c.TailSize <= 0 {
		return 30
	}
	return c.TailSize
}

// EnvExecutable is the environment variable consulted for the engine
// binary path when none is configured explicitly.
const EnvExecutable = "OCTAVE_EXECUTABLE"

// Resolve returns the engine binary to run: the explicit path if
// nonempty, else $OCTAVE_EXECUTABLE, else the first of octave-cli and
// octave found on $PATH.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(EnvExecutable); env != "" {
		return env, nil
	}
	for _, name := range []string{"octave-cli", "octave"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no engine executable found; install octave or set $%s", EnvExecutable)
}

// defaultArgs keep the engine quiet and non-graphical so that its
// standard output carries only protocol traffic.
var defaultArgs = []string{"--no-gui", "--norc", "--quiet", "--interactive"}

// Spawn launches the engine subprocess described by cfg. It is the
// default [Starter].
func Spawn(ctx context.Context, cfg *Config) (Process, error) {
	bin, err := Resolve(cfg.Executable)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(bin, append(append([]string(nil), defaultArgs...), cfg.Args...)...)
	cmd.Dir = cfg.Dir
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	cfg.logger().Info("engine started", "exe", bin, "pid", cmd.Process.Pid)

	p := &process{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
		tail:  queue.New[string](),
		max:   cfg.tailSize(),
		log:   cfg.logger(),
	}
	g := taskgroup.New(nil)
	g.Go(func() error { p.pump(stdout); return nil })
	g.Go(func() error { p.pump(stderr); return nil })
	go func() {
		g.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		p.log.Info("engine exited", "pid", cmd.Process.Pid, "err", err)
		close(p.lines)
		close(p.done)
	}()
	return p, nil
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}
	quit  chan struct{} // closed by Kill, unblocks pumps

	log *slog.Logger

	mu       sync.Mutex
	tail     *queue.Queue[string]
	max      int
	waitErr  error
	quitOnce sync.Once
	inOnce   sync.Once
	inErr    error
}

func (p *process) pump(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		p.mu.Lock()
		p.tail.Add(line)
		for p.tail.Len() > p.max {
			p.tail.Pop()
		}
		p.mu.Unlock()
		select {
		case p.lines <- line:
		case <-p.quit:
			return
		}
	}
}

func (p *process) Send(line string) error {
	select {
	case <-p.done:
		return errors.New("engine process has exited")
	default:
	}
	_, err := io.WriteString(p.stdin, line+"\n")
	return err
}

func (p *process) Lines() <-chan string { return p.lines }

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, p.tail.Len())
	p.tail.Each(func(s string) bool {
		out = append(out, s)
		return true
	})
	return out
}

func (p *process) Kill() error {
	p.quitOnce.Do(func() { close(p.quit) })
	err := killTree(p.cmd)
	<-p.done
	return err
}

func (p *process) Close() error {
	p.inOnce.Do(func() { p.inErr = p.stdin.Close() })
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.inErr, p.waitErr)
}
