package octave

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// EncodeError is the error returned when a value cannot be
// represented in the engine's interchange format at all. It is
// raised locally, before any engine interaction.
type EncodeError struct {
	// Type is the name of the Go type that caused the error.
	Type string
	// Reason is an explanation of why the value isn't representable.
	Reason error
}

func (e EncodeError) Error() string {
	return fmt.Sprintf("octave cannot represent %s: %s", e.Type, e.Reason)
}

func (e EncodeError) Unwrap() error {
	return e.Reason
}

func encodeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return EncodeError{ts, fmt.Errorf(reason, args...)}
}

// A StackFrame is one level of an engine-side error stack.
type StackFrame struct {
	File   string
	Name   string
	Line   int
	Column int
}

// ExecError is a structured runtime error reported by the engine
// inside a well-formed response. It does not fault the session.
type ExecError struct {
	// Message is the engine's error message, verbatim.
	Message string
	// Identifier is the engine's error identifier (such as
	// "Octave:undefined-function"), when the engine provides one.
	Identifier string
	// Stack is the engine-side call stack at the point of the error.
	Stack []StackFrame
}

func (e *ExecError) Error() string {
	if e.Identifier == "" {
		return fmt.Sprintf("octave error: %s", e.Message)
	}
	return fmt.Sprintf("octave error [%s]: %s", e.Identifier, e.Message)
}

// noOutput reports whether the error is the engine's "first output
// undefined" condition: the callee ran successfully for side effects
// but bound no return value. Preferred signal is the structured
// identifier; the message pattern match is a fallback for engine
// builds that report a blank identifier.
func (e *ExecError) noOutput() bool {
	if e.Identifier == "Octave:undefined-function" &&
		strings.Contains(e.Message, "return value list") {
		return true
	}
	return strings.Contains(e.Message, "undefined in return value list") ||
		strings.Contains(e.Message, "'_' undefined")
}

// parseFault reports whether the error indicates the engine could not
// parse the submitted code at all. Parse faults are fatal to the
// session.
func (e *ExecError) parseFault() bool {
	return e.Identifier == "Octave:parse-error" ||
		strings.Contains(e.Message, "parse error")
}

// TimeoutError is returned when a call exceeds the session's wait
// bound. The engine subprocess was killed and restarted; subsequent
// calls run against the fresh process.
type TimeoutError struct {
	// Func is the function the timed-out request was invoking.
	Func string
	// Timeout is the bound that elapsed.
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("octave call %q timed out after %v (engine restarted)", e.Func, e.Timeout)
}

// SyntaxFault is returned when the engine faulted fatally mid-call:
// it terminated unexpectedly, or rejected the submitted code before
// the protocol could run. The session restarts its subprocess
// automatically; the triggering call fails with this error.
type SyntaxFault struct {
	// Detail describes what was observed.
	Detail string
	// Output holds the engine's last output lines, for diagnosis.
	Output []string
}

func (e *SyntaxFault) Error() string {
	if len(e.Output) == 0 {
		return fmt.Sprintf("octave engine fault: %s", e.Detail)
	}
	return fmt.Sprintf("octave engine fault: %s\nengine output:\n%s", e.Detail, strings.Join(e.Output, "\n"))
}

// UndefinedError is returned by Pull when the requested name has no
// binding in the engine's workspace.
type UndefinedError struct {
	// Name is the workspace name that was looked up.
	Name string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("octave: %q is not defined in the engine workspace", e.Name)
}

// SessionClosedError is returned by any call issued after Close.
type SessionClosedError struct{}

func (SessionClosedError) Error() string { return "octave session is closed" }

// FaultError is returned when the session is Faulted and could not be
// restarted. All submissions fail with it until the session is
// closed.
type FaultError struct {
	// Reason is the restart failure.
	Reason error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("octave session faulted and restart failed: %v", e.Reason)
}

func (e *FaultError) Unwrap() error { return e.Reason }

// unsupportedError tags content the codec cannot represent. At top
// level it surfaces as an EncodeError or decode failure; nested in a
// container it triggers pruning instead.
type unsupportedError struct {
	what string
}

func (e *unsupportedError) Error() string {
	return fmt.Sprintf("unsupported content: %s", e.what)
}
