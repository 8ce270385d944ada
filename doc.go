// Package octave drives a GNU Octave subprocess from Go.
//
// A [Session] owns a dedicated engine process and exchanges values
// with it through binary interchange files: requests and replies are
// staged on disk, and a small engine-side runner script executes each
// call and signals completion over the process's standard output.
//
// Values cross the boundary as plain Go values drawn from a closed
// set; see the documentation on [Kind] and the value types in this
// package. Integer values convert to double on encode by default,
// matching the engine's native numeric type; set
// [Options.KeepInts] to preserve widths.
//
// Typical use:
//
//	sess, err := octave.NewSession(ctx, nil)
//	if err != nil { ... }
//	defer sess.Close()
//
//	v, err := sess.Feval(ctx, "sqrt", 2.0)
//	roots, err := sess.FevalN(ctx, 3, "svd", m)
//	err = sess.Push(ctx, "x", []float64{1, 2, 3})
//
// Calls are synchronous and serialized per session. A call that times
// out or faults the engine restarts the subprocess automatically; the
// interrupted call fails with [TimeoutError] or [SyntaxFault] and
// later calls run against the fresh process, with engine-side
// workspace state lost.
package octave
