// Package matfile provides low-level encoding and decoding helpers to
// construct and parse Level 5 MAT-file containers, the binary
// interchange format the Octave engine reads and writes with
// load/save -v6.
//
// The provided encoder and decoder are very low level, and do not
// encode any of the bridge's value semantics. They deal in the
// format's framing only: the 128-byte file header, data element tags,
// the packed small-element form, and 64-bit alignment. It is the
// caller's responsibility to produce valid matrix elements using
// these tools.
package matfile
