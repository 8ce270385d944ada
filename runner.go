package octave

import _ "embed"

// evalFunc is the runner's pseudo-function name for raw source
// evaluation in the base workspace.
const evalFunc = "__eval"

// runnerName is the file name the runner script carries engine side.
// It must match the script's function name so the engine resolves it
// from the session's working directory. The source lives under
// runner/ so the build does not scan it as a package source file.
const runnerName = "__octave_runner.m"

//go:embed runner/runner.m
var runnerSource []byte
