package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/matgo/octave"
	"github.com/zclconf/go-cty/cty"
)

// fileConfig is the HCL config file schema. Expressions may refer to
// process environment variables as env.NAME.
//
//	executable = env.OCTAVE_EXECUTABLE
//	timeout    = "30s"
//	keep_ints  = true
//	args       = ["--no-window-system"]
type fileConfig struct {
	Executable string   `hcl:"executable,optional"`
	Timeout    string   `hcl:"timeout,optional"`
	KeepInts   bool     `hcl:"keep_ints,optional"`
	OneDColumn bool     `hcl:"one_d_column,optional"`
	Args       []string `hcl:"args,optional"`
	TempDir    string   `hcl:"temp_dir,optional"`
}

func loadConfig(path string) (*fileConfig, error) {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	ectx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(env)},
	}
	var cfg fileConfig
	if err := hclsimple.DecodeFile(path, ectx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// apply folds the file config into opts. Command line flags are
// applied after, so they win.
func (c *fileConfig) apply(opts *octave.Options) error {
	if opts.Executable == "" {
		opts.Executable = c.Executable
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return fmt.Errorf("bad timeout in config: %w", err)
		}
		opts.Timeout = d
	}
	opts.KeepInts = opts.KeepInts || c.KeepInts
	opts.OneDColumn = opts.OneDColumn || c.OneDColumn
	opts.Args = append(opts.Args, c.Args...)
	if c.TempDir != "" {
		opts.TempDir = c.TempDir
	}
	return nil
}
