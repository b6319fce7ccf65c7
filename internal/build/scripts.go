package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/mattn/go-shellwords"
)

// scriptCommand turns a script line into a shell command so globs, variable
// assignments and substitutions behave as on a terminal. Lines with unbalanced
// quoting are rejected before anything runs.
func scriptCommand(ctx context.Context, script string) (*exec.Cmd, error) {
	args, err := shellwords.Parse(script)
	if err != nil {
		return nil, fmt.Errorf("parse script %q: %w", script, err)
	}
	if len(args) == 0 {
		return nil, nil
	}
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", script), nil
	}
	return exec.CommandContext(ctx, "sh", "-c", script), nil
}

// runScripts runs each script in order with dir as the working directory and
// stops at the first failure.
func runScripts(ctx context.Context, function, dir string, scripts []string, progress func(string)) error {
	for _, script := range scripts {
		script = strings.TrimSpace(script)
		if script == "" {
			continue
		}
		cmd, err := scriptCommand(ctx, script)
		if err != nil {
			return &ScriptError{Function: function, Script: script, Err: err}
		}
		if cmd == nil {
			continue
		}
		if progress != nil {
			progress("running script: " + script)
		}
		var out bytes.Buffer
		cmd.Dir = dir
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			code := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
			return &ScriptError{Function: function, Script: script, ExitCode: code, Output: out.String(), Err: err}
		}
	}
	return nil
}
