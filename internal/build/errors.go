package build

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBuilderUnreachable marks errors caused by an image builder that could not
// be contacted at all.
var ErrBuilderUnreachable = errors.New("image builder unreachable")

// TemplateNotFoundError is returned when a function's runtime template is not
// available locally.
type TemplateNotFoundError struct {
	Function string
	Runtime  string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("function %s: template %q is not available locally", e.Function, e.Runtime)
}

// ScriptError is returned when a build script exits non-zero.
type ScriptError struct {
	Function string
	Script   string
	ExitCode int
	Output   string
	Err      error
}

func (e *ScriptError) Error() string {
	msg := fmt.Sprintf("function %s: build script %q failed", e.Function, e.Script)
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("%s with exit code %d", msg, e.ExitCode)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ":\n" + out
	}
	return msg
}

func (e *ScriptError) Unwrap() error { return e.Err }

// ImageBuildError is returned when the image builder reports a failure.
type ImageBuildError struct {
	Function    string
	Message     string
	Unreachable bool
	Err         error
}

func (e *ImageBuildError) Error() string {
	if e.Unreachable {
		return fmt.Sprintf("function %s: image builder unreachable: %s", e.Function, e.Message)
	}
	return fmt.Sprintf("function %s: image build failed: %s", e.Function, e.Message)
}

func (e *ImageBuildError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err (or any error it wraps) came from an
// image builder that could not be contacted.
func IsUnreachable(err error) bool {
	if errors.Is(err, ErrBuilderUnreachable) {
		return true
	}
	var ibe *ImageBuildError
	if errors.As(err, &ibe) {
		return ibe.Unreachable
	}
	return false
}
