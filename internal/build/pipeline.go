// File: internal/build/pipeline.go
// Brief: Per-function image build pipeline and the stack-wide build cycle.

// Package build assembles per-function build contexts from a runtime template
// and the function source, runs build scripts, and drives an image builder.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/example/fnstack/internal/stack"
	"github.com/example/fnstack/internal/task"
	"github.com/example/fnstack/internal/templates"
	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
)

// FunctionDir is the staging subdirectory receiving the function source.
const FunctionDir = "function"

// ProviderArg is the build argument carrying the target provider.
const ProviderArg = "PROVIDER"

// Pipeline builds function images.
type Pipeline struct {
	Templates   templates.Store
	Builder     ImageBuilder
	StagingRoot string
	// Provider is the deployment-provider tag passed as a build argument and
	// appended to image tags when set.
	Provider string
	Log      logr.Logger
}

// Build runs the build pipeline for one function of s.
func (p *Pipeline) Build(ctx context.Context, s *stack.Stack, fn stack.Function, progress task.Progress) (Image, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if p.Templates == nil || !p.Templates.Available(fn.Runtime) {
		return Image{}, &TemplateNotFoundError{Function: fn.Name, Runtime: fn.Runtime}
	}
	templateDir := p.Templates.Path(fn.Runtime)
	stagingDir := StagingDir(p.StagingRoot, s.Name, fn.Name)
	sourceDir := s.SourceDir(fn)

	if err := os.RemoveAll(stagingDir); err != nil {
		return Image{}, fmt.Errorf("function %s: clear staging dir: %w", fn.Name, err)
	}
	progress("staging template " + fn.Runtime)
	if err := copyTree(templateDir, stagingDir, nil); err != nil {
		return Image{}, fmt.Errorf("function %s: stage template: %w", fn.Name, err)
	}

	ignored, err := readIgnoreFile(filepath.Join(templateDir, templates.IgnoreFile))
	if err != nil {
		return Image{}, fmt.Errorf("function %s: %w", fn.Name, err)
	}
	excludes := append(append([]string(nil), fn.Excludes...), ignored...)
	progress("staging source " + fn.Path)
	if err := copyTree(sourceDir, filepath.Join(stagingDir, FunctionDir), excludes); err != nil {
		return Image{}, fmt.Errorf("function %s: stage source: %w", fn.Name, err)
	}

	if len(fn.Scripts) > 0 {
		if err := runScripts(ctx, fn.Name, sourceDir, fn.Scripts, progress); err != nil {
			return Image{}, err
		}
	}

	tag, err := ImageTag(s.Name, fn.Name, p.Provider)
	if err != nil {
		return Image{}, err
	}
	req := Request{
		Function:   fn.Name,
		Tag:        tag,
		ContextDir: stagingDir,
		Dockerfile: "Dockerfile",
		BuildArgs:  map[string]string{ProviderArg: p.Provider},
	}
	p.Log.V(1).Info("submitting image build", "function", fn.Name, "tag", tag, "context", stagingDir)
	id, err := p.consume(ctx, req, progress)
	if err != nil {
		return Image{}, err
	}
	return Image{ID: id, Tag: tag, Function: fn}, nil
}

// consume submits req and drains the event stream until the terminal event.
func (p *Pipeline) consume(ctx context.Context, req Request, progress task.Progress) (string, error) {
	if p.Builder == nil {
		return "", &ImageBuildError{Function: req.Function, Message: "no image builder configured"}
	}
	events, err := p.Builder.BuildImage(ctx, req)
	if err != nil {
		return "", &ImageBuildError{
			Function:    req.Function,
			Message:     err.Error(),
			Unreachable: errors.Is(err, ErrBuilderUnreachable),
			Err:         err,
		}
	}
	defer events.Close()

	var imageID string
	for {
		ev, err := events.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", &ImageBuildError{
				Function:    req.Function,
				Message:     err.Error(),
				Unreachable: errors.Is(err, ErrBuilderUnreachable),
				Err:         err,
			}
		}
		if ev.Error != "" {
			return "", &ImageBuildError{Function: req.Function, Message: ev.Error}
		}
		if line := ev.Line(); line != "" {
			progress(line)
		}
		if ev.ImageID != "" {
			imageID = ev.ImageID
		}
	}
	if imageID == "" {
		return "", &ImageBuildError{Function: req.Function, Message: "build finished without an image id"}
	}
	if _, err := digest.Parse(imageID); err != nil {
		return "", &ImageBuildError{Function: req.Function, Message: fmt.Sprintf("invalid image id %q", imageID), Err: err}
	}
	return imageID, nil
}

// BuildStack stages the stack and builds every function concurrently. It
// returns once every build settled; the error, if any, is a *task.GroupError
// naming each failed function.
func (p *Pipeline) BuildStack(ctx context.Context, obs task.Observer, s *stack.Stack) ([]Image, error) {
	if err := StageStack(p.StagingRoot, s.Name); err != nil {
		return nil, err
	}
	tasks := make([]task.Task[Image], 0, len(s.Functions))
	for _, fn := range s.Functions {
		fn := fn
		tasks = append(tasks, task.New(fn.Name, func(ctx context.Context, progress task.Progress) (Image, error) {
			return p.Build(ctx, s, fn, progress)
		}))
	}
	out := task.Settle(ctx, obs, "builds", tasks)
	return out.Values, out.Err()
}
