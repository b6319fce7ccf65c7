package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/fnstack/internal/appconfig"
	"github.com/example/fnstack/internal/build"
	"github.com/example/fnstack/internal/engine"
	"github.com/example/fnstack/internal/history"
	"github.com/example/fnstack/internal/logging"
	"github.com/example/fnstack/internal/stack"
	"github.com/example/fnstack/internal/templates"
	"github.com/example/fnstack/pkg/buildkit"
	"github.com/go-logr/logr"
)

// stackOptions are the flags shared by commands that operate on a stack.
type stackOptions struct {
	file    string
	builder string
}

// app is the environment a stack command runs in.
type app struct {
	cfg    appconfig.Config
	stack  *stack.Stack
	log    logr.Logger
	docker *engine.Client

	closers []func() error
}

func newApp(ctx context.Context, g *globalOptions, so stackOptions) (*app, error) {
	log, err := logging.New(g.logLevel)
	if err != nil {
		return nil, err
	}
	s, err := stack.Load(so.file)
	if err != nil {
		return nil, fmt.Errorf("load stack: %w", err)
	}
	cfg, err := loadConfig(ctx, g, s.Dir)
	if err != nil {
		return nil, err
	}
	if b := strings.TrimSpace(so.builder); b != "" {
		cfg.Build.Builder = b
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	docker, err := engine.New(log.WithName("engine"))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, stack: s, log: log, docker: docker}
	a.closers = append(a.closers, docker.Close)
	return a, nil
}

func loadConfig(ctx context.Context, g *globalOptions, dir string) (appconfig.Config, error) {
	global := strings.TrimSpace(g.configPath)
	if global == "" {
		global = appconfig.DefaultGlobalPath()
	}
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}
	repo := appconfig.DefaultRepoPath(appconfig.FindRepoRoot(dir))
	return appconfig.Load(ctx, global, repo)
}

// pipeline wires the configured image builder into a build pipeline.
func (a *app) pipeline() *build.Pipeline {
	var builder build.ImageBuilder = a.docker
	if a.cfg.Build.Builder == appconfig.BuilderBuildKit {
		bk := buildkit.New(buildkit.Options{
			Addr:          a.cfg.Build.BuildKitAddr,
			AllowFallback: true,
			Loader:        a.docker,
			Log:           a.log.WithName("buildkit"),
		})
		a.closers = append(a.closers, bk.Close)
		builder = bk
	}
	return &build.Pipeline{
		Templates:   templates.NewDir(a.cfg.Paths.TemplateRoot),
		Builder:     builder,
		StagingRoot: a.cfg.Paths.StagingRoot,
		Provider:    a.cfg.Build.Provider,
		Log:         a.log.WithName("build"),
	}
}

// history opens the session history. A store that cannot be opened is logged
// and skipped.
func (a *app) history() *history.Store {
	store, err := history.Open(history.Path(a.cfg.Paths.StateDir))
	if err != nil {
		a.log.Error(err, "open session history", "dir", a.cfg.Paths.StateDir)
		return nil
	}
	a.closers = append(a.closers, store.Close)
	return store
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.V(1).Info("close", "error", err.Error())
		}
	}
	a.closers = nil
}

func ensureDirs(dirs ...string) error {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Clean(d), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
