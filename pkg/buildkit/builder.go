// Package buildkit builds function images against a BuildKit daemon and loads
// the result into the local Docker image store.
package buildkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/containerd/platforms"
	"github.com/docker/cli/cli/config"
	"github.com/moby/buildkit/client"
	"github.com/moby/buildkit/exporter/containerimage/exptypes"
	"github.com/moby/buildkit/session"
	"github.com/moby/buildkit/session/auth/authprovider"

	"github.com/example/fnstack/internal/build"
)

// Builder implements build.ImageBuilder on top of BuildKit. The daemon
// connection is opened on first use and shared by concurrent builds.
type Builder struct {
	opts Options

	mu       sync.Mutex
	c        *client.Client
	addr     string
	platform string
}

// New returns a Builder for opts.
func New(opts Options) *Builder {
	if opts.Addr == "" {
		opts.Addr = DefaultAddress()
	}
	return &Builder{opts: opts}
}

// Addr returns the endpoint in use, which differs from Options.Addr after a
// fallback.
func (b *Builder) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addr != "" {
		return b.addr
	}
	return b.opts.Addr
}

// Close releases the daemon connection.
func (b *Builder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c == nil {
		return nil
	}
	err := b.c.Close()
	b.c = nil
	return err
}

func (b *Builder) client(ctx context.Context) (*client.Client, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c != nil {
		return b.c, b.platform, nil
	}
	factory := clientFactory{allowFallback: b.opts.AllowFallback, log: b.opts.Log}
	c, addr, err := factory.new(ctx, b.opts.Addr)
	if err != nil {
		if isDialError(err) {
			return nil, "", fmt.Errorf("%w: %v", build.ErrBuilderUnreachable, err)
		}
		return nil, "", err
	}
	platform := b.opts.Platform
	if platform == "" {
		detected, derr := detectBuilderPlatforms(ctx, c)
		if derr != nil {
			b.opts.Log.V(1).Info("list buildkit workers", "error", derr.Error())
		}
		platform = selectDefaultBuilderPlatform(detected, defaultPlatform())
	}
	b.c, b.addr, b.platform = c, addr, platform
	b.opts.Log.V(1).Info("connected to buildkit", "addr", addr, "platform", platform)
	return c, platform, nil
}

// BuildImage solves req's Dockerfile, exports the image as a docker tarball
// and streams it into the configured loader. The terminal event carries the
// image's config digest, which is its Docker image id.
func (b *Builder) BuildImage(ctx context.Context, req build.Request) (build.Events, error) {
	if b.opts.Loader == nil {
		return nil, errors.New("buildkit builder has no image loader")
	}
	if err := ensureDirExists(req.ContextDir); err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}
	c, platform, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	solveCtx, cancel := context.WithCancel(ctx)
	s := newSolveStream(solveCtx, cancel)
	pr, pw := io.Pipe()
	loadDone := make(chan error, 1)
	var loadOnce sync.Once
	output := func(map[string]string) (io.WriteCloser, error) {
		loadOnce.Do(func() {
			go func() {
				err := b.opts.Loader.LoadImage(solveCtx, pr)
				pr.CloseWithError(err)
				loadDone <- err
			}()
		})
		return pw, nil
	}

	opt := b.solveOpt(req, platform, output)
	go s.run(func(statusCh chan *client.SolveStatus) (string, error) {
		resp, err := c.Solve(solveCtx, nil, opt, statusCh)
		pw.CloseWithError(err)
		var loadErr error
		started := true
		loadOnce.Do(func() { started = false })
		if started {
			loadErr = <-loadDone
		}
		if err != nil {
			return "", fmt.Errorf("solve %s: %w", req.Tag, err)
		}
		if loadErr != nil {
			return "", fmt.Errorf("load %s: %w", req.Tag, loadErr)
		}
		if !started {
			return "", fmt.Errorf("solve %s: exporter produced no image", req.Tag)
		}
		return imageID(resp.ExporterResponse), nil
	})
	return s, nil
}

func (b *Builder) solveOpt(req build.Request, platform string, output func(map[string]string) (io.WriteCloser, error)) client.SolveOpt {
	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	dockerfilePath := dockerfile
	if !filepath.IsAbs(dockerfilePath) {
		dockerfilePath = filepath.Join(req.ContextDir, dockerfile)
	}

	attrs := map[string]string{
		"filename": filepath.Base(dockerfilePath),
	}
	if platform != "" {
		attrs["platform"] = platform
	}
	keys := make([]string, 0, len(req.BuildArgs))
	for k := range req.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs["build-arg:"+k] = req.BuildArgs[k]
	}

	cfg := b.opts.DockerConfig
	if cfg == nil {
		cfg = config.LoadDefaultConfigFile(io.Discard)
	}
	return client.SolveOpt{
		Frontend:      "dockerfile.v0",
		FrontendAttrs: attrs,
		LocalDirs: map[string]string{
			"context":    req.ContextDir,
			"dockerfile": filepath.Dir(dockerfilePath),
		},
		Session: []session.Attachable{
			authprovider.NewDockerAuthProvider(authprovider.DockerAuthProviderConfig{ConfigFile: cfg}),
		},
		Exports: []client.ExportEntry{{
			Type:   client.ExporterDocker,
			Attrs:  map[string]string{"name": req.Tag},
			Output: output,
		}},
	}
}

// imageID prefers the config digest, which Docker uses as the image id.
func imageID(resp map[string]string) string {
	if id := resp[exptypes.ExporterImageConfigDigestKey]; id != "" {
		return id
	}
	return resp[exptypes.ExporterImageDigestKey]
}

func ensureDirExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// defaultPlatform is the host platform with the OS forced to linux, since
// function containers are always linux containers.
func defaultPlatform() string {
	p := platforms.DefaultSpec()
	p.OS = "linux"
	return platforms.Format(platforms.Normalize(p))
}

type workerLister interface {
	ListWorkers(ctx context.Context, opts ...client.ListWorkersOption) ([]*client.WorkerInfo, error)
}

func selectDefaultBuilderPlatform(available []string, preferred string) string {
	if len(available) == 0 {
		return preferred
	}
	for _, p := range available {
		if p == preferred {
			return p
		}
	}
	return available[0]
}

func detectBuilderPlatforms(ctx context.Context, l workerLister) ([]string, error) {
	workers, err := l.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	return collectWorkerPlatforms(workers), nil
}

func collectWorkerPlatforms(workers []*client.WorkerInfo) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, w := range workers {
		if w == nil {
			continue
		}
		for _, p := range w.Platforms {
			if strings.TrimSpace(p.OS) == "" || strings.TrimSpace(p.Architecture) == "" {
				continue
			}
			key := platforms.Format(platforms.Normalize(p))
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}
