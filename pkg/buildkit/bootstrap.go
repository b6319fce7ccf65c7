package buildkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/moby/buildkit/client"
)

const dockerFallbackBuilderName = "fnstack-buildkit"

var dockerLookPath = exec.LookPath
var dockerBuildxRunner = runDockerBuildxImpl

type dockerFallbackMemo struct {
	mu       sync.Mutex
	resolved bool
	addr     string
	err      error
}

var dockerFallback dockerFallbackMemo

type clientFactory struct {
	allowFallback bool
	log           logr.Logger
}

func (f clientFactory) new(ctx context.Context, addr string) (*client.Client, string, error) {
	c, err := dialBuildkit(ctx, addr)
	if err == nil {
		return c, addr, nil
	}
	if !f.allowFallback || !isDialError(err) {
		return nil, addr, fmt.Errorf("connect to buildkitd at %s: %w", addr, err)
	}
	fallbackAddr, fbErr := ensureDockerBackedBuilder(ctx, f.log)
	if fbErr != nil {
		return nil, addr, fmt.Errorf("connect to buildkitd at %s and fallback failed: %w", addr, errors.Join(err, fbErr))
	}
	c, err = dialBuildkit(ctx, fallbackAddr)
	if err != nil {
		return nil, fallbackAddr, fmt.Errorf("connect to buildkitd at %s after fallback: %w", fallbackAddr, err)
	}
	return c, fallbackAddr, nil
}

// ensureDockerBackedBuilder creates (once per process) a docker-container
// Buildx builder and returns its BuildKit address.
func ensureDockerBackedBuilder(ctx context.Context, log logr.Logger) (string, error) {
	dockerFallback.mu.Lock()
	defer dockerFallback.mu.Unlock()
	if dockerFallback.resolved {
		return dockerFallback.addr, dockerFallback.err
	}
	dockerFallback.resolved = true

	if _, err := dockerLookPath("docker"); err != nil {
		dockerFallback.err = fmt.Errorf("docker CLI not found: %w", err)
		return "", dockerFallback.err
	}

	builder := dockerFallbackBuilderName
	log.Info("BuildKit endpoint unavailable; provisioning Docker Buildx builder", "builder", builder)
	if err := dockerBuildxRunner(ctx, "inspect", builder); err != nil {
		if err := dockerBuildxRunner(ctx, "create", "--name", builder, "--driver", "docker-container"); err != nil {
			dockerFallback.err = err
			return "", dockerFallback.err
		}
	}
	if err := dockerBuildxRunner(ctx, "inspect", "--bootstrap", builder); err != nil {
		dockerFallback.err = err
		return "", dockerFallback.err
	}
	log.Info("using Docker Buildx builder", "builder", builder)

	dockerFallback.addr = fmt.Sprintf("docker-container://buildx_buildkit_%s0", builder)
	return dockerFallback.addr, nil
}

func runDockerBuildxImpl(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "docker", append([]string{"buildx"}, args...)...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		if out := strings.TrimSpace(buf.String()); out != "" {
			return fmt.Errorf("docker buildx %s: %w: %s", strings.Join(args, " "), err, out)
		}
		return fmt.Errorf("docker buildx %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func dialBuildkit(ctx context.Context, addr string) (*client.Client, error) {
	c, err := client.New(ctx, addr)
	if err != nil {
		return nil, err
	}
	if _, err := c.ListWorkers(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func isDialError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		if sysErr.Err == syscall.ENOENT || sysErr.Err == syscall.ECONNREFUSED || sysErr.Err == syscall.EACCES {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range []string{
		"no such file or directory",
		"connection refused",
		"error while dialing",
		"connect: permission denied",
	} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
