package buildkit

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime"

	"github.com/docker/cli/cli/config/configfile"
	"github.com/go-logr/logr"
)

// ImageLoader imports a docker image tarball into the local image store.
type ImageLoader interface {
	LoadImage(ctx context.Context, r io.Reader) error
}

// Options configures a Builder.
type Options struct {
	// Addr is the BuildKit endpoint. Empty selects DefaultAddress.
	Addr string
	// AllowFallback provisions a Docker Buildx builder when Addr cannot be
	// dialled.
	AllowFallback bool
	// Loader receives the exported image.
	Loader ImageLoader
	// DockerConfig supplies registry credentials. Empty loads the default
	// docker config file.
	DockerConfig *configfile.ConfigFile
	// Platform overrides the target platform, e.g. linux/amd64.
	Platform string
	Log      logr.Logger
}

// DefaultAddress returns the best-effort rootless BuildKit socket.
func DefaultAddress() string {
	if v := os.Getenv("FNSTACK_BUILDKIT_HOST"); v != "" {
		return v
	}
	if v := os.Getenv("BUILDKIT_HOST"); v != "" {
		return v
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/buildkitd"
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix://" + filepath.Join(dir, "buildkit", "buildkitd.sock")
	}
	if u, err := user.Current(); err == nil && u.Uid != "" {
		return fmt.Sprintf("unix:///run/user/%s/buildkit/buildkitd.sock", u.Uid)
	}
	return "unix:///run/buildkit/buildkitd.sock"
}
