package appconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Builder names.
const (
	BuilderDocker   = "docker"
	BuilderBuildKit = "buildkit"
)

// Dir is the per-user state directory under the home directory.
const Dir = ".fnstack"

// RepoFile is the per-repository override file.
const RepoFile = ".fnstack.yaml"

// PathsConfig locates the directories fnstack writes to.
type PathsConfig struct {
	StagingRoot  string `yaml:"stagingRoot,omitempty"`
	LogRoot      string `yaml:"logRoot,omitempty"`
	TemplateRoot string `yaml:"templateRoot,omitempty"`
	StateDir     string `yaml:"stateDir,omitempty"`
}

// BuildConfig selects the image builder and its endpoint.
type BuildConfig struct {
	Builder      string `yaml:"builder,omitempty"`
	BuildKitAddr string `yaml:"buildkitAddr,omitempty"`
	Provider     string `yaml:"provider,omitempty"`
}

// RunConfig bounds the host ports handed to function containers.
type RunConfig struct {
	PortMin int `yaml:"portMin,omitempty"`
	PortMax int `yaml:"portMax,omitempty"`
}

// Config is the merged contents of the global and repo config files.
type Config struct {
	Paths PathsConfig `yaml:"paths,omitempty"`
	Build BuildConfig `yaml:"build,omitempty"`
	Run   RunConfig   `yaml:"run,omitempty"`
}

// DefaultGlobalPath returns the per-user config file, or "" when the home
// directory cannot be resolved.
func DefaultGlobalPath() string {
	home, err := homedir.Dir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, Dir, "config.yaml")
}

func DefaultRepoPath(repoRoot string) string {
	repoRoot = strings.TrimSpace(repoRoot)
	if repoRoot == "" {
		return ""
	}
	return filepath.Join(repoRoot, RepoFile)
}

// Defaults returns the built-in configuration rooted at ~/.fnstack.
func Defaults() Config {
	base := Dir
	if home, err := homedir.Dir(); err == nil && home != "" {
		base = filepath.Join(home, Dir)
	}
	return Config{
		Paths: PathsConfig{
			StagingRoot:  filepath.Join(base, "staging"),
			LogRoot:      filepath.Join(base, "logs"),
			TemplateRoot: filepath.Join(base, "templates"),
			StateDir:     base,
		},
		Build: BuildConfig{Builder: BuilderDocker},
		Run:   RunConfig{PortMin: 49152, PortMax: 65535},
	}
}

// Load merges the defaults, the global file and the repo file, in that order.
// Missing files are ignored.
func Load(ctx context.Context, globalPath, repoPath string) (Config, error) {
	_ = ctx
	cfg := Defaults()
	if strings.TrimSpace(globalPath) != "" {
		c, err := loadOne(globalPath)
		if err != nil {
			return Config{}, fmt.Errorf("load global config: %w", err)
		}
		cfg = merge(cfg, c)
	}
	if strings.TrimSpace(repoPath) != "" {
		c, err := loadOne(repoPath)
		if err != nil {
			return Config{}, fmt.Errorf("load repo config: %w", err)
		}
		cfg = merge(cfg, c)
	}
	if err := cfg.expand(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be fixed up silently.
func (c Config) Validate() error {
	switch c.Build.Builder {
	case BuilderDocker, BuilderBuildKit:
	default:
		return fmt.Errorf("unknown builder %q (expected %s or %s)", c.Build.Builder, BuilderDocker, BuilderBuildKit)
	}
	if c.Run.PortMin <= 0 || c.Run.PortMax > 65535 || c.Run.PortMin > c.Run.PortMax {
		return fmt.Errorf("invalid port range %d-%d", c.Run.PortMin, c.Run.PortMax)
	}
	return nil
}

func (c *Config) expand() error {
	for _, p := range []*string{&c.Paths.StagingRoot, &c.Paths.LogRoot, &c.Paths.TemplateRoot, &c.Paths.StateDir} {
		expanded, err := homedir.Expand(strings.TrimSpace(*p))
		if err != nil {
			return fmt.Errorf("expand %s: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func loadOne(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return Config{}, nil
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func merge(a, b Config) Config {
	out := a
	out.Paths = mergePaths(a.Paths, b.Paths)
	out.Build = mergeBuild(a.Build, b.Build)
	if b.Run.PortMin != 0 {
		out.Run.PortMin = b.Run.PortMin
	}
	if b.Run.PortMax != 0 {
		out.Run.PortMax = b.Run.PortMax
	}
	return out
}

func mergePaths(a, b PathsConfig) PathsConfig {
	out := a
	if b.StagingRoot != "" {
		out.StagingRoot = b.StagingRoot
	}
	if b.LogRoot != "" {
		out.LogRoot = b.LogRoot
	}
	if b.TemplateRoot != "" {
		out.TemplateRoot = b.TemplateRoot
	}
	if b.StateDir != "" {
		out.StateDir = b.StateDir
	}
	return out
}

func mergeBuild(a, b BuildConfig) BuildConfig {
	out := a
	if b.Builder != "" {
		out.Builder = b.Builder
	}
	if b.BuildKitAddr != "" {
		out.BuildKitAddr = b.BuildKitAddr
	}
	if b.Provider != "" {
		out.Provider = b.Provider
	}
	return out
}
