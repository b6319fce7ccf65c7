// main.go bootstraps fnstack: it builds the root Cobra command and executes it
// with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/example/fnstack/internal/build"
	"github.com/example/fnstack/internal/cluster"
	"github.com/example/fnstack/internal/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	if err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	logLevel   string
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{logLevel: "info"}
	cmd := &cobra.Command{
		Use:           "fnstack",
		Short:         "Build and run every function of a stack as a local cluster",
		Long:          "fnstack builds each function of a stack into a container image and runs them together on a shared network and volume, rebuilding on demand.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level for fnstack output (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a global config file (default ~/.fnstack/config.yaml)")

	runCmd := newRunCommand(opts)
	buildCmd := newBuildCommand(opts)
	historyCmd := newHistoryCommand(opts)
	cmd.AddCommand(runCmd, buildCmd, historyCmd, newVersionCommand())
	cmd.Example = `  # Build and run the stack in the current directory
  fnstack run

  # Build every function of another stack without running it
  fnstack build -f services/fnstack.yaml

  # Show the last cycles recorded on this machine
  fnstack history --limit 20`
	bindViper(cmd, runCmd, buildCmd, historyCmd)
	return cmd
}

// bindViper lets FNSTACK_* environment variables supply any flag the user did
// not set explicitly, e.g. FNSTACK_LOG_LEVEL or FNSTACK_CONFIG.
func bindViper(commands ...*cobra.Command) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("FNSTACK")
	v.AutomaticEnv()
	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				if err := v.BindPFlags(fs); err != nil {
					cobra.CheckErr(err)
				}
			}
		}
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed || !v.IsSet(f.Name) {
						return
					}
					if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" && val != f.Value.String() {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var tnf *build.TemplateNotFoundError
	var ports *cluster.PortAllocationError
	switch {
	case engine.IsUnreachable(err):
		message = fmt.Sprintf("%s\nHint: is the Docker daemon running? Check DOCKER_HOST and 'docker info'.", err)
	case build.IsUnreachable(err):
		message = fmt.Sprintf("%s\nHint: the image builder could not be reached. Start buildkitd or set build.builder to %q.", err, "docker")
	case errors.As(err, &tnf):
		message = fmt.Sprintf("%s\nHint: install %q under paths.templateRoot; it needs a Dockerfile.", err, tnf.Runtime)
	case errors.As(err, &ports):
		message = fmt.Sprintf("%s\nHint: widen run.portMin/run.portMax or free the fixed port.", err)
	case errors.Is(err, os.ErrNotExist):
		message = fmt.Sprintf("%s\nHint: pass the stack descriptor with -f or run from the stack directory.", err)
	}
	fmt.Fprintf(w, "Error: %s\n", message)
}
