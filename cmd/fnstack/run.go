package main

import (
	"os"

	"github.com/example/fnstack/internal/cluster"
	"github.com/example/fnstack/internal/session"
	"github.com/example/fnstack/internal/ui"
	"github.com/spf13/cobra"
)

func newRunCommand(g *globalOptions) *cobra.Command {
	var so stackOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build every function and run the stack until you quit",
		Long: `Build every function of the stack, start one container per function on a
shared network and volume, and wait for keys: r rebuilds and restarts the
whole stack, q tears it down and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, so)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.docker.Ping(ctx); err != nil {
				return err
			}
			if err := ensureDirs(a.cfg.Paths.StagingRoot, a.cfg.Paths.LogRoot); err != nil {
				return err
			}
			ports, err := cluster.NewPortAllocator(a.cfg.Run.PortMin, a.cfg.Run.PortMax)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			width, _ := ui.TerminalWidth(out)
			ctrl := &session.Controller{
				Stack:   a.stack,
				Builder: a.pipeline(),
				Runner: &cluster.Runner{
					Runtime: a.docker,
					Ports:   ports,
					LogRoot: a.cfg.Paths.LogRoot,
					Log:     a.log.WithName("run"),
				},
				Keys:    session.Keys(os.Stdin),
				Console: ui.NewTaskConsole(out, ui.TaskConsoleOptions{Live: ui.IsTerminal(out), Width: width}),
				Out:     out,
				Log:     a.log.WithName("session"),
				Session: session.NewSessionID(),
			}
			if store := a.history(); store != nil {
				ctrl.History = store
			}
			return ctrl.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&so.file, "file", "f", "", "Path to the stack descriptor (default ./fnstack.yaml)")
	cmd.Flags().StringVar(&so.builder, "builder", "", "Image builder to use (docker or buildkit)")
	return cmd
}
