package main

import (
	"fmt"
	"text/tabwriter"

	fnbuild "github.com/example/fnstack/internal/build"
	"github.com/example/fnstack/internal/ui"
	"github.com/spf13/cobra"
)

func newBuildCommand(g *globalOptions) *cobra.Command {
	var so stackOptions
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build every function image of the stack once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, so)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := ensureDirs(a.cfg.Paths.StagingRoot); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			width, _ := ui.TerminalWidth(out)
			console := ui.NewTaskConsole(out, ui.TaskConsoleOptions{Live: ui.IsTerminal(out), Width: width})
			console.Phase("Building " + a.stack.Name)
			images, err := a.pipeline().BuildStack(ctx, console, a.stack)
			console.Done()
			if err != nil {
				return err
			}
			fnbuild.SortImages(images)
			return printImages(cmd, images)
		},
	}
	cmd.Flags().StringVarP(&so.file, "file", "f", "", "Path to the stack descriptor (default ./fnstack.yaml)")
	cmd.Flags().StringVar(&so.builder, "builder", "", "Image builder to use (docker or buildkit)")
	return cmd
}

func printImages(cmd *cobra.Command, images []fnbuild.Image) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FUNCTION\tTAG\tIMAGE")
	for _, img := range images {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", img.Function.Name, img.Tag, img.ID)
	}
	return tw.Flush()
}
