package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/fnstack/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCommand(g *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent build and run cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, g, "")
			if err != nil {
				return err
			}
			store, err := history.Open(history.Path(cfg.Paths.StateDir))
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cycles recorded yet.")
				return nil
			}
			return printHistory(cmd, entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of rows to show")
	return cmd
}

func printHistory(cmd *cobra.Command, entries []history.Entry) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTACK\tSESSION\tCYCLE\tFUNCTION\tSTATUS\tPORT\tDETAIL")
	for _, e := range entries {
		port := "-"
		if e.Port > 0 {
			port = fmt.Sprintf("%d", e.Port)
		}
		detail := e.Image
		if e.Error != "" {
			detail, _, _ = strings.Cut(e.Error, "\n")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			e.RecordedAt.Local().Format(time.DateTime), e.Stack, shortID(e.Session), e.Cycle, e.Function, e.Status, port, detail)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
