package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear cached model files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("cache requires a subcommand: ls|rm|clear")
		},
	}

	ls := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				info, err := s.mgr.CacheInfo(ctx)
				if err != nil {
					return err
				}
				if !info.Supported {
					fmt.Fprintf(a.out, "cache backend %q is unavailable\n", info.Backend)
					return nil
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "MODEL\tFILES\tSIZE")
				for _, e := range info.Entries {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", e.ModelID, e.Files, humanize.Bytes(uint64(e.Bytes)))
				}
				return tw.Flush()
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm <model-id>...",
		Short: "Delete the cached files of the given models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				for _, id := range args {
					if err := s.tier.DeleteDirectory(ctx, id); err != nil {
						return fmt.Errorf("remove %s: %w", id, err)
					}
					fmt.Fprintln(a.out, "removed", id)
				}
				return nil
			})
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				n, err := s.mgr.ClearCache(ctx, true)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "removed %d cached models\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(ls, rm, clear)
	return cmd
}
