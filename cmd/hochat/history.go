package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hochat/internal/manager"
	"hochat/pkg/types"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and maintain stored conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("history requires a subcommand: list|search|stats|export|import|prune")
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				convs, err := s.mgr.History(ctx, manager.HistoryQuery{Limit: limit})
				if err != nil {
					return err
				}
				return printConversations(a.out, convs)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "Maximum number of conversations (0 = all)")

	var model, tag string
	search := &cobra.Command{
		Use:     "search <query>",
		Short:   "Search titles and message text",
		Example: "  hochat history search bonjour --model Llama-3.2-1B-Instruct-q4f32_1-MLC",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := manager.HistoryQuery{Model: model, Tag: tag, Limit: limit}
			if len(args) == 1 {
				q.Query = args[0]
			}
			return a.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				convs, err := s.mgr.History(ctx, q)
				if err != nil {
					return err
				}
				return printConversations(a.out, convs)
			})
		},
	}
	search.Flags().StringVar(&model, "model", "", "Only conversations with this model")
	search.Flags().StringVar(&tag, "tag", "", "Only conversations with this tag")
	search.Flags().IntVar(&limit, "limit", 0, "Maximum number of results (0 = all)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print conversation statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				st, err := s.mgr.Statistics(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}

	var outPath string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write every conversation and setting as an export document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				b, err := s.mgr.ExportHistory(ctx)
				if err != nil {
					return err
				}
				if outPath == "" || outPath == "-" {
					_, err = a.out.Write(append(b, '\n'))
					return err
				}
				return os.WriteFile(outPath, b, 0o600)
			})
		},
	}
	export.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default stdout)")

	var merge bool
	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Import an export document",
		Long:  "Import merges into the stored conversations and settings. --merge=false replaces everything.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return a.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				sum, err := s.mgr.ImportHistory(ctx, raw, merge)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "imported %d conversations, %d settings, %d custom models\n", sum.Conversations, sum.Settings, sum.CustomModels)
				return nil
			})
		},
	}
	imp.Flags().BoolVar(&merge, "merge", true, "Keep existing data and overwrite by id")

	var days int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete conversations not modified within --days days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days") {
				days = a.cfg.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive (or set retention_days)")
			}
			return a.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				n, err := s.mgr.Prune(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "deleted %d conversations\n", n)
				return nil
			})
		},
	}
	prune.Flags().IntVar(&days, "days", 90, "Days of history to keep")

	cmd.AddCommand(list, search, stats, export, imp, prune)
	return cmd
}

// withStack opens the daemon components for a one-shot command.
func (a *app) withStack(ctx context.Context, fn func(context.Context, *stack) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := a.openStack(ctx)
	if err != nil {
		return err
	}
	ferr := fn(ctx, s)
	if cerr := s.close(context.Background()); cerr != nil && ferr == nil {
		ferr = cerr
	}
	return ferr
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printConversations(w io.Writer, convs []types.Conversation) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODIFIED\tMESSAGES\tMODEL\tTITLE")
	for _, c := range convs {
		modified := time.UnixMilli(c.LastModified).Local().Format("2006-01-02 15:04")
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", c.ID, modified, len(c.Messages), c.Model, oneLine(c.Title))
	}
	return tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
