package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"hochat/internal/legacy"
)

func newMigrateCmd(a *app) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy conversations and custom models out of a legacy store",
		Long: "migrate reads the flat key/value file older releases wrote and copies its\n" +
			"conversations and custom models into the database. The source is not modified.\n" +
			"The daemon does this on its own when the database is empty.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				from = a.cfg.LegacyPath
			}
			src, err := legacy.Open(from)
			if errors.Is(err, legacy.ErrNotFound) {
				return fmt.Errorf("no legacy store at %s", from)
			}
			if err != nil {
				return err
			}
			defer src.Close()
			keys, err := src.Keys()
			if err != nil {
				return fmt.Errorf("read legacy store: %w", err)
			}
			for _, k := range keys {
				if k != legacy.KeyConversationHistory && k != legacy.KeyCustomModels {
					fmt.Fprintf(a.out, "skipping key %q\n", k)
				}
			}

			// the controller would migrate on Init when the store is empty;
			// go straight to the store so a non-empty database works too
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sum := st.MigrateLegacy(ctx, src)
			fmt.Fprintf(a.out, "migrated %d conversations, %d custom models\n", sum.Conversations, sum.CustomModels)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Legacy store file (default legacy_path)")
	return cmd
}
