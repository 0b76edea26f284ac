package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perbu/kbcite/pkg/kbcite"
	"github.com/perbu/kbcite/pkg/loader"
)

func newWarmCmd(a *app) *cobra.Command {
	var modes []string
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Embed every uncached document and store the vectors in the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store := a.engine()
			if engine.Mode() != kbcite.ModeSemantic {
				return fmt.Errorf("warm: %w", kbcite.ErrNoProvider)
			}

			selected := loader.Modes()
			if len(modes) > 0 {
				selected = selected[:0]
				for _, m := range modes {
					selected = append(selected, kbcite.Mode(m))
				}
			}

			out := cmd.OutOrStdout()
			total := 0
			for _, mode := range selected {
				if err := cmd.Context().Err(); err != nil {
					return err
				}

				kb, err := a.loader().LoadForMode(mode)
				if err != nil {
					return err
				}
				added, err := engine.Warm(cmd.Context(), kb)
				if err != nil {
					return fmt.Errorf("mode %s: %w", mode, err)
				}
				a.logger.Info("cache warmed",
					zap.String("mode", string(mode)),
					zap.Int("docs", len(kb.Docs)),
					zap.Int("added", added))
				fmt.Fprintf(out, "%s: %d documents, %d embedded\n", mode, len(kb.Docs), added)
				total += added
			}
			fmt.Fprintf(out, "%d new cache entries, %d total in %s\n", total, store.Len(), store.Path())
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&modes, "mode", "m", nil, "modes to warm (default all)")
	return cmd
}
