package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perbu/kbcite/pkg/kbcite"
)

type citeOutput struct {
	Query     string            `json:"query"`
	Mode      kbcite.Mode       `json:"mode"`
	Engine    kbcite.EngineMode `json:"engine"`
	KB        string            `json:"kb_version"`
	Citations []kbcite.Citation `json:"citations"`
}

func newCiteCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "cite [flags] <query>",
		Short: "Print the citations for a query as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			kb, err := a.loader().LoadForMode(kbcite.Mode(mode))
			if err != nil {
				return err
			}

			engine, _ := a.engine()
			citations, err := engine.FindCitations(cmd.Context(), query, kb)
			if err != nil {
				return err
			}
			if citations == nil {
				citations = []kbcite.Citation{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(citeOutput{
				Query:     query,
				Mode:      kb.Mode,
				Engine:    engine.Mode(),
				KB:        kb.Fingerprint,
				Citations: citations,
			})
		},
	}
	addModeFlag(cmd, &mode)
	return cmd
}
