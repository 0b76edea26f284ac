package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perbu/kbcite/pkg/kbcite"
	"github.com/perbu/kbcite/pkg/loader"
)

func newDocsCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List the documents and headings of a mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := a.loader().LoadForMode(kbcite.Mode(mode))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode %s, version %s, %d documents\n", kb.Mode, kb.Fingerprint, len(kb.Docs))
			for _, doc := range kb.Docs {
				fmt.Fprintf(out, "\n%s (%s)\n", doc.Filename, kbcite.Fingerprint(doc.Content))
				for _, h := range doc.Headings {
					fmt.Fprintf(out, "%s%s #%s\n", strings.Repeat("  ", h.Level), h.Text, h.Anchor)
				}
			}
			return nil
		},
	}
	addModeFlag(cmd, &mode)
	return cmd
}

func newModesCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List the knowledge base modes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, mode := range loader.Modes() {
				mc, err := loader.ResolveMode(mode)
				if err != nil {
					return err
				}
				root := mc.Root
				if root == "" {
					root = "."
				}
				fmt.Fprintf(out, "%-10s %-5s %s\n", mode, root, strings.Join(mc.Files, ", "))
			}
			return nil
		},
	}
}
