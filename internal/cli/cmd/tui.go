package cmd

import (
	"github.com/spf13/cobra"
)

func newTuiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "tui [prompt...]",
		Short:         "Force the interactive TUI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Force TUI; if stdout is not a terminal, bubbletea will error appropriately.
			return e.runGenerate(cmd, args, true)
		},
	}
}
