package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"appgen/internal/dirs"
	"appgen/internal/util/deps"
)

func newDoctorCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:           "doctor",
		Short:         "Check the generation service and the local browser opener",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := e.options(cmd)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			out := cmd.OutOrStdout()

			if cfg := e.v.ConfigFileUsed(); cfg != "" {
				fmt.Fprintf(out, "Config:  %s\n", cfg)
			}
			if lf, err := dirs.LogFile(); err == nil {
				fmt.Fprintf(out, "Log:     %s\n", lf)
			}
			// A missing opener only disables opening previews.
			if op, err := deps.FindOpener(opts.OpenerPath); err != nil {
				fmt.Fprintf(out, "Opener:  none (%v)\n", err)
			} else {
				fmt.Fprintf(out, "Opener:  %s\n", op)
			}

			if err := e.client(opts).Ping(cmd.Context()); err != nil {
				fmt.Fprintf(out, "Service: %s unreachable\n", opts.BaseURL)
				return exitFor(err, ExitUnreachable)
			}
			fmt.Fprintf(out, "Service: %s reachable\n", opts.BaseURL)
			return nil
		},
	}
}
