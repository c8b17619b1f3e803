package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"appgen/internal/client"
)

func newPreviewCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Manage live previews on the generation service",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "stop <token>",
		Short:         "Stop a running preview before it expires",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := e.options(cmd)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			err = e.client(opts).StopPreview(cmd.Context(), args[0])
			if errors.Is(err, client.ErrPreviewNotFound) {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			if err != nil {
				return exitFor(err, ExitCLIError)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped preview %s\n", args[0])
			return nil
		},
	})
	return cmd
}
