package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"appgen/internal/artifact"
	"appgen/internal/cli"
	"appgen/internal/log"
	"appgen/internal/util"
	"appgen/internal/util/format"
)

func newFetchCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fetch <prompt...>",
		Short:         "Generate an app without progress and save the archive",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := e.options(cmd)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			prompt, err := cli.RequirePrompt(args)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			if err := util.EnsureDir(opts.OutDir); err != nil {
				return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("failed to create output dir: %v", err)}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generating (this can take several minutes)...\n")
			data, err := e.client(opts).FetchArchive(cmd.Context(), prompt)
			if err != nil {
				return exitFor(err, ExitGenerationFailed)
			}
			entries, err := artifact.Inspect(data)
			if err != nil {
				return &ExitError{Code: ExitArtifactError, Err: fmt.Errorf("archive unusable: %w", err)}
			}
			path, err := artifact.Materialize(data, opts.OutDir, artifact.DefaultName)
			if err != nil {
				return &ExitError{Code: ExitArtifactError, Err: err}
			}
			fmt.Fprintf(out, "Saved: %s (%s, %d files)\n", path, format.HumanizeBytes(int64(len(data))), len(entries))

			if opts.PromptNote {
				if note, err := util.WriteSidecar(path, prompt+"\n"); err != nil {
					logger := log.WithComponent("cli")
					logger.Warn().Err(err).Str("path", path).Msg("failed to write prompt note")
				} else {
					fmt.Fprintf(out, "Prompt: %s\n", note)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("prompt-note", false, "Write the prompt to a .txt next to the saved archive")
	return cmd
}
