package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"appgen/internal/cli"
	"appgen/internal/client"
	"appgen/internal/log"
	"appgen/internal/model"
	"appgen/internal/preview"
	"appgen/internal/progress"
	"appgen/internal/session"
	"appgen/internal/ui"
	"appgen/internal/util"
	"appgen/internal/util/deps"
	"appgen/internal/util/format"
)

func newGenerateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "generate [prompt...]",
		Aliases:       []string{"gen"},
		Short:         "Generate a web app from a prompt and follow its progress",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.runGenerate(cmd, args, false)
		},
	}
	bindGenerateFlags(cmd.Flags())
	return cmd
}

func bindGenerateFlags(fs *pflag.FlagSet) {
	fs.Bool("no-ui", false, "Disable TUI; print plain progress lines")
	fs.Bool("no-save", false, "Do not save the generated archive (plain mode)")
	fs.Bool("prompt-note", false, "Write the prompt to a .txt next to the saved archive")
	fs.Bool("wait-preview", false, "Wait for the preview to load before exiting (plain mode)")
	fs.Duration("preview-timeout", cli.DefaultPreviewWait, "Upper bound for --wait-preview")
	fs.Bool("open", false, "Open the preview in a browser once it is ready (plain mode)")
}

func (e *env) runGenerate(cmd *cobra.Command, args []string, forceTUI bool) error {
	opts, err := e.options(cmd)
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	if err := util.EnsureDir(opts.OutDir); err != nil {
		return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("failed to create output dir: %v", err)}
	}

	// TUI path (forced or auto if TTY and not disabled)
	useTUI := forceTUI || opts.Mode == model.OutputTUI || (opts.Mode == model.OutputAuto && e.isTerminal())
	if useTUI {
		err := ui.Run(cmd.Context(), ui.Options{
			BaseURL:    opts.BaseURL,
			OutDir:     opts.OutDir,
			Prompt:     cli.Prompt(args),
			HTTPClient: e.httpClient,
			OpenerPath: opts.OpenerPath,
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, session.ErrFailed):
			return &ExitError{Code: ExitGenerationFailed, Err: err}
		default:
			return &ExitError{Code: ExitCLIError, Err: err}
		}
	}

	prompt, err := cli.RequirePrompt(args)
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	return e.generatePlain(cmd.Context(), cmd.OutOrStdout(), prompt, opts)
}

// generatePlain runs one session without the TUI, then saves the archive
// and reports the preview.
func (e *env) generatePlain(ctx context.Context, out io.Writer, prompt string, opts model.CLIOptions) error {
	logger := log.WithComponent("cli")
	rep := newLineReporter(out)
	ctrl := session.New(opts.BaseURL,
		session.WithHTTPClient(e.httpClient),
		session.WithReporter(rep),
		session.WithOutDir(opts.OutDir),
	)
	defer ctrl.Close()

	if err := ctrl.Start(ctx, prompt); err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	// cancellation of ctx ends the session too, so a result always arrives
	res := <-rep.results

	if res.Phase == progress.PhaseFailed {
		err := fmt.Errorf("%w: %s", session.ErrFailed, res.Failure)
		if res.Err != nil && client.Unreachable(res.Err) {
			return &ExitError{Code: ExitUnreachable, Err: fmt.Errorf("%w: %w", err, res.Err)}
		}
		return &ExitError{Code: ExitGenerationFailed, Err: err}
	}

	snap := ctrl.Snapshot()
	switch {
	case snap.ArtifactErr != nil:
		return &ExitError{Code: ExitArtifactError, Err: fmt.Errorf("archive unusable: %w", snap.ArtifactErr)}
	case !snap.ArtifactReady:
		rep.printf("No archive was produced.\n")
	case opts.NoSave:
		rep.printf("Archive: %s (not saved)\n", format.HumanizeBytes(int64(len(snap.Artifact))))
	default:
		path, err := ctrl.DownloadArtifact()
		if err != nil {
			return &ExitError{Code: ExitArtifactError, Err: err}
		}
		rep.printf("Saved: %s (%s%s)\n", path, format.HumanizeBytes(int64(len(snap.Artifact))), itemCount(snap))
		if opts.PromptNote {
			if note, err := util.WriteSidecar(path, prompt+"\n"); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("failed to write prompt note")
			} else {
				rep.printf("Prompt: %s\n", note)
			}
		}
	}

	p := snap.Preview
	if p == nil {
		return nil
	}
	rep.printf("Preview: %s (expires %s, in %s)\n", p.URL, p.ExpiresAt.Local().Format(time.Kitchen), format.Countdown(p.Remaining))
	if opts.Open && !p.Expired {
		if err := openInBrowser(ctx, opts.OpenerPath, p.URL); err != nil {
			logger.Warn().Err(err).Msg("could not open preview")
		}
	}
	if opts.WaitPreview {
		state, settled := waitPreview(ctx, ctrl, rep.changed, opts.PreviewWait)
		switch {
		case !settled:
			rep.printf("Preview still loading after %s\n", opts.PreviewWait)
		case state.Expired:
			rep.printf("Preview expired\n")
		default:
			rep.printf("Preview %s\n", state.Load)
		}
	}
	return nil
}

func itemCount(s progress.Snapshot) string {
	switch {
	case s.ArtifactItemCount != nil:
		return fmt.Sprintf(", %d files", *s.ArtifactItemCount)
	case s.ArtifactEntries != nil:
		return fmt.Sprintf(", %d files", len(s.ArtifactEntries))
	}
	return ""
}

// waitPreview blocks until the preview leaves LoadLoading, expires, or limit
// passes. It reports whether the preview settled.
func waitPreview(ctx context.Context, ctrl *session.Controller, changed <-chan struct{}, limit time.Duration) (preview.State, bool) {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	for {
		s := ctrl.Snapshot()
		if s.Preview == nil {
			return preview.State{}, false
		}
		if s.Preview.Load != preview.LoadLoading || s.Preview.Expired {
			return *s.Preview, true
		}
		select {
		case <-changed:
		case <-timer.C:
			return *s.Preview, false
		case <-ctx.Done():
			return *s.Preview, false
		}
	}
}

func openInBrowser(ctx context.Context, openerPath, url string) error {
	opener, err := deps.FindOpener(openerPath)
	if err != nil {
		return err
	}
	return util.OpenURL(ctx, opener, url)
}
