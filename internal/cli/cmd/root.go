package cmd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"appgen/internal/cli"
	"appgen/internal/client"
	"appgen/internal/config"
	"appgen/internal/dirs"
	"appgen/internal/log"
	"appgen/internal/metrics"
	"appgen/internal/model"
)

const (
	ExitOK               = 0
	ExitCLIError         = 1
	ExitUnreachable      = 2
	ExitGenerationFailed = 3
	ExitArtifactError    = 4
)

// ExitError wraps an error with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// env carries what the commands share. Tests override httpClient and
// isTerminal.
type env struct {
	v          *viper.Viper
	httpClient *http.Client
	isTerminal func() bool
	logFile    io.Closer
}

func newEnv() *env {
	return &env{
		v:          viper.New(),
		isTerminal: stdoutIsTerminal,
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "appgen [prompt...]",
		Short: "Describe a web app, watch it get built, preview it",
		Long: "appgen talks to a multi-stage web-app generation service. Describe the app you want and " +
			"appgen streams the service's progress (planning → architecture → coding → validation), " +
			"saves the generated codebase archive and opens a time-limited live preview.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs, // the prompt, not a subcommand
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to generate when no subcommand is given.
			if len(args) == 0 {
				return cmd.Help()
			}
			return e.runGenerate(cmd, args, false)
		},
	}

	// Persistent flags available to all subcommands
	pf := root.PersistentFlags()
	pf.String("api-url", "", "Generation service origin (default "+client.DefaultBaseURL+")")
	pf.StringP("out-dir", "o", "", "Directory for saved archives (default .)")
	pf.String("log-level", "", "Log level: trace, debug, info, warn, error")
	pf.String("opener", "", "Program used to open preview URLs in a browser")
	pf.BoolP("verbose", "v", false, "Debug logging")

	// Also bind generate flags on root, so `appgen <prompt>` works.
	bindGenerateFlags(root.Flags())

	root.AddCommand(newGenerateCmd(e))
	root.AddCommand(newTuiCmd(e))
	root.AddCommand(newFetchCmd(e))
	root.AddCommand(newPreviewCmd(e))
	root.AddCommand(newDoctorCmd(e))
	root.AddCommand(newCompletionCmd())

	return root
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	e := newEnv()
	defer e.teardown()
	root := newRootCmd(e)
	err := root.ExecuteContext(ctx)
	dumpMetrics()
	return err
}

// dumpMetrics logs the process counters at debug level.
func dumpMetrics() {
	logger := log.WithComponent("metrics")
	ev := logger.Debug()
	if !ev.Enabled() {
		return
	}
	values, err := metrics.Gather()
	if err != nil {
		ev.Err(err).Msg("gather metrics")
		return
	}
	for name, v := range values {
		ev = ev.Float64(name, v)
	}
	ev.Msg("process metrics")
}

// setup loads configuration and configures logging before any command runs.
func (e *env) setup(cmd *cobra.Command) error {
	if err := config.Init(e.v, cmd.Root()); err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	opts, err := e.options(cmd)
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}

	cfg := log.Config{Level: opts.LogLevel}
	if e.ownsTerminal(cmd, opts) {
		// the TUI owns stderr too; log to a file or not at all
		cfg.Output = io.Discard
		if path, err := dirs.LogFile(); err == nil {
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				cfg.Output = f
				e.logFile = f
			}
		}
	}
	log.Configure(cfg)
	return nil
}

func (e *env) teardown() {
	if e.logFile != nil {
		_ = e.logFile.Close()
		e.logFile = nil
	}
}

// options assembles run options with precedence flag > env > config > default.
func (e *env) options(cmd *cobra.Command) (model.CLIOptions, error) {
	in := cli.Inputs{
		BaseURL:    e.v.GetString(config.KeyAPIURL),
		OutDir:     e.v.GetString(config.KeyOutDir),
		OpenerPath: e.v.GetString(config.KeyOpener),
		LogLevel:   e.v.GetString(config.KeyLogLevel),
		Verbose:    e.v.GetBool(config.KeyVerbose),
		ForceTUI:   cmd.Name() == "tui",
	}
	fs := cmd.Flags()
	in.NoUI = boolFlag(fs, "no-ui")
	in.WaitPreview = boolFlag(fs, "wait-preview")
	in.PromptNote = boolFlag(fs, "prompt-note")
	in.NoSave = boolFlag(fs, "no-save")
	in.Open = boolFlag(fs, "open")
	if fs.Lookup("preview-timeout") != nil {
		in.PreviewWait, _ = fs.GetDuration("preview-timeout")
	}
	return cli.Assemble(in)
}

// boolFlag reads a flag the command may not define.
func boolFlag(fs *pflag.FlagSet, name string) bool {
	if fs.Lookup(name) == nil {
		return false
	}
	v, _ := fs.GetBool(name)
	return v
}

func (e *env) ownsTerminal(cmd *cobra.Command, opts model.CLIOptions) bool {
	switch cmd.Name() {
	case "tui":
		return true
	case "generate", cmd.Root().Name():
		return opts.Mode == model.OutputAuto && e.isTerminal()
	}
	return false
}

func (e *env) client(opts model.CLIOptions) *client.Client {
	return client.New(opts.BaseURL, client.WithHTTPClient(e.httpClient))
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// exitFor maps a service error onto an ExitError.
func exitFor(err error, fallback int) error {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee
	}
	if client.Unreachable(err) {
		return &ExitError{Code: ExitUnreachable, Err: err}
	}
	return &ExitError{Code: fallback, Err: err}
}
