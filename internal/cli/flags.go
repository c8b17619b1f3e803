// Package cli turns raw command-line input into validated run options.
package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"appgen/internal/client"
	"appgen/internal/model"
	"appgen/internal/util"
)

// DefaultPreviewWait bounds --wait-preview when no duration is given.
const DefaultPreviewWait = 30 * time.Second

// ErrNoPrompt is returned when a command needs a prompt and none was given.
var ErrNoPrompt = errors.New("usage: appgen generate <prompt...> (the prompt cannot be empty)")

// Inputs are the raw values gathered from flags, environment and config.
type Inputs struct {
	BaseURL    string
	OutDir     string
	OpenerPath string
	LogLevel   string
	Verbose    bool

	NoUI        bool
	ForceTUI    bool
	WaitPreview bool
	PreviewWait time.Duration
	PromptNote  bool
	NoSave      bool
	Open        bool
}

// Prompt joins positional arguments into one prompt. Runs of whitespace
// collapse to a single space.
func Prompt(args []string) string {
	return strings.Join(strings.Fields(strings.Join(args, " ")), " ")
}

// RequirePrompt is Prompt but fails on an empty result.
func RequirePrompt(args []string) (string, error) {
	p := Prompt(args)
	if p == "" {
		return "", ErrNoPrompt
	}
	return p, nil
}

// Assemble validates in and resolves defaults.
func Assemble(in Inputs) (model.CLIOptions, error) {
	baseURL := strings.TrimSpace(in.BaseURL)
	if baseURL == "" {
		baseURL = client.DefaultBaseURL
	}
	if err := util.ValidateBaseURL(baseURL); err != nil {
		return model.CLIOptions{}, fmt.Errorf("invalid --api-url: %w", err)
	}

	level := strings.ToLower(strings.TrimSpace(in.LogLevel))
	if in.Verbose && level == "" {
		level = zerolog.DebugLevel.String()
	}
	if level != "" {
		if _, err := zerolog.ParseLevel(level); err != nil {
			return model.CLIOptions{}, fmt.Errorf("invalid --log-level: %q (valid: trace|debug|info|warn|error)", in.LogLevel)
		}
	}

	if in.NoUI && in.ForceTUI {
		return model.CLIOptions{}, errors.New("--no-ui cannot be combined with the tui command")
	}
	mode := model.OutputAuto
	switch {
	case in.ForceTUI:
		mode = model.OutputTUI
	case in.NoUI:
		mode = model.OutputPlain
	}

	wait := in.PreviewWait
	if wait < 0 {
		return model.CLIOptions{}, fmt.Errorf("invalid --preview-timeout: %s", wait)
	}
	if wait == 0 {
		wait = DefaultPreviewWait
	}

	outDir := in.OutDir
	if outDir == "" {
		outDir = "."
	}

	return model.CLIOptions{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		OutDir:      filepath.Clean(outDir),
		OpenerPath:  in.OpenerPath,
		LogLevel:    level,
		Verbose:     in.Verbose,
		Mode:        mode,
		WaitPreview: in.WaitPreview,
		PreviewWait: wait,
		PromptNote:  in.PromptNote,
		NoSave:      in.NoSave,
		Open:        in.Open,
	}, nil
}
