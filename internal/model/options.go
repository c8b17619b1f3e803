// Package model holds the option types shared by the CLI and its front-ends.
package model

import "time"

// OutputMode selects how a generation run reports progress.
type OutputMode string

const (
	OutputAuto  OutputMode = "auto"  // TUI when stdout is a terminal
	OutputTUI   OutputMode = "tui"   // always the TUI
	OutputPlain OutputMode = "plain" // line-oriented progress on stdout
)

// CLIOptions holds user-configurable runtime options as parsed from flags,
// environment and config file.
type CLIOptions struct {
	BaseURL    string // generation service origin
	OutDir     string
	OpenerPath string // optional explicit browser opener
	LogLevel   string
	Verbose    bool

	Mode        OutputMode
	WaitPreview bool          // plain mode: wait for the preview load result
	PreviewWait time.Duration // upper bound for WaitPreview
	PromptNote  bool          // write the prompt next to the saved archive
	NoSave      bool          // plain mode: do not save the archive
	Open        bool          // open the preview in a browser once ready
}
