package ui

import "appgen/internal/progress"

type snapshotMsg struct {
	S progress.Snapshot
}

type resultMsg struct {
	R progress.Result
}

// actionMsg reports the outcome of a user action run as a command.
type actionMsg struct {
	Notice string
	Err    error
}

type allDoneMsg struct{}
