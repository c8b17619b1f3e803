// Package progress models the remote generation job's stages and the state
// machine that tracks them.
package progress

// Stage identifies a named phase of the remote generation job.
// The zero value StageNone means no stage has been reported yet.
type Stage string

const (
	StageNone           Stage = ""
	StagePlanner        Stage = "planner"
	StageArchitect      Stage = "architect"
	StageCoder          Stage = "coder"
	StageValidatorFixer Stage = "validator_fixer"
	StageDownloader     Stage = "downloader"
	StagePreviewServer  Stage = "preview_server"

	// StageUnknown is a stage name the client does not recognise.
	StageUnknown Stage = "unknown"
)

// Stages lists the known stages in display order.
var Stages = []Stage{
	StagePlanner,
	StageArchitect,
	StageCoder,
	StageValidatorFixer,
	StageDownloader,
	StagePreviewServer,
}

// ParseStage maps a wire value onto a Stage. Empty input is StageNone and
// anything unrecognised is StageUnknown.
func ParseStage(s string) Stage {
	if s == "" {
		return StageNone
	}
	for _, st := range Stages {
		if string(st) == s {
			return st
		}
	}
	return StageUnknown
}

// Index returns the position of s in Stages, or -1 for StageNone/StageUnknown.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Label returns a short human-friendly name.
func (s Stage) Label() string {
	switch s {
	case StagePlanner:
		return "Planning"
	case StageArchitect:
		return "Architecture"
	case StageCoder:
		return "Coding"
	case StageValidatorFixer:
		return "Validating"
	case StageDownloader:
		return "Packaging"
	case StagePreviewServer:
		return "Preview"
	case StageNone:
		return "Waiting"
	default:
		return "Unknown"
	}
}

// Status is the job status carried by every stream event.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Update conveys a status/stage change for the job.
// ErrorCount and Iteration are nil when the event did not carry them.
type Update struct {
	Status     Status
	Stage      Stage
	Message    string
	ErrorCount *int
	Iteration  *int
}
