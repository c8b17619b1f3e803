package progress

import (
	"appgen/internal/artifact"
	"appgen/internal/preview"
)

// Role identifies who a chat message belongs to.
type Role string

const (
	RoleUser   Role = "user"
	RoleStatus Role = "status"
)

// Message is one entry of the session transcript.
type Message struct {
	Role Role
	Text string
}

// Snapshot is a read-only copy of a session, handed to observers.
// Artifact is shared with the controller and must not be modified.
type Snapshot struct {
	Seq uint64 // increases with every snapshot taken

	ID         string
	Messages   []Message
	Active     bool
	Phase      Phase
	Stage      Stage
	Message    string
	ErrorCount int
	Iteration  int
	Failure    string

	Artifact          []byte
	ArtifactReady     bool
	ArtifactItemCount *int
	ArtifactEntries   []artifact.Entry
	ArtifactErr       error
	SavedPath         string

	Preview *preview.State
}

// Result is emitted once per session when it reaches a terminal phase.
type Result struct {
	SessionID string
	Phase     Phase
	Failure   string
	Err       error // transport cause, if any
}

// Reporter is implemented by UI or any observer interested in session changes.
type Reporter interface {
	Update(s Snapshot)
	Result(r Result)
}
