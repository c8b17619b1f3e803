package progress

// Phase is the state of the stage machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Terminal reports whether p ends a session.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Transition describes the effect of one Apply call.
type Transition struct {
	From    Phase
	To      Phase
	Applied bool // false when the update was ignored
}

// Entered reports whether the transition moved into phase p from another phase.
func (t Transition) Entered(p Phase) bool {
	return t.Applied && t.To == p && t.From != p
}

// Machine tracks job progress. Stage order is never validated: the remote
// producer is the only authority on sequencing.
type Machine struct {
	phase      Phase
	stage      Stage
	message    string
	errorCount int
	iteration  int
	failure    string
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Stage returns the most recently reported stage.
func (m *Machine) Stage() Stage { return m.stage }

// Message returns the most recent status message.
func (m *Machine) Message() string { return m.message }

// ErrorCount returns the last reported remaining-error count.
func (m *Machine) ErrorCount() int { return m.errorCount }

// Iteration returns the last reported validator iteration.
func (m *Machine) Iteration() int { return m.iteration }

// Failure returns the failure message once the machine is in PhaseFailed.
func (m *Machine) Failure() string { return m.failure }

// Apply feeds one update into the machine. Updates arriving after a terminal
// phase are ignored.
func (m *Machine) Apply(u Update) Transition {
	from := m.phase
	if from.Terminal() {
		return Transition{From: from, To: from}
	}

	switch u.Status {
	case StatusStarting, StatusProcessing:
		m.phase = PhaseRunning
		m.absorb(u)
	case StatusCompleted:
		m.phase = PhaseCompleted
		m.absorb(u)
	case StatusError:
		m.phase = PhaseFailed
		m.message = u.Message
		m.failure = u.Message
	default:
		return Transition{From: from, To: from}
	}
	return Transition{From: from, To: m.phase, Applied: true}
}

// Fail forces the machine into PhaseFailed, e.g. on a transport error.
func (m *Machine) Fail(message string) Transition {
	return m.Apply(Update{Status: StatusError, Message: message})
}

// Reset returns the machine to Idle and discards everything it tracked.
func (m *Machine) Reset() {
	*m = Machine{}
}

func (m *Machine) absorb(u Update) {
	if u.Stage != StageNone {
		m.stage = u.Stage
	}
	m.message = u.Message
	if u.ErrorCount != nil {
		m.errorCount = *u.ErrorCount
	}
	if u.Iteration != nil {
		m.iteration = *u.Iteration
	}
}
