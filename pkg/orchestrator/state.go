package orchestrator

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kataras/total-export/pkg/decision"
)

// CancelFlag is a cooperative cancellation request. It may be set from any
// goroutine; the engine polls it once before each file.
type CancelFlag struct {
	requested atomic.Bool
}

// Request asks the running export to stop before the next file.
func (c *CancelFlag) Request() {
	c.requested.Store(true)
}

// Requested reports whether cancellation was requested. A nil flag never is.
func (c *CancelFlag) Requested() bool {
	return c != nil && c.requested.Load()
}

// Outcome is the final status of a run.
type Outcome int

const (
	Completed Outcome = iota
	CompletedWithIssues
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case CompletedWithIssues:
		return "completed-with-issues"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Issue is one counted problem.
type Issue struct {
	Subject string
	Err     error
	At      time.Time
}

// Counters tally what a run saw and did.
type Counters struct {
	Hubs              int
	Projects          int
	ProjectsCompleted int
	ProjectsResumed   int
	Files             int
	FilesExported     int
	FilesSkipped      int
	FilesIgnored      int
	FilesFailed       int
	ArtifactsWritten  int
	ArtifactsPresent  int
}

// RunState is the mutable state of one run. It is owned by the goroutine
// calling Engine.Run.
type RunState struct {
	RunID    string
	Policy   decision.Policy
	Started  time.Time
	Finished time.Time

	Cancelled bool
	Issues    []Issue
	Counters  Counters
}

// NewRunState returns a state with a fresh run id.
func NewRunState(policy decision.Policy) *RunState {
	return &RunState{
		RunID:  uuid.NewString(),
		Policy: policy,
	}
}

// IssueCount is the number of issues counted so far.
func (s *RunState) IssueCount() int {
	return len(s.Issues)
}

// Outcome derives the final status.
func (s *RunState) Outcome() Outcome {
	switch {
	case s.Cancelled:
		return Cancelled
	case len(s.Issues) > 0:
		return CompletedWithIssues
	default:
		return Completed
	}
}

// Message is the operator-facing summary line.
func (s *RunState) Message() string {
	switch s.Outcome() {
	case Cancelled:
		return "Cancelled!"
	case CompletedWithIssues:
		plural := ""
		if len(s.Issues) > 1 {
			plural = "s"
		}
		return fmt.Sprintf("The exporting process ran into %d issue%s. Please check the log for more information", len(s.Issues), plural)
	default:
		return "Export finished completely successfully!"
	}
}

// Duration is the wall time of a finished run.
func (s *RunState) Duration() time.Duration {
	if s.Started.IsZero() || s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

func (s *RunState) addIssue(subject string, err error) {
	s.Issues = append(s.Issues, Issue{Subject: subject, Err: err, At: time.Now()})
}
