// Package retry supervises fallible operations against the hub. Every failure
// is put to the operator as a retry-or-give-up decision; there is no automatic
// retry limit. The supervisor is an explicit state machine:
//
//	Attempting --ok--> Succeeded
//	Attempting --err, retry--> FailedRetryable --cooldown--> Attempting
//	Attempting --err, give up--> FailedGiveUp (file scopes) | Aborted (run scope)
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kataras/total-export/pkg/logging"
	"github.com/kataras/total-export/pkg/metrics"
)

// DefaultCooldown is the pause before re-attempting a failed operation, long
// enough for an operator to restore connectivity.
const DefaultCooldown = 5 * time.Second

// Scope is the granularity of a supervised operation.
type Scope int

const (
	// ScopeRun is the whole hub/project export pass. Giving up aborts the run.
	ScopeRun Scope = iota
	// ScopeOpen is opening one remote document.
	ScopeOpen
	// ScopeExport is writing one artifact.
	ScopeExport
)

func (s Scope) String() string {
	switch s {
	case ScopeRun:
		return "run"
	case ScopeOpen:
		return "open"
	case ScopeExport:
		return "export"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// State is a supervisor state.
type State int

const (
	Attempting State = iota
	Succeeded
	FailedRetryable
	FailedGiveUp
	Aborted
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case FailedRetryable:
		return "failed-retryable"
	case FailedGiveUp:
		return "failed-give-up"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state ends supervision.
func (s State) Terminal() bool {
	return s == Succeeded || s == FailedGiveUp || s == Aborted
}

// Next is the transition function. failed and retry only matter while
// Attempting; terminal states are absorbing.
func Next(state State, scope Scope, failed, retry bool) State {
	switch state {
	case Attempting:
		switch {
		case !failed:
			return Succeeded
		case retry:
			return FailedRetryable
		default:
			return giveUp(scope)
		}
	case FailedRetryable:
		return Attempting
	default:
		return state
	}
}

func giveUp(scope Scope) State {
	if scope == ScopeRun {
		return Aborted
	}
	return FailedGiveUp
}

// Failure describes a failed attempt for the operator.
type Failure struct {
	Scope   Scope
	Subject string
	Attempt int
	Err     error
}

// Message is the operator-facing text of the retry question.
func (f Failure) Message() string {
	var head, consequence string
	switch f.Scope {
	case ScopeRun:
		head = "Exporting data failed"
		consequence = "Answer no to cancel the export."
	case ScopeOpen:
		head = fmt.Sprintf("Opening %q failed", f.Subject)
		consequence = "Answer no to skip this file."
	default:
		head = fmt.Sprintf("Exporting %q failed", f.Subject)
		consequence = "Answer no to skip this file."
	}

	return fmt.Sprintf("%s (attempt %d):\n%v\n\n"+
		"The connection to the hub may have been lost.\n"+
		"Restore the connection and answer yes to try again.\n%s",
		head, f.Attempt, f.Err, consequence)
}

// Decider answers retry questions, usually by asking the operator.
type Decider interface {
	Retry(ctx context.Context, failure Failure) (bool, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, failure Failure) (bool, error)

func (f DeciderFunc) Retry(ctx context.Context, failure Failure) (bool, error) {
	return f(ctx, failure)
}

// Never is a Decider that always gives up.
var Never Decider = DeciderFunc(func(context.Context, Failure) (bool, error) { return false, nil })

// PermanentError marks a failure that retrying cannot fix, such as a rejected
// export request. The supervisor gives up without asking.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or any error it wraps is permanent.
func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

// Outcome is the terminal result of a supervised operation.
type Outcome struct {
	State    State
	Attempts int
	// Err is the last failure, nil on success.
	Err error
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool { return o.State == Succeeded }

// Supervisor runs operations under the retry protocol. It is not safe for
// concurrent use; the export engine is single threaded.
type Supervisor struct {
	Decider  Decider
	Cooldown time.Duration
	Logger   logging.Logger
	Metrics  metrics.Recorder
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do attempts op until it succeeds or the decider gives up.
func (s *Supervisor) Do(ctx context.Context, scope Scope, subject string, op func(context.Context) error) Outcome {
	logger := logging.OrNop(s.Logger)
	recorder := metrics.OrNoop(s.Metrics)

	state := Attempting
	var out Outcome

	for !state.Terminal() {
		switch state {
		case Attempting:
			out.Attempts++
			out.Err = op(ctx)
			if out.Err == nil {
				state = Next(state, scope, false, false)
				continue
			}

			logger.Errorf("%s %q failed (attempt %d): %v", scope, subject, out.Attempts, out.Err)
			retry := s.decide(ctx, logger, Failure{Scope: scope, Subject: subject, Attempt: out.Attempts, Err: out.Err})
			state = Next(state, scope, true, retry)
		case FailedRetryable:
			recorder.IncRetry(scope.String())
			cooldown := s.cooldown()
			logger.Infof("Retrying %s %q in %s", scope, subject, cooldown)
			if err := s.sleep(ctx, cooldown); err != nil {
				out.Err = fmt.Errorf("retry of %s %q interrupted: %w", scope, subject, err)
				state = giveUp(scope)
				continue
			}
			state = Next(state, scope, false, false)
		}
	}

	if state != Succeeded {
		recorder.IncGiveUp(scope.String())
	}
	out.State = state
	return out
}

func (s *Supervisor) decide(ctx context.Context, logger logging.Logger, failure Failure) bool {
	if IsPermanent(failure.Err) {
		logger.Warnf("Not retrying %s %q: the failure is permanent", failure.Scope, failure.Subject)
		return false
	}
	if s.Decider == nil {
		return false
	}

	retry, err := s.Decider.Retry(ctx, failure)
	if err != nil {
		logger.Errorf("Could not ask whether to retry %s %q, giving up: %v", failure.Scope, failure.Subject, err)
		return false
	}
	return retry
}

func (s *Supervisor) cooldown() time.Duration {
	if s.Cooldown < 0 {
		return 0
	}
	if s.Cooldown == 0 {
		return DefaultCooldown
	}
	return s.Cooldown
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
