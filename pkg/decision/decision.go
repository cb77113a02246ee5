// Package decision decides whether a data file needs to be (re-)exported
// before its document is opened, so up-to-date files never pay the cost of
// an open/close round trip.
package decision

import (
	"fmt"
	"strings"

	"github.com/kataras/total-export/pkg/remote"
)

// Policy is the run-scoped choice of re-generating existing archives.
type Policy int

const (
	// PolicyUnset behaves like PolicyNever.
	PolicyUnset Policy = iota
	// PolicyAlways overwrites existing archives.
	PolicyAlways
	// PolicyNever keeps existing archives unless the remote design is newer.
	PolicyNever
)

func (p Policy) String() string {
	switch p {
	case PolicyAlways:
		return "always"
	case PolicyNever:
		return "never"
	default:
		return "unset"
	}
}

// ParsePolicy maps user input (case-insensitive) to a Policy.
// "ask" and the empty string map to PolicyUnset.
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "always", "yes", "overwrite":
		return PolicyAlways, nil
	case "never", "no", "keep":
		return PolicyNever, nil
	case "", "ask", "unset":
		return PolicyUnset, nil
	default:
		return PolicyUnset, fmt.Errorf("unknown overwrite policy %q (must be always, never or ask)", raw)
	}
}

// Action is the outcome of a decision.
type Action int

const (
	Export Action = iota
	Skip
)

func (a Action) String() string {
	if a == Skip {
		return "skip"
	}
	return "export"
}

// Reason explains a decision in logs and reports.
type Reason string

const (
	ReasonMissing       Reason = "no existing archive"
	ReasonOverwrite     Reason = "overwrite policy is always"
	ReasonRemoteUnknown Reason = "remote modification time unknown"
	ReasonLocalUnknown  Reason = "local modification time unknown"
	ReasonRemoteNewer   Reason = "remote design is newer than the local archive"
	ReasonUpToDate      Reason = "local archive is up to date"
)

// Input is everything the decision depends on.
type Input struct {
	ArtifactExists bool
	Policy         Policy
	Remote         remote.Timestamp
	// Local is the modification time of the existing archive.
	Local remote.Timestamp
}

// Decision is the result of Decide.
type Decision struct {
	Action Action
	Reason Reason
}

// Decide applies the export-or-skip table:
//
//	archive missing                         -> export
//	policy always                           -> export
//	remote time unknown                     -> export
//	local time unknown                      -> export
//	local >= remote                         -> skip
//	local <  remote                         -> export
func Decide(in Input) Decision {
	if !in.ArtifactExists {
		return Decision{Action: Export, Reason: ReasonMissing}
	}
	if in.Policy == PolicyAlways {
		return Decision{Action: Export, Reason: ReasonOverwrite}
	}

	remoteTS, ok := in.Remote.Seconds()
	if !ok {
		return Decision{Action: Export, Reason: ReasonRemoteUnknown}
	}
	localTS, ok := in.Local.Seconds()
	if !ok {
		return Decision{Action: Export, Reason: ReasonLocalUnknown}
	}

	if localTS >= remoteTS {
		return Decision{Action: Skip, Reason: ReasonUpToDate}
	}
	return Decision{Action: Export, Reason: ReasonRemoteNewer}
}

// NeedsTimestamps reports whether Decide would look at the timestamps for the
// given existence and policy. Callers use it to avoid refreshing remote
// metadata when the answer is already fixed.
func NeedsTimestamps(artifactExists bool, policy Policy) bool {
	return artifactExists && policy != PolicyAlways
}
