// Package metrics records export run counters. The Prometheus recorder can be
// flushed to a node-exporter textfile at the end of a run.
package metrics

import "time"

// Result labels for artifact and file counters.
const (
	ResultExported = "exported"
	ResultSkipped  = "skipped"
	ResultPresent  = "present"
	ResultFailed   = "failed"
	ResultIgnored  = "ignored"
)

// Recorder receives observations from the export engine. NoopRecorder is the
// default when metrics are not configured.
type Recorder interface {
	IncFile(result string)
	IncArtifact(kind, result string)
	IncProject(result string)
	IncRetry(scope string)
	IncGiveUp(scope string)
	IncIssue()
	ObserveFileDuration(d time.Duration)
	ObserveRunDuration(d time.Duration, outcome string)
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

func (NoopRecorder) IncFile(string)                           {}
func (NoopRecorder) IncArtifact(string, string)               {}
func (NoopRecorder) IncProject(string)                        {}
func (NoopRecorder) IncRetry(string)                          {}
func (NoopRecorder) IncGiveUp(string)                         {}
func (NoopRecorder) IncIssue()                                {}
func (NoopRecorder) ObserveFileDuration(time.Duration)        {}
func (NoopRecorder) ObserveRunDuration(time.Duration, string) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
