// Package orchestrator drives an export run: it walks hubs, projects and
// files, decides per file whether to export, supervises every remote call
// with the retry protocol and records project completion.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/kataras/total-export/pkg/decision"
	"github.com/kataras/total-export/pkg/ledger"
	"github.com/kataras/total-export/pkg/logging"
	"github.com/kataras/total-export/pkg/metrics"
	"github.com/kataras/total-export/pkg/naming"
	"github.com/kataras/total-export/pkg/remote"
	"github.com/kataras/total-export/pkg/retry"
	"github.com/kataras/total-export/pkg/traversal"
)

// DefaultExtensions are the archive extensions exported by default.
var DefaultExtensions = []string{"f3d", "f3z"}

// Progress is the durable record of completed projects.
type Progress interface {
	Completed(hub, project string) bool
	Append(hub, project string) error
}

// Journal receives artifact decisions and issues. Failures to record are
// logged and never stop the run.
type Journal interface {
	RecordArtifact(ctx context.Context, a ledger.Artifact) error
	RecordIssue(ctx context.Context, issue ledger.Issue) error
}

// Options tune what is exported.
type Options struct {
	// Extensions lists the accepted archive extensions without the dot.
	// Empty means DefaultExtensions.
	Extensions []string
	Layout     traversal.Layout
	Formats    traversal.Formats
}

// Engine runs exports. Reader, Host, Exporter, FS and Progress are required.
type Engine struct {
	Reader     remote.Reader
	Host       remote.DocumentHost
	Exporter   remote.Exporter
	FS         billy.Filesystem
	Progress   Progress
	Supervisor *retry.Supervisor
	Logger     logging.Logger
	Metrics    metrics.Recorder
	Journal    Journal
	Cancel     *CancelFlag
	Options    Options
}

// file is the per-file context threaded through an export.
type file struct {
	hub     string
	project string
	record  traversal.FileRecord
	target  naming.Target
}

func (f file) name() string { return f.record.File.Name }

// Run exports everything the reader lists, updating state as it goes. A run
// that gives up at the run scope, or whose cancel flag is set, ends with
// state.Cancelled. Run only returns an error when the engine is misconfigured.
func (e *Engine) Run(ctx context.Context, state *RunState) error {
	if err := e.validate(); err != nil {
		return err
	}
	if state == nil {
		return errors.New("orchestrator: nil run state")
	}

	logger := e.logger()
	supervisor := e.supervisor()

	if state.Started.IsZero() {
		state.Started = time.Now()
	}
	logger.Infof("Starting export!")

	out := supervisor.Do(ctx, retry.ScopeRun, "export", func(ctx context.Context) error {
		return e.exportAll(ctx, state)
	})
	if out.State == retry.Aborted {
		logger.Errorf("Export aborted: %v", out.Err)
		state.Cancelled = true
	}

	logger.Infof("Done exporting!")
	state.Finished = time.Now()
	e.metrics().ObserveRunDuration(state.Duration(), state.Outcome().String())

	if state.Outcome() == Completed {
		logger.Infof("%s", state.Message())
	} else {
		logger.Warnf("%s", state.Message())
	}
	return nil
}

func (e *Engine) validate() error {
	var missing []string
	if e.Reader == nil {
		missing = append(missing, "Reader")
	}
	if e.Host == nil {
		missing = append(missing, "Host")
	}
	if e.Exporter == nil {
		missing = append(missing, "Exporter")
	}
	if e.FS == nil {
		missing = append(missing, "FS")
	}
	if e.Progress == nil {
		missing = append(missing, "Progress")
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (e *Engine) logger() logging.Logger   { return logging.OrNop(e.Logger) }
func (e *Engine) metrics() metrics.Recorder { return metrics.OrNoop(e.Metrics) }

func (e *Engine) supervisor() *retry.Supervisor {
	if e.Supervisor != nil {
		return e.Supervisor
	}
	return &retry.Supervisor{Decider: retry.Never, Logger: e.Logger, Metrics: e.Metrics}
}

func (e *Engine) cancelled(ctx context.Context) bool {
	return e.Cancel.Requested() || ctx.Err() != nil
}

// exportAll is one pass over the hierarchy. Errors returned from here are
// listing failures and are supervised at the run scope.
func (e *Engine) exportAll(ctx context.Context, state *RunState) error {
	logger := e.logger()

	// A run-scope retry starts a fresh pass.
	state.Counters.Hubs = 0
	state.Counters.Projects = 0
	state.Counters.ProjectsResumed = 0

	hubs, err := e.Reader.Hubs(ctx)
	if err != nil {
		return fmt.Errorf("listing hubs: %w", err)
	}

	for hubIndex, hub := range hubs {
		state.Counters.Hubs++
		logger.Infof("Exporting hub %q", hub.Name)

		projects, err := e.Reader.Projects(ctx, hub)
		if err != nil {
			return fmt.Errorf("listing projects of hub %q: %w", hub.Name, err)
		}

		for projectIndex, project := range projects {
			state.Counters.Projects++

			if e.Progress.Completed(hub.Name, project.Name) {
				logger.Infof("Skipping project %q in hub %q: already recorded in progress file", project.Name, hub.Name)
				state.Counters.ProjectsResumed++
				e.metrics().IncProject("resumed")
				continue
			}

			logger.Infof("Exporting project %q to %q", project.Name, naming.ProjectPath(hub.Name, project.Name))

			root, err := e.Reader.RootFolder(ctx, project)
			if err != nil {
				return fmt.Errorf("reading root folder of project %q: %w", project.Name, err)
			}

			records, err := traversal.CollectFiles(ctx, e.Reader, root)
			if err != nil {
				return fmt.Errorf("collecting files of project %q: %w", project.Name, err)
			}

			for fileIndex, record := range records {
				if e.cancelled(ctx) {
					logger.Warnf("Cancellation requested, stopping before %q", record.File.Name)
					state.Cancelled = true
					e.metrics().IncProject("cancelled")
					return nil
				}

				logger.Infof("Hub %d of %d / Project %d of %d - %s / Design %d of %d",
					hubIndex+1, len(hubs), projectIndex+1, len(projects), project.Name, fileIndex+1, len(records))

				e.processFile(ctx, state, file{hub: hub.Name, project: project.Name, record: record})
			}

			// An aborted call may have left the last design unexported.
			if ctx.Err() != nil {
				logger.Warnf("Export interrupted, not recording project %q in hub %q as exported", project.Name, hub.Name)
				state.Cancelled = true
				e.metrics().IncProject("cancelled")
				return nil
			}

			if err := e.Progress.Append(hub.Name, project.Name); err != nil {
				logger.Errorf("Failed to record progress for project %q in hub %q: %v", project.Name, hub.Name, err)
			}
			state.Counters.ProjectsCompleted++
			e.metrics().IncProject("completed")
		}
	}

	return nil
}

func (e *Engine) accepts(extension string) bool {
	accepted := e.Options.Extensions
	if len(accepted) == 0 {
		accepted = DefaultExtensions
	}
	extension = strings.TrimPrefix(extension, ".")
	for _, ext := range accepted {
		if strings.EqualFold(strings.TrimPrefix(ext, "."), extension) {
			return true
		}
	}
	return false
}

func (e *Engine) processFile(ctx context.Context, state *RunState, f file) {
	logger := e.logger()
	recorder := e.metrics()
	data := f.record.File
	state.Counters.Files++

	if !e.accepts(data.Extension) {
		logger.Infof("Not exporting file %q with extension %q", data.Name, data.Extension)
		state.Counters.FilesIgnored++
		recorder.IncFile(metrics.ResultIgnored)
		return
	}

	f.target = naming.NewTarget(f.hub, f.project, f.record.FolderPath, data.Name, data.Extension)

	_, statErr := e.FS.Stat(f.target.Archive)
	exists := statErr == nil

	in := decision.Input{ArtifactExists: exists, Policy: state.Policy, Remote: data.Modified, Local: remote.Unknown}
	if decision.NeedsTimestamps(exists, state.Policy) {
		refreshed, err := e.Reader.Refresh(ctx, data)
		if err != nil {
			logger.Warnf("Could not refresh metadata of %q: %v", data.Name, err)
		} else {
			data = refreshed
			f.record.File = refreshed
		}
		in.Remote = data.Modified

		if info, err := e.FS.Stat(f.target.Archive); err == nil {
			in.Local = remote.FromTime(info.ModTime())
		} else {
			logger.Warnf("Could not read modification time of %q: %v", f.target.Archive, err)
		}
	}

	d := decision.Decide(in)
	if d.Action == decision.Skip {
		logger.Infof("Skipping %q: %s", f.target.Archive, d.Reason)
		state.Counters.FilesSkipped++
		recorder.IncFile(metrics.ResultSkipped)
		e.journal(ctx, state, f, traversal.KindArchive, f.target.Archive, metrics.ResultSkipped, string(d.Reason))
		return
	}

	logger.Infof("Exporting %q to %q (%s)", data.Name, f.target.Archive, d.Reason)

	start := time.Now()
	ok := e.exportFile(ctx, state, f, string(d.Reason))
	recorder.ObserveFileDuration(time.Since(start))

	if ok {
		state.Counters.FilesExported++
		recorder.IncFile(metrics.ResultExported)
	} else {
		state.Counters.FilesFailed++
		recorder.IncFile(metrics.ResultFailed)
	}
}

// exportFile opens the document, writes the archive and every planned
// component artifact, and closes the document discarding changes. It reports
// whether the file was exported without giving up.
func (e *Engine) exportFile(ctx context.Context, state *RunState, f file, reason string) bool {
	logger := e.logger()
	supervisor := e.supervisor()
	name := f.name()

	var doc remote.Document
	opened := supervisor.Do(ctx, retry.ScopeOpen, name, func(ctx context.Context) error {
		d, err := e.Host.Open(ctx, f.record.File)
		if err != nil {
			return err
		}
		if err := d.Activate(ctx); err != nil {
			if cerr := d.Close(context.WithoutCancel(ctx), true); cerr != nil {
				logger.Errorf("Failed to close %q after activation failure: %v", name, cerr)
			}
			return fmt.Errorf("activating %q: %w", name, err)
		}
		doc = d
		return nil
	})
	if !opened.OK() {
		logger.Errorf("Giving up on %q: %v", name, opened.Err)
		e.issue(ctx, state, name, opened.Err)
		return false
	}

	defer func() {
		if err := doc.Close(context.WithoutCancel(ctx), true); err != nil {
			logger.Errorf("Failed to close %q: %v", name, err)
			e.issue(ctx, state, name, fmt.Errorf("closing document: %w", err))
		}
	}()

	if err := e.FS.MkdirAll(f.target.FileDir, 0o755); err != nil {
		logger.Errorf("Failed to create directory %q: %v", f.target.FileDir, err)
		e.issue(ctx, state, name, err)
		return false
	}

	archived := e.supervised(ctx, state, f, traversal.Artifact{Kind: traversal.KindArchive, Path: f.target.Archive}, reason, func(ctx context.Context) error {
		return e.Exporter.ExportArchive(ctx, doc, e.FS, f.target.ArchiveBase, f.record.File.Extension)
	})
	if !archived {
		return false
	}

	var root *remote.Component
	loaded := supervisor.Do(ctx, retry.ScopeExport, "components of "+name, func(ctx context.Context) error {
		c, err := doc.RootComponent(ctx)
		if err != nil {
			return err
		}
		if c == nil {
			return retry.Permanent(fmt.Errorf("document %q has no root component", name))
		}
		root = c
		return nil
	})
	if !loaded.OK() {
		logger.Errorf("Giving up on components of %q: %v", name, loaded.Err)
		e.issue(ctx, state, name, loaded.Err)
		return false
	}

	logger.Infof("Writing component %q to %q", root.Name, f.target.FileDir)
	plan := traversal.WalkComponent(root, f.target.FileDir, traversal.WalkOptions{Layout: e.Options.Layout, Formats: e.Options.Formats})

	for _, artifact := range plan {
		if _, err := e.FS.Stat(artifact.Path); err == nil {
			logger.Infof("%s file %q already exists", strings.ToUpper(artifact.Kind.String()), artifact.Path)
			state.Counters.ArtifactsPresent++
			e.metrics().IncArtifact(artifact.Kind.String(), metrics.ResultPresent)
			e.journal(ctx, state, f, artifact.Kind, artifact.Path, metrics.ResultPresent, "")
			continue
		}

		if err := e.FS.MkdirAll(path.Dir(artifact.Path), 0o755); err != nil {
			logger.Errorf("Failed to create directory %q: %v", path.Dir(artifact.Path), err)
			e.issue(ctx, state, name, err)
			return false
		}

		logger.Infof("Writing %s file %q", artifact.Kind, artifact.Path)
		write := e.writer(doc, artifact)

		if artifact.BestEffort {
			if err := write(ctx); err != nil {
				logger.Warnf("Could not write %s file %q: %v", artifact.Kind, artifact.Path, err)
				e.metrics().IncArtifact(artifact.Kind.String(), metrics.ResultFailed)
				e.journal(ctx, state, f, artifact.Kind, artifact.Path, metrics.ResultFailed, err.Error())
				continue
			}
			e.wrote(ctx, state, f, artifact, "")
			continue
		}

		if !e.supervised(ctx, state, f, artifact, "", write) {
			return false
		}
	}

	return true
}

// supervised writes one artifact under the retry protocol and records the
// result. Giving up counts one issue.
func (e *Engine) supervised(ctx context.Context, state *RunState, f file, artifact traversal.Artifact, detail string, write func(context.Context) error) bool {
	out := e.supervisor().Do(ctx, retry.ScopeExport, artifact.Path, write)
	if !out.OK() {
		e.logger().Errorf("Giving up on %s file %q: %v", artifact.Kind, artifact.Path, out.Err)
		e.metrics().IncArtifact(artifact.Kind.String(), metrics.ResultFailed)
		e.journal(ctx, state, f, artifact.Kind, artifact.Path, metrics.ResultFailed, out.Err.Error())
		e.issue(ctx, state, f.name(), out.Err)
		return false
	}

	e.wrote(ctx, state, f, artifact, detail)
	return true
}

func (e *Engine) wrote(ctx context.Context, state *RunState, f file, artifact traversal.Artifact, detail string) {
	state.Counters.ArtifactsWritten++
	e.metrics().IncArtifact(artifact.Kind.String(), metrics.ResultExported)
	e.journal(ctx, state, f, artifact.Kind, artifact.Path, metrics.ResultExported, detail)
}

func (e *Engine) writer(doc remote.Document, artifact traversal.Artifact) func(context.Context) error {
	return func(ctx context.Context) error {
		switch artifact.Kind {
		case traversal.KindSTEP:
			return e.Exporter.ExportSTEP(ctx, doc, artifact.Component, e.FS, artifact.Path)
		case traversal.KindDXF:
			return e.Exporter.ExportDXF(ctx, doc, *artifact.Sketch, e.FS, artifact.Path)
		case traversal.KindSTL:
			return e.Exporter.ExportSTL(ctx, doc, artifact.Component, artifact.Body, e.FS, artifact.Path)
		case traversal.KindIGES:
			return e.Exporter.ExportIGES(ctx, doc, artifact.Component, e.FS, artifact.Path)
		default:
			return retry.Permanent(fmt.Errorf("unsupported artifact kind %s", artifact.Kind))
		}
	}
}

func (e *Engine) issue(ctx context.Context, state *RunState, subject string, err error) {
	state.addIssue(subject, err)
	e.metrics().IncIssue()

	if e.Journal == nil {
		return
	}
	message := ""
	if err != nil {
		message = err.Error()
	}
	if jerr := e.Journal.RecordIssue(context.WithoutCancel(ctx), ledger.Issue{
		RunID:   state.RunID,
		Subject: subject,
		Message: message,
		At:      time.Now(),
	}); jerr != nil {
		e.logger().Warnf("Failed to record issue in ledger: %v", jerr)
	}
}

func (e *Engine) journal(ctx context.Context, state *RunState, f file, kind traversal.ArtifactKind, artifactPath, result, detail string) {
	if e.Journal == nil {
		return
	}
	if err := e.Journal.RecordArtifact(context.WithoutCancel(ctx), ledger.Artifact{
		RunID:   state.RunID,
		Hub:     f.hub,
		Project: f.project,
		File:    f.name(),
		Kind:    kind.String(),
		Path:    artifactPath,
		Result:  result,
		Detail:  detail,
		At:      time.Now(),
	}); err != nil {
		e.logger().Warnf("Failed to record %s in ledger: %v", artifactPath, err)
	}
}
