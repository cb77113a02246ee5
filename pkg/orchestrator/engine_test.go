package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kataras/total-export/pkg/decision"
	"github.com/kataras/total-export/pkg/ledger"
	"github.com/kataras/total-export/pkg/logging"
	"github.com/kataras/total-export/pkg/metrics"
	"github.com/kataras/total-export/pkg/progress"
	"github.com/kataras/total-export/pkg/remote"
	"github.com/kataras/total-export/pkg/remote/remotetest"
	"github.com/kataras/total-export/pkg/retry"
	"github.com/kataras/total-export/pkg/traversal"
)

const fileDir = "Hub Acme/Project Rover/Rover/Frame.f3d"

var yesterday = remote.FromTime(time.Now().Add(-24 * time.Hour))

func design(name string, modified remote.Timestamp) *remotetest.File {
	return &remotetest.File{
		DataFile: remote.DataFile{ID: name, Name: name, Extension: "f3d", Modified: modified},
		Root: &remote.Component{
			ID:       name + "-root",
			Name:     name,
			Sketches: []remote.Sketch{{ID: name + "-s1", Name: "Profile"}},
		},
	}
}

func rover(files ...*remotetest.File) *remotetest.Fake {
	return &remotetest.Fake{Tree: []*remotetest.Hub{{
		Hub: remote.Hub{ID: "acme", Name: "Acme"},
		Projects: []*remotetest.Project{{
			Project: remote.Project{ID: "rover", Name: "Rover"},
			Root:    &remotetest.Folder{Folder: remote.Folder{ID: "rover-root", Name: "Rover"}, Files: files},
		}},
	}}}
}

type harness struct {
	dir      string
	fs       billy.Filesystem
	fake     *remotetest.Fake
	progress *progress.Store
	logs     *logging.Recorder
	metrics  *metrics.PrometheusRecorder
	engine   *Engine
}

func newHarness(t *testing.T, fake *remotetest.Fake, decider retry.Decider) *harness {
	t.Helper()
	dir := t.TempDir()
	return attach(t, dir, fake, decider)
}

// attach builds an engine on an existing output directory, loading whatever
// progress it holds.
func attach(t *testing.T, dir string, fake *remotetest.Fake, decider retry.Decider) *harness {
	t.Helper()
	fs := osfs.New(dir)
	logs := &logging.Recorder{}
	store := progress.NewStore(fs, logs)
	store.Load()
	rec := metrics.NewPrometheusRecorder(nil)

	h := &harness{dir: dir, fs: fs, fake: fake, progress: store, logs: logs, metrics: rec}
	h.engine = &Engine{
		Reader:     fake,
		Host:       fake,
		Exporter:   fake,
		FS:         fs,
		Progress:   store,
		Supervisor: &retry.Supervisor{Decider: decider, Cooldown: -1, Logger: logs, Metrics: rec},
		Logger:     logs,
		Metrics:    rec,
		Cancel:     &CancelFlag{},
		Options:    Options{Formats: traversal.DefaultFormats()},
	}
	return h
}

func (h *harness) run(t *testing.T, policy decision.Policy) *RunState {
	t.Helper()
	state := NewRunState(policy)
	require.NoError(t, h.engine.Run(context.Background(), state))
	return state
}

func (h *harness) exists(name string) bool {
	_, err := h.fs.Stat(name)
	return err == nil
}

func (h *harness) age(t *testing.T, name string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(filepath.Join(h.dir, filepath.FromSlash(name)), at, at))
}

func answers(values ...bool) retry.Decider {
	return retry.DeciderFunc(func(context.Context, retry.Failure) (bool, error) {
		if len(values) == 0 {
			return false, nil
		}
		v := values[0]
		values = values[1:]
		return v, nil
	})
}

func TestRunExportsEverything(t *testing.T) {
	h := newHarness(t, rover(design("Frame", yesterday), design("Wheel", yesterday)), retry.Never)

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, Completed, state.Outcome())
	assert.Equal(t, "Export finished completely successfully!", state.Message())
	assert.Equal(t, 2, state.Counters.FilesExported)
	assert.Equal(t, 1, state.Counters.ProjectsCompleted)
	assert.Equal(t, 6, state.Counters.ArtifactsWritten)

	for _, name := range []string{
		fileDir + "/Frame.f3d",
		fileDir + "/Frame.stp",
		fileDir + "/Frame/Profile.dxf",
		"Hub Acme/Project Rover/Rover/Wheel.f3d/Wheel.f3d",
	} {
		assert.True(t, h.exists(name), name)
	}

	assert.True(t, h.progress.Completed("Acme", "Rover"))
	assert.Equal(t, 1, h.fake.MaxOpen())
	assert.Equal(t, 0, h.fake.OpenDocuments())
	assert.Equal(t, 1, h.fake.CountCalls("close Frame discard=true"))
	assert.True(t, h.logs.Contains("Hub 1 of 1 / Project 1 of 1 - Rover / Design 2 of 2"))
}

func TestRunSkipsCompletedProjects(t *testing.T) {
	fake := rover(design("Frame", yesterday))
	h := newHarness(t, fake, retry.Never)
	h.run(t, decision.PolicyUnset)

	again := attach(t, h.dir, fake, retry.Never)
	state := again.run(t, decision.PolicyUnset)

	assert.Equal(t, 1, state.Counters.ProjectsResumed)
	assert.Equal(t, 1, fake.CountCalls("open Frame"))
	assert.True(t, again.logs.Contains("already recorded in progress file"))
}

func TestRunIsIdempotentWithoutProgress(t *testing.T) {
	fake := rover(design("Frame", yesterday), design("Wheel", yesterday))
	h := newHarness(t, fake, retry.Never)
	h.run(t, decision.PolicyUnset)
	require.NoError(t, h.progress.Reset())

	again := attach(t, h.dir, fake, retry.Never)
	state := again.run(t, decision.PolicyNever)

	assert.Equal(t, 2, state.Counters.FilesSkipped)
	assert.Equal(t, 0, state.Counters.FilesExported)
	assert.Equal(t, 1, fake.CountCalls("open Frame"))
	assert.Equal(t, 1, fake.CountCalls("refresh Frame"))
	assert.True(t, again.logs.Contains("local archive is up to date"))
	assert.True(t, again.progress.Completed("Acme", "Rover"))
}

func TestRunDecisions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		policy      decision.Policy
		remote      remote.Timestamp
		local       time.Time
		wantExport  bool
		wantRefresh bool
	}{
		{name: "up to date", policy: decision.PolicyNever, remote: remote.FromTime(now.Add(-2 * time.Hour)), local: now.Add(-time.Hour), wantRefresh: true},
		{name: "same instant", policy: decision.PolicyUnset, remote: remote.FromTime(now.Add(-time.Hour).Truncate(time.Second)), local: now.Add(-time.Hour).Truncate(time.Second), wantRefresh: true},
		{name: "remote newer", policy: decision.PolicyNever, remote: remote.FromTime(now.Add(-time.Hour)), local: now.Add(-2 * time.Hour), wantExport: true, wantRefresh: true},
		{name: "remote unknown", policy: decision.PolicyUnset, remote: remote.Unknown, local: now, wantExport: true, wantRefresh: true},
		{name: "overwrite", policy: decision.PolicyAlways, remote: remote.FromTime(now.Add(-2 * time.Hour)), local: now.Add(-time.Hour), wantExport: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := rover(design("Frame", tt.remote))
			h := newHarness(t, fake, retry.Never)

			require.NoError(t, h.fs.MkdirAll(fileDir, 0o755))
			f, err := h.fs.Create(fileDir + "/Frame.f3d")
			require.NoError(t, err)
			require.NoError(t, f.Close())
			h.age(t, fileDir+"/Frame.f3d", tt.local)

			state := h.run(t, tt.policy)

			if tt.wantExport {
				assert.Equal(t, 1, state.Counters.FilesExported)
				assert.Equal(t, 1, fake.CountCalls("open Frame"))
			} else {
				assert.Equal(t, 1, state.Counters.FilesSkipped)
				assert.Zero(t, fake.CountCalls("open Frame"))
			}
			assert.Equal(t, tt.wantRefresh, fake.CountCalls("refresh Frame") == 1)
		})
	}
}

func TestRunIgnoresOtherExtensions(t *testing.T) {
	drawing := &remotetest.File{DataFile: remote.DataFile{ID: "d", Name: "Drawing", Extension: "f2d"}}
	fake := rover(drawing, design("Frame", yesterday))
	h := newHarness(t, fake, retry.Never)

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, 1, state.Counters.FilesIgnored)
	assert.Zero(t, fake.CountCalls("open Drawing"))
	assert.True(t, h.logs.Contains(`Not exporting file "Drawing"`))
	assert.Equal(t, Completed, state.Outcome())
}

func TestRunCustomExtensions(t *testing.T) {
	drawing := &remotetest.File{DataFile: remote.DataFile{ID: "d", Name: "Drawing", Extension: "F2D"}}
	h := newHarness(t, rover(drawing), retry.Never)
	h.engine.Options.Extensions = []string{".f2d"}

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, 1, state.Counters.FilesExported)
	assert.True(t, h.exists("Hub Acme/Project Rover/Rover/Drawing.F2D/Drawing.F2D"))
}

func TestRunEmptyProjectIsRecorded(t *testing.T) {
	fake := rover()
	h := newHarness(t, fake, retry.Never)

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, Completed, state.Outcome())
	assert.Equal(t, []progress.Key{{Hub: "Acme", Project: "Rover"}}, h.progress.Entries())

	data, err := os.ReadFile(filepath.Join(h.dir, progress.FileName))
	require.NoError(t, err)
	assert.Equal(t, "Acme\tRover\n", string(data))
}

func TestRunCancelBeforeThirdFile(t *testing.T) {
	fake := rover(
		design("A", yesterday), design("B", yesterday), design("C", yesterday),
		design("D", yesterday), design("E", yesterday),
	)
	h := newHarness(t, fake, retry.Never)
	fake.OnOpen = func(opened remote.DataFile) {
		if opened.Name == "B" {
			h.engine.Cancel.Request()
		}
	}

	state := h.run(t, decision.PolicyUnset)

	assert.True(t, state.Cancelled)
	assert.Equal(t, Cancelled, state.Outcome())
	assert.Equal(t, "Cancelled!", state.Message())
	assert.Equal(t, 2, state.Counters.FilesExported)
	assert.Zero(t, fake.CountCalls("open C"))
	assert.Equal(t, 1, fake.CountCalls("close B discard=true"))
	assert.False(t, h.progress.Completed("Acme", "Rover"))
	assert.False(t, h.exists(progress.FileName))
}

func TestRunContextCancelledStopsBeforeFile(t *testing.T) {
	h := newHarness(t, rover(design("Frame", yesterday)), retry.Never)
	ctx, cancel := context.WithCancel(context.Background())
	h.fake.OnOpen = func(remote.DataFile) { t.Fatal("no file may be opened") }

	state := NewRunState(decision.PolicyUnset)
	cancel()
	require.NoError(t, h.engine.Run(ctx, state))

	assert.True(t, state.Cancelled)
}

func TestRunOpenGiveUp(t *testing.T) {
	fake := rover(design("Frame", yesterday), design("Wheel", yesterday))
	fake.OpenErrs = map[string][]error{"Frame": {remotetest.ErrOffline}}
	h := newHarness(t, fake, retry.Never)

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, CompletedWithIssues, state.Outcome())
	assert.Equal(t, "The exporting process ran into 1 issue. Please check the log for more information", state.Message())
	assert.Equal(t, 1, state.Counters.FilesFailed)
	assert.Equal(t, 1, state.Counters.FilesExported)
	assert.ErrorIs(t, state.Issues[0].Err, remote.ErrConnectivity)
	assert.Zero(t, fake.CountCalls("close Frame discard=true"))
	assert.True(t, h.progress.Completed("Acme", "Rover"))
	assert.Equal(t, float64(1), giveUps(h.metrics, "open"))
}

func TestRunOpenRetryThenSucceed(t *testing.T) {
	fake := rover(design("Frame", yesterday))
	fake.OpenErrs = map[string][]error{"Frame": {remotetest.ErrOffline, remotetest.ErrOffline}}
	h := newHarness(t, fake, answers(true, true))

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, Completed, state.Outcome())
	assert.Equal(t, 3, fake.CountCalls("open Frame"))
	assert.Equal(t, 1, fake.CountCalls("close Frame discard=true"))
	assert.True(t, h.exists(fileDir+"/Frame.f3d"))
}

func TestRunExportGiveUpStopsFile(t *testing.T) {
	fake := rover(design("Frame", yesterday))
	fake.ExportErrs = map[string][]error{fileDir + "/Frame.stp": {retry.Permanent(errors.New("kernel rejected export"))}}
	h := newHarness(t, fake, answers(true))

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, 1, state.IssueCount())
	assert.Equal(t, 1, state.Counters.FilesFailed)
	assert.True(t, h.exists(fileDir+"/Frame.f3d"))
	assert.False(t, h.exists(fileDir+"/Frame/Profile.dxf"))
	assert.Equal(t, 1, fake.CountCalls("export step "+fileDir+"/Frame.stp"))
	assert.Equal(t, 1, fake.CountCalls("close Frame discard=true"))
}

func TestRunCloseFailureCountsIssue(t *testing.T) {
	fake := rover(design("Frame", yesterday))
	fake.CloseErrs = map[string]error{"Frame": errors.New("document locked")}
	h := newHarness(t, fake, retry.Never)

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, CompletedWithIssues, state.Outcome())
	assert.Equal(t, 1, state.IssueCount())
	assert.Equal(t, 1, state.Counters.FilesExported)
	assert.True(t, h.logs.Contains(`Failed to close "Frame"`))
}

func TestRunPresentArtifactsAreKept(t *testing.T) {
	fake := rover(design("Frame", yesterday))
	h := newHarness(t, fake, retry.Never)
	require.NoError(t, h.fs.MkdirAll(fileDir, 0o755))
	f, err := h.fs.Create(fileDir + "/Frame.stp")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, 1, state.Counters.ArtifactsPresent)
	assert.Zero(t, fake.CountCalls("export step "+fileDir+"/Frame.stp"))
	assert.True(t, h.logs.Contains(`STEP file "`+fileDir+`/Frame.stp" already exists`))
}

func TestRunBestEffortBodies(t *testing.T) {
	frame := design("Frame", yesterday)
	frame.Root.Bodies = []remote.Body{{ID: "b", Name: "Body1"}}
	fake := rover(frame)
	fake.ExportErrs = map[string][]error{fileDir + "/Frame/Body1.stl": {errors.New("empty body")}}
	h := newHarness(t, fake, retry.Never)
	h.engine.Options.Formats = traversal.Formats{STEP: true, STL: true}

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, Completed, state.Outcome())
	assert.True(t, h.exists(fileDir+"/Frame.stl"))
	assert.True(t, h.logs.Contains("Could not write stl file"))
}

func TestRunScopeGiveUpAborts(t *testing.T) {
	fake := rover(design("Frame", yesterday))
	fake.HubsErrs = []error{remotetest.ErrOffline}
	h := newHarness(t, fake, retry.Never)

	state := h.run(t, decision.PolicyUnset)

	assert.True(t, state.Cancelled)
	assert.Equal(t, "Cancelled!", state.Message())
	assert.Zero(t, fake.CountCalls("open Frame"))
}

func TestRunScopeRetry(t *testing.T) {
	fake := rover(design("Frame", yesterday))
	fake.HubsErrs = []error{remotetest.ErrOffline}
	h := newHarness(t, fake, answers(true))

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, Completed, state.Outcome())
	assert.Equal(t, 2, fake.CountCalls("hubs"))
	assert.Equal(t, 1, fake.CountCalls("open Frame"))
}

func TestRunNestedLayout(t *testing.T) {
	h := newHarness(t, rover(design("Frame", yesterday)), retry.Never)
	h.engine.Options.Layout = traversal.LayoutNested

	h.run(t, decision.PolicyUnset)

	assert.True(t, h.exists(fileDir+"/Frame/Frame.stp"))
	assert.True(t, h.exists(fileDir+"/Frame/Profile.dxf"))
}

func TestRunJournal(t *testing.T) {
	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	fake := rover(design("Frame", yesterday))
	fake.CloseErrs = map[string]error{"Frame": errors.New("locked")}
	h := newHarness(t, fake, retry.Never)
	h.engine.Journal = store

	state := h.run(t, decision.PolicyUnset)

	artifacts, err := store.Artifacts(context.Background(), state.RunID)
	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	assert.Equal(t, "archive", artifacts[0].Kind)
	assert.Equal(t, "no existing archive", artifacts[0].Detail)
	assert.Equal(t, "Acme", artifacts[0].Hub)
	assert.Equal(t, "step", artifacts[1].Kind)
	assert.Equal(t, "dxf", artifacts[2].Kind)

	issues, err := store.Issues(context.Background(), state.RunID)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "locked")
}

func TestRunValidates(t *testing.T) {
	err := (&Engine{}).Run(context.Background(), NewRunState(decision.PolicyUnset))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Reader, Host, Exporter, FS, Progress")
}

func TestRunStateMessages(t *testing.T) {
	state := NewRunState(decision.PolicyUnset)
	assert.NotEmpty(t, state.RunID)
	assert.Equal(t, Completed, state.Outcome())

	state.addIssue("a", errors.New("x"))
	state.addIssue("b", errors.New("y"))
	assert.Equal(t, "The exporting process ran into 2 issues. Please check the log for more information", state.Message())

	state.Cancelled = true
	assert.Equal(t, Cancelled, state.Outcome())
}

func TestCancelFlag(t *testing.T) {
	var nilFlag *CancelFlag
	assert.False(t, nilFlag.Requested())

	flag := &CancelFlag{}
	assert.False(t, flag.Requested())
	flag.Request()
	assert.True(t, flag.Requested())
}

func giveUps(rec *metrics.PrometheusRecorder, scope string) float64 {
	families, err := rec.Registry().Gather()
	if err != nil {
		return -1
	}
	for _, mf := range families {
		if mf.GetName() != "total_export_give_ups_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "scope" && label.GetValue() == scope {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRunInterruptedLastDesignNotRecorded(t *testing.T) {
	fake := rover(design("Frame", yesterday), design("Wheel", yesterday))
	h := newHarness(t, fake, retry.Never)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.OnOpen = func(opened remote.DataFile) {
		if opened.Name == "Wheel" {
			h.engine.Cancel.Request()
			cancel()
		}
	}

	state := NewRunState(decision.PolicyUnset)
	require.NoError(t, h.engine.Run(ctx, state))

	assert.Equal(t, Cancelled, state.Outcome())
	assert.False(t, h.exists("Hub Acme/Project Rover/Rover/Wheel.f3d/Wheel.f3d"))
	assert.False(t, h.progress.Completed("Acme", "Rover"))
	assert.False(t, h.exists(progress.FileName))
	assert.Zero(t, state.Counters.ProjectsCompleted)
}

func TestRunScopeRetryCountsOnce(t *testing.T) {
	fake := rover(design("Frame", yesterday))
	fake.ProjectsErrs = []error{remotetest.ErrOffline}
	h := newHarness(t, fake, answers(true))

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, Completed, state.Outcome())
	assert.Equal(t, 2, fake.CountCalls("projects Acme"))
	assert.Equal(t, 1, state.Counters.Hubs)
	assert.Equal(t, 1, state.Counters.Projects)
	assert.Equal(t, 1, state.Counters.ProjectsCompleted)
}

func TestRunMissingRootComponent(t *testing.T) {
	fake := rover(design("Frame", yesterday), design("Wheel", yesterday))
	fake.NoRoot("Frame")
	h := newHarness(t, fake, answers(true))

	state := h.run(t, decision.PolicyUnset)

	assert.Equal(t, CompletedWithIssues, state.Outcome())
	assert.Equal(t, 1, state.IssueCount())
	assert.Equal(t, 1, state.Counters.FilesFailed)
	assert.Equal(t, 1, state.Counters.FilesExported)
	assert.True(t, h.exists(fileDir+"/Frame.f3d"))
	assert.False(t, h.exists(fileDir+"/Frame.stp"))
	assert.Equal(t, 1, fake.CountCalls("close Frame discard=true"))
}
