package totalexport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/kataras/total-export/pkg/config"
	"github.com/kataras/total-export/pkg/decision"
	"github.com/kataras/total-export/pkg/hubclient"
	"github.com/kataras/total-export/pkg/ledger"
	"github.com/kataras/total-export/pkg/logging"
	"github.com/kataras/total-export/pkg/metrics"
	"github.com/kataras/total-export/pkg/orchestrator"
	"github.com/kataras/total-export/pkg/progress"
	"github.com/kataras/total-export/pkg/prompt"
	"github.com/kataras/total-export/pkg/remote"
	"github.com/kataras/total-export/pkg/report"
	"github.com/kataras/total-export/pkg/retry"
	"github.com/kataras/total-export/pkg/traversal"
)

// Version is the exporter version.
const Version = "1.0.0"

// Logger receives progress messages. A nil Logger means silent operation.
type Logger = logging.Logger

// Hub is everything the exporter needs from a design hub.
type Hub interface {
	remote.Reader
	remote.DocumentHost
	remote.Exporter
}

// Options configures a run.
type Options struct {
	OutputDir string

	// Hub overrides the HTTP client built from APIURL and Token.
	Hub     Hub
	APIURL  string
	Token   string
	Timeout time.Duration

	// Overwrite PolicyUnset asks the operator once.
	Overwrite decision.Policy
	Resume    config.ResumeMode
	Retry     config.RetryMode
	// Cooldown between retries. Zero uses retry.DefaultCooldown, negative
	// retries immediately.
	Cooldown time.Duration

	Layout     traversal.Layout
	Formats    traversal.Formats // zero value: STEP and DXF
	Extensions []string          // empty: f3d and f3z

	Ledger      bool
	LedgerPath  string // relative paths are under OutputDir
	MetricsFile string
	Report      bool
	LogLevel    string

	Prompter prompt.Prompter          // nil = terminal
	Logger   Logger                   // console output, nil = silent
	Cancel   *orchestrator.CancelFlag // nil = not cancellable
}

// Result describes a finished run.
type Result struct {
	State   *orchestrator.RunState
	Outcome orchestrator.Outcome
	Message string
}

// OptionsFromConfig maps a loaded configuration to run options.
func OptionsFromConfig(c *config.Config) Options {
	cooldown := c.Cooldown()
	if cooldown == 0 {
		cooldown = -1
	}

	return Options{
		OutputDir:   c.Output,
		APIURL:      c.API.URL,
		Token:       c.API.Token,
		Timeout:     c.Timeout(),
		Overwrite:   c.Policy(),
		Resume:      c.Prompts.Resume,
		Retry:       c.Prompts.Retry,
		Cooldown:    cooldown,
		Layout:      c.Layout(),
		Formats:     c.Formats(),
		Extensions:  c.Export.Extensions,
		Ledger:      c.Ledger.Enabled,
		LedgerPath:  c.Ledger.Path,
		MetricsFile: c.Metrics.Textfile,
		Report:      c.ReportEnabled(),
		LogLevel:    c.Logging.Level,
	}
}

// Run asks the start-up questions, exports everything the hub lists into
// OutputDir and writes the optional report, ledger and metrics.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.Hub == nil && (opts.APIURL == "" || opts.Token == "") {
		return nil, errors.New("hub API URL and token are required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	fs := osfs.New(opts.OutputDir)

	logFile, err := fs.OpenFile(logging.LogFileName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", logging.LogFileName, err)
	}
	defer logFile.Close()

	fileLog := logging.NewFile(logFile, logging.ParseLevel(opts.LogLevel))
	defer func() { _ = fileLog.Sync() }()
	logger := logging.Tee(opts.Logger, fileLog)

	hub := opts.Hub
	if hub == nil {
		hub = hubclient.New(opts.APIURL, opts.Token,
			hubclient.WithTimeout(opts.Timeout),
			hubclient.WithUserAgent("total-export/"+Version),
			hubclient.WithLogger(logger),
		)
	}

	prompter := answersFor(opts)

	store := progress.NewStore(fs, logger)
	store.Load()
	if err := resumeOrReset(ctx, store, prompter, logger); err != nil {
		return nil, err
	}

	policy := opts.Overwrite
	if policy == decision.PolicyUnset {
		policy = askOverwrite(ctx, prompter, logger)
	}
	logger.Infof("Overwrite policy: %s", policy)

	rec := metrics.NewPrometheusRecorder(nil)
	state := orchestrator.NewRunState(policy)
	state.Started = time.Now()

	var journal *ledger.Store
	if opts.Ledger {
		journal = openLedger(ctx, opts, state, logger)
		if journal != nil {
			defer journal.Close()
		}
	}

	engine := &orchestrator.Engine{
		Reader:   hub,
		Host:     hub,
		Exporter: hub,
		FS:       fs,
		Progress: store,
		Supervisor: &retry.Supervisor{
			Decider:  prompt.RetryDecider(prompter),
			Cooldown: opts.Cooldown,
			Logger:   logger,
			Metrics:  rec,
		},
		Logger:  logger,
		Metrics: rec,
		Cancel:  opts.Cancel,
		Options: orchestrator.Options{
			Extensions: opts.Extensions,
			Layout:     opts.Layout,
			Formats:    formatsOrDefault(opts.Formats),
		},
	}
	if journal != nil {
		engine.Journal = journal
	}

	if err := engine.Run(ctx, state); err != nil {
		return nil, err
	}

	finish(ctx, fs, opts, state, journal, rec, logger)

	return &Result{
		State:   state,
		Outcome: state.Outcome(),
		Message: state.Message(),
	}, nil
}

func formatsOrDefault(f traversal.Formats) traversal.Formats {
	if f == (traversal.Formats{}) {
		return traversal.DefaultFormats()
	}
	return f
}

// answersFor wraps the operator prompter with the answers given up front.
func answersFor(opts Options) prompt.Prompter {
	base := opts.Prompter
	if base == nil {
		base = prompt.NewTerminal()
	}

	answers := make(map[prompt.Question]bool)
	switch config.NormalizeResumeMode(string(opts.Resume)) {
	case config.ResumeYes:
		answers[prompt.QuestionResume] = true
	case config.ResumeNo:
		answers[prompt.QuestionResume] = false
	}
	if config.NormalizeRetryMode(string(opts.Retry)) == config.RetryNever {
		answers[prompt.QuestionRetry] = false
	}

	return &prompt.Fixed{Answers: answers, Fallback: base}
}

func resumeOrReset(ctx context.Context, store *progress.Store, p prompt.Prompter, logger logging.Logger) error {
	if !store.Exists() || store.Len() == 0 {
		return nil
	}

	message := fmt.Sprintf("A progress file '%s' already lists %d exported project(s).\n"+
		"Continue the export from there (yes) or start over (no)?", progress.FileName, store.Len())
	resume, err := p.Confirm(ctx, prompt.QuestionResume, message)
	if err != nil {
		logger.Warnf("No answer to the resume question, keeping recorded progress: %v", err)
		return nil
	}
	if resume {
		logger.Infof("Resuming: %d project(s) already exported", store.Len())
		return nil
	}

	logger.Infof("Starting over: clearing recorded progress")
	if err := store.Reset(); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	return nil
}

func askOverwrite(ctx context.Context, p prompt.Prompter, logger logging.Logger) decision.Policy {
	overwrite, err := p.Confirm(ctx, prompt.QuestionOverwrite,
		"Previously exported files may already exist.\nOverwrite existing files?")
	if err != nil {
		logger.Warnf("No answer to the overwrite question, keeping existing files: %v", err)
	}
	if overwrite {
		return decision.PolicyAlways
	}
	return decision.PolicyNever
}

func ledgerPath(opts Options) string {
	name := opts.LedgerPath
	if name == "" {
		name = ledger.FileName
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(opts.OutputDir, name)
}

func openLedger(ctx context.Context, opts Options, state *orchestrator.RunState, logger logging.Logger) *ledger.Store {
	store, err := ledger.Open(ledgerPath(opts))
	if err != nil {
		logger.Errorf("Failed to open ledger, continuing without it: %v", err)
		return nil
	}
	if err := store.StartRun(ctx, state.RunID, state.Started); err != nil {
		logger.Errorf("Failed to record run in ledger, continuing without it: %v", err)
		_ = store.Close()
		return nil
	}
	return store
}

// finish writes the run's side outputs. Failures are logged and never change
// the outcome.
func finish(ctx context.Context, fs billy.Filesystem, opts Options, state *orchestrator.RunState, journal *ledger.Store, rec *metrics.PrometheusRecorder, logger logging.Logger) {
	ctx = context.WithoutCancel(ctx)

	if journal != nil {
		if err := journal.FinishRun(ctx, ledger.Run{
			ID:       state.RunID,
			Finished: state.Finished,
			Outcome:  state.Outcome().String(),
			Issues:   state.IssueCount(),
			Exported: state.Counters.FilesExported,
			Skipped:  state.Counters.FilesSkipped,
		}); err != nil {
			logger.Errorf("Failed to finish run in ledger: %v", err)
		}
	}

	if opts.Report {
		info := report.Info{
			OutputDir: opts.OutputDir,
			Layout:    opts.Layout.String(),
			Formats:   formatsOrDefault(opts.Formats).Names(),
		}
		if err := report.Write(fs, state, info); err != nil {
			logger.Errorf("Failed to write report: %v", err)
		}
	}

	if opts.MetricsFile != "" {
		if err := rec.WriteTextfile(opts.MetricsFile); err != nil {
			logger.Errorf("%v", err)
		}
	}
}
