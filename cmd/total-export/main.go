package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	totalexport "github.com/kataras/total-export"
	"github.com/kataras/total-export/pkg/config"
	"github.com/kataras/total-export/pkg/logging"
	"github.com/kataras/total-export/pkg/orchestrator"
	"github.com/kataras/total-export/pkg/prompt"
	"github.com/kataras/total-export/pkg/report"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const version = totalexport.Version

var (
	outputDir   string
	configFile  string
	apiURL      string
	token       string
	overwrite   string
	resume      string
	retryMode   string
	cooldown    string
	layout      string
	formats     string
	extensions  string
	useLedger   bool
	metricsFile string
	noReport    bool
	logLevel    string
	quiet       bool

	resetYes     bool
	historyLimit int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "total-export",
		Short: "Export every design of a design hub to local files",
		Long: "A tool to mirror all hubs, projects and designs of a design hub into a local directory tree, " +
			"saving native archives plus STEP and DXF files. Runs are incremental and resumable.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "Output directory (default from config, else the current directory)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Export everything the hub lists",
		RunE:  runExport,
	}
	runCmd.Flags().StringVar(&apiURL, "api", "", "Hub API base URL (or "+config.EnvAPI+")")
	runCmd.Flags().StringVarP(&token, "token", "t", "", "Hub access token (or "+config.EnvToken+")")
	runCmd.Flags().StringVar(&overwrite, "overwrite", "", "Overwrite existing archives: ask, always, never")
	runCmd.Flags().StringVar(&resume, "resume", "", "Continue from recorded progress: ask, yes, no")
	runCmd.Flags().StringVar(&retryMode, "retry", "", "Retry failed hub calls: ask, never")
	runCmd.Flags().StringVar(&cooldown, "cooldown", "", "Pause before a retry (e.g. \"5s\", \"0s\" for none)")
	runCmd.Flags().StringVar(&layout, "layout", "", "Component file layout: observed, nested")
	runCmd.Flags().StringVar(&formats, "formats", "", "Comma-separated artifact formats: step, dxf, stl, iges")
	runCmd.Flags().StringVar(&extensions, "extensions", "", "Comma-separated archive extensions to export (e.g. \"f3d,f3z\")")
	runCmd.Flags().BoolVar(&useLedger, "ledger", false, "Record every artifact in a SQLite ledger")
	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	runCmd.Flags().BoolVar(&noReport, "no-report", false, "Do not write "+report.FileName)
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "output.log level: debug, info, warn, error")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print warnings and errors")

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect or reset the recorded progress",
	}
	progressShowCmd := &cobra.Command{
		Use:   "show",
		Short: "List the projects recorded as exported",
		RunE:  showProgress,
	}
	progressResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the recorded progress so the next run starts over",
		RunE:  resetProgress,
	}
	progressResetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	progressCmd.AddCommand(progressShowCmd, progressResetCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded in the ledger",
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to list (0 for all)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("total-export version %s\n", version)
		},
	}

	rootCmd.AddCommand(runCmd, progressCmd, historyCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the flags that were
// set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		c.Output = outputDir
	}
	if flags.Changed("api") {
		c.API.URL = apiURL
	}
	if flags.Changed("token") {
		c.API.Token = token
	}
	if flags.Changed("overwrite") {
		c.Export.Overwrite = overwrite
	}
	if flags.Changed("resume") {
		c.Prompts.Resume = config.ResumeMode(resume)
	}
	if flags.Changed("retry") {
		c.Prompts.Retry = config.RetryMode(retryMode)
	}
	if flags.Changed("cooldown") {
		c.Prompts.Cooldown = cooldown
	}
	if flags.Changed("layout") {
		c.Export.Layout = layout
	}
	if flags.Changed("formats") {
		c.Export.Formats = splitList(formats)
	}
	if flags.Changed("extensions") {
		c.Export.Extensions = splitList(extensions)
	}
	if flags.Changed("ledger") {
		c.Ledger.Enabled = useLedger
	}
	if flags.Changed("metrics-file") {
		c.Metrics.Textfile = metricsFile
	}
	if flags.Changed("no-report") {
		enabled := !noReport
		c.Report.Enabled = &enabled
	}
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}

	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runExport(cmd *cobra.Command, args []string) error {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := c.RequireAPI(); err != nil {
		return err
	}

	cyan.Println("\n📦 Total Export")
	cyan.Println("================")
	yellow.Println("This exports every design one at a time and can take many hours.")
	yellow.Println("Press Ctrl+C once to stop after the current design, twice to abort.")
	fmt.Println()

	cancel := &orchestrator.CancelFlag{}
	ctx, stop := interruptContext(cmd.Context(), cancel)
	defer stop()

	opts := totalexport.OptionsFromConfig(c)
	opts.Prompter = prompt.NewTerminal()
	opts.Logger = &logging.Console{Quiet: quiet}
	opts.Cancel = cancel

	result, err := totalexport.Run(ctx, opts)
	if err != nil {
		return err
	}

	counters := result.State.Counters
	cyan.Println("\n📊 Export Summary:")
	fmt.Printf("  • Hubs: %d, Projects: %d (%d resumed)\n", counters.Hubs, counters.Projects, counters.ProjectsResumed)
	fmt.Printf("  • Designs: %d exported, %d up to date, %d ignored, %d failed\n",
		counters.FilesExported, counters.FilesSkipped, counters.FilesIgnored, counters.FilesFailed)
	fmt.Printf("  • Artifacts: %d written, %d already present\n", counters.ArtifactsWritten, counters.ArtifactsPresent)
	fmt.Printf("  • Duration: %s\n", result.State.Duration().Round(time.Second))
	fmt.Println()

	switch result.Outcome {
	case orchestrator.Completed:
		green.Printf("✨ %s\n\n", result.Message)
	case orchestrator.Cancelled:
		yellow.Printf("%s\n\n", result.Message)
	default:
		red.Printf("%s\n\n", result.Message)
	}
	return nil
}

// interruptContext requests a graceful stop on the first interrupt and
// cancels the returned context on the second.
func interruptContext(parent context.Context, flag *orchestrator.CancelFlag) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-signals:
				if flag.Requested() {
					cancel()
					return
				}
				flag.Request()
				color.New(color.FgYellow).Println("\nStopping after the current design...")
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}

func showProgress(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	keys, err := totalexport.Progress(c.Output)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No recorded progress.")
		return nil
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("%d project(s) exported:\n", len(keys))
	for _, k := range keys {
		fmt.Printf("  • %s / %s\n", k.Hub, k.Project)
	}
	return nil
}

func resetProgress(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !resetYes {
		ok, err := prompt.NewTerminal().Confirm(cmd.Context(), prompt.QuestionResume,
			fmt.Sprintf("Forget the recorded progress in %s?", c.Output))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Nothing changed.")
			return nil
		}
	}

	if err := totalexport.ResetProgress(c.Output); err != nil {
		return err
	}
	color.New(color.FgGreen).Println("✓ Progress reset")
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runs, err := totalexport.History(cmd.Context(), c.Output, c.Ledger.Path, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	for _, run := range runs {
		outcome := run.Outcome
		if outcome == "" {
			outcome = "unfinished"
		}
		fmt.Printf("%s  %s  %-22s exported %d, skipped %d, issues %d\n",
			run.Started.Format("2006-01-02 15:04:05"), run.ID, outcome, run.Exported, run.Skipped, run.Issues)
	}
	return nil
}
