package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "total_export"

// PrometheusRecorder implements Recorder with Prometheus collectors registered
// on its own registry.
type PrometheusRecorder struct {
	registry     *prom.Registry
	files        *prom.CounterVec
	artifacts    *prom.CounterVec
	projects     *prom.CounterVec
	retries      *prom.CounterVec
	giveUps      *prom.CounterVec
	issues       prom.Counter
	fileDuration prom.Histogram
	runDuration  *prom.GaugeVec
	lastRun      prom.Gauge
}

// NewPrometheusRecorder constructs the collectors and registers them on reg,
// or on a fresh registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	pr := &PrometheusRecorder{
		registry: reg,
		files: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Data files by export decision result",
		}, []string{"result"}),
		artifacts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Artifacts by kind and result",
		}, []string{"kind", "result"}),
		projects: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "projects_total",
			Help:      "Projects by result (completed, resumed, cancelled)",
		}, []string{"result"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Operator-approved retries by scope",
		}, []string{"scope"}),
		giveUps: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "give_ups_total",
			Help:      "Failed operations abandoned by scope",
		}, []string{"scope"}),
		issues: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "issues_total",
			Help:      "Issues counted during the run",
		}),
		fileDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time spent exporting one data file",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		runDuration: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run by outcome",
		}, []string{"outcome"}),
		lastRun: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	reg.MustRegister(pr.files, pr.artifacts, pr.projects, pr.retries, pr.giveUps,
		pr.issues, pr.fileDuration, pr.runDuration, pr.lastRun)

	return pr
}

// Registry returns the registry holding the recorder's collectors.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.registry }

func (p *PrometheusRecorder) IncFile(result string) { p.files.WithLabelValues(result).Inc() }

func (p *PrometheusRecorder) IncArtifact(kind, result string) {
	p.artifacts.WithLabelValues(kind, result).Inc()
}

func (p *PrometheusRecorder) IncProject(result string) { p.projects.WithLabelValues(result).Inc() }
func (p *PrometheusRecorder) IncRetry(scope string)    { p.retries.WithLabelValues(scope).Inc() }
func (p *PrometheusRecorder) IncGiveUp(scope string)   { p.giveUps.WithLabelValues(scope).Inc() }
func (p *PrometheusRecorder) IncIssue()                { p.issues.Inc() }

func (p *PrometheusRecorder) ObserveFileDuration(d time.Duration) {
	p.fileDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration, outcome string) {
	p.runDuration.WithLabelValues(outcome).Set(d.Seconds())
	p.lastRun.SetToCurrentTime()
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format, atomically.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prom.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
