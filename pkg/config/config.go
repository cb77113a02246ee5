// Package config loads the exporter configuration from a YAML file, a .env
// file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kataras/total-export/pkg/decision"
	"github.com/kataras/total-export/pkg/retry"
	"github.com/kataras/total-export/pkg/traversal"
)

// Environment variables consulted when the file leaves a value empty.
const (
	EnvToken = "TOTAL_EXPORT_TOKEN"
	EnvAPI   = "TOTAL_EXPORT_API"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete exporter configuration.
type Config struct {
	Output  string        `yaml:"output"`
	API     APIConfig     `yaml:"api"`
	Export  ExportConfig  `yaml:"export"`
	Prompts PromptsConfig `yaml:"prompts"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Metrics MetricsConfig `yaml:"metrics"`
	Report  ReportConfig  `yaml:"report"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig locates the design hub.
type APIConfig struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

// ExportConfig selects what gets exported and where it goes.
type ExportConfig struct {
	Overwrite  string   `yaml:"overwrite"`
	Layout     string   `yaml:"layout"`
	Formats    []string `yaml:"formats"`
	Extensions []string `yaml:"extensions"`
}

// PromptsConfig answers operator questions ahead of time.
type PromptsConfig struct {
	Resume   ResumeMode `yaml:"resume"`
	Retry    RetryMode  `yaml:"retry"`
	Cooldown string     `yaml:"cooldown"`
}

// LedgerConfig enables the SQLite artifact ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig enables the Prometheus textfile.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// ReportConfig controls the markdown run report.
type ReportConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// LoggingConfig sets the output.log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ResumeMode answers the resume question.
type ResumeMode string

const (
	ResumeAsk ResumeMode = "ask"
	ResumeYes ResumeMode = "yes"
	ResumeNo  ResumeMode = "no"
)

// NormalizeResumeMode maps user input to a ResumeMode, "" when unknown.
func NormalizeResumeMode(raw string) ResumeMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "ask":
		return ResumeAsk
	case "yes", "y", "true":
		return ResumeYes
	case "no", "n", "false":
		return ResumeNo
	default:
		return ""
	}
}

// RetryMode answers retry questions.
type RetryMode string

const (
	RetryAsk   RetryMode = "ask"
	RetryNever RetryMode = "never"
)

// NormalizeRetryMode maps user input to a RetryMode, "" when unknown.
func NormalizeRetryMode(raw string) RetryMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "ask":
		return RetryAsk
	case "never", "no", "false":
		return RetryNever
	default:
		return ""
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

// Load reads the configuration. A .env file in the working directory is
// loaded first when present; it never overrides variables already set.
// ${VAR} references in the YAML are expanded. An empty path yields the
// defaults. The result is normalized, defaulted and validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	c.Normalize()
	applyDefaults(c)
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Normalize trims and lowercases user input. Load calls it; callers that
// override values after loading call it again before Validate.
func (c *Config) Normalize() {
	c.API.URL = strings.TrimRight(strings.TrimSpace(c.API.URL), "/")
	c.Export.Overwrite = strings.ToLower(strings.TrimSpace(c.Export.Overwrite))
	c.Export.Layout = strings.ToLower(strings.TrimSpace(c.Export.Layout))
	if mode := NormalizeResumeMode(string(c.Prompts.Resume)); mode != "" {
		c.Prompts.Resume = mode
	}
	if mode := NormalizeRetryMode(string(c.Prompts.Retry)); mode != "" {
		c.Prompts.Retry = mode
	}
	for i, ext := range c.Export.Extensions {
		c.Export.Extensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
}

func applyDefaults(c *Config) {
	if c.Output == "" {
		c.Output = "."
	}
	if c.API.Timeout == "" {
		c.API.Timeout = "2m"
	}
	if c.Export.Overwrite == "" {
		c.Export.Overwrite = "ask"
	}
	if c.Export.Layout == "" {
		c.Export.Layout = traversal.LayoutObserved.String()
	}
	if len(c.Export.Formats) == 0 {
		c.Export.Formats = traversal.DefaultFormats().Names()
	}
	if len(c.Export.Extensions) == 0 {
		c.Export.Extensions = []string{"f3d", "f3z"}
	}
	if c.Prompts.Resume == "" {
		c.Prompts.Resume = ResumeAsk
	}
	if c.Prompts.Retry == "" {
		c.Prompts.Retry = RetryAsk
	}
	if c.Prompts.Cooldown == "" {
		c.Prompts.Cooldown = retry.DefaultCooldown.String()
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "export_ledger.db"
	}
	if c.Report.Enabled == nil {
		enabled := true
		c.Report.Enabled = &enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) applyEnv() {
	if c.API.Token == "" {
		c.API.Token = os.Getenv(EnvToken)
	}
	if c.API.URL == "" {
		c.API.URL = strings.TrimRight(os.Getenv(EnvAPI), "/")
	}
}

// Validate checks every value. Missing API settings are not an error here;
// commands that talk to the hub check them with RequireAPI.
func (c *Config) Validate() error {
	var errs []error

	if c.API.URL != "" {
		u, err := url.Parse(c.API.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("api.url %q must be an http(s) URL", c.API.URL))
		}
	}
	if d, err := time.ParseDuration(c.API.Timeout); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout %q must be a positive duration", c.API.Timeout))
	}
	if _, err := decision.ParsePolicy(c.Export.Overwrite); err != nil {
		errs = append(errs, fmt.Errorf("export.overwrite: %w", err))
	}
	if _, err := traversal.ParseLayout(c.Export.Layout); err != nil {
		errs = append(errs, fmt.Errorf("export.layout: %w", err))
	}
	if _, err := traversal.ParseFormats(c.Export.Formats); err != nil {
		errs = append(errs, fmt.Errorf("export.formats: %w", err))
	}
	for _, ext := range c.Export.Extensions {
		if ext == "" || strings.ContainsAny(ext, `/\. `) {
			errs = append(errs, fmt.Errorf("export.extensions: invalid extension %q", ext))
		}
	}
	if NormalizeResumeMode(string(c.Prompts.Resume)) == "" {
		errs = append(errs, fmt.Errorf("prompts.resume %q must be ask, yes or no", c.Prompts.Resume))
	}
	if NormalizeRetryMode(string(c.Prompts.Retry)) == "" {
		errs = append(errs, fmt.Errorf("prompts.retry %q must be ask or never", c.Prompts.Retry))
	}
	if d, err := time.ParseDuration(c.Prompts.Cooldown); err != nil || d < 0 {
		errs = append(errs, fmt.Errorf("prompts.cooldown %q must be a non-negative duration", c.Prompts.Cooldown))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// RequireAPI reports a missing hub URL or token.
func (c *Config) RequireAPI() error {
	var missing []string
	if c.API.URL == "" {
		missing = append(missing, "api.url ("+EnvAPI+")")
	}
	if c.API.Token == "" {
		missing = append(missing, "api.token ("+EnvToken+")")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Policy is the parsed overwrite policy. Call after Validate.
func (c *Config) Policy() decision.Policy {
	p, _ := decision.ParsePolicy(c.Export.Overwrite)
	return p
}

// Layout is the parsed component layout. Call after Validate.
func (c *Config) Layout() traversal.Layout {
	l, _ := traversal.ParseLayout(c.Export.Layout)
	return l
}

// Formats is the parsed artifact format set. Call after Validate.
func (c *Config) Formats() traversal.Formats {
	f, err := traversal.ParseFormats(c.Export.Formats)
	if err != nil {
		return traversal.DefaultFormats()
	}
	return f
}

// Timeout is the parsed per-request hub timeout. Call after Validate.
func (c *Config) Timeout() time.Duration {
	d, _ := time.ParseDuration(c.API.Timeout)
	return d
}

// Cooldown is the parsed retry cooldown. A zero value means no pause. Call
// after Validate.
func (c *Config) Cooldown() time.Duration {
	d, _ := time.ParseDuration(c.Prompts.Cooldown)
	return d
}

// ReportEnabled reports whether the run report is written.
func (c *Config) ReportEnabled() bool {
	return c.Report.Enabled == nil || *c.Report.Enabled
}
