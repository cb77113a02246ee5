// Package logging provides the leveled logger used across the exporter: a
// zap-backed writer for output.log, a colored console logger and helpers to
// combine them.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger receives progress messages. *zap.SugaredLogger satisfies it.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// LogFileName is the name of the run log under the output root.
const LogFileName = "output.log"

// TimeLayout is the timestamp layout of output.log lines.
const TimeLayout = "2006-01-02 15:04:05.000"

// ParseLevel maps "debug", "info", "warn" and "error" to a zap level,
// falling back to info.
func ParseLevel(raw string) zapcore.Level {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// NewFile returns a logger writing one line per event to w in the form
// "2006-01-02 15:04:05.000 - INFO - message".
func NewFile(w io.Writer, level zapcore.Level) *zap.SugaredLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(TimeLayout),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " - ",
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(level),
	)

	return zap.New(core).Sugar()
}

// Console prints colored messages to a terminal, like the CLI's progress
// output.
type Console struct {
	Out   io.Writer
	Quiet bool // suppress info messages
}

func (c *Console) Infof(format string, args ...any) {
	if c.Quiet {
		return
	}
	color.New(color.FgYellow).Fprintf(c.out(), format+"\n", args...)
}

func (c *Console) Warnf(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(c.out(), "⚠ "+format+"\n", args...)
}

func (c *Console) Errorf(format string, args ...any) {
	color.New(color.FgRed).Fprintf(c.out(), "✗ "+format+"\n", args...)
}

func (c *Console) out() io.Writer {
	if c.Out == nil {
		return color.Output
	}
	return c.Out
}

type tee []Logger

// Tee fans every message out to all non-nil loggers.
func Tee(loggers ...Logger) Logger {
	var t tee
	for _, l := range loggers {
		if l != nil {
			t = append(t, l)
		}
	}
	return t
}

func (t tee) Infof(format string, args ...any) {
	for _, l := range t {
		l.Infof(format, args...)
	}
}

func (t tee) Warnf(format string, args ...any) {
	for _, l := range t {
		l.Warnf(format, args...)
	}
}

func (t tee) Errorf(format string, args ...any) {
	for _, l := range t {
		l.Errorf(format, args...)
	}
}

type nop struct{}

func (nop) Infof(string, ...any)  {}
func (nop) Warnf(string, ...any)  {}
func (nop) Errorf(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger { return nop{} }

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}

// Recorder keeps formatted messages in memory. Tests use it to assert on log
// output.
type Recorder struct {
	Lines []string
}

func (r *Recorder) Infof(format string, args ...any) {
	r.Lines = append(r.Lines, "INFO "+fmt.Sprintf(format, args...))
}

func (r *Recorder) Warnf(format string, args ...any) {
	r.Lines = append(r.Lines, "WARN "+fmt.Sprintf(format, args...))
}

func (r *Recorder) Errorf(format string, args ...any) {
	r.Lines = append(r.Lines, "ERROR "+fmt.Sprintf(format, args...))
}

// Contains reports whether any recorded line contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, line := range r.Lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
