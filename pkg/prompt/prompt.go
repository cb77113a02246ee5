// Package prompt asks the operator yes/no questions: whether to resume a
// previous run, whether to overwrite existing archives and whether to retry
// a failed operation.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/kataras/total-export/pkg/retry"
)

// Question identifies what is being asked.
type Question int

const (
	QuestionResume Question = iota
	QuestionOverwrite
	QuestionRetry
)

func (q Question) String() string {
	switch q {
	case QuestionResume:
		return "resume"
	case QuestionOverwrite:
		return "overwrite"
	case QuestionRetry:
		return "retry"
	default:
		return fmt.Sprintf("question(%d)", int(q))
	}
}

// Prompter answers yes/no questions.
type Prompter interface {
	Confirm(ctx context.Context, q Question, message string) (bool, error)
}

// ErrNoAnswer is returned when the input ends before an answer was given.
var ErrNoAnswer = errors.New("no answer")

// Terminal asks on Out and reads answers line by line from In. Any of
// y, yes, j, ja confirms and any of n, no, nein declines; other input asks
// again. Reads block without a timeout.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	once   sync.Once
	reader *bufio.Reader
}

// NewTerminal returns a Terminal on the process' standard input and output.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: color.Output}
}

func (t *Terminal) Confirm(ctx context.Context, q Question, message string) (bool, error) {
	t.once.Do(func() {
		in := t.In
		if in == nil {
			in = os.Stdin
		}
		t.reader = bufio.NewReader(in)
	})

	out := t.Out
	if out == nil {
		out = color.Output
	}

	question := color.New(color.FgCyan, color.Bold)
	hint := color.New(color.FgHiBlack)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		question.Fprintf(out, "\n%s\n", message)
		hint.Fprint(out, "[y/n] ")

		line, err := t.reader.ReadString('\n')
		if answer, ok := ParseAnswer(line); ok {
			return answer, nil
		}
		if err != nil {
			fmt.Fprintln(out)
			if errors.Is(err, io.EOF) {
				return false, fmt.Errorf("%s question: %w", q, ErrNoAnswer)
			}
			return false, fmt.Errorf("%s question: %w", q, err)
		}

		color.New(color.FgYellow).Fprintf(out, "Please answer yes or no.\n")
	}
}

// ParseAnswer interprets one line of operator input.
func ParseAnswer(line string) (answer, ok bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "j", "ja":
		return true, true
	case "n", "no", "nein":
		return false, true
	default:
		return false, false
	}
}

// Fixed answers configured questions without asking and delegates the rest to
// Fallback. Without a fallback, unconfigured questions are answered no.
type Fixed struct {
	Answers  map[Question]bool
	Fallback Prompter
}

func (f *Fixed) Confirm(ctx context.Context, q Question, message string) (bool, error) {
	if answer, ok := f.Answers[q]; ok {
		return answer, nil
	}
	if f.Fallback != nil {
		return f.Fallback.Confirm(ctx, q, message)
	}
	return false, nil
}

// RetryDecider asks p whether a failed operation should be retried.
func RetryDecider(p Prompter) retry.Decider {
	return retry.DeciderFunc(func(ctx context.Context, failure retry.Failure) (bool, error) {
		return p.Confirm(ctx, QuestionRetry, failure.Message()+"\n\nRetry?")
	})
}
