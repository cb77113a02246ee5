package prompt

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kataras/total-export/pkg/retry"
)

func init() {
	color.NoColor = true
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		in     string
		answer bool
		ok     bool
	}{
		{in: "y\n", answer: true, ok: true},
		{in: "YES", answer: true, ok: true},
		{in: " j ", answer: true, ok: true},
		{in: "Ja\r\n", answer: true, ok: true},
		{in: "n", answer: false, ok: true},
		{in: "No", answer: false, ok: true},
		{in: "nein", answer: false, ok: true},
		{in: "", ok: false},
		{in: "maybe", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			answer, ok := ParseAnswer(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.answer, answer)
		})
	}
}

func TestTerminalConfirm(t *testing.T) {
	var out bytes.Buffer
	term := &Terminal{In: strings.NewReader("what\nja\nn\n"), Out: &out}

	first, err := term.Confirm(context.Background(), QuestionResume, "Continue the previous export?")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := term.Confirm(context.Background(), QuestionOverwrite, "Overwrite existing files?")
	require.NoError(t, err)
	assert.False(t, second)

	assert.Contains(t, out.String(), "Continue the previous export?")
	assert.Contains(t, out.String(), "Please answer yes or no.")
	assert.Contains(t, out.String(), "[y/n] ")
}

func TestTerminalAnswerWithoutNewline(t *testing.T) {
	term := &Terminal{In: strings.NewReader("yes"), Out: &bytes.Buffer{}}

	answer, err := term.Confirm(context.Background(), QuestionRetry, "Retry?")
	require.NoError(t, err)
	assert.True(t, answer)
}

func TestTerminalEOF(t *testing.T) {
	term := &Terminal{In: strings.NewReader("hmm\n"), Out: &bytes.Buffer{}}

	answer, err := term.Confirm(context.Background(), QuestionRetry, "Retry?")
	assert.False(t, answer)
	assert.ErrorIs(t, err, ErrNoAnswer)
}

func TestTerminalCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term := &Terminal{In: strings.NewReader("y\n"), Out: &bytes.Buffer{}}

	_, err := term.Confirm(ctx, QuestionResume, "Resume?")
	assert.ErrorIs(t, err, context.Canceled)
}

type countingPrompter struct {
	calls  []Question
	answer bool
}

func (c *countingPrompter) Confirm(_ context.Context, q Question, _ string) (bool, error) {
	c.calls = append(c.calls, q)
	return c.answer, nil
}

func TestFixed(t *testing.T) {
	fallback := &countingPrompter{answer: true}
	p := &Fixed{Answers: map[Question]bool{QuestionResume: false}, Fallback: fallback}

	resume, err := p.Confirm(context.Background(), QuestionResume, "")
	require.NoError(t, err)
	assert.False(t, resume)

	overwrite, err := p.Confirm(context.Background(), QuestionOverwrite, "")
	require.NoError(t, err)
	assert.True(t, overwrite)
	assert.Equal(t, []Question{QuestionOverwrite}, fallback.calls)

	none := &Fixed{}
	answer, err := none.Confirm(context.Background(), QuestionRetry, "")
	require.NoError(t, err)
	assert.False(t, answer)
}

func TestRetryDecider(t *testing.T) {
	var out bytes.Buffer
	decider := RetryDecider(&Terminal{In: strings.NewReader("y\n"), Out: &out})

	answer, err := decider.Retry(context.Background(), retry.Failure{
		Scope:   retry.ScopeOpen,
		Subject: "Frame",
		Attempt: 1,
		Err:     errors.New("timeout"),
	})
	require.NoError(t, err)
	assert.True(t, answer)
	assert.Contains(t, out.String(), `Opening "Frame" failed (attempt 1)`)
	assert.Contains(t, out.String(), "Retry?")
}
