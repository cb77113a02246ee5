// Package report renders a markdown summary of an export run.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/kataras/total-export/pkg/orchestrator"
)

// FileName is the report written under the output root.
const FileName = "export_report.md"

// Info describes how the run was configured.
type Info struct {
	OutputDir string
	Layout    string
	Formats   []string
}

// ToMarkdown renders the run state as a markdown document.
func ToMarkdown(state *orchestrator.RunState, info Info) string {
	var sb strings.Builder

	sb.WriteString("# Total Export Report\n\n")
	sb.WriteString(fmt.Sprintf("**%s**\n\n", state.Message()))

	sb.WriteString("## Run\n\n")
	sb.WriteString("| Setting | Value |\n")
	sb.WriteString("|---------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Run ID | `%s` |\n", state.RunID))
	if info.OutputDir != "" {
		sb.WriteString(fmt.Sprintf("| Output | `%s` |\n", info.OutputDir))
	}
	if !state.Started.IsZero() {
		sb.WriteString(fmt.Sprintf("| Started | %s |\n", state.Started.Format(time.RFC3339)))
	}
	if !state.Finished.IsZero() {
		sb.WriteString(fmt.Sprintf("| Finished | %s |\n", state.Finished.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("| Duration | %s |\n", state.Duration().Round(time.Second)))
	}
	sb.WriteString(fmt.Sprintf("| Outcome | %s |\n", state.Outcome()))
	sb.WriteString(fmt.Sprintf("| Overwrite policy | %s |\n", state.Policy))
	if info.Layout != "" {
		sb.WriteString(fmt.Sprintf("| Layout | %s |\n", info.Layout))
	}
	if len(info.Formats) > 0 {
		sb.WriteString(fmt.Sprintf("| Formats | %s |\n", strings.ToUpper(strings.Join(info.Formats, ", "))))
	}
	sb.WriteString("\n")

	c := state.Counters
	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Item | Count |\n")
	sb.WriteString("|------|-------|\n")
	rows := []struct {
		name  string
		count int
	}{
		{"Hubs", c.Hubs},
		{"Projects", c.Projects},
		{"Projects completed", c.ProjectsCompleted},
		{"Projects already recorded", c.ProjectsResumed},
		{"Files", c.Files},
		{"Files exported", c.FilesExported},
		{"Files up to date", c.FilesSkipped},
		{"Files ignored", c.FilesIgnored},
		{"Files failed", c.FilesFailed},
		{"Artifacts written", c.ArtifactsWritten},
		{"Artifacts already present", c.ArtifactsPresent},
		{"Issues", state.IssueCount()},
	}
	for _, row := range rows {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", row.name, row.count))
	}
	sb.WriteString("\n")

	if len(state.Issues) > 0 {
		sb.WriteString("## Issues\n\n")
		for i, issue := range state.Issues {
			message := "unknown error"
			if issue.Err != nil {
				message = singleLine(issue.Err.Error())
			}
			sb.WriteString(fmt.Sprintf("%d. **%s**: %s\n", i+1, issue.Subject, message))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Write renders the report and writes it to FileName on fs, replacing the
// previous run's report.
func Write(fs billy.Filesystem, state *orchestrator.RunState, info Info) error {
	if err := util.WriteFile(fs, FileName, []byte(ToMarkdown(state, info)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", FileName, err)
	}
	return nil
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
