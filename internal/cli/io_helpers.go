package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	columnStyle = lipgloss.NewStyle().PaddingRight(2)
)

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stdout)
	return fs
}

func statusStyle(s job.Status) lipgloss.Style {
	switch s {
	case job.StatusCompleted:
		return okStyle
	case job.StatusBlocked:
		return errorStyle
	case job.StatusStageFailed, job.StatusRunning:
		return warnStyle
	default:
		return mutedStyle
	}
}

// renderTable lays rows out in padded columns. The first row is the header.
func renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	var b strings.Builder
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := columnStyle.Width(widths[i] + 2)
			if r == 0 {
				style = style.Inherit(headerStyle)
			}
			cells[i] = style.Render(cell)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}
	return b.String()
}

func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// printResult writes the terminal result of a run and turns a blocked outcome
// into exit status 2.
func printResult(res *orchestrator.Result, jsonOut bool) error {
	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		switch res.Outcome {
		case orchestrator.OutcomeCompleted:
			fmt.Fprintln(stdout, okStyle.Render("completed"), mutedStyle.Render(res.JobID))
			for _, name := range job.StageOrder {
				if a, ok := res.Artifacts[name]; ok {
					fmt.Fprintf(stdout, "  %-16s %s\n", name, a)
				}
			}
		case orchestrator.OutcomeSkippedDuplicate:
			prev := ""
			if res.Duplicate != nil {
				prev = res.Duplicate.JobID
			}
			fmt.Fprintln(stdout, warnStyle.Render("skipped duplicate"), res.SourceRef, mutedStyle.Render("previous job "+prev))
		case orchestrator.OutcomeBlocked:
			fmt.Fprintln(stdout, errorStyle.Render("blocked"), mutedStyle.Render(res.JobID))
			fmt.Fprintf(stdout, "  stage: %s\n  kind:  %s\n  cause: %s\n", res.FailedStage, res.ErrorKind, res.Cause)
			fmt.Fprintf(stdout, "  resume with: agent resume %s\n", res.JobID)
		}
	}
	if code := res.ExitCode(); code != 0 {
		return &ExitError{Code: code, Err: fmt.Errorf("job %s blocked at %s: %s", res.JobID, res.FailedStage, res.Cause)}
	}
	return nil
}
