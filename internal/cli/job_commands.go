package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/clipmill/clipmill-agent/internal/job"
)

func runJobs(ctx context.Context, args []string) error {
	fs := newFlagSet("jobs")
	limit := fs.Int("limit", 20, "maximum jobs to list")
	status := fs.String("status", "", "only jobs in this status")
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("--limit must be positive")
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var jobs []*job.Job
	if *status != "" {
		st := job.Status(*status)
		if !job.IsKnownStatus(st) {
			return fmt.Errorf("unknown status %q", *status)
		}
		jobs, err = a.Jobs.ListByStatus(ctx, st, *limit)
	} else {
		jobs, err = a.Jobs.List(ctx, *limit)
	}
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(stdout, mutedStyle.Render("no jobs"))
		return nil
	}
	fmt.Fprint(stdout, renderJobs(jobs, time.Now()))
	return nil
}

func renderJobs(jobs []*job.Job, now time.Time) string {
	rows := [][]string{{"ID", "STATUS", "PROGRESS", "SOURCE", "UPDATED", "NOTE"}}
	for _, j := range jobs {
		note := ""
		if j.FailedStage != "" {
			note = j.FailedStage + ": " + j.ErrorKind
		}
		if j.SafeMode {
			note = strings.TrimSpace(note + " safe-mode")
		}
		rows = append(rows, []string{
			shortID(j.ID),
			statusStyle(j.Status).Render(string(j.Status)),
			fmt.Sprintf("%d/%d", j.CompletedCount(), len(job.StageOrder)),
			j.SourceRef,
			formatAge(j.UpdatedAt, now),
			note,
		})
	}
	return renderTable(rows)
}

func runShow(ctx context.Context, args []string) error {
	fs := newFlagSet("show")
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := strings.TrimSpace(fs.Arg(0))
	if id == "" {
		return errors.New("usage: agent show <job-id>")
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	j, err := a.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(j)
	}
	fmt.Fprintln(stdout, renderJob(j))
	return nil
}

func renderJob(j *job.Job) string {
	lines := []string{
		titleStyle.Render("job "+j.ID) + "  " + statusStyle(j.Status).Render(string(j.Status)),
		"source:   " + j.SourceRef,
		"dir:      " + j.Dir,
		"started:  " + j.CreatedAt.Format(time.RFC3339),
	}
	if j.SafeMode {
		lines = append(lines, "safe mode after "+fmt.Sprint(j.PolicyRejections)+" policy rejection(s)")
	}
	if j.FailedStage != "" {
		lines = append(lines, errorStyle.Render(fmt.Sprintf("%s failed (%s): %s", j.FailedStage, j.ErrorKind, j.Error)))
	}

	rows := [][]string{{"STAGE", "DONE", "ARTIFACT", "META"}}
	for _, s := range j.Stages {
		done := mutedStyle.Render("-")
		if s.Completed {
			done = okStyle.Render("yes")
		}
		rows = append(rows, []string{s.Name, done, s.Artifact, formatMeta(s.Meta)})
	}
	return lipgloss.JoinVertical(lipgloss.Left, panelStyle.Render(strings.Join(lines, "\n")), renderTable(rows))
}

func formatMeta(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + meta[k]
	}
	return strings.Join(parts, " ")
}
