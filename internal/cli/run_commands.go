package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/clipmill/clipmill-agent/internal/config"
)

func runServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	startTime := time.Now()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.EnsureAuthToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	banner := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("CLIPMILL AGENT "+config.Version),
		fmt.Sprintf("API URL:    http://127.0.0.1:%d", a.Config.Port()),
		fmt.Sprintf("Auth Token: %s", token),
		fmt.Sprintf("Data dir:   %s", a.Config.DataDir()),
	)
	fmt.Fprintln(stdout, panelStyle.Render(banner))

	a.Logger.Info("starting clipmill agent", "version", config.Version, "data_dir", a.Config.DataDir())
	err = a.Serve(ctx, startTime)
	a.Logger.Info("shutdown complete")
	return err
}

func runRun(ctx context.Context, args []string) error {
	fs := newFlagSet("run")
	source := fs.String("source", "", "source reference (reddit:<id>, a reddit URL or file:<path>); empty discovers one")
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ref := strings.TrimSpace(*source)
	if ref == "" {
		ref, err = a.Discover(ctx)
		if err != nil {
			return err
		}
		if !*jsonOut {
			fmt.Fprintln(stdout, mutedStyle.Render("discovered "+ref))
		}
	}

	res, err := a.Run(ctx, ref)
	if err != nil {
		return err
	}
	return printResult(res, *jsonOut)
}

func runResume(ctx context.Context, args []string) error {
	fs := newFlagSet("resume")
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := strings.TrimSpace(fs.Arg(0))
	if id == "" {
		return errors.New("usage: agent resume <job-id>")
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Orchestrator.Resume(ctx, id)
	if err != nil {
		return err
	}
	return printResult(res, *jsonOut)
}

func runSubmit(ctx context.Context, args []string) error {
	fs := newFlagSet("submit")
	source := fs.String("source", "", "source reference to queue")
	viaQueue := fs.Bool("queue", false, "publish to the AMQP submissions queue instead of the local database")
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref := strings.TrimSpace(*source)
	if ref == "" {
		return errors.New("--source is required")
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if *viaQueue {
		if err := a.Publish(ctx, ref, "cli"); err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(map[string]string{"outcome": "published", "source_ref": ref})
		}
		fmt.Fprintln(stdout, okStyle.Render("published"), ref)
		return nil
	}

	j, skipped, err := a.Submit(ctx, ref)
	if err != nil {
		return err
	}
	if skipped != nil {
		return printResult(skipped, *jsonOut)
	}
	if *jsonOut {
		return printJSON(j)
	}
	fmt.Fprintln(stdout, okStyle.Render("queued"), j.ID, mutedStyle.Render(j.SourceRef))
	return nil
}
