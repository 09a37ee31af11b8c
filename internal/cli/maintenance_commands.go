package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
)

func runDoctor(ctx context.Context, args []string) error {
	fs := newFlagSet("doctor")
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	caps, err := a.Doctor.Refresh(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		if err := printJSON(caps); err != nil {
			return err
		}
	} else {
		printBinary("ffmpeg", caps.FFmpeg)
		printBinary("ffprobe", caps.FFprobe)
		for _, enc := range []string{"libx264", "aac"} {
			status := okStyle.Render("ok")
			if !caps.Encoders[enc] {
				status = errorStyle.Render("missing")
			}
			fmt.Fprintf(stdout, "encoder %s: %s\n", enc, status)
		}
	}
	if !caps.CanAssemble() {
		return errors.New("doctor checks failed")
	}
	if !*jsonOut {
		fmt.Fprintln(stdout, "doctor: all checks passed")
	}
	return nil
}

func printBinary(name string, b ffmpeg.Binary) {
	if b.Available {
		fmt.Fprintf(stdout, "%s: %s (%s)\n", name, okStyle.Render("ok"), b.Version)
		return
	}
	fmt.Fprintf(stdout, "%s: %s (%s)\n", name, errorStyle.Render("fail"), b.Error)
}

func runDedup(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: agent dedup stats|purge")
	}
	fs := newFlagSet("dedup " + args[0])
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	switch args[0] {
	case "stats":
		stats, err := a.Dedup.Stats(ctx, now)
		if err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(stats)
		}
		fmt.Fprint(stdout, renderTable([][]string{
			{"TOTAL", "TODAY", "YESTERDAY", "THIS WEEK", "OLDER"},
			{fmt.Sprint(stats.Total), fmt.Sprint(stats.Today), fmt.Sprint(stats.Yesterday), fmt.Sprint(stats.ThisWeek), fmt.Sprint(stats.Older)},
		}))
		return nil
	case "purge":
		n, err := a.Dedup.Purge(ctx, now)
		if err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(map[string]int{"purged": n})
		}
		fmt.Fprintf(stdout, "purged %d expired record(s)\n", n)
		return nil
	default:
		return fmt.Errorf("unknown dedup command %q", args[0])
	}
}
