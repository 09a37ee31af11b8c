// Package cli implements the agent's subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/clipmill/clipmill-agent/internal/app"
	"github.com/clipmill/clipmill-agent/internal/config"
	"github.com/clipmill/clipmill-agent/internal/logging"
)

// stdout receives command output. Logs go to stderr.
var stdout io.Writer = os.Stdout

// ExitError carries a process exit status other than 1.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Run to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "resume":
		return runResume(ctx, args[1:])
	case "submit":
		return runSubmit(ctx, args[1:])
	case "jobs":
		return runJobs(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "doctor":
		return runDoctor(ctx, args[1:])
	case "dedup":
		return runDedup(ctx, args[1:])
	case "version":
		fmt.Fprintf(stdout, "clipmill-agent %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
		return nil
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Fprintln(stdout, "clipmill-agent: turns social posts into narrated short videos")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  serve     run the HTTP API, background worker and queue consumer")
	fmt.Fprintln(stdout, "  run       run one source to completion (--source, or discover the best post)")
	fmt.Fprintln(stdout, "  resume    continue a job from its first incomplete stage")
	fmt.Fprintln(stdout, "  submit    queue a source for the worker (--queue publishes to AMQP)")
	fmt.Fprintln(stdout, "  jobs      list recent jobs")
	fmt.Fprintln(stdout, "  show      print one job with its stages")
	fmt.Fprintln(stdout, "  doctor    check ffmpeg and ffprobe")
	fmt.Fprintln(stdout, "  dedup     stats | purge")
	fmt.Fprintln(stdout, "  version   print build information")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Exit status is 2 when a job ends blocked.")
}

// openApp loads the configuration and builds the application. Commands other
// than serve log to stderr so stdout stays parseable.
func openApp(ctx context.Context, serve bool) (*app.App, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewStderrLogger(cfg.LogLevel())
	if serve {
		logger = logging.NewLogger(cfg.LogLevel())
	}
	return app.New(ctx, cfg, logger)
}
