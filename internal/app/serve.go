package app

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/clipmill/clipmill-agent/internal/api"
	"github.com/clipmill/clipmill-agent/internal/config"
	"github.com/clipmill/clipmill-agent/internal/queue"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the HTTP API, the background worker and the queue consumer
// until ctx is cancelled.
func (a *App) Serve(ctx context.Context, startTime time.Time) error {
	if _, err := a.Doctor.Refresh(ctx); err != nil {
		a.Logger.Warn("initial media tool probe failed", "error", err)
	}

	var runner api.RunnerControl
	if a.Settings.Features.EnableWorker {
		runner = a.Worker
	}

	server := api.NewServer(api.ServerConfig{
		Port:      a.Config.Port(),
		Jobs:      a.Jobs,
		Submitter: a,
		Dedup:     a.Dedup,
		Runner:    runner,
		Doctor:    a.Doctor,
		Logger:    a.Logger,
		StartTime: startTime,
		Version:   config.Version,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if a.Settings.Features.EnableWorker {
		g.Go(func() error {
			a.Worker.Start(gctx)
			return nil
		})
	}

	if a.Settings.Features.EnableQueue {
		conn, err := amqp.Dial(a.Settings.Queue.URL)
		if err != nil {
			return fmt.Errorf("connect to amqp: %w", err)
		}
		defer conn.Close()

		consumer, err := queue.NewConsumer(conn, a.Settings.Queue.Name, a.Settings.Queue.Prefetch, a, a.Logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	return g.Wait()
}

// Publish sends ref to the submissions queue instead of creating the job here.
func (a *App) Publish(ctx context.Context, ref, requestedBy string) error {
	if a.Settings.Queue.URL == "" {
		return fmt.Errorf("no queue configured (set AMQP_URL)")
	}
	conn, err := amqp.Dial(a.Settings.Queue.URL)
	if err != nil {
		return fmt.Errorf("connect to amqp: %w", err)
	}
	defer conn.Close()

	pub, err := queue.NewPublisher(conn, a.Settings.Queue.Name)
	if err != nil {
		return err
	}
	defer pub.Close()

	return pub.Publish(ctx, queue.Submission{
		SourceRef:   ref,
		RequestedBy: requestedBy,
		SentAt:      a.clock().UTC(),
	})
}
