// Package api is the local HTTP control surface: job submission and
// inspection, artifact download, dedup stats and runner control.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clipmill/clipmill-agent/internal/dedup"
	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
	"github.com/clipmill/clipmill-agent/internal/worker"
)

// Submitter creates and requeues jobs. orchestrator.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, ref string) (*job.Job, *orchestrator.Result, error)
	Requeue(ctx context.Context, id string) (*job.Job, error)
}

// RunnerControl is the part of worker.Runner the API drives.
type RunnerControl interface {
	Pause()
	Resume()
	Status() worker.Status
}

// CapabilityCache reports the last media tool probe without probing.
type CapabilityCache interface {
	Peek() *ffmpeg.Capabilities
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Jobs      job.Repository
	Submitter Submitter
	Dedup     dedup.Store
	Runner    RunnerControl
	Doctor    CapabilityCache
	Logger    *slog.Logger
	StartTime time.Time
	Version   string
	Clock     func() time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
