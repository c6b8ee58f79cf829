package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/raysh454/apilens/internal/conformance"
	"github.com/raysh454/apilens/internal/diagram"
	"github.com/raysh454/apilens/internal/extractor"
	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/pipeline"
	"github.com/raysh454/apilens/internal/reference"
	"github.com/raysh454/apilens/internal/server"
	"github.com/raysh454/apilens/internal/supervisor"
)

// Application is the global runtime state container. It owns the job
// store, the pipeline, the supervisor and the HTTP surface, and shuts them
// down in reverse order.
type Application struct {
	Config *Config
	Logger logging.Logger

	Store      pipeline.JobStore
	Pipeline   *pipeline.Pipeline
	Supervisor *supervisor.Supervisor
	Server     *server.Server

	httpServer *http.Server
}

// NewApplication builds every component from cfg. Nothing runs until Start
// or Serve.
func NewApplication(cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("apilens")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	var renderer diagram.Renderer
	if cfg.Diagram.RenderCommand != "" {
		renderer = &diagram.CommandRenderer{Command: cfg.Diagram.RenderCommand, Format: cfg.Diagram.Format}
	}

	p, err := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Store:      store,
		Extractor:  extractor.NewInventoryExtractor(cfg.Extractor, logger),
		Parser:     reference.NewFileParser(),
		Comparator: conformance.NewComparator(cfg.Comparator),
		Diagrams:   &diagram.MermaidGenerator{},
		Renderer:   renderer,
		Logger:     logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("new pipeline: %w", err)
	}

	srv, err := server.NewServer(cfg.Server, p, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("new server: %w", err)
	}

	return &Application{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Pipeline:   p,
		Supervisor: supervisor.New(cfg.Retention, p, logger),
		Server:     srv,
	}, nil
}

func openStore(cfg *Config, logger logging.Logger) (pipeline.JobStore, error) {
	if cfg.Store.Backend != BackendSQLite {
		return pipeline.NewMemoryStore(), nil
	}
	path, err := cfg.StorePath()
	if err != nil {
		return nil, fmt.Errorf("store path: %w", err)
	}
	if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
		logger.Warn("creating storage root directory", logging.Field{Key: "path", Value: cfg.StorageRoot}, logging.Field{Key: "error", Value: err.Error()})
	}
	store, err := pipeline.OpenSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	n, err := store.RecoverInterrupted(context.Background(), time.Now().UTC())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if n > 0 {
		logger.Warn("jobs interrupted by restart marked failed", logging.Field{Key: "count", Value: n})
	}
	return store, nil
}

// Start begins background supervision.
func (a *Application) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application starting",
		logging.Field{Key: "store", Value: a.Config.Store.Backend},
		logging.Field{Key: "listen_addr", Value: a.Config.Server.ListenAddr})
	return a.Supervisor.Start(ctx)
}

// Serve starts the application and serves HTTP on ln until ctx ends, then
// shuts down. A nil ln listens on the configured address.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.Config.Server.ListenAddr); err != nil {
			_ = a.Shutdown(context.Background())
			return fmt.Errorf("listen: %w", err)
		}
	}
	a.httpServer = a.Server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", logging.Field{Key: "addr", Value: ln.Addr().String()})
		errCh <- a.httpServer.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}
	if err := a.Shutdown(context.Background()); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown stops the HTTP server and the supervisor, waits for in-flight
// jobs, and closes the store.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	a.Supervisor.Stop()
	if err := a.Pipeline.Close(shutdownCtx); err != nil {
		a.Logger.Warn("pipeline shutdown returned error", logging.Field{Key: "error", Value: err.Error()})
		errs = append(errs, fmt.Errorf("pipeline shutdown: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// Analyze runs one batch in-process and waits for its terminal state.
func (a *Application) Analyze(ctx context.Context, projects, references []string) (pipeline.Outcome, error) {
	id, err := a.Pipeline.Submit(ctx, projects, references)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	events, cancel, err := a.Pipeline.Subscribe(ctx, id)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return pipeline.Outcome{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return a.Pipeline.Result(ctx, id)
			}
			a.Logger.Debug("analysis progress",
				logging.Field{Key: "analysis_id", Value: id},
				logging.Field{Key: "status", Value: string(ev.Status)})
		}
	}
}
