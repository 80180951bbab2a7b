package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tone/internal/api"
	"github.com/loqalabs/loqa-tone/internal/bus"
	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/natsserver"
	"github.com/loqalabs/loqa-tone/internal/playback"
	"github.com/loqalabs/loqa-tone/internal/render"
	"github.com/loqalabs/loqa-tone/internal/renderstore"
	"github.com/loqalabs/loqa-tone/internal/tone"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *renderstore.Store
	session  *playback.Session
	tone     *tone.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	renderer, err := render.New(r.cfg.Render, r.cfg.Presets, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	r.store, err = renderstore.Open(ctx, r.cfg.RenderStore, r.logger.With(slog.String("component", "render-store")))
	if err != nil {
		return fmt.Errorf("failed to open render store: %w", err)
	}

	device, err := playback.Open(r.cfg.Playback, r.logger.With(slog.String("component", "playback")))
	switch {
	case errors.Is(err, playback.ErrDisabled):
	case err != nil:
		return fmt.Errorf("failed to open playback device: %w", err)
	default:
		r.session = playback.NewSession(device, r.cfg.Playback.MaxSeconds, r.logger.With(slog.String("component", "playback")))
	}

	if r.cfg.Tone.Enabled {
		if err := r.startBus(ctx); err != nil {
			return err
		}
		r.tone = tone.NewService(ctx, r.cfg.Tone, r.cfg.Render.OutputDir, r.bus, renderer, r.store, r.session, r.logger)
		if err := r.tone.Start(); err != nil {
			return fmt.Errorf("failed to start tone service: %w", err)
		}
	}

	opts := api.Options{
		Renderer:    renderer,
		Catalog:     r.store,
		Metrics:     metricHandler,
		Ready:       r.isReady,
		CORSOrigins: r.cfg.HTTP.CORSOrigins,
		Logger:      r.logger,
	}
	if archive := r.archive(); archive != nil {
		opts.Archive = archive
	}
	if r.session != nil {
		opts.Player = r.session
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http server failed")

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metricsServer, "metrics server failed")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Bool("bus", r.bus != nil),
		slog.Bool("playback", r.session != nil),
		slog.Bool("catalog", r.store.Persistent()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	var err error
	r.embedded, err = natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.bus, err = bus.Connect(ctx, r.cfg.Bus, r.embedded.ClientURL(), r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, failure string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error(failure, slog.String("addr", srv.Addr), slog.String("error", err.Error()))
		}
	}()
}

// shutdown releases whatever Start managed to bring up, newest first.
func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tone != nil {
		r.tone.Close()
	}
	if r.session != nil {
		if err := r.session.Close(); err != nil {
			r.logger.Error("playback shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.embedded.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("render store close error", slog.String("error", err.Error()))
		}
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

// archive is the tone service when it can keep what it writes.
func (r *Runtime) archive() *tone.Service {
	if r.tone == nil || r.store == nil || !r.store.Persistent() {
		return nil
	}
	return r.tone
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	return r.tone == nil || r.tone.Healthy()
}
