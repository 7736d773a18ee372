// Package runtime assembles the daemon: telemetry, message bus, transcript
// store, and the recognition service, plus the HTTP health surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribekit/scribed/internal/bus"
	"github.com/scribekit/scribed/internal/config"
	"github.com/scribekit/scribed/internal/engine"
	"github.com/scribekit/scribed/internal/extract"
	"github.com/scribekit/scribed/internal/natsserver"
	"github.com/scribekit/scribed/internal/recognizer"
	"github.com/scribekit/scribed/internal/remote"
	"github.com/scribekit/scribed/internal/transcriptstore"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	recognition *recognizer.Service
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

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := transcriptstore.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	extractor, err := extract.New(r.cfg.Extract, r.logger)
	if err != nil {
		return fmt.Errorf("configure audio extractor: %w", err)
	}

	settings := recognizer.Settings{
		ModelPath:     r.cfg.Engine.ModelPath,
		ModelSizeHint: r.cfg.Engine.ModelSizeHint,
		Language:      r.cfg.Engine.Language,
		PreferRemote:  r.cfg.Recognition.PreferRemote,
		Endpoint:      r.cfg.Remote.Endpoint,
	}
	newEngine := func(modelPath string) (engine.Engine, error) {
		engCfg := r.cfg.Engine
		engCfg.ModelPath = modelPath
		return engine.Load(modelPath, engCfg, r.logger)
	}
	newRemote := func(endpoint string) recognizer.RemoteBackend {
		remCfg := r.cfg.Remote
		remCfg.Endpoint = endpoint
		return remote.NewClient(remCfg, r.logger)
	}

	svc, err := recognizer.NewService(settings, extractor, newEngine, newRemote, busClient, store, r.logger)
	if err != nil {
		return fmt.Errorf("build recognition service: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start recognition service: %w", err)
	}
	defer svc.Close()
	r.recognition = svc

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	svc.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.recognition != nil && r.recognition.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
