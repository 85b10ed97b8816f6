package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/domain"
	"mediarelay/internal/infrastructure/browser"
	"mediarelay/internal/infrastructure/catalog"
	"mediarelay/internal/infrastructure/telegram"
	"mediarelay/internal/infrastructure/transcode"
	"mediarelay/internal/ledger"
	"mediarelay/internal/logging"
	"mediarelay/internal/media"
	"mediarelay/internal/pool"
	"mediarelay/internal/ports"
	"mediarelay/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	sessions  *browser.Manager
	orch      *usecase.Orchestrator
	scheduler *usecase.CycleScheduler
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store := media.NewStore(cfg.Media.RootDir)
	gate := media.NewGate(cfg.Pipeline.MinArtifactBytes, cfg.Pipeline.QuietPeriod.D())

	ledg, err := ledger.Open(cfg.Media.RootDir)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	sessions := browser.NewManager(cfg.Browser.ControlURL, cfg.Browser.IsHeadless(),
		baseLogger.With("component", "browser"))
	terminate := func(slot pool.Slot) { sessions.ClosePage(slot.SlotID) }

	acquirePool := pool.New(domain.StageAcquire,
		cfg.Pipeline.MaxConcurrentAcquire, cfg.Pipeline.AcquireTTL.D(), terminate)
	publishPool := pool.New(domain.StagePublish,
		cfg.Pipeline.MaxConcurrentPublish, cfg.Pipeline.PublishTTL.D(), terminate)

	runner, err := transcode.NewRunner("", cfg.Pipeline.TransformTimeout.D(),
		cfg.Pipeline.MinArtifactBytes, baseLogger.With("component", "transcode"))
	if err != nil {
		return nil, fmt.Errorf("transcode runner: %w", err)
	}

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" {
		notifier = telegram.NewNotifier(
			cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	orch := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Discovery: catalog.NewScanner(cfg.Catalog.URL, nil,
			baseLogger.With("component", "catalog")),
		Acquisition: browser.NewDownloader(sessions, store,
			baseLogger.With("component", "downloader")),
		Transform: runner,
		Publish: browser.NewUploader(sessions, cfg.Portal.URL,
			baseLogger.With("component", "uploader")),
		Ledger:      ledg,
		AcquirePool: acquirePool,
		PublishPool: publishPool,
		Gate:        gate,
		Store:       store,
		Notifier:    notifier,
		Logger:      baseLogger.With("component", "orchestrator"),
		Pipeline:    cfg.Pipeline,
	})

	scheduler := usecase.NewCycleScheduler(orch,
		cfg.Pipeline.CycleInterval.D(), cfg.Pipeline.ReclaimInterval.D(),
		baseLogger.With("component", "scheduler"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		sessions:  sessions,
		orch:      orch,
		scheduler: scheduler,
	}, nil
}

// RunOnce performs a single synchronous pipeline pass, then waits for the
// leased sessions to drain (transfers finish in the background and slots
// come back via TTL reclamation) before closing the browser.
func (a *Application) RunOnce(ctx context.Context) error {
	defer a.shutdownSessions()
	report, err := a.orch.RunCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Println(report.Summary())
	a.drainSlots(ctx)
	return nil
}

func (a *Application) drainSlots(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Pipeline.ReclaimInterval.D())
	defer ticker.Stop()
	for {
		status, err := a.orch.Status()
		if err == nil && len(status.AcquireSlots) == 0 && len(status.PublishSlots) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			a.orch.Reclaim(t)
		}
	}
}

// Serve starts the background scheduler and blocks until the context is
// cancelled or an interrupt arrives. The in-flight pass finishes first.
func (a *Application) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.shutdownSessions()

	a.scheduler.Start(ctx)
	<-ctx.Done()
	a.logger.Info("shutting down, letting the in-flight pass finish")
	a.scheduler.Stop()
	return nil
}

// Status prints the ledger/pool status report.
func (a *Application) Status(ctx context.Context) error {
	report, err := a.orch.Status()
	if err != nil {
		return err
	}
	fmt.Print(report.Render())
	return nil
}

func (a *Application) shutdownSessions() {
	if err := a.sessions.Close(); err != nil {
		a.logger.Warn("closing browser sessions", "error", err)
	}
}
