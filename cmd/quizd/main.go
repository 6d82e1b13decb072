// Package main - точка входа движка викторин (quizd).
//
// Процесс загружает банки вопросов, держит реестр активных сессий с таймерами,
// периодически обходит просроченные дедлайны и передаёт результаты в
// хранилище прогресса. Транспорт (бот) подключается к движку через шину
// событий и Redis relay; HTTP-сервер отдаёт пробы, метрики и read-only API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/quiz-engine/config"
	"github.com/alem-hub/quiz-engine/internal/application/command"
	"github.com/alem-hub/quiz-engine/internal/application/eventhandler"
	"github.com/alem-hub/quiz-engine/internal/application/query"
	"github.com/alem-hub/quiz-engine/internal/application/session"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/quiz-engine/internal/infrastructure/scheduler"
	httpapi "github.com/alem-hub/quiz-engine/internal/interface/http"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	checkOnly := flag.Bool("check-banks", false, "load the banks directory, print per-file reports and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if *checkOnly {
		err = checkBanks()
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)
	log.Info("starting quiz engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("storage", cfg.App.Storage),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩА
	// ─────────────────────────────────────────────────────────────────────────
	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ШИНА СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.AsyncMode = cfg.Events.AsyncHandlers
	busCfg.WorkerPoolSize = cfg.Events.BufferSize
	busCfg.Logger = log.Slog()
	bus := messaging.NewInMemoryEventBus(busCfg)

	var (
		publisher  shared.EventPublisher  = bus
		subscriber shared.EventSubscriber = bus
		relay      *messaging.RedisRelay
	)
	if cfg.Events.RelayEnabled {
		relay, err = messaging.NewRedisRelay(messaging.RedisRelayConfig{
			Client:  st.cache.Client(),
			Channel: cfg.Events.RelayChannel,
			Local:   bus,
			Logger:  log.Slog(),
		})
		if err != nil {
			_ = bus.Close()
			return fmt.Errorf("failed to start event relay: %w", err)
		}
		publisher, subscriber = relay, relay
		log.Info("event relay enabled", logger.String("channel", cfg.Events.RelayChannel))
	}

	activity := eventhandler.NewQuizActivityHandler(log.Slog())
	if err := activity.Register(subscriber); err != nil {
		return fmt.Errorf("failed to subscribe activity handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. БАНКИ ВОПРОСОВ
	// ─────────────────────────────────────────────────────────────────────────
	banks := session.NewRegistry(log)
	reports, err := banks.LoadDir(cfg.Quiz.BanksDir, csvOptions(cfg.Quiz))
	logReports(log, reports)
	if err != nil {
		return fmt.Errorf("failed to load question banks: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ДВИЖОК: ПРОГРЕСС И СЕССИИ
	// ─────────────────────────────────────────────────────────────────────────
	tracker := command.NewRecordCompletionHandler(st.progress, publisher, log,
		command.RecordCompletionHandlerConfig{PassThreshold: cfg.Quiz.PassThreshold})

	manager := session.NewManager(sessionConfig(cfg.Quiz), session.Dependencies{
		Banks:    banks,
		Archive:  st.archive,
		Attempts: st.attempts,
		Progress: tracker,
		Events:   publisher,
		Clock:    session.SystemClock{},
		Logger:   log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{Logger: log.Slog()})
	sched.OnJobError(func(name string, err error) {
		log.Error("scheduled job failed", logger.String("job", name), logger.Err(err))
	})
	if err := registerJobs(sched, cfg, manager, banks, log); err != nil {
		return err
	}
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP
	// ─────────────────────────────────────────────────────────────────────────
	var (
		server   *httpapi.Server
		serveErr <-chan error
	)
	if cfg.HTTP.Enabled {
		metrics := map[string]httpapi.MetricsSource{
			"event_bus": func() any { return bus.Metrics().Snapshot() },
			"activity":  func() any { return activity.Snapshot() },
			"storage":   st.Stats,
		}
		if relay != nil {
			metrics["relay"] = func() any { return relay.BreakerStats() }
		}
		server = httpapi.NewServer(httpConfig(cfg.HTTP), httpapi.Dependencies{
			GetProgressHandler:    query.NewGetProgressHandler(st.progress),
			GetQuizSummaryHandler: query.NewGetQuizSummaryHandler(st.progress),
			Banks:                 banks,
			Sessions:              session.NewSnapshots(manager, st.snapshots...),
			Jobs:                  sched,
			Metrics:               metrics,
			HealthChecker:         healthChecker(cfg, st, banks),
			Logger:                log,
			Version:               cfg.App.Version,
		})
		serveErr = server.StartAsync()
	}

	log.Info("quiz engine is running",
		logger.Int("banks", len(banks.List())),
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
		logger.Bool("http", cfg.HTTP.Enabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serveErr:
		runErr = err
		log.Error("http server stopped", logger.Err(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown failed", logger.Err(err))
		}
	}
	if sched.IsRunning() {
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	}

	// Последний обход: всё, что просрочено к этому моменту, будет передано в
	// хранилище до закрытия соединений.
	if report, err := manager.Tick(shutdownCtx, time.Now()); err != nil {
		log.Warn("final sweep failed", logger.Err(err))
	} else if report != (session.TickReport{}) {
		log.Info("final sweep", logger.Any("report", report))
	}
	manager.Shutdown()

	if err := bus.Drain(shutdownCtx); err != nil {
		log.Warn("event handlers did not drain", logger.Err(err))
	}
	if relay != nil {
		_ = relay.Close()
	}
	_ = bus.Close()

	log.Info("shutdown completed", logger.Int("sessions_left", manager.ActiveCount()))
	return runErr
}

// checkBanks loads the banks directory without starting the engine.
func checkBanks() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)
	reports, err := session.NewRegistry(log).LoadDir(cfg.Quiz.BanksDir, csvOptions(cfg.Quiz))
	logReports(log, reports)
	return err
}
