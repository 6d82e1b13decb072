package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alem-hub/quiz-engine/config"
	"github.com/alem-hub/quiz-engine/internal/application/session"
	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/quiz-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/quiz-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/quiz-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/quiz-engine/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/alem-hub/quiz-engine/internal/interface/http"
	"github.com/alem-hub/quiz-engine/internal/interface/http/handlers"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// Прогресс хранится в бэкенде из QUIZ_STORAGE. Архив сессий пишется в
// PostgreSQL, если задан DATABASE_URL, иначе в память; при наличии Redis
// снимки дополнительно кэшируются с TTL.
// ══════════════════════════════════════════════════════════════════════════════

type storage struct {
	db    *postgres.Connection
	cache *redis.Cache

	progress  progress.Store
	archive   session.Archive
	tee       *session.TeeArchive
	attempts  session.AttemptCounter
	snapshots []session.SnapshotSource

	log *logger.Logger
}

func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	st := &storage{log: log}

	if cfg.Database.URL != "" {
		log.Info("connecting to database...")
		conn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		st.db = conn
		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date")
		}
	}

	if cfg.Redis.Addr != "" {
		log.Info("connecting to Redis...", logger.String("addr", cfg.Redis.Addr))
		cache, err := redis.NewCache(ctx, redisConfig(cfg.Redis))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		st.cache = cache
	}

	switch cfg.App.Storage {
	case config.StoragePostgres:
		if st.db == nil {
			st.Close()
			return nil, errors.New("postgres storage requires DATABASE_URL")
		}
		st.progress = postgres.NewProgressStore(st.db)
	case config.StorageRedis:
		if st.cache == nil {
			st.Close()
			return nil, errors.New("redis storage requires REDIS_ADDR")
		}
		st.progress = redis.NewProgressStore(st.cache)
	default:
		st.progress = memory.NewProgressStore()
	}

	var primary session.Archive
	if st.db != nil {
		a := postgres.NewSessionArchive(st.db)
		primary, st.attempts = a, a
		st.snapshots = append(st.snapshots, a)
	} else {
		a := memory.NewSessionArchive()
		primary, st.attempts = a, a
		st.snapshots = append(st.snapshots, a)
	}

	if st.cache != nil && cfg.Redis.SnapshotTTL > 0 {
		sc := redis.NewSessionCache(st.cache, cfg.Redis.SnapshotTTL)
		st.tee = session.NewTeeArchive(primary, log, sc)
		st.archive = st.tee
		// Кэш проверяется раньше базы.
		st.snapshots = append([]session.SnapshotSource{sc}, st.snapshots...)
	} else {
		st.archive = primary
	}
	return st, nil
}

// Stats feeds the storage block of /metrics.
func (st *storage) Stats() any {
	out := map[string]any{"progress": fmt.Sprintf("%T", st.progress)}
	if st.db != nil {
		out["postgres"] = st.db.Stats()
	}
	if st.tee != nil {
		out["replicas"] = st.tee.ReplicaStats()
	}
	if st.cache != nil {
		s := st.cache.Client().PoolStats()
		out["redis"] = map[string]any{
			"hits":        s.Hits,
			"misses":      s.Misses,
			"timeouts":    s.Timeouts,
			"total_conns": s.TotalConns,
			"idle_conns":  s.IdleConns,
		}
	}
	return out
}

func (st *storage) Close() {
	if st.cache != nil {
		if err := st.cache.Close(); err != nil {
			st.log.Warn("redis close failed", logger.Err(err))
		}
	}
	if st.db != nil {
		st.log.Info("closing database connection...")
		st.db.Close()
	}
}

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = c.URL
	pc.MaxConns = int32(c.MaxConns)
	pc.MinConns = int32(c.MinConns)
	pc.MaxConnLifetime = c.ConnMaxLifetime
	pc.MaxConnIdleTime = c.ConnMaxIdleTime
	pc.ConnectTimeout = c.ConnectTimeout
	return pc
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = c.Addr
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	if c.KeyPrefix != "" {
		rc.KeyPrefix = c.KeyPrefix
	}
	return rc
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

func csvOptions(q config.QuizConfig) quiz.CSVOptions {
	return quiz.CSVOptions{
		LoadOptions: quiz.LoadOptions{DetectTrueFalse: q.DetectTrueFalse},
		Delimiter:   q.Delimiter(),
	}
}

func sessionConfig(q config.QuizConfig) session.Config {
	return session.Config{
		QuestionTimeout:  q.QuestionTimeout,
		IdleTimeout:      q.IdleTimeout,
		AttemptTimeLimit: q.AttemptTimeLimit,
		MaxAttempts:      q.MaxAttempts,
		CountAbandoned:   q.CountAbandoned,
		Weights: quiz.WeightTable{
			quiz.DifficultyEasy:   q.WeightEasy,
			quiz.DifficultyMedium: q.WeightMedium,
			quiz.DifficultyHard:   q.WeightHard,
		},
		FinishedRetention:  q.FinishedRetention,
		HandoffConcurrency: q.HandoffConcurrency,
	}
}

func httpConfig(h config.HTTPConfig) httpapi.Config {
	hc := httpapi.DefaultConfig()
	if h.Host != "" {
		hc.Host = h.Host
	}
	hc.Port = h.Port
	hc.ReadTimeout = h.ReadTimeout
	hc.WriteTimeout = h.WriteTimeout
	return hc
}

func registerJobs(s *scheduler.Scheduler, cfg *config.Config, m *session.Manager, banks *session.Registry, log *logger.Logger) error {
	sweep := jobs.NewSweepSessionsJob(m, time.Now, log.Slog(), jobs.SweepSessionsConfig{Timeout: cfg.Scheduler.SweepTimeout})
	if err := s.Register(sweep, scheduler.Every(cfg.Scheduler.SweepInterval)); err != nil {
		return fmt.Errorf("register %s: %w", sweep.Name(), err)
	}

	if cfg.Scheduler.BankReloadInterval > 0 {
		reload := jobs.NewReloadBanksJob(banks, cfg.Quiz.BanksDir, csvOptions(cfg.Quiz), log.Slog())
		if err := s.Register(reload, scheduler.Every(cfg.Scheduler.BankReloadInterval)); err != nil {
			return fmt.Errorf("register %s: %w", reload.Name(), err)
		}
	}
	return nil
}

func healthChecker(cfg *config.Config, st *storage, banks *session.Registry) *handlers.CompositeHealthChecker {
	hc := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if st.db != nil {
		hc.AddCheck("postgres", handlers.NewPingCheck(st.db))
	}
	if st.cache != nil {
		hc.AddCheck("redis", handlers.NewPingCheck(st.cache))
	}
	hc.AddCheck("banks", func(context.Context) error {
		if len(banks.List()) == 0 {
			return errors.New("no question banks loaded")
		}
		return nil
	})
	return hc
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.Observability.LogSource,
	}).With(logger.String("service", cfg.App.Name))
}

// logReports summarizes a LoadDir run; per-file details are logged by the
// registry itself.
func logReports(log *logger.Logger, reports []session.FileReport) {
	var loaded, failed, rows int
	for _, r := range reports {
		if r.Loaded {
			loaded++
		} else {
			failed++
		}
		rows += len(r.Rejected)
	}
	log.Info("question banks scanned",
		logger.Int("loaded", loaded),
		logger.Int("failed", failed),
		logger.Int("rows_rejected", rows),
	)
}
