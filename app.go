package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"driver_intake/internal/config"
	"driver_intake/internal/conversation"
	"driver_intake/internal/extract"
	"driver_intake/internal/intake"
	"driver_intake/internal/milestone"
	"driver_intake/internal/registration"
	"driver_intake/internal/report"
	"driver_intake/internal/sheets"
)

// app wires the intake components for one process.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	loc       *time.Location
	redis     *redis.Client
	workbook  *sheets.Workbook
	tracker   *milestone.Tracker
	rules     *RuleCache
	processor *intake.Processor
	reports   *report.Generator
}

func newApp(ctx context.Context, cfg *config.Config, configPath string, logger *zap.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, loc: loc}

	if cfg.UsesRedis() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis %s: %w: %w", cfg.Redis.Addr, registration.ErrStorage, err)
		}
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var counter milestone.CounterStore
	switch cfg.Counter.Backend {
	case config.BackendRedis:
		counter = milestone.NewRedisStore(a.redis, cfg.Counter.Key)
	default:
		counter = milestone.NewFileStore(cfg.Counter.Path, cfg.Counter.Strict, logger)
	}
	a.tracker = milestone.NewTracker(counter, cfg.MilestoneTable(), logger)

	var store conversation.Store
	switch cfg.State.Backend {
	case config.BackendRedis:
		store = conversation.NewRedis(a.redis, cfg.Redis.Prefix)
	default:
		store = conversation.NewMemory()
	}

	a.workbook = sheets.NewWorkbook(cfg.Workbook.Path, loc, logger)
	a.rules = NewRuleCache(cfg, configPath, a.tracker, logger)
	a.processor = intake.NewProcessor(
		extract.New(a.rules),
		store,
		intake.NewRouter(cfg.Policy(), loc),
		a.workbook,
		a.tracker,
		logger,
	)
	a.reports = report.NewGenerator(a.workbook, cfg.Report.Dir, loc, logger)

	logger.Info("Driver intake ready",
		zap.String("workbook", cfg.Workbook.Path),
		zap.String("state_backend", cfg.State.Backend),
		zap.String("counter_backend", cfg.Counter.Backend),
		zap.String("unknown_policy", string(cfg.Policy())),
	)
	return a, nil
}

// now returns the current time in the configured zone.
func (a *app) now() time.Time {
	return time.Now().In(a.loc)
}

// progress reads the counter and the distance to the next milestone.
func (a *app) progress(ctx context.Context) (milestone.Progress, error) {
	count, err := a.tracker.Count(ctx)
	if err != nil {
		return milestone.Progress{}, err
	}
	return a.tracker.Next(count), nil
}

func (a *app) Close() {
	a.rules.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
}
