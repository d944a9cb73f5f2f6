package workerapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivankudzin/voxclip-safety/internal/app/apiapp"
	"github.com/ivankudzin/voxclip-safety/internal/config"
	s3infra "github.com/ivankudzin/voxclip-safety/internal/infra/s3"
	"github.com/ivankudzin/voxclip-safety/internal/jobs/archive"
	"github.com/ivankudzin/voxclip-safety/internal/jobs/cleanup"
	"github.com/ivankudzin/voxclip-safety/internal/jobs/escalation"
	pgrepo "github.com/ivankudzin/voxclip-safety/internal/repo/postgres"
	redrepo "github.com/ivankudzin/voxclip-safety/internal/repo/redis"
	auditsvc "github.com/ivankudzin/voxclip-safety/internal/services/audit"
	modsvc "github.com/ivankudzin/voxclip-safety/internal/services/moderation"
)

const lockKeyPrefix = "voxclip:worker:"

type job interface {
	Run(ctx context.Context) error
}

type loop struct {
	name     string
	interval time.Duration
	job      job
	lock     *redrepo.LeaderLock
}

// App runs the periodic jobs. With Redis available each run is guarded by a lock
// so that only one worker replica executes a given job at a time.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	postgres *pgxpool.Pool
	redis    *goredis.Client
	loops    []loop
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres for worker app: %w", err)
	}
	if err := pgrepo.Ping(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres for worker app: %w", err)
	}

	var redisClient *goredis.Client
	if c, err := redrepo.NewClient(ctx, redrepo.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}); err != nil {
		logger.Warn("redis init failed, jobs run without leader lock", zap.Error(err))
	} else {
		redisClient = c
	}

	auditRepo := pgrepo.NewAuditRepo(pool)
	recorder := auditsvc.NewRecorder(pgrepo.NewHistoryRepo(pool), auditRepo, logger)
	moderationService := modsvc.NewService(pgrepo.NewModerationRepo(pool), recorder, nil, apiapp.ModerationConfig(cfg.Moderation), logger)

	app := &App{
		cfg:      cfg,
		logger:   logger,
		postgres: pool,
		redis:    redisClient,
	}
	app.add("escalation", cfg.Moderation.Escalation.Interval, escalation.New(moderationService, logger))
	app.add("cleanup", cfg.Worker.CleanupInterval, cleanup.New(
		pgrepo.NewActivityRepo(pool),
		pgrepo.NewRateRepo(pool),
		cfg.Worker.ActivityRetention,
		cfg.Worker.CounterRetention,
		logger,
	))

	if cfg.Worker.Archive.Enabled {
		bucket, err := newArchiveBucket(ctx, cfg)
		if err != nil {
			logger.Warn("audit archive disabled", zap.Error(err))
		} else {
			app.add("archive", cfg.Worker.Archive.Interval, archive.New(auditRepo, bucket, logger))
		}
	}

	return app, nil
}

func newArchiveBucket(ctx context.Context, cfg config.Config) (*s3infra.Bucket, error) {
	client, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	name := cfg.Worker.Archive.Bucket
	if name == "" {
		name = cfg.S3.Bucket
	}
	bucket := s3infra.NewBucket(client, name)
	if err := bucket.Ensure(ctx); err != nil {
		return nil, err
	}
	return bucket, nil
}

func (a *App) add(name string, interval time.Duration, j job) {
	l := loop{name: name, interval: interval, job: j}
	if a.redis != nil {
		l.lock = redrepo.NewLeaderLock(a.redis, lockKeyPrefix+name, a.cfg.Worker.LockTTL, a.logger)
	}
	a.loops = append(a.loops, l)
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("worker app started", zap.Int("jobs", len(a.loops)))

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range a.loops {
		l := l
		g.Go(func() error {
			return runLoop(ctx, l, a.logger)
		})
	}

	err := g.Wait()
	a.logger.Info("worker app stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runLoop runs the job once at start and then on every tick until ctx is done.
// A failed run is logged and retried on the next tick.
func runLoop(ctx context.Context, l loop, logger *zap.Logger) error {
	interval := l.interval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runOnce(ctx, l, logger)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, l loop, logger *zap.Logger) {
	var err error
	if l.lock != nil {
		var ran bool
		ran, err = l.lock.TryRun(ctx, l.job.Run)
		if err == nil && !ran {
			logger.Debug("job skipped, lock held elsewhere", zap.String("job", l.name))
		}
	} else {
		err = l.job.Run(ctx)
	}

	if err != nil && ctx.Err() == nil {
		logger.Warn("job run failed", zap.String("job", l.name), zap.Error(err))
	}
}

func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
