package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/config"
	tginfra "github.com/ivankudzin/voxclip-safety/internal/infra/telegram"
	pgrepo "github.com/ivankudzin/voxclip-safety/internal/repo/postgres"
	redrepo "github.com/ivankudzin/voxclip-safety/internal/repo/redis"
	"github.com/ivankudzin/voxclip-safety/internal/services/activity"
	auditsvc "github.com/ivankudzin/voxclip-safety/internal/services/audit"
	authsvc "github.com/ivankudzin/voxclip-safety/internal/services/auth"
	"github.com/ivankudzin/voxclip-safety/internal/services/farming"
	"github.com/ivankudzin/voxclip-safety/internal/services/gate"
	"github.com/ivankudzin/voxclip-safety/internal/services/ipreputation"
	modsvc "github.com/ivankudzin/voxclip-safety/internal/services/moderation"
	"github.com/ivankudzin/voxclip-safety/internal/services/ratelimit"
	"github.com/ivankudzin/voxclip-safety/internal/transport/http/handlers"
)

const startupPingTimeout = 3 * time.Second

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler
}

// New wires the API. Postgres and Redis are optional at start: without them the
// affected checks fail open or closed per configuration and /healthz reports degraded.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log, cfg.HTTP.RequestTimeout)

	var (
		pool          *pgxpool.Pool
		postgresReady bool
	)
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		if err := pgrepo.Ping(pingCtx, pool); err != nil {
			log.Warn("postgres is unreachable, continuing in degraded mode", zap.Error(err))
		} else {
			postgresReady = true
		}
		cancel()
	}

	var redisClient *goredis.Client
	if c, err := redrepo.NewClient(ctx, redrepo.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}); err != nil {
		log.Warn("redis init failed, continuing in degraded mode", zap.Error(err))
	} else {
		redisClient = c
	}

	blacklistRepo := pgrepo.NewBlacklistRepo(pool)
	activityRepo := pgrepo.NewActivityRepo(pool)
	reputationRepo := pgrepo.NewReputationRepo(pool)
	moderationRepo := pgrepo.NewModerationRepo(pool)
	historyRepo := pgrepo.NewHistoryRepo(pool)
	auditRepo := pgrepo.NewAuditRepo(pool)

	var (
		rateStore    ratelimit.CounterStore = pgrepo.NewRateRepo(pool)
		counters     activity.CounterObserver
		dashboard    gate.Dashboard
		dashboardRdr handlers.SafetyDashboardReader
		source       ipreputation.AggregateSource = activityRepo
	)
	if redisClient != nil {
		rateStore = redrepo.NewRateRepo(redisClient)
		dashboardRepo := redrepo.NewDashboardRepo(redisClient)
		dashboard = dashboardRepo
		dashboardRdr = dashboardRepo
		if cfg.Safety.Detector == config.DetectorCounter {
			counterRepo := redrepo.NewActivityCounterRepo(redisClient, nil)
			counters = counterRepo
			source = counterRepo
		}
	}

	bands := ipreputation.PatternBands{
		HighVolume:    cfg.Safety.Patterns.HighVolume,
		AccountFarm:   cfg.Safety.Patterns.AccountFarm,
		SybilActivity: cfg.Safety.Patterns.SybilActivity,
	}
	detector := ipreputation.NewLedgerDetector(source, bands, cfg.Safety.AccountCreationAction)
	if counters != nil {
		detector = ipreputation.NewCounterDetector(source, bands, cfg.Safety.AccountCreationAction)
	} else if cfg.Safety.Detector == config.DetectorCounter {
		log.Warn("counter detector needs redis, falling back to ledger detector")
	}

	recorder := auditsvc.NewRecorder(historyRepo, auditRepo, log)
	limiter := ratelimit.NewLimiter(rateStore, ratelimit.Config{
		StoreTimeout: cfg.Safety.StoreTimeout,
		FailOpen:     cfg.Safety.FailOpen,
	}, log)
	reputationService := ipreputation.NewService(blacklistRepo, detector, recorder, ipreputation.Config{
		StoreTimeout: cfg.Safety.StoreTimeout,
		FailOpen:     cfg.Safety.FailOpen,
	}, log)
	farmingGuard := farming.NewGuard(reputationRepo, farming.Config{
		Threshold:    cfg.Safety.Farming.Threshold,
		StoreTimeout: cfg.Safety.StoreTimeout,
		FailOpen:     cfg.Safety.FailOpen,
	}, log)
	ledger := activity.NewLedger(activityRepo, counters, cfg.Safety.StoreTimeout, log)
	policies := PolicyFunc(cfg.Safety)
	gateService := gate.NewService(reputationService, limiter, ledger, farmingGuard, dashboard, policies, log)

	moderationService := modsvc.NewService(moderationRepo, recorder, newAssignmentNotifier(cfg.Notify, log), ModerationConfig(cfg.Moderation), log)

	adminHandler := handlers.NewAdminHandler(reputationService, recorder, log)
	if dashboardRdr != nil {
		adminHandler.AttachSafetyDashboard(dashboardRdr)
	}

	RegisterRoutes(r, Dependencies{
		Safety: handlers.SafetyDependencies{
			Gate:       gateService,
			Limiter:    limiter,
			Reputation: reputationService,
			Farming:    farmingGuard,
			Ledger:     ledger,
			Policies:   policies,
			Logger:     log,
		},
		Moderation: handlers.NewModerationHandler(moderationService, log),
		Admin:      adminHandler,
		Health:     handlers.NewHealthHandler(postgresReady, redisClient != nil),
		JWT:        authsvc.NewJWTManager(cfg.Admin.JWTSecret, 0),
		Logger:     log,
		Config:     cfg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		httpRouter: r,
	}, nil
}

// PolicyFunc resolves per-action limits from configuration.
func PolicyFunc(cfg config.SafetyConfig) gate.PolicyFunc {
	return func(actionType string) gate.Policy {
		p := cfg.Policy(actionType)
		return gate.Policy{
			IPMax:                  p.IPMax,
			IPWindowMinutes:        p.IPWindowMinutes,
			SubjectMax:             p.SubjectMax,
			SubjectWindowMinutes:   p.SubjectWindowMinutes,
			PatternWindowMinutes:   p.PatternWindowMinutes,
			FarmingCooldownMinutes: p.FarmingCooldownMinutes,
		}
	}
}

func ModerationConfig(cfg config.ModerationConfig) modsvc.Config {
	return modsvc.Config{
		RiskBands:       cfg.RiskBands,
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
		Escalation: modsvc.EscalationConfig{
			AgeThreshold: cfg.Escalation.AgeThreshold,
			MaxLevel:     cfg.Escalation.MaxLevel,
			PriorityStep: cfg.Escalation.PriorityStep,
			RiskStep:     cfg.Escalation.RiskStep,
			BatchSize:    cfg.Escalation.BatchSize,
		},
	}
}

func newAssignmentNotifier(cfg config.NotifyConfig, log *zap.Logger) modsvc.AssignmentNotifier {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		log.Info("telegram token is empty, assignment notifications disabled")
		return nil
	}
	bot, err := tginfra.NewBot(cfg.TelegramToken)
	if err != nil {
		log.Warn("telegram init failed, assignment notifications disabled", zap.Error(err))
		return nil
	}
	return tginfra.NewAssignmentNotifier(bot, cfg.AdminChats, log)
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
