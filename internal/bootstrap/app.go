package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"applypilot-backend/internal/activity"
	"applypilot-backend/internal/credentials"
	"applypilot-backend/internal/orchestrator"
	"applypilot-backend/internal/queue"
	"applypilot-backend/internal/quota"
	"applypilot-backend/internal/session"
	"applypilot-backend/internal/shared/config"
	"applypilot-backend/internal/shared/server"
	"applypilot-backend/internal/shared/storage/db"
	"applypilot-backend/internal/shared/storage/object"
	localstore "applypilot-backend/internal/shared/storage/object/local"
	s3store "applypilot-backend/internal/shared/storage/object/s3"
	"applypilot-backend/internal/status"
	"applypilot-backend/internal/users"
	"applypilot-backend/internal/worker"
)

// App holds the wired dependency graph for the API process.
type App struct {
	Config       config.Config
	Router       *gin.Engine
	Clock        clockwork.Clock
	DB           *sql.DB
	Objects      object.ObjectStore
	Users        *users.Service
	Credentials  *credentials.Service
	Quota        *quota.Service
	Activity     *activity.Service
	Registry     *session.Registry
	Orchestrator *orchestrator.Orchestrator
	Monitor      *orchestrator.Monitor
	Scheduler    *orchestrator.Scheduler
	Dispatcher   queue.Dispatcher

	inproc *worker.InProcessDispatcher
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	ctx := context.Background()
	clock := clockwork.NewRealClock()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objects, err := buildObjects(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		userRepo      users.Repo
		credRepo      credentials.Repo
		sessionStore  session.Store
		activityStore activity.Store
	)
	if sqlDB != nil {
		userRepo = &users.PGRepo{DB: sqlDB}
		credRepo = &credentials.PGRepo{DB: sqlDB}
		sessionStore = session.NewPGStore(sqlDB)
		activityStore = activity.NewPGStore(sqlDB, cfg.ActivityRetention)
	} else {
		userRepo = users.NewMemoryRepo()
		credRepo = credentials.NewMemoryRepo()
		sessionStore = session.NewMemoryStore()
		activityStore = activity.NewMemoryStore(cfg.ActivityRetention)
	}

	usersSvc := users.NewService(userRepo)
	credSvc := credentials.NewService(credRepo)
	activitySvc := &activity.Service{Store: activityStore, Objects: objects}

	quotaSvc, err := buildQuota(cfg, sqlDB, usersSvc)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(sessionStore)
	if err := registry.Load(ctx); err != nil {
		return nil, fmt.Errorf("reload sessions: %w", err)
	}

	orch := orchestrator.New(registry, quotaSvc, credSvc, activitySvc, clock)

	app := &App{
		Config:       cfg,
		Clock:        clock,
		DB:           sqlDB,
		Objects:      objects,
		Users:        usersSvc,
		Credentials:  credSvc,
		Quota:        quotaSvc,
		Activity:     activitySvc,
		Registry:     registry,
		Orchestrator: orch,
	}

	if err := bindDispatcher(ctx, app, cfg, orch, clock); err != nil {
		return nil, err
	}

	app.Monitor = orchestrator.NewMonitor(orch, registry, clock, cfg.HeartbeatTimeout, cfg.HeartbeatSweepInterval)
	app.Scheduler = orchestrator.NewScheduler(orch, registry, quotaSvc, clock, cfg.RestartSweepInterval)

	planFor := usersSvc.PlanFor
	app.Router = server.NewRouter(server.RouterDeps{
		Config:      cfg,
		Users:       users.NewHandler(usersSvc),
		Credentials: credentials.NewHandler(credSvc),
		Quota:       quota.NewHandler(quotaSvc, quota.PlanResolver(planFor)),
		Status:      status.NewHandler(registry, quotaSvc, status.PlanResolver(planFor), clock),
		Activity:    activity.NewHandler(activitySvc, registry),
		Sessions:    orchestrator.NewHandler(orch),
	})

	return app, nil
}

// Shutdown drains in-process workers and closes the database pool.
func (a *App) Shutdown() {
	if a.inproc != nil {
		a.inproc.Shutdown()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory stores")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory stores: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildObjects(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// buildQuota picks the quota backend. The defaults closure re-resolves the
// user's plan and timezone at every window roll, so plan upgrades take
// effect at the next reset without touching stored counters.
func buildQuota(cfg config.Config, sqlDB *sql.DB, usersSvc *users.Service) (*quota.Service, error) {
	fallbackLoc, err := time.LoadLocation(cfg.QuotaResetTimezone)
	if err != nil {
		log.Printf("bootstrap: unknown QUOTA_RESET_TIMEZONE %q; using UTC", cfg.QuotaResetTimezone)
		fallbackLoc = time.UTC
	}
	defaults := quota.Defaults(func(ctx context.Context, userID string, now time.Time) (int, time.Time) {
		limit := users.DailyLimit(usersSvc.PlanFor(ctx, userID))
		loc := usersSvc.Location(ctx, userID, fallbackLoc)
		return limit, quota.NextReset(now, loc)
	})

	storeType := cfg.QuotaStoreType
	if storeType == "" {
		if sqlDB != nil {
			storeType = "postgres"
		} else {
			storeType = "memory"
		}
	}

	switch storeType {
	case "postgres":
		if sqlDB == nil {
			return nil, fmt.Errorf("QUOTA_STORE=postgres requires DATABASE_URL")
		}
		return quota.NewService(quota.NewPGStore(sqlDB, defaults)), nil
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("QUOTA_STORE=redis: parse REDIS_URL: %w", err)
		}
		return quota.NewService(quota.NewRedisStore(redis.NewClient(opt), defaults)), nil
	default:
		return quota.NewService(quota.NewMemoryStore(defaults)), nil
	}
}

// bindDispatcher wires the worker handoff channel. In-process mode runs
// worker goroutines inside the API; sqs mode enqueues for cmd/worker.
func bindDispatcher(ctx context.Context, app *App, cfg config.Config, orch *orchestrator.Orchestrator, clock clockwork.Clock) error {
	switch cfg.WorkerMode {
	case "sqs":
		d, err := queue.NewSQSDispatcher(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			return fmt.Errorf("sqs dispatcher: %w", err)
		}
		orch.SetDispatcher(d, nil)
		app.Dispatcher = d
	default:
		inproc := worker.NewInProcessDispatcher(worker.SimEngine{StepDelay: 2 * time.Second}, clock, 0)
		inproc.Bind(orch)
		orch.SetDispatcher(inproc, inproc)
		app.Dispatcher = inproc
		app.inproc = inproc
	}
	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
