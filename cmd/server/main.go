// Package main is the entry point for the Aula Insights service.
//
// One binary runs the whole pipeline:
//   - the dashboard API with its live-query stream
//   - the subscription cache that dedupes live queries against PostgreSQL
//   - the scheduled review sweeps that turn grades and attendance into
//     guardian notifications
//
// The HTTP server and the scheduler can each be switched off by
// configuration, so the same binary serves as an API node or a worker node.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aula-hub/aula-insights/config"
	"github.com/aula-hub/aula-insights/internal/application/alerting"
	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/notification"
	"github.com/aula-hub/aula-insights/internal/infrastructure/channels"
	"github.com/aula-hub/aula-insights/internal/infrastructure/persistence/postgres"
	redisdb "github.com/aula-hub/aula-insights/internal/infrastructure/persistence/redis"
	"github.com/aula-hub/aula-insights/internal/infrastructure/scheduler"
	"github.com/aula-hub/aula-insights/internal/infrastructure/scheduler/jobs"
	"github.com/aula-hub/aula-insights/internal/infrastructure/subscription"
	httpapi "github.com/aula-hub/aula-insights/internal/interface/http"
	"github.com/aula-hub/aula-insights/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Aula Insights",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		log.Info("checking database migrations...")
		if err := postgres.Migrate(ctx, dbConn); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (alert cooldown suppression, optional)
	// ─────────────────────────────────────────────────────────────────────────
	var cooldown notification.CooldownTracker
	var redisCheck handlers.HealthCheckFunc

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisClient, err := redisdb.NewClient(ctx, redisdb.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			// Cooldown suppression degrades gracefully; repeated alerts
			// are annoying, not dangerous.
			log.Warn("failed to connect to Redis, cooldown suppression disabled", "error", err)
		} else {
			defer func() { _ = redisClient.Close() }()
			cooldown = redisdb.NewCooldownTracker(redisClient, cfg.Redis.CooldownTTL)
			redisCheck = handlers.NewRedisCheck(redisClient)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	academicRepo := postgres.NewAcademicRepository(dbConn)
	notificationRepo := postgres.NewNotificationRepository(dbConn)
	contactRepo := postgres.NewContactRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. RULE ENGINE & NOTIFICATION POLICY
	// ─────────────────────────────────────────────────────────────────────────
	thresholds := insight.DefaultThresholds().ApplyOverrides(cfg.Insight.ThresholdOverrides)
	engine := insight.NewEngine(insight.WithThresholds(thresholds))

	policyCfg, err := buildPolicyConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid notification policy: %w", err)
	}
	policy := notification.NewPolicy(policyCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. DELIVERY CHANNELS
	// ─────────────────────────────────────────────────────────────────────────
	emailSender := buildEmailSender(cfg, log)
	smsSender := buildSMSSender(cfg, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. DISPATCHER & SWEEPER
	// ─────────────────────────────────────────────────────────────────────────
	dispatcher := alerting.NewDispatcher(
		policy,
		notificationRepo,
		contactRepo,
		emailSender,
		smsSender,
		cooldown,
		log,
		alerting.DispatcherConfig{
			SendTimeout:      10 * time.Second,
			SweepLimit:       cfg.Scheduler.SweepLimit,
			SweepConcurrency: 4,
		},
	)
	sweeper := alerting.NewSweeper(academicRepo, engine, dispatcher, log, alerting.DefaultSweeperConfig())

	// ─────────────────────────────────────────────────────────────────────────
	// 9. LIVE QUERY CACHE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing live query cache...")
	docStore := postgres.NewDocumentStore(dbConn, log, postgres.DocumentStoreConfig{
		Debounce:     cfg.Cache.Debounce,
		QueryTimeout: cfg.Database.QueryTimeout,
	})

	cacheCfg := subscription.Config{
		Store:         docStore,
		Staleness:     cfg.Cache.Staleness,
		MaxEntries:    cfg.Cache.MaxEntries,
		SweepInterval: cfg.Cache.SweepInterval,
		Logger:        log,
	}
	if !cfg.Features.IsEnabled(config.FeatureCacheWarmReplay, nil) {
		// One-nanosecond staleness: no snapshot is ever fresh enough to replay.
		cacheCfg.Staleness = time.Nanosecond
	}
	if !cfg.Features.IsEnabled(config.FeatureCacheSweeps, nil) {
		cacheCfg.SweepInterval = 0
	}

	liveCache, err := subscription.New(cacheCfg)
	if err != nil {
		return fmt.Errorf("failed to create live query cache: %w", err)
	}
	defer func() {
		log.Info("shutting down live query cache...")
		_ = liveCache.Shutdown()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 10. SCHEDULER & JOBS
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		log.Info("initializing scheduler...")
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:        log,
			Timezone:      cfg.App.Location,
			EnableMetrics: true,
		})

		reviewJob := jobs.NewReviewSweepJob(sweeper, log, jobs.DefaultReviewSweepConfig())
		if err := sched.Register(reviewJob, scheduler.NewIntervalSchedule(thresholds.ReviewInterval)); err != nil {
			return fmt.Errorf("failed to register review sweep: %w", err)
		}

		if cfg.Features.IsEnabled(config.FeatureRetrySweep, nil) {
			retryJob := jobs.NewRetryPendingJob(dispatcher, log)
			if err := sched.Register(retryJob, scheduler.NewIntervalSchedule(cfg.Scheduler.RetrySweepInterval)); err != nil {
				return fmt.Errorf("failed to register retry sweep: %w", err)
			}
		}

		if cfg.Features.IsEnabled(config.FeatureRecordPurge, nil) {
			purgeCron, err := scheduler.ParseCronExpression(cfg.Scheduler.PurgeCron)
			if err != nil {
				return fmt.Errorf("invalid SCHEDULER_PURGE_CRON: %w", err)
			}
			purgeJob := jobs.NewPurgeRecordsJob(notificationRepo, log, cfg.Scheduler.RecordRetention)
			if err := sched.Register(purgeJob, purgeCron); err != nil {
				return fmt.Errorf("failed to register record purge: %w", err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
		log.Info("scheduler started", "jobs", len(sched.ListJobs()))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	var httpErrCh <-chan error
	var server *httpapi.Server

	if cfg.Server.Enabled {
		health := handlers.NewCompositeHealthChecker(cfg.App.Version)
		health.AddCheck("postgres", handlers.NewDatabaseCheck(dbConn))
		if redisCheck != nil {
			health.AddCheck("redis", redisCheck)
		}

		serverCfg := httpapi.DefaultConfig()
		serverCfg.Host = cfg.Server.Host
		serverCfg.Port = cfg.Server.Port
		serverCfg.AllowedOrigins = cfg.Server.AllowedOrigins
		serverCfg.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
		serverCfg.APIKeys = cfg.Server.APIKeys

		server = httpapi.NewServer(serverCfg, httpapi.Dependencies{
			Students: academicRepo,
			Engine:   engine,
			Records:  notificationRepo,
			Live:     liveCache,
			Sweeper:  sweeper,
			Retrier:  dispatcher,
			Health:   health,
		})

		httpErrCh = server.StartAsync()
		log.Info("HTTP server listening", "address", server.Address())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Aula Insights is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-orNever(httpErrCh):
		if ok && err != nil {
			log.Error("HTTP server failed", "error", err)
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
	}

	// Scheduler, cache, Redis and the DB pool close via the defers above.
	log.Info("shutdown completed")
	return nil
}

// orNever returns ch, or a channel that never delivers when ch is nil, so
// the shutdown select works whether or not the HTTP server is enabled.
func orNever(ch <-chan error) <-chan error {
	if ch != nil {
		return ch
	}
	return make(chan error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging: JSON in production for log
// aggregators, text elsewhere for readability.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Observability.LogLevel),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildPolicyConfig maps the environment policy settings onto the domain
// policy configuration.
func buildPolicyConfig(cfg *config.Config) (notification.Config, error) {
	start, err := notification.ParseClock(cfg.Policy.WindowStart)
	if err != nil {
		return notification.Config{}, fmt.Errorf("POLICY_WINDOW_START: %w", err)
	}
	end, err := notification.ParseClock(cfg.Policy.WindowEnd)
	if err != nil {
		return notification.Config{}, fmt.Errorf("POLICY_WINDOW_END: %w", err)
	}

	notifyHigh := cfg.Policy.NotifyHigh
	if cfg.Features.IsEnabled(config.FeatureNotifyHighPri, nil) {
		notifyHigh = true
	}

	return notification.Config{
		Enabled:              cfg.Policy.Enabled,
		NotifyCritical:       cfg.Policy.NotifyCritical,
		NotifyHigh:           notifyHigh,
		AttendanceThreshold:  cfg.Policy.AttendanceThreshold,
		PerformanceThreshold: cfg.Policy.PerformanceThreshold,
		Window:               notification.SendWindow{Start: start, End: end},
	}, nil
}

// buildEmailSender selects the email delivery implementation. The real
// gateway is used only when both the provider and the rollout flag say so.
func buildEmailSender(cfg *config.Config, log *slog.Logger) notification.EmailSender {
	useGateway := cfg.Email.Provider == "gateway" &&
		cfg.Features.IsEnabled(config.FeatureNotifyEmail, nil)
	if !useGateway {
		log.Info("using console email sender", "provider", cfg.Email.Provider)
		return channels.NewConsoleSender(log)
	}

	gwCfg := channels.DefaultEmailConfig(cfg.Email.APIKey)
	if cfg.Email.BaseURL != "" {
		gwCfg.BaseURL = cfg.Email.BaseURL
	}
	gwCfg.From = cfg.Email.From
	gwCfg.FromName = cfg.Email.FromName
	gwCfg.Timeout = cfg.Email.RequestTimeout
	gwCfg.RetryAttempts = cfg.Email.RetryAttempts
	gwCfg.RetryDelay = cfg.Email.RetryDelay
	gwCfg.Logger = log

	log.Info("using email gateway", "base_url", gwCfg.BaseURL)
	return channels.NewEmailGateway(gwCfg)
}

// buildSMSSender selects the SMS delivery implementation.
func buildSMSSender(cfg *config.Config, log *slog.Logger) notification.SMSSender {
	useGateway := cfg.SMS.Provider == "gateway" &&
		cfg.Features.IsEnabled(config.FeatureNotifySMS, nil)
	if !useGateway {
		log.Info("using console SMS sender", "provider", cfg.SMS.Provider)
		return channels.NewConsoleSender(log)
	}

	gwCfg := channels.DefaultSMSConfig(cfg.SMS.AccountID, cfg.SMS.AuthToken)
	if cfg.SMS.BaseURL != "" {
		gwCfg.BaseURL = cfg.SMS.BaseURL
	}
	gwCfg.Sender = cfg.SMS.Sender
	gwCfg.Timeout = cfg.SMS.RequestTimeout
	gwCfg.RetryAttempts = cfg.SMS.RetryAttempts
	gwCfg.RetryDelay = cfg.SMS.RetryDelay
	gwCfg.Logger = log

	log.Info("using SMS gateway", "base_url", gwCfg.BaseURL)
	return channels.NewSMSGateway(gwCfg)
}
