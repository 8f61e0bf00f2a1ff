package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"terminarz/internal/api"
	"terminarz/internal/availability"
	"terminarz/internal/config"
	"terminarz/internal/db"
	"terminarz/internal/events"
	"terminarz/internal/gcal"
	"terminarz/internal/notify"
	"terminarz/internal/scheduler"
	"terminarz/internal/transport"
	"terminarz/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("TERMINARZ_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Backup.Enabled {
		backup := db.NewBackupService(cfg.Database.Path, db.BackupConfig{
			Enabled:       true,
			StoragePath:   cfg.Backup.Path,
			IntervalHours: cfg.Backup.IntervalHours,
			RetentionDays: cfg.Backup.RetentionDays,
		}, &logger)
		go backup.Start(ctx)
	}

	bus := events.NewBus()

	engine := availability.NewEngine(database, availability.Hours{
		Open:         cfg.Hours.Open,
		Close:        cfg.Hours.Close,
		StepMinutes:  cfg.Hours.StepMinutes,
		SkipWeekends: cfg.Hours.SkipWeekends,
		Location:     loc,
	})

	var rdb *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	slotCache := availability.NewCache(engine, rdb, cfg.CacheTTL())
	if rdb != nil {
		slotCache.SubscribeInvalidation(bus)
	}

	var tr transport.Transport
	switch cfg.SMS.Driver {
	case "smsapi":
		if cfg.SMS.Token == "" {
			logger.Fatal().Msg("set sms.token for the smsapi driver")
		}
		tr = transport.NewSMSAPIClient(cfg.SMS.Token, cfg.SMS.From, &logger)
	default:
		tr = transport.NewLogTransport(&logger)
	}

	composer := notify.NewComposer(cfg.App.BaseURL, loc)
	limiter := rate.NewLimiter(rate.Limit(cfg.Reminders.RatePerSecond), 1)
	sender := notify.NewSender(database, tr, composer, limiter, &logger)

	wf := workflow.New(database, engine, sender, bus, &logger)

	if cfg.Calendar.Enabled {
		cal, err := gcal.NewService(ctx, cfg.Calendar.CredentialsFile, cfg.Calendar.CalendarID, loc)
		if err != nil {
			logger.Fatal().Err(err).Msg("calendar setup error")
		}
		gcal.NewSyncer(cal, database, &logger).Subscribe(bus)
	}

	sched, err := scheduler.New(scheduler.Config{
		Policy:              scheduler.Policy(cfg.Reminders.Policy),
		OffsetHours:         cfg.Reminders.OffsetHours,
		WindowHours:         cfg.Reminders.WindowHours,
		SendTime:            cfg.Reminders.SendTime,
		Cutoff:              cfg.Reminders.Cutoff,
		TickInterval:        cfg.TickInterval(),
		MaxConcurrent:       cfg.Reminders.MaxConcurrent,
		ReleaseZombieClaims: cfg.Reminders.ReleaseZombieClaims,
		ZombieAge:           cfg.ZombieAge(),
	}, database, sender, loc, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid reminder policy")
	}
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	apiServer := api.NewServer(wf, slotCache, database, loc, &logger)
	go startAppServer(ctx, cfg.Monitoring.HealthCheckPort, apiServer, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().
		Str("policy", cfg.Reminders.Policy).
		Str("sms_driver", tr.Name()).
		Msg("terminarz daemon started")
	<-ctx.Done()
}

func startAppServer(ctx context.Context, port int, apiServer *api.Server, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	apiServer.Routes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("app server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
