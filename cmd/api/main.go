package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"studiobook/internal/api"
	"studiobook/internal/clock"
	"studiobook/internal/config"
	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/google"
	"studiobook/internal/logging"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
	"studiobook/internal/notify"
	"studiobook/internal/pgstore"
	"studiobook/internal/repository"
	"studiobook/internal/schedule"
	"studiobook/internal/seed"
	"studiobook/internal/service"
	"studiobook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// store is what both storage backends provide.
type store interface {
	domain.Store
	domain.JobStore
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	logger := logging.Component(base, "api-main")
	svcLog := logging.Component(base, "service")
	workerLog := logging.Component(base, "worker")
	notifyLog := logging.Component(base, "notify")

	zone, err := cfg.Zone()
	if err != nil {
		return err
	}

	st, sqliteDB, err := initStore(cfg, logging.Component(base, "store"))
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SeedPath != "" {
		if err := applySeed(ctx, cfg.SeedPath, st, logger); err != nil {
			return err
		}
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	keys := initKeyStore(redisClient, logger)

	eventBus := events.NewEventBus()
	if cfg.Events.AMQPURL != "" {
		forwarder, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange, logging.Component(base, "events"))
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, events stay in process")
		} else {
			forwarder.Attach(eventBus)
			defer forwarder.Close()
		}
	}

	jobWorker := worker.NewJobWorker(st, redisClient, worker.RetryPolicy{}, workerLog)
	clk := clock.System{}

	generator := schedule.NewGenerator(st, zone, svcLog)
	schedules := service.NewScheduleService(st, generator, zone, clk, eventBus, svcLog)
	schedules.SetJobQueue(jobWorker)
	lessons := service.NewLessonService(st, zone, clk, svcLog)
	bookings := service.NewBookingService(st, clk, notify.NewDispatcher(jobWorker, notifyLog), eventBus, svcLog)
	options := service.NewClassOptionService(st, svcLog)
	if err := options.Refresh(ctx); err != nil {
		return fmt.Errorf("load class options: %w", err)
	}

	jobWorker.Register(models.JobGenerateLessons, worker.GenerationHandler(schedules, workerLog))
	jobWorker.Register(models.JobWaitlistNotify, notify.WaitlistHandler(st, initSender(cfg, notifyLog), zone, notifyLog))
	sheets := initGoogleSheets(ctx, cfg, logger)
	if sheets != nil {
		jobWorker.Register(models.JobSheetsPublish, worker.SheetsPublishHandler(lessons, sheets, zone, workerLog))
	}

	scheduler := worker.NewScheduler(zone, logging.Component(base, "scheduler"))
	if err := scheduleTasks(scheduler, cfg, sqliteDB, schedules, sheets != nil, jobWorker, zone, clk, logger); err != nil {
		return err
	}

	svc := api.Services{
		Bookings:     bookings,
		Lessons:      lessons,
		ClassOptions: options,
		Schedules:    schedules,
		Keys:         keys,
	}
	if sheets != nil {
		svc.Jobs = jobWorker
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, only background work will run")
	}

	startMetrics(ctx, cfg, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		jobWorker.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()

	err = startServers(ctx, cfg, svc, zone, base, logger)
	wg.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	base, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, base, closer, nil
}

// initStore opens the configured backend. The SQLite handle is also returned for backups.
func initStore(cfg *config.Config, logger *zerolog.Logger) (store, *database.DB, error) {
	if cfg.Database.Driver == "postgres" {
		pg, err := pgstore.Open(cfg.Database.Postgres, logger)
		if err != nil {
			logger.Error().Err(err).Str("host", cfg.Database.Postgres.Host).Msg("init postgres")
			return nil, nil, err
		}
		return pg, nil, nil
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, nil, err
	}
	return db, db, nil
}

func applySeed(ctx context.Context, path string, st domain.Store, logger *zerolog.Logger) error {
	data, err := seed.Load(path)
	if err != nil {
		logger.Error().Err(err).Str("seed_path", path).Msg("load seed")
		return err
	}
	if _, err := seed.Apply(ctx, st, data, logger); err != nil {
		logger.Error().Err(err).Str("seed_path", path).Msg("apply seed")
		return err
	}
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initKeyStore(client *redis.Client, logger *zerolog.Logger) repository.KeyStore {
	memory := repository.NewMemoryKeyStore()
	if client == nil {
		return memory
	}
	return repository.NewFailoverKeyStore(repository.NewRedisKeyStore(client), memory, logger)
}

// initSender routes notices to Telegram or email when configured and to the log otherwise.
func initSender(cfg *config.Config, logger *zerolog.Logger) notify.Sender {
	var telegram, email notify.Sender
	if cfg.Notify.Telegram.BotToken != "" {
		bot, err := notify.NewTelegramBot(cfg.Notify.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, notices skip telegram")
		} else {
			telegram = notify.NewTelegramSender(bot)
		}
	}
	if cfg.Notify.SMTP.Host != "" {
		email = notify.NewEmailSender(cfg.Notify.SMTP)
	}
	return notify.NewRouter(telegram, email, notify.NewLogSender(logger))
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if cfg.Google.CredentialsFile == "" || cfg.Google.SpreadsheetID == "" {
		return nil
	}

	sheets, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, cfg.Google.SheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheets.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return sheets
}

func scheduleTasks(
	scheduler *worker.Scheduler,
	cfg *config.Config,
	sqliteDB *database.DB,
	schedules *service.ScheduleService,
	publish bool,
	jobs domain.JobQueue,
	zone *clock.Zone,
	clk clock.Clock,
	logger *zerolog.Logger,
) error {
	if cfg.Generation.RollingEnabled {
		err := scheduler.Add("rolling_generation", cfg.Generation.RollingCron, func(ctx context.Context) error {
			n, err := schedules.EnqueueRolling(ctx, cfg.Generation.HorizonDays)
			if err != nil {
				return err
			}
			logger.Info().Int("templates", n).Msg("rolling generation queued")
			return nil
		})
		if err != nil {
			return err
		}
	}

	if cfg.Backup.Enabled {
		if sqliteDB == nil {
			logger.Warn().Msg("backups only cover the sqlite driver, skipping")
		} else {
			backup := database.NewBackupService(sqliteDB, cfg.Backup, logger)
			if err := scheduler.Add("backup", cfg.Backup.Schedule, backup.Run); err != nil {
				return err
			}
		}
	}

	if publish && cfg.Google.PublishCron != "" {
		err := scheduler.Add("sheets_publish", cfg.Google.PublishCron, func(ctx context.Context) error {
			templates, err := schedules.ListTemplates(ctx)
			if err != nil {
				return err
			}
			from := zone.CivilDate(clk.Now())
			to := from.AddDays(cfg.Google.PublishDays)
			var errs []error
			for i := range templates {
				req := models.PublishRequest{TenantID: templates[i].TenantID, From: from, To: to}
				if err := jobs.Enqueue(ctx, models.JobSheetsPublish, req); err != nil {
					errs = append(errs, fmt.Errorf("tenant %s: %w", templates[i].TenantID, err))
				}
			}
			return errors.Join(errs...)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	cfg *config.Config,
	svc api.Services,
	zone *clock.Zone,
	base *zerolog.Logger,
	logger *zerolog.Logger,
) error {
	var grpcServer *api.GRPCServer
	if cfg.API.Enabled && cfg.API.GRPC.Enabled {
		var err error
		grpcServer, err = api.NewGRPCServer(&cfg.API, svc, base)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	var httpServer *api.HTTPServer
	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, svc, zone, base)
		go func() {
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	event := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		event = event.Str("grpc_addr", grpcServer.Addr())
	}
	event.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
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
