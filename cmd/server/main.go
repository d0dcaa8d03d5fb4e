package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	"github.com/ademajagon/dynamic-app/internal/adapters/httpserver"
	kafkaadapter "github.com/ademajagon/dynamic-app/internal/adapters/kafka"
	"github.com/ademajagon/dynamic-app/internal/adapters/mailer"
	"github.com/ademajagon/dynamic-app/internal/adapters/pdf"
	pgadapter "github.com/ademajagon/dynamic-app/internal/adapters/postgres"
	"github.com/ademajagon/dynamic-app/internal/adapters/razorpay"
	redisadapter "github.com/ademajagon/dynamic-app/internal/adapters/redis"
	s3adapter "github.com/ademajagon/dynamic-app/internal/adapters/s3"
	"github.com/ademajagon/dynamic-app/internal/app"
	"github.com/ademajagon/dynamic-app/internal/auth"
	"github.com/ademajagon/dynamic-app/internal/config"
)

var (
	version   = "dev"
	commitSHA = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.IsProd())
	logger.Info("dynamic app starting",
		"version", version,
		"commit", commitSHA,
		"build_time", buildTime,
		"env", cfg.Env,
	)

	// NewPool() calls pool.Ping() before returning, if the DB is unreachable,
	ctx := context.Background()
	pool, err := pgadapter.NewPool(ctx, pgadapter.PoolConfig{
		DSN:               cfg.Database.DSN,
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifeTime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: cfg.Database.HealthPeriod,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("postgres connected", "max_conns", cfg.Database.MaxConns)

	if err := runMigrations(cfg.Database.DSN, cfg.Database.MigrationsPath, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	redisClient := redisadapter.NewClient(redisadapter.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisadapter.Ping(ctx, redisClient); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	payments := pgadapter.NewPaymentRepository(pool)
	users := pgadapter.NewUserRepository(pool)
	otps := pgadapter.NewOTPRepository(pool)
	records := pgadapter.NewRecordRepository(pool)
	idempotencyStore := redisadapter.NewIdempotencyStore(redisClient, cfg.Redis.Namespace, logger)
	limiter := redisadapter.NewRateLimiter(redisClient, cfg.Redis.Namespace)

	mailCfg := mailer.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		Support:  cfg.Mail.Support,
		LoginURL: cfg.Mail.LoginURL,
	}
	smtpClient, err := mailer.NewClient(mailCfg)
	if err != nil {
		return fmt.Errorf("configure smtp: %w", err)
	}
	mail := mailer.New(smtpClient, mailCfg, logger)

	var archive app.ReceiptArchive
	if cfg.S3.Enabled() {
		a, err := s3adapter.NewReceiptArchive(ctx, s3adapter.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("configure receipt archive: %w", err)
		}
		archive = a
		logger.Info("receipt archive enabled", "bucket", cfg.S3.Bucket)
	}

	// mail jobs get their own context so shutdown can drain the queue after
	// the HTTP server stops
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	dispatcher := app.NewDispatcher(cfg.Mail.Workers, cfg.Mail.QueueSize, logger)
	dispatcher.Start(workCtx)

	// app service wire
	receipts := app.NewReceiptService(pdf.NewRenderer(cfg.Receipt.PublicURL), archive, mail, dispatcher, logger)
	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)

	authSvc := app.NewAuthService(
		users,
		otps,
		limiter,
		auth.NewBcryptHasher(0),
		tokens,
		mail,
		dispatcher,
		app.OTPPolicy{TTL: cfg.OTP.TTL, MaxSends: int(cfg.OTP.MaxSends), SendWindow: cfg.OTP.Window},
		logger,
	)
	paymentSvc := app.NewPaymentService(
		payments,
		idempotencyStore,
		razorpay.NewGateway(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, logger),
		receipts,
		cfg.Razorpay.KeyID,
		cfg.Razorpay.KeySecret,
		logger,
	)
	dynamicSvc := app.NewDynamicDataService(records, logger)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	relayDone := make(chan struct{})
	if cfg.Kafka.Enabled() {
		publisher := kafkaadapter.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()

		relay := app.NewOutboxRelay(pgadapter.NewOutboxRepository(pool), publisher, cfg.Kafka.PollInterval, logger)
		go func() {
			defer close(relayDone)
			relay.Run(relayCtx)
		}()
		logger.Info("outbox relay started", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	} else {
		close(relayDone)
	}

	// http handler and server
	serverCfg := httpserver.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}

	checks := []httpserver.ReadinessCheck{
		func(ctx context.Context) error { return pool.Ping(ctx) },
		func(ctx context.Context) error { return redisadapter.Ping(ctx, redisClient) },
	}

	router := httpserver.NewRouter(serverCfg, httpserver.Routes{
		Auth:     httpserver.NewAuthHandler(authSvc, cfg.JWT.CookieMaxAge, logger),
		Dynamic:  httpserver.NewDynamicHandler(dynamicSvc, logger),
		Payments: httpserver.NewPaymentHandler(paymentSvc, receipts, logger),
		Tokens:   tokens,
	}, checks, logger)

	server := httpserver.NewServer(serverCfg, router, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("dynamic app ready",
		"addr", cfg.HTTP.Addr,
		"metrics", cfg.HTTP.Addr+"/metrics",
		"health", cfg.HTTP.Addr+"/healthz/ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("fatal server error", "err", err)
		runErr = err
	}

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("graceful shutdown error", "err", err)
		runErr = errors.Join(runErr, err)
	}

	stopRelay()
	<-relayDone

	if err := dispatcher.Close(); err != nil {
		logger.Error("mail queue drain error", "err", err)
	}

	logger.Info("dynamic app stopped")
	return runErr
}

func newLogger(prod bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: prod,
	}

	var handler slog.Handler
	if prod {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func runMigrations(dsn, migrationsPath string, log *slog.Logger) error {
	log.Info("running database migrations", "path", migrationsPath)

	m, err := migrate.New(migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		log.Info("migrate closed", "source_err", srcErr, "db_err", dbErr)
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}
