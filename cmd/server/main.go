package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"manifest-gateway/internal/audit"
	"manifest-gateway/internal/authority"
	authoritycache "manifest-gateway/internal/authority/cache"
	"manifest-gateway/internal/jwtauth"
	"manifest-gateway/internal/lifecycle/handler"
	lifecyclemetrics "manifest-gateway/internal/lifecycle/metrics"
	"manifest-gateway/internal/lifecycle/service"
	"manifest-gateway/internal/lifecycle/store"
	"manifest-gateway/internal/manifest/assembler"
	"manifest-gateway/internal/platform/config"
	"manifest-gateway/internal/platform/httpserver"
	"manifest-gateway/internal/platform/logger"
	platformmetrics "manifest-gateway/internal/platform/metrics"
	"manifest-gateway/internal/platform/redis"
	"manifest-gateway/internal/poller"
	"manifest-gateway/internal/signature"
	httptransport "manifest-gateway/internal/transport/http"
)

// layoutVersion is the manifest layout this gateway emits.
const layoutVersion = "3.00"

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	// Persistence. Postgres when configured, in-memory otherwise so the
	// gateway can run standalone in development.
	var (
		manifestStore store.Store
		auditStore    audit.Store
		checks        []httptransport.HealthCheck
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			fatal(log, "connect postgres", err)
		}
		defer pool.Close()

		pgStore := store.NewPostgresStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			fatal(log, "migrate manifest schema", err)
		}
		manifestStore = pgStore
		checks = append(checks, httptransport.HealthCheck{Name: "postgres", Check: pool.Ping})

		auditDB, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			fatal(log, "open audit database", err)
		}
		defer auditDB.Close()
		pgAudit := audit.NewPostgresStore(auditDB)
		if err := pgAudit.Migrate(ctx); err != nil {
			fatal(log, "migrate audit schema", err)
		}
		auditStore = pgAudit
	} else {
		log.Warn("POSTGRES_URL not set, using in-memory stores")
		manifestStore = store.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
	}

	// Audit trail: lifecycle operations queue events on a channel and a
	// background worker persists them, fanned out to Kafka when brokers are
	// configured.
	auditInbox := make(chan audit.Event, 256)
	auditCtx, stopAudit := context.WithCancel(ctx)
	defer stopAudit()
	go func() {
		if err := audit.NewWorker(auditStore, auditInbox).Run(auditCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err.Error())
		}
	}()
	var auditSink audit.Sink = audit.ChannelSink(auditInbox)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			fatal(log, "connect kafka", err)
		}
		defer kafkaSink.Close()
		if err := kafkaSink.EnsureTopic(ctx, 3); err != nil {
			fatal(log, "ensure audit topic", err)
		}
		auditSink = audit.Fanout{auditSink, kafkaSink}
	}

	// Signing credential. Absent credential keeps the gateway up for
	// query-only operation; signing calls fail closed.
	var credential *signature.Credential
	if cfg.Certificate.Path != "" {
		var err error
		credential, err = signature.LoadCredential(cfg.Certificate.Path, cfg.Certificate.Password)
		if err != nil {
			fatal(log, "load signing credential", err)
		}
	} else {
		log.Warn("CERTIFICATE_PATH not set, signing disabled")
	}
	engine := signature.NewEngine(credential)

	// Authority transmission.
	client, err := authority.NewHTTPClient(authority.Config{
		BaseURL:     cfg.Authority.BaseURL,
		Timeout:     cfg.Authority.Timeout,
		Environment: cfg.Authority.Environment,
	}, log)
	if err != nil {
		fatal(log, "build authority client", err)
	}
	retrier := authority.NewRetrier(authority.DefaultRetryPolicy(), log)

	serviceOpts := []service.Option{
		service.WithAudit(auditSink),
		service.WithMetrics(lifecyclemetrics.New()),
	}

	// Consultation cache when Redis is configured.
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		fatal(log, "connect redis", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		serviceOpts = append(serviceOpts,
			service.WithCache(authoritycache.New(redisClient.Client, cfg.Redis.CacheTTL)))
		checks = append(checks, httptransport.HealthCheck{Name: "redis", Check: redisClient.Health})
	}

	lifecycle := service.New(
		manifestStore,
		assembler.New(layoutVersion, cfg.Authority.Environment),
		engine,
		client,
		retrier,
		log,
		service.Config{Series: cfg.Lifecycle.Series, MaxPolls: cfg.Lifecycle.MaxPolls},
		serviceOpts...,
	)

	// Background resolution of in-flight submissions.
	pollCtx, stopPoller := context.WithCancel(ctx)
	defer stopPoller()
	statusPoller := poller.New(lifecycle, manifestStore, log, poller.Config{
		Interval:    cfg.Poller.Interval,
		Parallelism: cfg.Poller.Parallelism,
	})
	go func() {
		if err := statusPoller.Run(pollCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("status poller stopped", "error", err.Error())
		}
	}()

	// HTTP surface.
	jwtService := jwtauth.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	lifecycleHandler := handler.New(lifecycle, log, platformmetrics.New(), jwtauth.NewJWTServiceAdapter(jwtService))
	router := httptransport.NewRouter(checks, lifecycleHandler)

	srv := httpserver.New(cfg.Server.Addr, router)

	log.Info("starting manifest-gateway", "addr", cfg.Server.Addr, "environment", cfg.Authority.Environment)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	stopPoller()
	stopAudit()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fatal(log, "graceful shutdown failed", err)
	}
	log.Info("manifest-gateway stopped")
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err.Error())
	os.Exit(1)
}
