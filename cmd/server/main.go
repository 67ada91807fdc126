package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"tapcard/internal/admin"
	"tapcard/internal/audit"
	"tapcard/internal/cache"
	cardhandler "tapcard/internal/card/handler"
	cardservice "tapcard/internal/card/service"
	"tapcard/internal/card/store"
	"tapcard/internal/claim"
	"tapcard/internal/cleanup"
	"tapcard/internal/jwttoken"
	"tapcard/internal/platform/config"
	"tapcard/internal/platform/database"
	"tapcard/internal/platform/httpserver"
	"tapcard/internal/platform/logger"
	"tapcard/internal/platform/metrics"
	"tapcard/internal/platform/middleware"
	platformredis "tapcard/internal/platform/redis"
	"tapcard/internal/storage"
)

// main wires dependencies and keeps the lifecycle small. Business logic
// lives in the internal service packages.
func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	buckets := storage.Buckets{Anon: cfg.Storage.AnonBucket, Public: cfg.Storage.PublicBucket}

	// Stores: Postgres when configured, in-memory for development.
	var (
		cards   store.CardStore
		users   store.UserStore
		objects storage.ObjectStorage
	)
	if cfg.Database.URL != "" {
		db, err := database.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		cards = store.NewPostgresCardStore(db)
		users = store.NewPostgresUserStore(db)
		objects = storage.NewPostgres(db, cfg.Storage.BaseURL)
		log.Info("using postgres stores")
	} else {
		cards = store.NewInMemoryCardStore()
		users = store.NewInMemoryUserStore()
		objects = storage.NewInMemory(cfg.Storage.BaseURL)
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	// Cache: Redis when configured, process-local otherwise.
	var viewCache cache.Cache
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		viewCache = cache.NewRedis(redisClient.Client)
		log.Info("using redis cache")
	} else {
		viewCache = cache.NewMemory()
	}

	// Audit: Kafka when brokers are configured.
	var auditStore audit.Store
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaStore, err := audit.NewKafkaStore(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer kafkaStore.Close()
		auditStore = kafkaStore
		log.Info("publishing audit events to kafka", "topic", cfg.Kafka.Topic)
	} else {
		auditStore = audit.NewInMemoryStore()
	}
	publisher := audit.NewPublisher(auditStore,
		audit.WithAsyncBuffer(256),
		audit.WithLogger(log),
	)
	defer publisher.Close()

	m := metrics.New()

	cardSvc, err := cardservice.New(cards, users, objects, buckets,
		cardservice.WithCache(viewCache),
		cardservice.WithLogger(log),
		cardservice.WithMetrics(m),
		cardservice.WithAuditPublisher(publisher),
	)
	if err != nil {
		return err
	}

	claimOpts := []claim.Option{
		claim.WithLogger(log),
		claim.WithMetrics(m),
		claim.WithAuditPublisher(publisher),
	}
	if cfg.StrictClaims {
		claimOpts = append(claimOpts, claim.WithStrictValidation())
	}
	claimSvc, err := claim.New(cards, users, objects, buckets, claimOpts...)
	if err != nil {
		return err
	}

	adminSvc, err := admin.New(cards, users,
		admin.WithLogger(log),
		admin.WithAuditLog(publisher),
		admin.WithInvalidator(cardSvc.InvalidatePublicView),
	)
	if err != nil {
		return err
	}

	jwtSvc := jwttoken.NewJWTService(cfg.JWTSigningKey, "tapcard", "tapcard")

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.AnonID)
	router.Use(middleware.ContentTypeJSON)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(jwtSvc, log))
		cardhandler.New(cardSvc, claimSvc, log).Register(r)
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminKey(cfg.AdminAPIKeyHash, log))
		admin.NewHandler(adminSvc, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	job := cleanup.New(cards, objects, buckets,
		cleanup.WithInterval(cfg.Cleanup.Interval),
		cleanup.WithInitialDelay(cfg.Cleanup.InitialDelay),
		cleanup.WithLogger(log),
		cleanup.WithMetrics(m),
		cleanup.WithAuditPublisher(publisher),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting tapcard server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return job.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}
