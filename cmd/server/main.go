package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"availability-service/internal/app"
	"availability-service/internal/busy"
	"availability-service/internal/config"
	"availability-service/internal/server"
	"availability-service/internal/slots"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Fatal("load policy", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := app.NewMigrator(pool, logger)
	if err != nil {
		logger.Fatal("init migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}
	migrator.Close()

	store := app.NewPGStore(pool)

	var kv busy.KV = busy.NewMemoryKV()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		kv = busy.NewRedisKV(rdb)
		logger.Info("busy cache backed by redis", zap.String("addr", cfg.RedisAddr))
	}

	fetcher := busy.NewFetcher(&http.Client{Timeout: 20 * time.Second}, kv, logger)
	sources := []busy.Named{
		{Name: "ics", Source: busy.NewCached(busy.NewICSSource(store, fetcher, logger), kv, policy.BusyCacheTTL, logger)},
		// bookings are never cached so a fresh booking blocks its slot at once
		{Name: "bookings", Source: busy.NewBookingSource(store), Required: true},
	}

	oauthCfg := app.NewGoogleOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	if oauthCfg != nil {
		google := busy.NewGoogleSource(oauthCfg, store, logger)
		sources = append(sources, busy.Named{Name: "google", Source: busy.NewCached(google, kv, policy.BusyCacheTTL, logger)})
	} else {
		logger.Info("google calendar disabled")
	}

	var notifier app.Notifier = app.NopNotifier{}
	if cfg.TelegramEnabled() {
		tn, err := app.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Warn("telegram notifier disabled", zap.Error(err))
		} else {
			notifier = tn
		}
	}

	bookings := app.NewBookingService(store, busy.NewMulti(logger, sources...), logger, app.BookingServiceOptions{
		Steps:         slots.StepPolicy{Primary: policy.PrimaryStep(), Stored: policy.EventStep()},
		HorizonMonths: policy.HorizonMonths,
		Notifier:      notifier,
	})
	sessions := app.NewSessionManager(bookings, policy.SessionTTL, policy.PageSize, logger)

	jobs, err := app.NewJobs(policy.FeedRefreshCron, store, fetcher, sessions, logger)
	if err != nil {
		logger.Fatal("init jobs", zap.Error(err))
	}
	jobs.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		jobs.Stop(stopCtx)
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(server.RequestID(), server.RequestLogger(logger), server.Recovery(logger))

	appInstance := &app.App{
		Store:    store,
		Bookings: bookings,
		Sessions: sessions,
		Calendar: oauthCfg,
		Ping:     pool.Ping,
		Log:      logger,
	}
	appInstance.Register(router, app.AuthMiddleware(cfg.StaticTokens, cfg.JWTHMACSecret))

	if err := server.Run(ctx, router, cfg.Port, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
