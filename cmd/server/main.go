package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/signup-verification/internal/config"
	"github.com/iliyamo/signup-verification/internal/database"
	"github.com/iliyamo/signup-verification/internal/handler"
	"github.com/iliyamo/signup-verification/internal/logger"
	"github.com/iliyamo/signup-verification/internal/mailer"
	"github.com/iliyamo/signup-verification/internal/middleware"
	"github.com/iliyamo/signup-verification/internal/queue"
	"github.com/iliyamo/signup-verification/internal/ratelimit"
	"github.com/iliyamo/signup-verification/internal/repository"
	"github.com/iliyamo/signup-verification/internal/router"
	"github.com/iliyamo/signup-verification/internal/service"
)

const redisPrefix = "sv:"

func main() {
	cfg := config.Load()
	vcfg := config.LoadVerificationConfig()
	ccfg := config.LoadCacheConfig()

	log := logger.NewLogger(cfg.LogLevel, cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	store := repository.NewSignupRepo(db)

	rdb := config.NewRedisClient(ctx)
	if rdb != nil {
		defer rdb.Close()
	}
	windows, bans, sweepers := limiterStores(vcfg, rdb, log)

	var sender service.Sender = mailer.NewLogSender(log)
	if cfg.SMTPHost != "" {
		sender = mailer.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	}

	// Confirmation emails share the dispatch budget with code emails.
	confirm := service.NewConfirmationSender(service.NewDispatchGate(vcfg, windows), sender, log)
	var notifier *service.AsyncNotifier
	if cfg.RabbitURL != "" {
		notifier = service.NewAsyncNotifier(queue.NewPublisher(cfg.RabbitURL, log).Publish, 256, log)
		consumer := queue.NewConsumer(cfg.RabbitURL, confirm.Handle, log)
		go func() { _ = consumer.Run(ctx) }()
	} else {
		notifier = service.NewAsyncNotifier(confirm.Handle, 256, log)
	}
	go notifier.Run(ctx)

	if len(sweepers) > 0 {
		go ratelimit.NewJanitor(vcfg.SweepInterval, sweepers, ratelimit.WithLogger(log)).Run(ctx)
	}

	engine := service.NewEngine(vcfg, store, windows, bans, sender,
		service.WithLogger(log), service.WithNotifier(notifier))
	h := handler.NewVerificationHandler(engine, cfg.JWTSecret, cfg.VerifyTokenTTL, log)

	httpLimiter := ratelimit.NewLimiter("http_ip", vcfg.RequestPerIP, windows, ratelimit.WithLogger(log))
	var cache redis.Cmdable
	if rdb != nil {
		cache = rdb
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterVerification(e, h,
		middleware.RateLimit(httpLimiter, vcfg.RequestPerIP.Max),
		middleware.NewRedisCache(ccfg, cache))

	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("limits", vcfg.Backend))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}

// limiterStores picks the limiter and ban backends. Redis is used only
// when requested and reachable; the in-memory stores come with sweepers.
func limiterStores(vcfg config.VerificationConfig, rdb *redis.Client, log *zap.Logger) (ratelimit.WindowStore, ratelimit.BanStore, []ratelimit.Sweeper) {
	if vcfg.Backend == "redis" {
		if rdb != nil {
			return ratelimit.NewRedisWindowStore(rdb, redisPrefix), ratelimit.NewRedisBanStore(rdb, redisPrefix, vcfg.BanIdleTTL), nil
		}
		log.Warn("redis unavailable, limits fall back to process memory")
	}
	windows := ratelimit.NewMemoryWindowStore(vcfg.MaxTrackedKeys)
	bans := ratelimit.NewMemoryBanStore(vcfg.BanIdleTTL)
	return windows, bans, []ratelimit.Sweeper{windows, bans}
}
