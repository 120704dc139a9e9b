// Package main is the entry point for the points lottery: it runs the draw
// scheduler, the HTTP surface and, when a token is configured, the Telegram bot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"points-lottery/internal/bot"
	"points-lottery/internal/config"
	"points-lottery/internal/pkg/auth"
	"points-lottery/internal/pkg/cache"
	"points-lottery/internal/pkg/db"
	"points-lottery/internal/pkg/lock"
	"points-lottery/internal/repository"
	"points-lottery/internal/scheduler"
	"points-lottery/internal/service"
	"points-lottery/internal/web"
)

// drawTimeout bounds a single scheduled draw.
const drawTimeout = 2 * time.Minute

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	store := newCacheStore(ctx, &cfg.Redis)

	// Repositories
	userRepo := repository.NewUserRepository(dbPool)
	txRepo := repository.NewTransactionRepository(dbPool)
	termRepo := repository.NewTermRepository(dbPool)
	ticketRepo := repository.NewTicketRepository(dbPool)

	userLock := lock.NewUserLock()

	// Services
	accountService := service.NewAccountService(dbPool, userRepo, txRepo, cfg.Lottery.InitialBalance)
	termManager := service.NewTermManager(termRepo, store, cfg.Lottery)
	seller := service.NewTicketSeller(dbPool, userRepo, termRepo, ticketRepo, txRepo, store, userLock, cfg.Lottery)
	drawTask := service.NewDrawTask(dbPool, userRepo, termRepo, ticketRepo, txRepo, store, cfg.Lottery)
	stats := service.NewStatsRenderer(txRepo, cfg.Lottery)
	lotteryService := service.NewLotteryService(accountService, termManager, seller, drawTask, stats, ticketRepo, txRepo, cfg.Lottery)

	// Open the first term before anyone asks for it
	if _, err := termManager.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to open lottery term")
	}

	runner := scheduler.New(ctx, drawTimeout)
	if _, err := runner.Add("lottery_draw", cfg.Lottery.DrawSchedule, scheduler.DrawJob(drawTask)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule lottery draw")
	}
	runner.Start()

	var httpServer *http.Server
	if cfg.HTTP.Addr != "" {
		jwt, err := auth.New(cfg.Auth.Secret, cfg.Auth.TokenTTL, cfg.Auth.PostKeyTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure auth")
		}
		gin.SetMode(gin.ReleaseMode)
		httpServer = &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      web.NewServer(lotteryService, accountService, jwt, dbPool).Router(),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
		go func() {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	var telegramBot *bot.Bot
	if cfg.Bot.Token != "" {
		telegramBot, err = bot.New(&bot.Dependencies{
			Config:         cfg,
			AccountService: accountService,
			LotteryService: lotteryService,
			UserLock:       userLock,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		go telegramBot.Start()
	} else {
		log.Info().Msg("No bot token configured, Telegram surface disabled")
	}

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}
	if telegramBot != nil {
		telegramBot.Stop()
	}
	runner.Stop()

	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close cache")
		}
	}
	log.Info().Msg("Stopped gracefully")
}

// newCacheStore connects to Redis when configured and falls back to the
// in-process cache otherwise. The cache only speeds up reads, so an
// unreachable Redis is not fatal.
func newCacheStore(ctx context.Context, cfg *config.RedisConfig) cache.Store {
	if cfg.Addr == "" {
		log.Info().Msg("Using in-process lottery cache")
		return cache.NewMemoryStore(cfg.CacheTTL)
	}

	store := cache.NewRedisStore(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, cfg.CacheTTL)
	if err := store.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unreachable, using in-process lottery cache")
		_ = store.Close()
		return cache.NewMemoryStore(cfg.CacheTTL)
	}

	log.Info().Str("addr", cfg.Addr).Msg("Using Redis lottery cache")
	return store
}
