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

	"chattrix-calls/internal/audit"
	"chattrix-calls/internal/auth"
	"chattrix-calls/internal/calls"
	"chattrix-calls/internal/config"
	"chattrix-calls/internal/lock"
	"chattrix-calls/internal/media"
	"chattrix-calls/internal/quality"
	"chattrix-calls/internal/ratelimit"
	"chattrix-calls/internal/reporting"
	"chattrix-calls/internal/signaling"
	"chattrix-calls/internal/timeout"
	"chattrix-calls/internal/users"
	"chattrix-calls/pkg/logger"
	"chattrix-calls/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if err := run(rootCtx, stop, cfg, log); err != nil {
		log.Error("api stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(rootCtx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	minter, err := media.NewLiveKitMinter(media.LiveKitConfig{
		ServerURL: cfg.LiveKit.ServerURL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		TokenTTL:  cfg.LiveKit.TokenTTL,
	})
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()

	callRepo := calls.NewPostgresRepo(db)
	eventRepo := audit.NewPostgresRepo(db)
	qualityRepo := quality.NewPostgresRepo(db)
	if err := callRepo.Migrate(rootCtx); err != nil {
		return err
	}
	if err := eventRepo.Migrate(rootCtx); err != nil {
		return err
	}
	if err := qualityRepo.Migrate(rootCtx); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var locker calls.Locker = lock.NewLocal()
	if cfg.Calls.LockBackend == "redis" {
		locker = lock.NewRedis(rdb, lock.RedisOptions{})
	}

	hub := signaling.NewHub(log)
	var dispatch calls.Dispatcher = hub
	var fanout *signaling.RedisFanout
	if cfg.Signaling.Fanout == "redis" {
		fanout = signaling.NewRedisFanout(rdb, hub, cfg.Signaling.RedisChannel, log)
		dispatch = fanout
	}

	timers := timeout.New(timeout.Options{Workers: cfg.Calls.TimerWorkers, Logger: log})
	events := audit.NewService(eventRepo, log)

	callSvc := calls.NewService(callRepo, timers, minter, dispatch, calls.Options{
		RingTimeout: cfg.Calls.RingTimeout,
		Locker:      locker,
		Profiles:    users.NewPostgresDirectory(db),
		Observer:    events,
		Logger:      log,
	})
	sweeper := calls.NewSweeper(callSvc, callRepo, calls.SweeperConfig{
		Interval:     cfg.Calls.SweepInterval,
		StaleRinging: cfg.Calls.StaleRinging,
		MaxDuration:  cfg.Calls.MaxDuration,
	}, log)
	limiter := ratelimit.NewPerUser(cfg.Calls.InitiateRate, cfg.Calls.InitiateBurst)

	ws := signaling.NewServer(hub, signaling.NewRouter(callSvc, log), callSvc, signaling.ServerOptions{
		SendBuffer: cfg.Signaling.SendBuffer,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, cfg, routeDeps{
		auth:      authManager,
		calls:     callSvc,
		reporting: reporting.NewService(callRepo),
		audit:     events,
		quality:   quality.NewService(qualityRepo, callSvc, dispatch, log),
		limiter:   limiter,
		ws:        ws,
		mediaURL:  minter.ServerURL(),
		health: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			if rdb != nil {
				return rdb.Ping(ctx).Err()
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			return err
		}
		return nil
	})
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				limiter.Prune(time.Hour)
			}
		}
	})
	if fanout != nil {
		g.Go(func() error { return fanout.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		// websocket connections are hijacked and not covered by Shutdown
		hub.Close()
		if err := timers.Close(shutdownCtx); err != nil {
			log.Error("timer shutdown failed", "err", err)
		}
		return nil
	})

	return g.Wait()
}
