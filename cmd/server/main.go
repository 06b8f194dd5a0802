package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-flashroom/internal/api"
	"github.com/npezzotti/go-flashroom/internal/auth"
	"github.com/npezzotti/go-flashroom/internal/config"
	"github.com/npezzotti/go-flashroom/internal/database"
	"github.com/npezzotti/go-flashroom/internal/directory"
	"github.com/npezzotti/go-flashroom/internal/lifecycle"
	"github.com/npezzotti/go-flashroom/internal/ratelimit"
	"github.com/npezzotti/go-flashroom/internal/server"
	"github.com/npezzotti/go-flashroom/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	envFile        string
	addr           string
	dsn            string
	allowedOrigins stringSliceFlag
)

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

func main() {
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flag.StringVar(&addr, "addr", "", "server address (overrides "+config.EnvPrefix+"_ADDR)")
	flag.StringVar(&dsn, "dsn", "", "database connection string (overrides "+config.EnvPrefix+"_DATABASE_DSN)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	cfg, err := config.Load(envFile)
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	if addr != "" {
		cfg.ServerAddr = addr
	}
	if dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if len(allowedOrigins) > 0 {
		cfg.AllowedOrigins = allowedOrigins
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("config")
	}

	logger := newLogger(cfg)

	dbConn, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.WithError(err).Fatal("db open")
	}
	if err := dbConn.Migrate(); err != nil {
		logger.WithError(err).Fatal("db migrate")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		logger.WithError(err).Fatal("redis ping")
	}

	clock := clockwork.NewRealClock()

	dir, err := directory.New(logger, dbConn, clock, cfg.RoomTTL)
	if err != nil {
		logger.WithError(err).Fatal("room directory")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.RegisterDefaultMetrics()
	statsUpdater.Run()

	limiter := ratelimit.NewFixedWindowLimiter(rdb, ratelimit.DefaultKeyPrefix, cfg.MessageRateLimit, cfg.MessageRateWindow)
	chatServer := server.NewChatServer(logger, dir, limiter, statsUpdater, clock)
	go chatServer.Run()

	sessions := auth.NewSessionManager(logger, auth.NewRedisSessionStore(rdb), cfg.SigningKey, cfg.SessionTTL)

	sweeper := lifecycle.NewExpirySweeper(logger, dir, chatServer, statsUpdater)
	reaper := lifecycle.NewRetentionReaper(logger, dir, cfg.Retention, statsUpdater)

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		err := lifecycle.RunAll(jobsCtx,
			lifecycle.NewScheduler(logger, clock, "expiry-sweeper", cfg.SweepInterval, sweeper.Sweep),
			lifecycle.NewScheduler(logger, clock, "retention-reaper", cfg.ReapInterval, reaper.Reap),
		)
		if err != nil {
			logger.WithError(err).Error("background jobs")
		}
	}()

	app := api.NewFlashroomApp(mux, logger, chatServer, dbConn, dir, sessions, cfg)

	go func() {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server")
		}
	}()

	// Operations run concurrently, so the ordered teardown is one operation.
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"flashroom": func(ctx context.Context) error {
				var errs []error
				if err := app.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}

				stopJobs()
				select {
				case <-jobsDone:
				case <-ctx.Done():
				}

				logger.Info("shutting down chat server...")
				if err := chatServer.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}

				if err := rdb.Close(); err != nil {
					errs = append(errs, err)
				}
				if err := dbConn.Close(); err != nil {
					errs = append(errs, err)
				}

				// Rooms report to the stats updater until they exit.
				statsUpdater.Stop()

				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	logger.WithField("exit_code", exitCode).Info("shutdown complete")
	os.Exit(exitCode)
}
