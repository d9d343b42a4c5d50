package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/edms/internal/auth"
	"github.com/geocoder89/edms/internal/config"
	"github.com/geocoder89/edms/internal/db"
	"github.com/geocoder89/edms/internal/domain/account"
	httpx "github.com/geocoder89/edms/internal/http"
	"github.com/geocoder89/edms/internal/http/middlewares"
	"github.com/geocoder89/edms/internal/observability"
	"github.com/geocoder89/edms/internal/redisclient"
	"github.com/geocoder89/edms/internal/repo/postgres"
	reposqlite "github.com/geocoder89/edms/internal/repo/sqlite"
	"github.com/geocoder89/edms/internal/security"
	"github.com/geocoder89/edms/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	// refuse to start without a signing secret
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	tokens, err := auth.NewManager(cfg.SecretKey, cfg.TokenTTL)
	if err != nil {
		return err
	}

	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Env,
			Endpoint:    cfg.OTELEndpoint,
			SampleRatio: cfg.OTELSampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := config.WithTimeout(5 * time.Second)
			defer cancel()
			_ = shutdownTracer(sctx)
		}()
	}

	var (
		prom *observability.Prom
		reg  *prometheus.Registry
	)
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prom = observability.NewProm(reg)
	}

	handle, err := db.Open(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer handle.Close()

	var store account.Store
	switch handle.Driver() {
	case db.DriverPostgres:
		store = postgres.NewAccountsRepo(handle.Pool(), prom)
	default:
		store = reposqlite.NewAccountsRepo(handle.SQL(), prom)
	}

	accounts := service.NewAccountService(store, security.NewBcrypt(cfg.BcryptCost), service.Options{
		OpTimeout:         cfg.DB.Timeout,
		MinPasswordLength: cfg.PasswordMinLength,
		Logger:            log,
		Prom:              prom,
	})

	if _, err := db.EnsureAdminAccount(ctx, accounts, cfg.Bootstrap, log); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	var loginCounter middlewares.WindowCounter
	if cfg.Redis.Addr != "" {
		rc := redisclient.New(redisclient.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rc.Close()

		pctx, cancel := config.WithTimeout(2 * time.Second)
		if err := rc.Ping(pctx); err != nil {
			log.Warn("redis unreachable; login throttling falls back to per-process counters", "err", err)
		}
		cancel()
		loginCounter = rc
	}

	deps := httpx.Deps{
		Accounts:     accounts,
		Tokens:       tokens,
		Ping:         handle.Ping,
		LoginCounter: loginCounter,
		Prom:         prom,
	}
	if reg != nil {
		deps.Gatherer = reg
	}

	router := httpx.NewRouter(log, cfg, deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "db_driver", handle.Driver())
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-serverErr:
		if ok {
			return err
		}
		return nil
	case <-stop:
	}

	log.Info("server shutting down")

	sctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return err
	}

	log.Info("shutdown complete")
	return nil
}
