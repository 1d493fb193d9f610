// Command oracled runs the price oracle consensus service.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/stellar-swipe/oracle-layer/internal/app"
	"github.com/stellar-swipe/oracle-layer/internal/app/auth"
	"github.com/stellar-swipe/oracle-layer/internal/app/cache"
	"github.com/stellar-swipe/oracle-layer/internal/app/httpapi"
	consensussvc "github.com/stellar-swipe/oracle-layer/internal/app/services/consensus"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage/postgres"
	"github.com/stellar-swipe/oracle-layer/internal/config"
	"github.com/stellar-swipe/oracle-layer/internal/platform/migrations"
	"github.com/stellar-swipe/oracle-layer/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "config/oracle.yaml", "Path to the YAML configuration file")
		envFile    = flag.String("env", ".env", "Path to an optional .env file")
	)
	flag.Parse()

	log := logger.NewDefault("oracled")

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("could not load %s", *envFile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("load configuration")
		os.Exit(1)
	}

	stores, closeDB, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Error("initialise storage")
		os.Exit(1)
	}
	if closeDB != nil {
		defer closeDB()
	}

	var tokens *auth.Manager
	if cfg.Auth.Secret != "" {
		users := make([]auth.User, 0, len(cfg.Auth.Users))
		for _, u := range cfg.Auth.Users {
			users = append(users, auth.User{Username: u.Username, Password: u.Password, Role: u.Role})
		}
		tokens = auth.NewManager(cfg.Auth.Secret, users)
	} else {
		log.Warn("no auth secret configured; privileged endpoints are disabled")
	}

	keys, err := cfg.Attestation.PublicKeys()
	if err != nil {
		log.WithError(err).Error("decode attestation keys")
		os.Exit(1)
	}
	var attestor consensussvc.Attestor
	if len(keys) > 0 {
		attestor = consensussvc.NewEd25519Attestor(keys)
		log.WithField("sources", len(keys)).Info("submission signature verification enabled")
	}

	application, err := app.New(stores, app.Options{
		Verifier:        tokens,
		Attestor:        attestor,
		Schedule:        cfg.Consensus.Schedule,
		MonitorInterval: cfg.Consensus.MonitorInterval,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	var results *cache.ResultCache
	if cfg.Redis.Address != "" {
		results, err = cache.New(cache.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.WithError(err).Warn("redis unavailable; serving without the read cache")
		} else {
			defer results.Close()
		}
	}

	handler, err := httpapi.NewHandler(application, httpapi.Config{
		Tokens:            tokens,
		Results:           results,
		AuditSinkPath:     cfg.AuditPath,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	})
	if err != nil {
		log.WithError(err).Error("build http handler")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start services")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
}

// buildStores selects PostgreSQL when a DSN is configured and falls back to
// the in-memory store otherwise.
func buildStores(cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.DSN == "" {
		log.Info("no database configured; using in-memory storage")
		return app.Stores{}, nil, nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := migrations.Apply(db); err != nil {
		db.Close()
		return app.Stores{}, nil, err
	}

	store := postgres.New(db)
	stores := app.Stores{
		Sources:     store,
		Submissions: store,
		Consensus:   store,
		Governance:  store,
	}
	return stores, func() { db.Close() }, nil
}
