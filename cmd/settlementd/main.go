// Command settlementd runs the settlement layer HTTP daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/evvm-network/settlement_layer/internal/app"
	"github.com/evvm-network/settlement_layer/internal/config"
	"github.com/evvm-network/settlement_layer/internal/httpapi"
	"github.com/evvm-network/settlement_layer/internal/metrics"
	"github.com/evvm-network/settlement_layer/internal/middleware"
	"github.com/evvm-network/settlement_layer/internal/storage/postgres"
	"github.com/evvm-network/settlement_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("settlementd").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New("settlementd", cfg.Logging.Level)

	stores := app.Stores{}
	if dsn := cfg.Database.DSN; dsn != "" {
		store, err := postgres.Open(dsn)
		if err != nil {
			log.WithError(err).Error("connect database")
			os.Exit(1)
		}
		defer store.Close()
		if err := store.EnsureSchema(context.Background()); err != nil {
			log.WithError(err).Error("ensure schema")
			os.Exit(1)
		}
		stores = app.Stores{
			Ledger:     store,
			Nonces:     store,
			Flags:      store,
			Identities: store,
			Metadata:   store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("no database configured; using in-memory storage")
	}

	application, err := app.New(cfg.Instance, stores, log)
	if err != nil {
		log.WithError(err).Error("initialise application")
		os.Exit(1)
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst, log)
	stopCleanup := limiter.StartCleanup(time.Minute)
	defer stopCleanup()

	handler := metrics.InstrumentHandler(limiter.Handler(httpapi.NewHandler(application)))
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).
			WithField("instance", cfg.Instance.ID).
			Info("settlement layer listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}
