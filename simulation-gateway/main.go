package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/animus-labs/simgate/internal/platform/env"
	"github.com/animus-labs/simgate/internal/platform/httpserver"
	"github.com/animus-labs/simgate/internal/platform/logging"
	"github.com/animus-labs/simgate/internal/platform/objectstore"
	"github.com/animus-labs/simgate/internal/platform/observability"
	"github.com/animus-labs/simgate/internal/platform/postgres"
	"github.com/animus-labs/simgate/internal/repo"
	badgerstore "github.com/animus-labs/simgate/internal/repo/badger"
	pgstore "github.com/animus-labs/simgate/internal/repo/postgres"
	"github.com/animus-labs/simgate/internal/rules"
	"github.com/animus-labs/simgate/internal/schema"
	"github.com/animus-labs/simgate/internal/service/simulations"
	"github.com/animus-labs/simgate/internal/spec"
	"github.com/animus-labs/simgate/internal/upstream"
)

const serviceName = "simulation-gateway"

func main() {
	_ = godotenv.Load()
	logger := logging.New(logging.ConfigFromEnv())

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverCfg, err := httpserver.ConfigFromEnv(serviceName, ":8090")
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}

	specPath := env.String("SIMULATION_SPEC_PATH", "api/simulation_spec.yaml")
	index, err := spec.LoadFile(specPath)
	if err != nil {
		logger.Error("invalid simulation spec", "path", specPath, "error", err)
		os.Exit(2)
	}
	builder, err := rules.NewBuilder(index)
	if err != nil {
		logger.Error("payload builder init failed", "error", err)
		os.Exit(2)
	}
	requests, err := schema.NewRequestValidator(index)
	if err != nil {
		logger.Error("request schema init failed", "error", err)
		os.Exit(2)
	}
	logger.Info("simulation spec loaded", "path", specPath, "version", index.Version(), "fields", index.FieldCount())

	tracingCfg, err := observability.TracingConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid tracing config", "error", err)
		os.Exit(2)
	}
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, logger)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		os.Exit(2)
	}

	var (
		records    repo.SimulationRepository
		storeCheck httpserver.ReadinessCheck
	)
	switch kind := strings.ToLower(env.String("SIMGATE_STORE", "postgres")); kind {
	case "postgres":
		dbCfg, err := postgres.ConfigFromEnv(serviceName)
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := pgstore.EnsureSchema(ctx, db); err != nil {
			logger.Error("database schema init failed", "error", err)
			os.Exit(1)
		}
		records = pgstore.NewSimulationStore(db)
		storeCheck = httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				return postgres.Ping(ctx, db, 750*time.Millisecond)
			},
			Timeout: time.Second,
		}
	case "badger":
		badgerCfg, err := badgerstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid badger config", "error", err)
			os.Exit(2)
		}
		badgerCfg.Logger = logger
		db, err := badgerstore.Open(badgerCfg)
		if err != nil {
			logger.Error("badger unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		store := badgerstore.NewSimulationStore(db)
		records = store
		storeCheck = httpserver.ReadinessCheck{Name: "badger", Check: store.Ping}
	default:
		logger.Error("invalid env", "error", "SIMGATE_STORE must be postgres or badger", "value", kind)
		os.Exit(2)
	}

	upstreamCfg, err := upstream.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid validator config", "error", err)
		os.Exit(2)
	}
	client, err := upstream.NewClient(ctx, upstreamCfg, logger)
	if err != nil {
		logger.Error("validator client init failed", "error", err)
		os.Exit(1)
	}
	retry, err := simulations.RetryPolicyFromEnv()
	if err != nil {
		logger.Error("invalid retry config", "error", err)
		os.Exit(2)
	}

	checks := []httpserver.ReadinessCheck{storeCheck}
	var archive simulations.Archiver
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	if storeCfg.Enabled {
		storeClient, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		resultArchive, err := objectstore.NewResultArchive(storeClient, storeCfg)
		if err != nil {
			logger.Error("result archive init failed", "error", err)
			os.Exit(2)
		}
		archive = resultArchive
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				return objectstore.CheckBucket(ctx, storeClient, storeCfg)
			},
			Timeout: 750 * time.Millisecond,
		})
	}

	svc, err := simulations.New(simulations.Dependencies{
		Records:   records,
		Builder:   builder,
		Requests:  requests,
		Responses: schema.NewResponseValidator(),
		Sender:    client,
		Archive:   archive,
		Metrics:   metrics,
		Logger:    logger,
		Retry:     retry,
	})
	if err != nil {
		logger.Error("simulation service init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	mux.Handle("GET /metrics", metrics.Handler())

	api := newSimulationAPI(logger, svc)
	api.register(mux)

	handler := httpserver.Wrap(logger, serviceName, httpserver.Instrument(metrics, mux))
	if err := httpserver.Run(ctx, logger, serverCfg, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
