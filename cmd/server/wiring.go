package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twmb/franz-go/pkg/kgo"

	"fundpool/internal/funding/eventlog"
	"fundpool/internal/funding/guard"
	"fundpool/internal/funding/ledger"
	fundingmetrics "fundpool/internal/funding/metrics"
	"fundpool/internal/funding/models"
	"fundpool/internal/funding/oracle"
	"fundpool/internal/funding/payout"
	"fundpool/internal/funding/publisher"
	"fundpool/internal/funding/service"
	"fundpool/internal/platform/config"
	"fundpool/internal/platform/kafka"
	"fundpool/internal/platform/postgres"
	"fundpool/internal/platform/redis"
	"fundpool/pkg/platform/circuit"
)

// devController is the first account of the local development chain.
const devController = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

type dependencies struct {
	Service *service.Service

	db     *sql.DB
	pool   *pgxpool.Pool
	redis  *redis.Client
	kafka  *kgo.Client
	logger *slog.Logger
}

func buildDependencies(ctx context.Context, cfg config.Server, log *slog.Logger) (*dependencies, error) {
	deps := &dependencies{logger: log}
	ok := false
	defer func() {
		if !ok {
			deps.Close()
		}
	}()

	controller, err := resolveController(cfg)
	if err != nil {
		return nil, err
	}

	rates, err := buildRateSource(cfg, log)
	if err != nil {
		return nil, err
	}

	var (
		ledgerStore service.Ledger  = ledger.NewInMemoryStore()
		events      service.EventLog = eventlog.NewInMemoryLog()
	)
	if cfg.DatabaseURL != "" {
		if deps.db, err = postgres.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		if err := postgres.Migrate(deps.db); err != nil {
			return nil, err
		}
		if deps.pool, err = postgres.OpenPool(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		ledgerStore = ledger.NewPostgresStore(deps.db)
		events = eventlog.NewPostgresLog(deps.pool)
		log.Info("using postgres ledger")
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(fundingmetrics.New()),
	}

	if deps.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if deps.redis != nil {
		opts = append(opts, service.WithGuard(guard.NewRedisGuard(deps.redis.Client, guard.WithTTL(cfg.WithdrawLeaseTTL))))
		log.Info("using redis withdrawal lease")
	}

	kcfg := kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, ClientID: cfg.Kafka.ClientID}
	if deps.kafka, err = kafka.NewProducer(kcfg); err != nil {
		return nil, err
	}
	if deps.kafka != nil {
		if err := kafka.EnsureTopic(ctx, deps.kafka, kcfg); err != nil {
			log.Warn("could not ensure event topic", "topic", kcfg.Topic, "error", err)
		}
		pub := publisher.New(deps.kafka, kcfg.Topic,
			publisher.WithLogger(log),
			publisher.WithMetrics(publisher.NewMetrics()),
			publisher.WithBreaker(circuit.New("kafka")),
		)
		opts = append(opts, service.WithPublisher(pub))
		log.Info("publishing pool events", "topic", kcfg.Topic)
	}

	svc, err := service.New(service.Config{
		Controller:      controller,
		MinimumExternal: cfg.MinimumExternal,
	}, rates, ledgerStore, events, payout.NewWallet(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := svc.VerifyLedger(ctx); err != nil {
		return nil, fmt.Errorf("verify ledger: %w", err)
	}
	deps.Service = svc
	ok = true
	return deps, nil
}

func resolveController(cfg config.Server) (models.Principal, error) {
	raw := cfg.ControllerAddress
	if raw == "" {
		if !cfg.IsDevelopment() {
			return "", errors.New("CONTROLLER_ADDRESS is required outside development")
		}
		raw = devController
	}
	controller, err := models.ParsePrincipal(raw)
	if err != nil {
		return "", fmt.Errorf("controller address: %w", err)
	}
	return controller, nil
}

func buildRateSource(cfg config.Server, log *slog.Logger) (service.RateSource, error) {
	networks, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		return nil, err
	}
	network, err := networks.Resolve(cfg.Network)
	if err != nil {
		return nil, err
	}
	if network.Mock {
		log.Info("development network detected, using mock aggregator", "network", network.Name)
		return oracle.NewStaticAggregator(oracle.MockDecimals, oracle.MockAnswer), nil
	}

	opts := []oracle.FeedOption{}
	if network.AnswerPath != "" {
		opts = append(opts, oracle.WithAnswerPath(network.AnswerPath))
	}
	if network.DecimalsPath != "" {
		opts = append(opts, oracle.WithDecimalsPath(network.DecimalsPath))
	}
	if network.UpdatedAtPath != "" {
		opts = append(opts, oracle.WithUpdatedAtPath(network.UpdatedAtPath))
	}
	if network.Decimals != nil {
		opts = append(opts, oracle.WithDecimals(*network.Decimals))
	}
	log.Info("using price feed", "network", network.Name, "url", network.FeedURL)
	return oracle.NewHTTPFeed(network.Name, network.FeedURL, cfg.OracleTimeout, opts...), nil
}

// Health checks every configured backing service.
func (d *dependencies) Health(ctx context.Context) error {
	var errs []error
	if d.db != nil {
		if err := d.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if d.redis != nil {
		if err := d.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := kafka.Health(ctx, d.kafka); err != nil {
		errs = append(errs, fmt.Errorf("kafka: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases backing connections. Producing is flushed first so queued
// events are not dropped on shutdown.
func (d *dependencies) Close() {
	if d.kafka != nil {
		if err := d.kafka.Flush(context.Background()); err != nil {
			d.logger.Warn("kafka flush failed", "error", err)
		}
		d.kafka.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}
