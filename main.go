package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quotient-hq/rfq-relay/pkg/blockchain"
	"github.com/quotient-hq/rfq-relay/pkg/circuitbreaker"
	"github.com/quotient-hq/rfq-relay/pkg/config"
	"github.com/quotient-hq/rfq-relay/pkg/gas"
	"github.com/quotient-hq/rfq-relay/pkg/health"
	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/maker"
	"github.com/quotient-hq/rfq-relay/pkg/quote"
	"github.com/quotient-hq/rfq-relay/pkg/service"
	"github.com/quotient-hq/rfq-relay/pkg/status"
	"github.com/quotient-hq/rfq-relay/pkg/store"
	"github.com/quotient-hq/rfq-relay/pkg/worker"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settlement := common.HexToAddress(cfg.SettlementAddress)

	gateway, err := blockchain.NewEthGateway(ctx, cfg.RPCURL, cfg.SignerKey, settlement, appLogger)
	if err != nil {
		log.Fatalf("Failed to connect to chain: %v", err)
	}

	var st store.Store
	if cfg.PostgresURL != "" {
		st, err = store.NewPostgresStore(ctx, cfg.PostgresURL, appLogger)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
	} else {
		appLogger.Notice("No DATABASE_URL configured, using in-memory store")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	var dedupe *store.DedupeCache
	if cfg.RedisAddr != "" {
		dedupe, err = store.NewDedupeCache(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer func() {
			if err := dedupe.Close(); err != nil {
				appLogger.Error("Failed to close redis connection: %v", err)
			}
		}()
	}

	breakers := circuitbreaker.NewRegistry(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
	)

	makerClient := maker.NewHTTPClient(cfg.MakerRequestTimeout, breakers, appLogger)
	aggregator := quote.NewAggregator(cfg.MakerURIs, makerClient, gateway, st, cfg.ChainID, settlement, appLogger)
	resolver := status.NewResolver(st, appLogger)
	nonces := blockchain.NewNonceManager(gateway.Client(), gateway.SignerAddress())
	oracle := gas.NewOracle(gateway.Client(), appLogger)
	settler := worker.NewSettler(st, gateway, makerClient, nonces, oracle,
		cfg.WorkerCount, cfg.PollingInterval, cfg.GasBumpInterval, appLogger)

	relay := service.New(aggregator, resolver, settler, st, dedupe, cfg.ChainID, appLogger)

	// Health and metrics server
	healthServer := health.NewServer(cfg.MetricsPort, gateway, breakers, cfg.MakerURIs, appLogger)
	go healthServer.Start()

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		appLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	appLogger.Info("Starting the RFQ relay on chain %d with %d makers", cfg.ChainID, len(cfg.MakerURIs))
	relay.Start(ctx)

	<-ctx.Done()
	relay.Wait()
}
