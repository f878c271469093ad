package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/quotient-hq/rfq-relay/pkg/logger"
)

// Config holds the configuration for the RFQ relay service
type Config struct {
	ChainID             int
	RPCURL              string
	SettlementAddress   string
	SignerKey           string
	MakerURIs           []string
	PostgresURL         string
	RedisAddr           string
	WorkerCount         int
	PollingInterval     time.Duration
	GasBumpInterval     time.Duration
	MakerRequestTimeout time.Duration
	MetricsPort         string
	CircuitBreaker      CircuitBreakerConfig
	LoggerConfig        LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration for maker endpoints
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	chainID, err := GetEnvChainID()
	if err != nil {
		return nil, err
	}

	rpcURL, err := GetEnvRPCURL()
	if err != nil {
		return nil, err
	}

	settlementAddress, err := GetEnvSettlementAddress()
	if err != nil {
		return nil, err
	}

	makerURIs, err := GetEnvMakerURIs()
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	gasBumpInterval, err := GetEnvGasBumpInterval()
	if err != nil {
		return nil, err
	}

	makerTimeout, err := GetEnvMakerRequestTimeout()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	return &Config{
		ChainID:             chainID,
		RPCURL:              rpcURL,
		SettlementAddress:   settlementAddress,
		SignerKey:           GetEnvSignerKey(),
		MakerURIs:           makerURIs,
		PostgresURL:         GetEnvPostgresURL(),
		RedisAddr:           GetEnvRedisAddr(),
		WorkerCount:         workerCount,
		PollingInterval:     pollingInterval,
		GasBumpInterval:     gasBumpInterval,
		MakerRequestTimeout: makerTimeout,
		MetricsPort:         metricsPort,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    GetEnvLogLevel(),
			Coloring: GetEnvLogColoring(),
		},
	}, nil
}
