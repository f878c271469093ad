package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quotient-hq/rfq-relay/pkg/logger"
)

const (
	// DefaultWorkerCount defines the default number of settlement workers
	DefaultWorkerCount = 5

	// DefaultPollingInterval defines the default job queue polling interval in seconds
	DefaultPollingInterval = 5

	// DefaultGasBumpInterval defines how long a submission may sit unmined
	// before the worker escalates the gas price, in seconds
	DefaultGasBumpInterval = 45

	// DefaultMakerRequestTimeout defines the per-maker quote request timeout in seconds
	DefaultMakerRequestTimeout = 2

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether maker circuit breakers are enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of maker failures before the circuit trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the failure window in minutes
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout in minutes
	DefaultCircuitBreakerReset = 15
)

// GetEnvChainID returns the chain ID from the CHAIN_ID environment variable
func GetEnvChainID() (int, error) {
	raw := os.Getenv("CHAIN_ID")
	if raw == "" {
		return 0, fmt.Errorf("CHAIN_ID environment variable is required")
	}
	chainID, err := strconv.Atoi(raw)
	if err != nil || chainID <= 0 {
		return 0, fmt.Errorf("invalid CHAIN_ID value: %s", raw)
	}
	return chainID, nil
}

// GetEnvRPCURL returns the blockchain RPC URL from the RPC_URL environment variable
func GetEnvRPCURL() (string, error) {
	raw := os.Getenv("RPC_URL")
	if raw == "" {
		return "", fmt.Errorf("RPC_URL environment variable is required")
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return "", fmt.Errorf("invalid RPC_URL value: %s", raw)
	}
	return raw, nil
}

// GetEnvSettlementAddress returns the settlement contract address from SETTLEMENT_ADDRESS
func GetEnvSettlementAddress() (string, error) {
	raw := os.Getenv("SETTLEMENT_ADDRESS")
	if raw == "" {
		return "", fmt.Errorf("SETTLEMENT_ADDRESS environment variable is required")
	}
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("invalid SETTLEMENT_ADDRESS value: %s", raw)
	}
	return raw, nil
}

// GetEnvSignerKey returns the relay signer private key from SIGNER_KEY.
// Empty is allowed for read-only deployments (quote and status endpoints only).
func GetEnvSignerKey() string {
	return strings.TrimPrefix(os.Getenv("SIGNER_KEY"), "0x")
}

// GetEnvMakerURIs returns the comma-separated maker endpoint URIs from MAKER_URIS
func GetEnvMakerURIs() ([]string, error) {
	raw := os.Getenv("MAKER_URIS")
	if raw == "" {
		return nil, fmt.Errorf("MAKER_URIS environment variable is required")
	}
	var uris []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := url.ParseRequestURI(part); err != nil {
			return nil, fmt.Errorf("invalid maker URI: %s", part)
		}
		uris = append(uris, part)
	}
	if len(uris) == 0 {
		return nil, fmt.Errorf("MAKER_URIS contains no valid URIs")
	}
	return uris, nil
}

// GetEnvPostgresURL returns the Postgres connection string from POSTGRES_URL.
// Empty selects the in-memory store (development only).
func GetEnvPostgresURL() string {
	return os.Getenv("POSTGRES_URL")
}

// GetEnvRedisAddr returns the Redis address from REDIS_ADDR. Empty disables
// the submission dedupe cache.
func GetEnvRedisAddr() string {
	return os.Getenv("REDIS_ADDR")
}

// GetEnvWorkerCount returns the number of settlement workers from WORKER_COUNT
func GetEnvWorkerCount() (int, error) {
	raw := os.Getenv("WORKER_COUNT")
	if raw == "" {
		return DefaultWorkerCount, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s", raw)
	}
	return count, nil
}

// GetEnvPollingInterval returns the queue polling interval from POLLING_INTERVAL (seconds)
func GetEnvPollingInterval() (time.Duration, error) {
	return getEnvSeconds("POLLING_INTERVAL", DefaultPollingInterval)
}

// GetEnvGasBumpInterval returns the gas escalation interval from GAS_BUMP_INTERVAL (seconds)
func GetEnvGasBumpInterval() (time.Duration, error) {
	return getEnvSeconds("GAS_BUMP_INTERVAL", DefaultGasBumpInterval)
}

// GetEnvMakerRequestTimeout returns the per-maker request timeout from MAKER_REQUEST_TIMEOUT (seconds)
func GetEnvMakerRequestTimeout() (time.Duration, error) {
	return getEnvSeconds("MAKER_REQUEST_TIMEOUT", DefaultMakerRequestTimeout)
}

// GetEnvMetricsPort returns the metrics server port from METRICS_PORT
func GetEnvMetricsPort() (string, error) {
	raw := os.Getenv("METRICS_PORT")
	if raw == "" {
		return DefaultMetricsPort, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s", raw)
	}
	return raw, nil
}

// GetEnvCircuitBreakerEnabled returns whether maker circuit breakers are enabled
func GetEnvCircuitBreakerEnabled() (bool, error) {
	raw := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if raw == "" {
		return DefaultCircuitBreakerEnabled, nil
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s", raw)
	}
	return enabled, nil
}

// GetEnvCircuitBreakerThreshold returns the failure threshold for maker circuit breakers
func GetEnvCircuitBreakerThreshold() (int, error) {
	raw := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if raw == "" {
		return DefaultCircuitBreakerThreshold, nil
	}
	threshold, err := strconv.Atoi(raw)
	if err != nil || threshold <= 0 {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s", raw)
	}
	return threshold, nil
}

// GetEnvCircuitBreakerWindow returns the failure window for maker circuit breakers
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvMinutes("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the reset timeout for maker circuit breakers
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvMinutes("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

// GetEnvLogLevel returns the log level from LOG_LEVEL
func GetEnvLogLevel() logger.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return logger.DebugLevel
	case "notice":
		return logger.NoticeLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

// GetEnvLogColoring returns whether colored log output is enabled from LOG_COLORING
func GetEnvLogColoring() bool {
	raw := os.Getenv("LOG_COLORING")
	if raw == "" {
		return true
	}
	coloring, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return coloring
}

func getEnvSeconds(key string, def int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(def) * time.Second, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid %s value: %s", key, raw)
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnvMinutes(key string, def int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(def) * time.Minute, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("invalid %s value: %s", key, raw)
	}
	return time.Duration(minutes) * time.Minute, nil
}
