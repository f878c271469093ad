// Package health serves liveness, readiness, and Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quotient-hq/rfq-relay/pkg/blockchain"
	"github.com/quotient-hq/rfq-relay/pkg/circuitbreaker"
	"github.com/quotient-hq/rfq-relay/pkg/logger"
)

// Server is the operational HTTP endpoint of the relay. It never serves
// taker traffic.
type Server struct {
	port          string
	gateway       blockchain.Gateway
	breakers      *circuitbreaker.Registry
	makers        []string
	metricsAPIKey string
	logger        logger.Logger
}

// NewServer creates a health server.
func NewServer(port string, gateway blockchain.Gateway, breakers *circuitbreaker.Registry,
	makers []string, log logger.Logger) *Server {
	return &Server{
		port:          port,
		gateway:       gateway,
		breakers:      breakers,
		makers:        makers,
		metricsAPIKey: os.Getenv("METRICS_API_KEY"),
		logger:        log,
	}
}

// metricsAuthMiddleware checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start serves until the listener fails. Run it in its own goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Ready once the chain RPC answers
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if _, err := s.gateway.GetCurrentBlock(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("RPC not reachable: %v", err)))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	// Maker circuit status
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := make(map[string]interface{})
		for _, makerURI := range s.makers {
			circuit := "closed"
			if s.breakers != nil && s.breakers.For(makerURI).IsOpen() {
				circuit = "open"
			}
			status[makerURI] = map[string]interface{}{"circuit": circuit}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			s.logger.Error("Error encoding status JSON: %v", err)
		}
	})

	// Circuit breaker admin control endpoint
	mux.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		makerURI := r.URL.Query().Get("maker")
		if makerURI == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Missing maker parameter"))
			return
		}
		if s.breakers == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Circuit breakers disabled"))
			return
		}

		s.breakers.For(makerURI).Reset()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for %s reset", makerURI)))
	})

	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := http.ListenAndServe(":"+s.port, mux); err != nil {
		s.logger.Error("Health server error: %v", err)
	}
}
