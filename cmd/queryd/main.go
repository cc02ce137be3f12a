// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for queryd, the natural-language-to-SQL
// orchestration service.
//
// queryd builds the orchestration runtime, whose orchestrator:
//   - Classifies a natural-language question into an intent and retrieves
//     the schema context it needs
//   - Generates SQL against Oracle, Doris, or PostgreSQL and validates it
//     for role-appropriate risk before execution
//   - Routes execution through connection pools and circuit breakers,
//     checkpointing progress after every stage into an in-process memory
//     store (checkpoints do not survive a restart)
//
// When Redis is configured the runtime also builds a per-role quota
// enforcer and a sliding-window rate limiter; the orchestrator pipeline
// does not call either. The process itself serves only /metrics and
// /healthz and has no endpoint that submits queries.
//
// Usage:
//
//	./queryd
//
// Environment Variables:
//
//	ORACLE_DSN - Oracle connection string (optional; Oracle-backed queries disabled if unset)
//	POSTGRES_DSN - PostgreSQL connection string (optional)
//	REDIS_HOST, REDIS_PORT, REDIS_DB - Redis connection for the quota enforcer and rate limiter (optional; neither is built if unset)
//	ANTHROPIC_API_KEY - Anthropic API key (optional; falls back to keyword classification if unset)
//	ANTHROPIC_MODEL - Anthropic model override (optional)
//	MAX_ROWS - passed to the orchestrator as Nodes.MaxRows (default: 10000); no pipeline stage reads it, so generated SELECTs are not row-capped
//	METRICS_PORT - HTTP port serving /metrics (default: 9090)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/godror/godror" // Oracle driver, dialed by dbrouter.NewOracleProcessClientFactory
	_ "github.com/lib/pq"        // PostgreSQL driver

	"github.com/nlsql-oss/queryorch/runtime"
	"github.com/nlsql-oss/queryorch/shared/logger"
)

func main() {
	log := logger.New("main")

	reg := prometheus.NewRegistry()
	cfg := runtime.Config{
		OracleDSN:        os.Getenv("ORACLE_DSN"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		RedisHost:        os.Getenv("REDIS_HOST"),
		RedisPort:        envInt("REDIS_PORT", 6379),
		RedisDB:          envInt("REDIS_DB", 0),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:   os.Getenv("ANTHROPIC_MODEL"),
		MaxRows:          envInt("MAX_ROWS", 10000),
		StatementTimeout: 30 * time.Second,
		Registerer:       reg,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		log.Error("", "", "failed to start runtime", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer rt.Shutdown(10 * time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(string(rt.Degraded.SystemStatus())))
	})

	srv := &http.Server{Addr: ":" + envString("METRICS_PORT", "9090"), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("", "", "metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	log.Info("", "", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
