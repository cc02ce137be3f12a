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

// Package runtime wires every collaborator into a single constructor-built
// Runtime. Unlike the teacher's orchestrator/run.go, which holds its
// collaborators as package-level vars set up in init()/Run(), every
// dependency here is an explicit field assigned once in New — there is no
// package-level mutable state, which is what lets two Runtimes coexist in
// the same process (tests build one per case) without fighting over
// globals.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nlsql-oss/queryorch/approval"
	"github.com/nlsql-oss/queryorch/checkpoint"
	"github.com/nlsql-oss/queryorch/dbrouter"
	"github.com/nlsql-oss/queryorch/degraded"
	"github.com/nlsql-oss/queryorch/llm"
	"github.com/nlsql-oss/queryorch/observability"
	"github.com/nlsql-oss/queryorch/orchestrator"
	"github.com/nlsql-oss/queryorch/pool"
	"github.com/nlsql-oss/queryorch/quota"
	"github.com/nlsql-oss/queryorch/ratelimit"
	"github.com/nlsql-oss/queryorch/resilience"
	"github.com/nlsql-oss/queryorch/schema"
	"github.com/nlsql-oss/queryorch/shared/logger"
	"github.com/nlsql-oss/queryorch/sqlvalidate"
	"github.com/nlsql-oss/queryorch/state"
	"github.com/nlsql-oss/queryorch/statepub"
	"github.com/nlsql-oss/queryorch/wrapper"

	goredis "github.com/go-redis/redis/v8"
)

// Config is every knob New needs. Backend DSNs left empty leave that
// backend unconfigured rather than erroring — a deployment running only
// against Postgres, say, doesn't need Oracle or Doris reachable to start.
type Config struct {
	OracleDSN        string
	PostgresDSN      string
	DorisToolCaller  schema.ToolCaller // MCP transport is dialed by the caller; no example in the corpus shows that wiring
	DorisConnName    string

	RedisHost string
	RedisPort int
	RedisDB   int

	AnthropicAPIKey string
	AnthropicModel  string

	RolePolicies   map[state.Role]sqlvalidate.RoleRiskPolicy
	QuotaPolicies  map[state.Role]quota.Policy
	TierLimits     map[state.Role]ratelimit.Limit
	EndpointLimits map[string]ratelimit.Limit

	MaxRows          int
	OraclePoolSize   int
	StatementTimeout time.Duration

	Registerer prometheus.Registerer
}

// Runtime holds every wired collaborator a request handler needs.
type Runtime struct {
	Config Config

	Log        *logger.Logger
	Metrics    *observability.Metrics
	Degraded   *degraded.Registry
	Breakers   *resilience.Registry
	Redis      *goredis.Client
	FallbackCache *wrapper.FallbackCache

	OraclePool *pool.Pool
	PostgresDB *sql.DB

	Schema    *schema.Resolver
	Router    *dbrouter.Router
	LLM       *llm.Gateway
	Quota     *quota.Enforcer
	RateLimit *ratelimit.Limiter

	Approvals  *approval.Store
	Publisher  *statepub.Publisher
	Checkpoint checkpoint.Repository

	Driver *orchestrator.Driver
}

// New wires a Runtime from cfg. Any external dial failure (Postgres,
// Oracle's test connection) is returned rather than silently degrading —
// unlike a request-time failure, a backend unreachable at startup is
// almost always a misconfiguration the operator should see immediately.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 10000
	}
	if cfg.OraclePoolSize <= 0 {
		cfg.OraclePoolSize = 5
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 30 * time.Second
	}

	log := logger.New("runtime")
	metrics := observability.New(cfg.Registerer)
	deg := degraded.NewRegistry(nil)
	breakers := resilience.NewRegistry(metrics.BreakerStateChange)

	rt := &Runtime{
		Config:     cfg,
		Log:        log,
		Metrics:    metrics,
		Degraded:   deg,
		Breakers:   breakers,
		Approvals:  approval.New(),
		Publisher:  statepub.New(),
		Checkpoint: checkpoint.NewMemoryStore(10000),
	}

	if err := rt.wireRedis(ctx); err != nil {
		return nil, err
	}
	if err := rt.wireBackends(ctx); err != nil {
		return nil, err
	}
	rt.wireLLM()
	rt.wireQuotaAndRateLimit()
	rt.wireOrchestrator()

	return rt, nil
}

func (rt *Runtime) wireRedis(ctx context.Context) error {
	cfg := rt.Config
	if cfg.RedisHost == "" {
		rt.Degraded.Register("redis", "quota counters and rate limiting fail open without Redis")
		rt.Degraded.Update("redis", state.ComponentDegraded, "no redis host configured", true)
		return nil
	}
	client, err := wrapper.NewRedisClient(ctx, wrapper.RedisConfig{Host: cfg.RedisHost, Port: cfg.RedisPort, DB: cfg.RedisDB})
	if err != nil {
		return fmt.Errorf("runtime: connect redis: %w", err)
	}
	rt.Redis = client
	rt.FallbackCache = wrapper.NewFallbackCache(5000, time.Hour)
	rt.Degraded.Register("redis", "quota counters and rate limiting fail open without Redis")
	return nil
}

func (rt *Runtime) wireBackends(ctx context.Context) error {
	cfg := rt.Config
	var adapters []schema.Adapter
	routerCfg := dbrouter.Config{StatementTimeout: cfg.StatementTimeout}

	if cfg.OracleDSN != "" {
		poolCfg := pool.DefaultConfig()
		poolCfg.Size = cfg.OraclePoolSize
		oraclePool := pool.New("oracle", poolCfg, dbrouter.NewOracleProcessClientFactory(cfg.OracleDSN), rt.Breakers)
		if err := oraclePool.Initialize(ctx); err != nil {
			return fmt.Errorf("runtime: initialize oracle pool: %w", err)
		}
		rt.OraclePool = oraclePool
		routerCfg.OraclePool = oraclePool
		rt.Degraded.Register("oracle", "oracle-backed queries unavailable")
	}

	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("runtime: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("runtime: ping postgres: %w", err)
		}
		rt.PostgresDB = db
		pgClient := dbrouter.NewPostgresClient(db)
		routerCfg.Postgres = pgClient
		adapters = append(adapters, schema.NewPostgresAdapter(db))
		rt.Degraded.Register("postgres", "postgres-backed queries unavailable")
	}

	if cfg.DorisToolCaller != nil {
		routerCfg.Doris = dbrouter.NewDorisMCPClient(cfg.DorisToolCaller)
		adapters = append(adapters, schema.NewDorisAdapter(cfg.DorisToolCaller))
		rt.Degraded.Register("doris", "doris-backed queries unavailable")
	}

	rt.Router = dbrouter.New(routerCfg)
	rt.Schema = schema.New(adapters, rt.FallbackCache)
	return nil
}

func (rt *Runtime) wireLLM() {
	cfg := rt.Config
	providers := map[string]llm.Provider{}
	var fallbackOrder []string

	if cfg.AnthropicAPIKey != "" {
		providers["anthropic"] = llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
		})
		fallbackOrder = append(fallbackOrder, "anthropic")
		rt.Degraded.Register("llm", "natural-language understanding falls back to keyword heuristics")
	}

	rt.LLM = llm.New(providers, fallbackOrder, resilience.DefaultRetryPolicy(), func(u llm.Usage) {
		rt.Metrics.ObserveLLMUsage(u.Provider, "success", u.CostUSD)
	})
}

func (rt *Runtime) wireQuotaAndRateLimit() {
	cfg := rt.Config
	if rt.Redis != nil {
		rt.Quota = quota.NewEnforcer(&quota.RedisCounter{Client: rt.Redis}, cfg.QuotaPolicies, rt.Degraded, rt.Log)
		rt.RateLimit = ratelimit.NewLimiter(rt.Redis, cfg.TierLimits, cfg.EndpointLimits, rt.Degraded, rt.Log)
	}
}

func (rt *Runtime) wireOrchestrator() {
	cfg := rt.Config
	execCache := map[state.DatabaseType]*wrapper.Resilient{
		state.DatabaseOracle:   wrapper.NewResilient("oracle", rt.Breakers, resilience.DefaultBreakerConfig(), resilience.DefaultRetryPolicy(), rt.FallbackCache),
		state.DatabaseDoris:    wrapper.NewResilient("doris", rt.Breakers, resilience.DefaultBreakerConfig(), resilience.DefaultRetryPolicy(), rt.FallbackCache),
		state.DatabasePostgres: wrapper.NewResilient("postgres", rt.Breakers, resilience.DefaultBreakerConfig(), resilience.DefaultRetryPolicy(), rt.FallbackCache),
	}

	rolePolicies := cfg.RolePolicies
	if rolePolicies == nil {
		rolePolicies = defaultRolePolicies()
	}

	nodes := &orchestrator.Nodes{
		LLM:          rt.LLM,
		LLMProvider:  "anthropic",
		Schema:       rt.Schema,
		ValidatorCfg: sqlvalidate.DefaultConfig(),
		RolePolicies: rolePolicies,
		Approvals:    rt.Approvals,
		Router:       rt.Router,
		ExecCache:    execCache,
		MaxRows:      cfg.MaxRows,
		Log:          logger.New("orchestrator"),
	}

	rt.Driver = orchestrator.NewDriver(nodes, rt.Checkpoint, rt.Publisher, rt.Approvals, logger.New("driver"))
}

// defaultRolePolicies bypasses approval for safe/low risk at every role and
// additionally for medium risk at analyst and above, matching the spec's
// role-based approval bypass design note.
func defaultRolePolicies() map[state.Role]sqlvalidate.RoleRiskPolicy {
	base := map[sqlvalidate.RiskLevel]bool{sqlvalidate.RiskSafe: true, sqlvalidate.RiskLow: true}
	withMedium := map[sqlvalidate.RiskLevel]bool{sqlvalidate.RiskSafe: true, sqlvalidate.RiskLow: true, sqlvalidate.RiskMedium: true}
	return map[state.Role]sqlvalidate.RoleRiskPolicy{
		state.RoleGuest:     {AllowedRisks: base},
		state.RoleViewer:    {AllowedRisks: base},
		state.RoleAnalyst:   {AllowedRisks: withMedium},
		state.RoleDeveloper: {AllowedRisks: withMedium},
		state.RoleAdmin:     {AllowedRisks: withMedium},
	}
}

// Shutdown releases every owned resource. Safe to call once after New
// succeeds.
func (rt *Runtime) Shutdown(drainTimeout time.Duration) {
	if rt.OraclePool != nil {
		rt.OraclePool.Shutdown(drainTimeout)
	}
	if rt.PostgresDB != nil {
		rt.PostgresDB.Close()
	}
	if rt.Redis != nil {
		rt.Redis.Close()
	}
}
