package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/switchboard-ai/switchboard/auth/apikey"
	"github.com/switchboard-ai/switchboard/auth/audit"
	"github.com/switchboard-ai/switchboard/auth/breaker"
	"github.com/switchboard-ai/switchboard/auth/keygen"
	"github.com/switchboard-ai/switchboard/auth/ratelimit"
	"github.com/switchboard-ai/switchboard/config"
	apikeymongo "github.com/switchboard-ai/switchboard/features/apikey/mongo"
	auditmongo "github.com/switchboard-ai/switchboard/features/audit/mongo"
	convmongo "github.com/switchboard-ai/switchboard/features/conversation/mongo"
	modelmw "github.com/switchboard-ai/switchboard/features/model/middleware"
	"github.com/switchboard-ai/switchboard/features/model/provider"
	ratelimitredis "github.com/switchboard-ai/switchboard/features/ratelimit/redis"
	registrypulse "github.com/switchboard-ai/switchboard/features/registry/pulse"
	"github.com/switchboard-ai/switchboard/runtime/a2a"
	"github.com/switchboard-ai/switchboard/runtime/a2a/httpclient"
	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
	"github.com/switchboard-ai/switchboard/runtime/guardrails"
	"github.com/switchboard-ai/switchboard/runtime/intent"
	"github.com/switchboard-ai/switchboard/runtime/intent/model"
	"github.com/switchboard-ai/switchboard/runtime/memory"
	"github.com/switchboard-ai/switchboard/runtime/orchestrator"
	"github.com/switchboard-ai/switchboard/runtime/registry"
	"github.com/switchboard-ai/switchboard/runtime/router"
	"github.com/switchboard-ai/switchboard/runtime/tasks"
	"github.com/switchboard-ai/switchboard/server"
)

// Provider-side ceiling on intent completions. The deterministic tiers keep
// serving while the limiter smooths LLM traffic.
const (
	llmRequestsPerMinute = 60
	llmBurst             = 5
)

func main() {
	var (
		configF = flag.String("config", "", "Path to optional YAML configuration file")
		addrF   = flag.String("http-addr", "", "Listen address (overrides configuration)")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}
	if *addrF != "" {
		cfg.HTTPAddr = *addrF
	}
	if *dbgF || cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	var pingers []health.Pinger

	// Optional Mongo backing for keys, conversations, and audit events.
	var mongoClient *mongo.Client
	if cfg.Storage.MongoURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		mongoClient, err = mongo.Connect(connectCtx, mongooptions.Client().ApplyURI(cfg.Storage.MongoURL))
		cancel()
		if err != nil {
			log.Fatalf(ctx, err, "connect mongo")
		}
		defer func() {
			if err := mongoClient.Disconnect(ctx); err != nil {
				log.Errorf(ctx, err, "disconnect mongo")
			}
		}()
	}

	// Optional Redis backing for the Pulse registry mirror.
	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			log.Fatalf(ctx, err, "parse redis url")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close() //nolint:errcheck // shutdown path
	}

	// Audit sink: daily JSONL files plus the Mongo store when available.
	var auditOpts []audit.Option
	if mongoClient != nil {
		store, err := auditmongo.New(auditmongo.Options{
			Client:   mongoClient,
			Database: cfg.Storage.MongoDatabase,
		})
		if err != nil {
			log.Fatalf(ctx, err, "audit store")
		}
		pingers = append(pingers, store)
		auditOpts = append(auditOpts, audit.WithStore(store))
	}
	auditLogger := audit.New(cfg.AuditDir, auditOpts...)

	// Guardrails share a multi-window limiter keyed by caller identity.
	guardLimiter := ratelimit.New()
	guard := guardrails.New(guardLimiter, auditLogger, guardrails.WithRateLimits(ratelimit.Limits{
		PerMinute: cfg.Security.RatePerMinute,
		PerHour:   cfg.Security.RatePerHour,
		PerDay:    cfg.Security.RatePerDay,
	}))

	// Conversation memory, mirrored to Mongo when enabled.
	memOpts := []memory.Option{memory.WithMaxMessages(cfg.Memory.WindowSize)}
	if cfg.Memory.UseDatabase && mongoClient != nil {
		store, err := convmongo.New(convmongo.Options{
			Client:   mongoClient,
			Database: cfg.Storage.MongoDatabase,
		})
		if err != nil {
			log.Fatalf(ctx, err, "conversation store")
		}
		pingers = append(pingers, store)
		memOpts = append(memOpts, memory.WithStore(store))
	}
	mem := memory.New(memOpts...)

	// Agent registry: env first, then the config file, then the Pulse mirror
	// so dynamic registrations replicate across instances.
	var regOpts []registry.Option
	var mirror *registrypulse.Mirror
	if redisClient != nil {
		mirror, err = registrypulse.New(ctx, registrypulse.Options{Client: redisClient})
		if err != nil {
			log.Fatalf(ctx, err, "registry mirror")
		}
		regOpts = append(regOpts, registry.WithMirror(mirror))
	}
	reg := registry.New(regOpts...)
	if n := reg.LoadFromEnv(os.Environ()); n > 0 {
		log.Printf(ctx, "registered %d agents from environment", n)
	}
	if n, err := reg.LoadConfig(cfg.Agents.ConfigPath); err != nil {
		log.Errorf(ctx, err, "load agents config")
	} else if n > 0 {
		log.Printf(ctx, "registered %d agents from file", n)
	}
	if mirror != nil {
		mirror.Watch(ctx, reg)
		defer mirror.Stop()
	}

	// Pooled JSON-RPC clients, one breaker per agent URL.
	pool := httpclient.NewPool(httpclient.WithRetry(3, time.Second))
	defer pool.CloseAll()
	breakers := breaker.NewManager(breaker.Config{})
	callerFor := func(card types.AgentCard) a2a.Caller {
		return &guardedCaller{
			caller:  pool.Get(card.URL),
			breaker: breakers.Get(card.URL),
		}
	}

	// Intent classifier with the environment-selected LLM tier.
	var intentOpts []intent.Option
	if cfg.Intent.UseLLM {
		client, name, err := provider.Select(provider.Env{
			Provider:        cfg.Intent.Provider,
			AnthropicAPIKey: cfg.Intent.AnthropicAPIKey,
			OpenAIAPIKey:    cfg.Intent.OpenAIAPIKey,
			OllamaBaseURL:   cfg.Intent.OllamaBaseURL,
			OllamaModel:     cfg.Intent.OllamaModel,
		})
		if err != nil {
			log.Printf(ctx, "llm intent tier disabled: %s", err)
		} else {
			log.Printf(ctx, "llm intent tier enabled with provider %s", name)
			client = model.Chain(client, modelmw.RateLimit(llmRequestsPerMinute, llmBurst))
			intentOpts = append(intentOpts, intent.WithLLM(client, name))
		}
	}
	classifier := intent.New(intentOpts...)

	rtr := router.New(mem, guard, classifier, tasks.DefaultSet(),
		router.WithA2A(reg, callerFor))
	orch := orchestrator.New(reg, callerFor)

	// API-key plane: Mongo repositories when configured, in-memory otherwise.
	var (
		orgs  apikey.OrganizationRepository
		keys  apikey.APIKeyRepository
		usage apikey.UsageRepository
	)
	if mongoClient != nil {
		store, err := apikeymongo.New(apikeymongo.Options{
			Client:   mongoClient,
			Database: cfg.Storage.MongoDatabase,
		})
		if err != nil {
			log.Fatalf(ctx, err, "apikey store")
		}
		pingers = append(pingers, store)
		orgs, keys, usage = store.Organizations(), store.Keys(), store.Usage()
	} else {
		orgs = apikey.NewInmemOrganizations()
		keys = apikey.NewInmemKeys()
		usage = apikey.NewInmemUsage()
	}
	svc := apikey.NewService(orgs, keys, usage, apikey.WithAudit(auditLogger))

	var mw *apikey.Middleware
	if cfg.Security.Enabled {
		// Per-key admission is shared across replicas when Redis is
		// available and falls back to the in-process window otherwise.
		var keyLimiter apikey.RateLimiter = ratelimit.NewKeyLimiter()
		if redisClient != nil {
			rl, err := ratelimitredis.New(ratelimitredis.Options{Client: redisClient})
			if err != nil {
				log.Fatalf(ctx, err, "redis rate limiter")
			}
			pingers = append(pingers, rl)
			keyLimiter = ratelimitredis.NewKeyLimiter(rl)
		}
		mw = apikey.NewMiddleware(svc, keyLimiter)
		if cfg.Security.DemoAPIKey != "" {
			if err := seedDemoKey(ctx, svc, orgs, keys, cfg.Security.DemoAPIKey); err != nil {
				log.Errorf(ctx, err, "seed demo key")
			}
		}
	}

	srv, err := server.New(server.Options{
		Router:         rtr,
		Orchestrator:   orch,
		Keys:           svc,
		Auth:           mw,
		Metrics:        server.NewMetrics(),
		Pingers:        pingers,
		AllowedOrigins: cfg.Security.AllowedOrigins,
	})
	if err != nil {
		log.Fatalf(ctx, err, "assemble server")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		log.Printf(ctx, "listening on %s", cfg.HTTPAddr)
		errc <- httpServer.ListenAndServe()
	}()

	log.Printf(ctx, "exiting: %v", <-errc)
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "shutdown")
	}
	log.Printf(ctx, "exited")
}

// guardedCaller routes every delegation through the per-URL circuit breaker.
// Health checks bypass the breaker so probes can observe recovery.
type guardedCaller struct {
	caller  a2a.Caller
	breaker *breaker.Breaker
}

func (g *guardedCaller) DelegateTask(ctx context.Context, text, taskID string) (string, error) {
	var out string
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.caller.DelegateTask(ctx, text, taskID)
		return err
	})
	return out, err
}

func (g *guardedCaller) HealthCheck(ctx context.Context) bool {
	return g.caller.HealthCheck(ctx)
}

// seedDemoKey makes DEMO_API_KEY usable without the admin surface: a demo
// organization plus a key record whose hash matches the configured plaintext.
// Repeated startups are no-ops because the hash lookup already succeeds.
func seedDemoKey(ctx context.Context, svc *apikey.Service, orgs apikey.OrganizationRepository, keys apikey.APIKeyRepository, plaintext string) error {
	if !keygen.ValidateFormat(plaintext) {
		return errors.New("DEMO_API_KEY does not match the pk_{env}_{token} format")
	}
	hash := keygen.Hash(plaintext)
	if _, found, err := keys.ByHash(ctx, hash); err != nil {
		return err
	} else if found {
		return nil
	}

	org, found, err := orgs.BySlug(ctx, "demo")
	if err != nil {
		return err
	}
	if !found {
		org, err = svc.CreateOrganization(ctx, apikey.OrgParams{
			Slug:  "demo",
			Email: "demo@localhost",
			Plan:  "free",
		})
		if err != nil {
			return err
		}
	}

	token := plaintext[len(plaintext)-4:]
	return keys.Insert(ctx, apikey.Key{
		ID:             "demo-key",
		OrganizationID: org.ID,
		Prefix:         plaintext[:8],
		Hash:           hash,
		Hint:           token,
		Name:           "demo",
		Environment:    keygen.Environment(plaintext),
		Scopes:         []string{"*"},
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	})
}
