package bootstrap

import (
	"context"
	"fmt"
	"time"

	"guardian/broadcast"
	"guardian/config"
	"guardian/mitre"
	"guardian/notify"
	"guardian/pipeline"
	"guardian/reasoning"
	"guardian/soar"
	"guardian/storage"
	"guardian/threat"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisPingTimeout bounds the startup connectivity check.
const redisPingTimeout = 5 * time.Second

// Engine is the pipeline with all of its collaborators, without the HTTP
// server. The server and the CLI's in-process analysis both build one.
type Engine struct {
	Config       *config.Config
	Storage      *StorageComponents
	Events       *broadcast.Broadcaster
	Notifier     *notify.Notifier
	Orchestrator *pipeline.Orchestrator

	redis  *redis.Client
	relay  *broadcast.RedisRelay
	logger *zap.SugaredLogger
}

// NewEngine opens storage and wires the orchestrator.
func NewEngine(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*Engine, error) {
	stores, err := InitStorage(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		Config:  cfg,
		Storage: stores,
		Events:  broadcast.NewBroadcaster(cfg.Pipeline.SubscriberBuffer, sugar),
		logger:  sugar,
	}

	fail := func(err error) (*Engine, error) {
		e.Close(ctx)
		return nil, err
	}

	reasoner, err := reasoning.FromConfig(cfg.Reasoning, sugar)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize reasoning gateway: %w", err))
	}
	sugar.Infow("Reasoning gateway ready", "gateway", reasoner.Name())

	e.Notifier = notify.NewNotifier(cfg.Notifications, sugar)
	executor := soar.NewExecutor(
		stores.Enforcement,
		BuildEnforcers(cfg.Enforcement, e.Notifier, sugar),
		stores.Audit,
		cfg.SOAR.DestructiveActionsEnabled,
		sugar,
	)

	var dedup pipeline.Dedup
	if cfg.Redis.Enabled {
		if err := e.startRedis(ctx); err != nil {
			return fail(err)
		}
		if cfg.Pipeline.DedupWindow > 0 {
			dedup = storage.NewRedisDedup(e.redis, cfg.Pipeline.DedupWindow, sugar)
		}
	} else if cfg.Pipeline.DedupWindow > 0 {
		dedup = pipeline.NewLocalDedup(cfg.Pipeline.DedupCacheSize, cfg.Pipeline.DedupWindow)
	}

	techniques := mitre.NewMapper()
	if cfg.Mitre.BundlePath != "" {
		loaded, err := mitre.LoadBundle(cfg.Mitre.BundlePath, sugar)
		if err != nil {
			sugar.Warnw("Using built-in ATT&CK catalog", "bundle", cfg.Mitre.BundlePath, "error", err)
		} else {
			techniques = loaded
		}
	}

	orch, err := pipeline.NewOrchestrator(pipeline.Deps{
		Store:        stores.Incidents,
		Reasoner:     reasoner,
		Investigator: BuildInvestigator(cfg.Intel, sugar),
		Executor:     executor,
		Enforcement:  stores.Enforcement,
		Gate:         soar.NewApprovalGate(sugar),
		Events:       e.Events,
		Notifier:     e.Notifier,
		Dedup:        dedup,
		Techniques:   techniques,
	}, pipeline.Options{
		ApprovalThreshold: &cfg.Pipeline.ApprovalThreshold,
	}, sugar)
	if err != nil {
		return fail(err)
	}
	e.Orchestrator = orch
	return e, nil
}

func (e *Engine) startRedis(ctx context.Context) error {
	cfg := e.Config.Redis
	e.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := e.redis.Ping(pingCtx).Err(); err != nil {
		printFatal("Redis Connection Failed", ClassifyConnectionError("Redis", err, cfg.Addr))
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	e.relay = broadcast.NewRedisRelay(e.redis, cfg.Channel, e.Events, e.logger)
	if err := e.relay.Start(ctx); err != nil {
		e.relay = nil
		return fmt.Errorf("failed to start redis event relay: %w", err)
	}
	return nil
}

// BuildInvestigator assembles the intel providers in routing order. The
// offline table goes last so it only answers types no keyed provider covers,
// and it is always added when no key is configured.
func BuildInvestigator(cfg config.IntelConfig, sugar *zap.SugaredLogger) *threat.Investigator {
	var providers []threat.Provider
	if cfg.AbuseIPDB.APIKey != "" {
		providers = append(providers, threat.WithRateLimit(
			threat.NewAbuseIPDBProvider(cfg.AbuseIPDB.APIKey, cfg.AbuseIPDB.BaseURL), cfg.AbuseIPDB.RequestsPerMinute))
	}
	if cfg.VirusTotal.APIKey != "" {
		providers = append(providers, threat.WithRateLimit(
			threat.NewVirusTotalProvider(cfg.VirusTotal.APIKey, cfg.VirusTotal.BaseURL), cfg.VirusTotal.RequestsPerMinute))
	}
	if cfg.OTX.APIKey != "" {
		providers = append(providers, threat.WithRateLimit(
			threat.NewOTXProvider(cfg.OTX.APIKey, cfg.OTX.BaseURL), cfg.OTX.RequestsPerMinute))
	}
	if cfg.Offline || len(providers) == 0 {
		providers = append(providers, threat.NewOfflineProvider())
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	sugar.Infow("Threat intel providers ready", "providers", names)
	return threat.NewInvestigator(providers, cfg.MaxInFlight, cfg.LookupTimeout, sugar)
}

// BuildEnforcers maps configured endpoints onto executor collaborators.
// Anything left nil is simulated by the executor.
func BuildEnforcers(cfg config.EnforcementConfig, alerts soar.AlertSink, sugar *zap.SugaredLogger) soar.Enforcers {
	policy := soar.WebhookPolicy{AllowPrivate: cfg.AllowPrivate, Allowlist: cfg.Allowlist}
	enforcers := soar.Enforcers{Alerts: alerts}

	if cfg.Firewall.URL != "" {
		enforcers.Firewall = soar.NewWebhookEnforcer("firewall", cfg.Firewall, policy, sugar)
	}
	if cfg.Blocklist.URL != "" {
		enforcers.Blocklist = soar.NewWebhookEnforcer("blocklist", cfg.Blocklist, policy, sugar)
	}
	if cfg.EDR.URL != "" {
		enforcers.Isolator = soar.NewWebhookEnforcer("edr", cfg.EDR, policy, sugar)
	}

	var directories []soar.NamedDirectory
	if cfg.Okta.Domain != "" && cfg.Okta.APIToken != "" {
		directories = append(directories, soar.NewOktaDirectory(cfg.Okta.Domain, cfg.Okta.APIToken, sugar))
	}
	if cfg.AzureAD.TenantID != "" && cfg.AzureAD.ClientID != "" && cfg.AzureAD.ClientSecret != "" {
		directories = append(directories, soar.NewAzureADDirectory(cfg.AzureAD.TenantID, cfg.AzureAD.ClientID, cfg.AzureAD.ClientSecret, sugar))
	}
	if len(directories) > 0 {
		enforcers.Directory = soar.NewDirectoryChain(sugar, directories...)
	}

	sugar.Infow("Enforcement collaborators ready",
		"firewall", enforcers.Firewall != nil,
		"blocklist", enforcers.Blocklist != nil,
		"edr", enforcers.Isolator != nil,
		"directories", len(directories))
	return enforcers
}

// Close stops the relay and releases storage. Callers shut the orchestrator
// down first.
func (e *Engine) Close(ctx context.Context) {
	if e.Notifier != nil {
		e.Notifier.Wait()
	}
	if e.relay != nil {
		e.relay.Stop()
	}
	if e.Events != nil {
		e.Events.Close()
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warnw("Failed to close Redis client", "error", err)
		}
	}
	e.Storage.Close(ctx, e.logger)
}
