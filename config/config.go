// Package config loads guardian configuration from config.yaml, environment
// variables (prefix GUARDIAN_) and an optional secrets backend.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	TLS            bool     `mapstructure:"tls"`
	CertFile       string   `mapstructure:"cert_file"`
	KeyFile        string   `mapstructure:"key_file"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimit      struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
}

// AuthConfig configures the single admin principal.
type AuthConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	HashedPassword string        `mapstructure:"hashed_password"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTExpiry      time.Duration `mapstructure:"jwt_expiry"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	TOTPSecret     string        `mapstructure:"totp_secret"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	ApprovalThreshold int           `mapstructure:"approval_threshold"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	DedupCacheSize    int           `mapstructure:"dedup_cache_size"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
}

// ProviderConfig holds credentials for one intel provider.
type ProviderConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
}

// IntelConfig configures the intelligence fan-out.
type IntelConfig struct {
	MaxInFlight   int            `mapstructure:"max_in_flight"`
	LookupTimeout time.Duration  `mapstructure:"lookup_timeout"`
	AbuseIPDB     ProviderConfig `mapstructure:"abuseipdb"`
	VirusTotal    ProviderConfig `mapstructure:"virustotal"`
	OTX           ProviderConfig `mapstructure:"otx"`
	// Offline enables the built-in known-bad table. It is always used when no
	// provider key is configured.
	Offline bool `mapstructure:"offline"`
}

// ReasoningConfig selects and configures the reasoning gateway.
type ReasoningConfig struct {
	// Provider is "auto", "llm" or "heuristic". auto uses the LLM when an API key is set.
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	RegexTimeout time.Duration `mapstructure:"regex_timeout"`
}

// WebhookTarget is an enforcement endpoint reached over HTTP.
type WebhookTarget struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// EnforcementConfig wires the action executor's collaborators.
type EnforcementConfig struct {
	Firewall     WebhookTarget `mapstructure:"firewall"`
	Blocklist    WebhookTarget `mapstructure:"blocklist"`
	EDR          WebhookTarget `mapstructure:"edr"`
	AllowPrivate bool          `mapstructure:"allow_private"`
	Allowlist    []string      `mapstructure:"allowlist"`
	Okta         struct {
		Domain   string `mapstructure:"domain"`
		APIToken string `mapstructure:"api_token"`
	} `mapstructure:"okta"`
	AzureAD struct {
		TenantID     string `mapstructure:"tenant_id"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"azure_ad"`
}

// SOARConfig holds safety switches for destructive actions.
type SOARConfig struct {
	DestructiveActionsEnabled bool `mapstructure:"destructive_actions_enabled"`
}

// NotificationsConfig configures outbound notifications.
type NotificationsConfig struct {
	MinRisk int `mapstructure:"min_risk"`
	Slack   struct {
		Enabled    bool   `mapstructure:"enabled"`
		WebhookURL string `mapstructure:"webhook_url"`
	} `mapstructure:"slack"`
	Webhook struct {
		Enabled bool              `mapstructure:"enabled"`
		URL     string            `mapstructure:"url"`
		Headers map[string]string `mapstructure:"headers"`
	} `mapstructure:"webhook"`
	Email struct {
		Enabled    bool     `mapstructure:"enabled"`
		SMTPServer string   `mapstructure:"smtp_server"`
		SMTPPort   int      `mapstructure:"smtp_port"`
		Username   string   `mapstructure:"username"`
		Password   string   `mapstructure:"password"`
		From       string   `mapstructure:"from"`
		To         []string `mapstructure:"to"`
	} `mapstructure:"email"`
}

// StorageConfig selects the incident and enforcement backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Mongo      struct {
		URI         string `mapstructure:"uri"`
		Database    string `mapstructure:"database"`
		MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	} `mapstructure:"mongo"`
}

// ClickHouseConfig configures the action audit sink.
type ClickHouseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
}

// RedisConfig configures the cross-instance event relay and dedup claims.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// IngestConfig configures the syslog intake. Lines from the same host and
// program arriving within BatchWindow are submitted as one incident.
type IngestConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Host                string        `mapstructure:"host"`
	UDPPort             int           `mapstructure:"udp_port"`
	TCPPort             int           `mapstructure:"tcp_port"`
	RateLimit           int           `mapstructure:"rate_limit"`
	MaxConnections      int           `mapstructure:"max_connections"`
	MaxConnectionsPerIP int           `mapstructure:"max_connections_per_ip"`
	BatchWindow         time.Duration `mapstructure:"batch_window"`
	BatchMaxLines       int           `mapstructure:"batch_max_lines"`
}

// MitreConfig points at an optional enterprise-attack STIX bundle. Without
// one, the built-in technique catalog is used.
type MitreConfig struct {
	BundlePath string `mapstructure:"bundle_path"`
}

// TracingConfig enables OpenTelemetry stage spans.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SecretsConfig selects where credentials are read from.
type SecretsConfig struct {
	Provider string `mapstructure:"provider"`
	Vault    struct {
		Address string `mapstructure:"address"`
		Token   string `mapstructure:"token"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"vault"`
	AWS struct {
		Region    string `mapstructure:"region"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		SecretID  string `mapstructure:"secret_id"`
	} `mapstructure:"aws"`
}

// Config is the complete guardian configuration.
type Config struct {
	LogLevel      string              `mapstructure:"log_level"`
	DataDir       string              `mapstructure:"data_dir"`
	API           APIConfig           `mapstructure:"api"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Intel         IntelConfig         `mapstructure:"intel"`
	Reasoning     ReasoningConfig     `mapstructure:"reasoning"`
	Enforcement   EnforcementConfig   `mapstructure:"enforcement"`
	SOAR          SOARConfig          `mapstructure:"soar"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Storage       StorageConfig       `mapstructure:"storage"`
	ClickHouse    ClickHouseConfig    `mapstructure:"clickhouse"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Mitre         MitreConfig         `mapstructure:"mitre"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Secrets       SecretsConfig       `mapstructure:"secrets"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "./data")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8000)
	v.SetDefault("api.tls", false)
	v.SetDefault("api.cert_file", "server.crt")
	v.SetDefault("api.key_file", "server.key")
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("api.rate_limit.requests_per_second", 20)
	v.SetDefault("api.rate_limit.burst", 40)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.hashed_password", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", 8*time.Hour)
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)
	v.SetDefault("auth.totp_secret", "")

	v.SetDefault("pipeline.approval_threshold", 7)
	v.SetDefault("pipeline.dedup_window", time.Duration(0)) // 0 disables submission dedup
	v.SetDefault("pipeline.dedup_cache_size", 10000)
	v.SetDefault("pipeline.shutdown_timeout", 30*time.Second)
	v.SetDefault("pipeline.subscriber_buffer", 64)

	v.SetDefault("intel.max_in_flight", 4)
	v.SetDefault("intel.lookup_timeout", 15*time.Second)
	v.SetDefault("intel.abuseipdb.api_key", "")
	v.SetDefault("intel.abuseipdb.base_url", "https://api.abuseipdb.com/api/v2")
	v.SetDefault("intel.abuseipdb.requests_per_minute", 60)
	v.SetDefault("intel.virustotal.api_key", "")
	v.SetDefault("intel.virustotal.base_url", "https://www.virustotal.com/api/v3")
	v.SetDefault("intel.virustotal.requests_per_minute", 4) // public API quota
	v.SetDefault("intel.otx.api_key", "")
	v.SetDefault("intel.otx.base_url", "https://otx.alienvault.com/api/v1")
	v.SetDefault("intel.otx.requests_per_minute", 60)
	v.SetDefault("intel.offline", true)

	v.SetDefault("reasoning.provider", "auto")
	v.SetDefault("reasoning.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("reasoning.model", "llama-3.3-70b-versatile")
	v.SetDefault("reasoning.api_key", "")
	v.SetDefault("reasoning.timeout", 90*time.Second)
	v.SetDefault("reasoning.max_tokens", 2048)
	v.SetDefault("reasoning.regex_timeout", 100*time.Millisecond)

	v.SetDefault("enforcement.firewall.url", "")
	v.SetDefault("enforcement.blocklist.url", "")
	v.SetDefault("enforcement.edr.url", "")
	v.SetDefault("enforcement.allow_private", true) // firewall and EDR managers usually live on internal networks
	v.SetDefault("enforcement.allowlist", []string{})
	v.SetDefault("enforcement.okta.domain", "")
	v.SetDefault("enforcement.okta.api_token", "")
	v.SetDefault("enforcement.azure_ad.tenant_id", "")
	v.SetDefault("enforcement.azure_ad.client_id", "")
	v.SetDefault("enforcement.azure_ad.client_secret", "")

	v.SetDefault("soar.destructive_actions_enabled", true)

	v.SetDefault("notifications.min_risk", 0)
	v.SetDefault("notifications.slack.enabled", false)
	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.email.enabled", false)
	v.SetDefault("notifications.email.smtp_server", "")
	v.SetDefault("notifications.email.smtp_port", 587)
	v.SetDefault("notifications.email.username", "")
	v.SetDefault("notifications.email.password", "")
	v.SetDefault("notifications.email.from", "")
	v.SetDefault("notifications.email.to", []string{})

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("storage.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo.database", "guardian")
	v.SetDefault("storage.mongo.max_pool_size", 10)

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.addr", "localhost:9000")
	v.SetDefault("clickhouse.database", "guardian")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.tls", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "guardian:events")

	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.host", "0.0.0.0")
	v.SetDefault("ingest.udp_port", 5514)
	v.SetDefault("ingest.tcp_port", 5514)
	v.SetDefault("ingest.rate_limit", 500)
	v.SetDefault("ingest.max_connections", 1000)
	v.SetDefault("ingest.max_connections_per_ip", 10)
	v.SetDefault("ingest.batch_window", 5*time.Second)
	v.SetDefault("ingest.batch_max_lines", 200)

	v.SetDefault("mitre.bundle_path", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "guardian")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.path", "secret/guardian")
	v.SetDefault("secrets.aws.region", "us-east-1")
	v.SetDefault("secrets.aws.access_key", "")
	v.SetDefault("secrets.aws.secret_key", "")
	v.SetDefault("secrets.aws.secret_id", "guardian/secrets")
}

// loadFromEnv maps GUARDIAN_SECTION_KEY onto section.key and binds the
// conventional vendor variable names as fallbacks.
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("intel.abuseipdb.api_key", "GUARDIAN_INTEL_ABUSEIPDB_API_KEY", "ABUSEIPDB_API_KEY")
	_ = v.BindEnv("intel.virustotal.api_key", "GUARDIAN_INTEL_VIRUSTOTAL_API_KEY", "VIRUSTOTAL_API_KEY")
	_ = v.BindEnv("intel.otx.api_key", "GUARDIAN_INTEL_OTX_API_KEY", "OTX_API_KEY")
	_ = v.BindEnv("reasoning.api_key", "GUARDIAN_REASONING_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("enforcement.okta.domain", "GUARDIAN_ENFORCEMENT_OKTA_DOMAIN", "OKTA_DOMAIN")
	_ = v.BindEnv("enforcement.okta.api_token", "GUARDIAN_ENFORCEMENT_OKTA_API_TOKEN", "OKTA_API_TOKEN")
	_ = v.BindEnv("enforcement.azure_ad.tenant_id", "GUARDIAN_ENFORCEMENT_AZURE_AD_TENANT_ID", "AZURE_TENANT_ID")
	_ = v.BindEnv("enforcement.azure_ad.client_id", "GUARDIAN_ENFORCEMENT_AZURE_AD_CLIENT_ID", "AZURE_CLIENT_ID")
	_ = v.BindEnv("enforcement.azure_ad.client_secret", "GUARDIAN_ENFORCEMENT_AZURE_AD_CLIENT_SECRET", "AZURE_CLIENT_SECRET")
	_ = v.BindEnv("notifications.slack.webhook_url", "GUARDIAN_NOTIFICATIONS_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL")
}

// LoadConfig reads config.yaml from . or ./config, then the environment,
// then the secrets backend, and validates the result.
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load is LoadConfig with an explicit config file path. An empty path
// searches the default locations; a missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := LoadSecrets(&cfg); err != nil {
		return nil, err
	}

	if err := validateAndHash(&cfg); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	return &cfg, nil
}

func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.DataDir, "guardian.db")
	}
}

// SQLitePath returns the resolved SQLite database path
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath == "" {
		return filepath.Join(c.DataDir, "guardian.db")
	}
	return c.Storage.SQLitePath
}

// validateAndHash hashes a plain admin password and validates the result.
func validateAndHash(cfg *Config) error {
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret != "" {
		if len(cfg.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT secret must be at least 32 characters (256 bits)")
		}
		lower := strings.ToLower(cfg.Auth.JWTSecret)
		for _, weak := range []string{"secret", "password", "changeme", "default", "guardian"} {
			if strings.Contains(lower, weak) {
				return fmt.Errorf("JWT secret appears to contain a weak/default value")
			}
		}
	}

	if cfg.Auth.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.Auth.Password), cfg.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		cfg.Auth.HashedPassword = string(hashed)
		cfg.Auth.Password = ""
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", c.API.Port)
	}
	if c.Pipeline.ApprovalThreshold < 0 || c.Pipeline.ApprovalThreshold > 10 {
		return fmt.Errorf("pipeline.approval_threshold must be between 0 and 10, got %d", c.Pipeline.ApprovalThreshold)
	}
	if c.Pipeline.DedupWindow < 0 {
		return fmt.Errorf("pipeline.dedup_window cannot be negative")
	}
	if c.Pipeline.SubscriberBuffer < 1 {
		return fmt.Errorf("pipeline.subscriber_buffer must be positive, got %d", c.Pipeline.SubscriberBuffer)
	}
	if c.Intel.MaxInFlight < 1 || c.Intel.MaxInFlight > 64 {
		return fmt.Errorf("intel.max_in_flight must be between 1 and 64, got %d", c.Intel.MaxInFlight)
	}

	if c.Ingest.Enabled {
		if c.Ingest.UDPPort < 0 || c.Ingest.UDPPort > 65535 || c.Ingest.TCPPort < 0 || c.Ingest.TCPPort > 65535 {
			return fmt.Errorf("ingest ports must be between 0 and 65535")
		}
		if c.Ingest.UDPPort == 0 && c.Ingest.TCPPort == 0 {
			return fmt.Errorf("ingest is enabled but both udp_port and tcp_port are 0")
		}
		if c.Ingest.RateLimit < 1 {
			return fmt.Errorf("ingest.rate_limit must be positive, got %d", c.Ingest.RateLimit)
		}
		if c.Ingest.BatchMaxLines < 1 {
			return fmt.Errorf("ingest.batch_max_lines must be positive, got %d", c.Ingest.BatchMaxLines)
		}
	}

	switch c.Reasoning.Provider {
	case "auto", "heuristic":
	case "llm":
		if c.Reasoning.APIKey == "" {
			return fmt.Errorf("reasoning.provider is llm but no reasoning.api_key is set")
		}
	default:
		return fmt.Errorf("reasoning.provider must be auto, llm or heuristic, got %q", c.Reasoning.Provider)
	}
	if c.Reasoning.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Reasoning.BaseURL); err != nil {
			return fmt.Errorf("invalid reasoning.base_url: %w", err)
		}
	}

	switch c.Storage.Backend {
	case "sqlite":
	case "mongo":
		if !strings.HasPrefix(c.Storage.Mongo.URI, "mongodb://") && !strings.HasPrefix(c.Storage.Mongo.URI, "mongodb+srv://") {
			return fmt.Errorf("invalid storage.mongo.uri: must start with mongodb:// or mongodb+srv://")
		}
		if c.Storage.Mongo.Database == "" {
			return fmt.Errorf("storage.mongo.database cannot be empty")
		}
	default:
		return fmt.Errorf("storage.backend must be sqlite or mongo, got %q", c.Storage.Backend)
	}

	if c.Notifications.Email.Enabled {
		if c.Notifications.Email.SMTPServer == "" || len(c.Notifications.Email.To) == 0 {
			return fmt.Errorf("email notifications need smtp_server and at least one recipient")
		}
	}

	if c.Auth.Enabled {
		if c.Auth.Username == "" {
			return fmt.Errorf("username cannot be empty when auth is enabled")
		}
		if c.Auth.HashedPassword == "" {
			return fmt.Errorf("authentication enabled but no password set")
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("authentication enabled but no JWT secret set")
		}
	}
	return nil
}
