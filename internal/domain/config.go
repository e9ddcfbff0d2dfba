package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier selects the infrastructure profile
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Scoring pipeline
	Model    ModelConfig    `json:"model" mapstructure:"model"`
	Scoring  ScoringConfig  `json:"scoring" mapstructure:"scoring"`
	Rules    RulesConfig    `json:"rules" mapstructure:"rules"`
	Velocity VelocityConfig `json:"velocity" mapstructure:"velocity"`
	Worker   WorkerConfig   `json:"worker" mapstructure:"worker"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string `json:"host" mapstructure:"host"`
	Port            int    `json:"port" mapstructure:"port"`
	ReadTimeout     int    `json:"readTimeout" mapstructure:"readtimeout"`         // seconds
	WriteTimeout    int    `json:"writeTimeout" mapstructure:"writetimeout"`       // seconds
	ShutdownTimeout int    `json:"shutdownTimeout" mapstructure:"shutdowntimeout"` // seconds

	// Token bucket applied to every API route. Zero disables it.
	RateLimit float64 `json:"rateLimit" mapstructure:"ratelimit"` // requests per second
	RateBurst int     `json:"rateBurst" mapstructure:"rateburst"`
}

// ModelConfig locates the pre-fit model bundle.
type ModelConfig struct {
	// Bundle is a file path, file:// URL, s3://bucket/key or registry://<id|active>.
	Bundle string `json:"bundle" mapstructure:"bundle"`

	// S3 settings, used only for s3:// locations
	S3Region   string `json:"s3Region" mapstructure:"s3region"`
	S3Endpoint string `json:"s3Endpoint" mapstructure:"s3endpoint"`
}

// ScoringConfig holds the credit score mapping and result caching.
type ScoringConfig struct {
	Base     float64       `json:"base" mapstructure:"base"`
	Span     float64       `json:"span" mapstructure:"span"`
	CacheTTL time.Duration `json:"cacheTtl" mapstructure:"cachettl"`
}

// RulesConfig holds policy rule settings.
type RulesConfig struct {
	// Path to a YAML rule file. Empty means no policy rules.
	Path           string `json:"path" mapstructure:"path"`
	MaxConcurrency int    `json:"maxConcurrency" mapstructure:"maxconcurrency"`
}

// VelocityConfig controls the applicant enquiry counter.
type VelocityConfig struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	Window  time.Duration `json:"window" mapstructure:"window"`
}

// WorkerConfig controls async scoring from the event bus.
type WorkerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text

	// File enables a rotating log file instead of stdout.
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"maxSizeMb" mapstructure:"maxsizemb"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxbackups"`
	MaxAgeDays int    `json:"maxAgeDays" mapstructure:"maxagedays"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName  string  `json:"serviceName" mapstructure:"servicename"`
	ExporterType string  `json:"exporterType" mapstructure:"exportertype"` // none or log
	SampleRatio  float64 `json:"sampleRatio" mapstructure:"sampleratio"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// Tier represents the infrastructure profile.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process cache and Go channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
			RateLimit:       0,
			RateBurst:       50,
		},
		Tier: TierCommunity,
		Model: ModelConfig{
			Bundle: "./artifacts/model_data.json",
		},
		Scoring: ScoringConfig{
			Base:     300,
			Span:     600,
			CacheTTL: 10 * time.Minute,
		},
		Rules: RulesConfig{
			MaxConcurrency: 8,
		},
		Velocity: VelocityConfig{
			Enabled: true,
			Window:  24 * time.Hour,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "kestrel",
			ExporterType: "none",
			SampleRatio:  1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "kestrel",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
