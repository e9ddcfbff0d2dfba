// Package config loads Kestrel configuration from defaults, an optional
// YAML file, a .env file and KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g.
// KESTREL_SERVER_PORT or KESTREL_MODEL_BUNDLE.
const EnvPrefix = "KESTREL"

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. Empty searches ./kestrel.yaml and ./configs.
	File string
	// EnvFile is loaded into the environment first when present.
	EnvFile string
}

// Load builds the configuration. KESTREL_TIER selects the defaults
// (community or pro) before the file and environment are applied.
func Load(opts Options) (*domain.Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: load %s: %v", domain.ErrConfiguration, envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("kestrel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfiguration, err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", domain.ErrConfiguration, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combinations the components cannot recover from.
func Validate(cfg *domain.Config) error {
	var problems []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Server.RateLimit < 0 {
		problems = append(problems, "server.ratelimit must not be negative")
	}
	if cfg.Model.Bundle == "" {
		problems = append(problems, "model.bundle is required")
	}
	if cfg.Scoring.Span <= 0 {
		problems = append(problems, "scoring.span must be positive")
	}
	if cfg.Scoring.CacheTTL < 0 {
		problems = append(problems, "scoring.cachettl must not be negative (0 disables the score cache)")
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		problems = append(problems, fmt.Sprintf("unknown tier %q", cfg.Tier))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unknown repository driver %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis", "":
	default:
		problems = append(problems, fmt.Sprintf("unknown cache type %q", cfg.Cache.Type))
	}
	switch cfg.Tracing.ExporterType {
	case "none", "log", "":
	default:
		problems = append(problems, fmt.Sprintf("unknown tracing exporter %q", cfg.Tracing.ExporterType))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		problems = append(problems, "tracing.sampleratio must be within [0, 1]")
	}
	switch cfg.EventBus.Type {
	case "channel", "nats", "":
	default:
		problems = append(problems, fmt.Sprintf("unknown event bus type %q", cfg.EventBus.Type))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// setDefaults registers every key of base so AutomaticEnv can override
// keys that appear in no config file.
func setDefaults(v *viper.Viper, base *domain.Config) {
	defaults := map[string]any{
		"tier": string(base.Tier),

		"server.host":            base.Server.Host,
		"server.port":            base.Server.Port,
		"server.readtimeout":     base.Server.ReadTimeout,
		"server.writetimeout":    base.Server.WriteTimeout,
		"server.shutdowntimeout": base.Server.ShutdownTimeout,
		"server.ratelimit":       base.Server.RateLimit,
		"server.rateburst":       base.Server.RateBurst,

		"model.bundle":     base.Model.Bundle,
		"model.s3region":   base.Model.S3Region,
		"model.s3endpoint": base.Model.S3Endpoint,

		"scoring.base":     base.Scoring.Base,
		"scoring.span":     base.Scoring.Span,
		"scoring.cachettl": base.Scoring.CacheTTL,

		"rules.path":           base.Rules.Path,
		"rules.maxconcurrency": base.Rules.MaxConcurrency,

		"velocity.enabled": base.Velocity.Enabled,
		"velocity.window":  base.Velocity.Window,

		"worker.enabled": base.Worker.Enabled,

		"repository.driver":           base.Repository.Driver,
		"repository.sqlitepath":       base.Repository.SQLitePath,
		"repository.postgreshost":     base.Repository.PostgresHost,
		"repository.postgresport":     base.Repository.PostgresPort,
		"repository.postgresuser":     base.Repository.PostgresUser,
		"repository.postgrespassword": base.Repository.PostgresPassword,
		"repository.postgresdb":       base.Repository.PostgresDB,
		"repository.postgressslmode":  base.Repository.PostgresSSLMode,
		"repository.maxopenconns":     base.Repository.MaxOpenConns,
		"repository.maxidleconns":     base.Repository.MaxIdleConns,
		"repository.connmaxlifetime":  base.Repository.ConnMaxLifetime,

		"cache.type":           base.Cache.Type,
		"cache.redisaddr":      base.Cache.RedisAddr,
		"cache.redispassword":  base.Cache.RedisPassword,
		"cache.redisdb":        base.Cache.RedisDB,
		"cache.enabletwophase": base.Cache.EnableTwoPhase,
		"cache.localmaxsize":   base.Cache.LocalMaxSize,
		"cache.localttl":       base.Cache.LocalTTL,

		"eventbus.type":              base.EventBus.Type,
		"eventbus.channelbuffersize": base.EventBus.ChannelBufferSize,
		"eventbus.natsurl":           base.EventBus.NATSUrl,
		"eventbus.natstoken":         base.EventBus.NATSToken,
		"eventbus.natsmaxreconnects": base.EventBus.NATSMaxReconnects,
		"eventbus.natsreconnectwait": base.EventBus.NATSReconnectWait,

		"logging.level":      base.Logging.Level,
		"logging.format":     base.Logging.Format,
		"logging.file":       base.Logging.File,
		"logging.maxsizemb":  base.Logging.MaxSizeMB,
		"logging.maxbackups": base.Logging.MaxBackups,
		"logging.maxagedays": base.Logging.MaxAgeDays,
		"logging.compress":   base.Logging.Compress,

		"tracing.enabled":      base.Tracing.Enabled,
		"tracing.servicename":  base.Tracing.ServiceName,
		"tracing.exportertype": base.Tracing.ExporterType,
		"tracing.sampleratio":  base.Tracing.SampleRatio,

		"metrics.enabled": base.Metrics.Enabled,
		"metrics.path":    base.Metrics.Path,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
