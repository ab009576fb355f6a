package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/yesterday/internal/store"
)

// Config is the top-level configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	GovUK      GovUKConfig      `yaml:"govuk" mapstructure:"govuk"`
	Parliament ParliamentConfig `yaml:"parliament" mapstructure:"parliament"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PoolConfig returns the Postgres pool tuning.
func (c StoreConfig) PoolConfig() *store.PoolConfig {
	return &store.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns}
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// HTTPConfig applies to every upstream client.
type HTTPConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the read timeout for upstream responses.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// GovUKConfig configures the GOV.UK search client.
type GovUKConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize    int     `yaml:"page_size" mapstructure:"page_size"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// BaseDelay returns the initial retry backoff.
func (c GovUKConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// ParliamentConfig configures the Bills and Statutory Instruments clients.
type ParliamentConfig struct {
	BillsBaseURL string  `yaml:"bills_base_url" mapstructure:"bills_base_url"`
	SIsBaseURL   string  `yaml:"sis_base_url" mapstructure:"sis_base_url"`
	PageSize     int     `yaml:"page_size" mapstructure:"page_size"`
	MaxItems     int     `yaml:"max_items" mapstructure:"max_items"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ScheduleConfig configures the Temporal cron trigger.
type ScheduleConfig struct {
	Timezone        string `yaml:"timezone" mapstructure:"timezone"`
	Cron            string `yaml:"cron" mapstructure:"cron"`
	TemporalAddress string `yaml:"temporal_address" mapstructure:"temporal_address"`
	Namespace       string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue       string `yaml:"task_queue" mapstructure:"task_queue"`
}

// RedisConfig enables the day-index read cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	TTLSecs  int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// MonitoringConfig configures run health checks and alert delivery.
type MonitoringConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackDays      int    `yaml:"lookback_days" mapstructure:"lookback_days"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StuckAfterMins    int    `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins"`
}

// StuckAfter returns how long a run may stay RUNNING before it is reported.
func (c MonitoringConfig) StuckAfter() time.Duration {
	return time.Duration(c.StuckAfterMins) * time.Minute
}

// CheckInterval returns the delay between monitor passes.
func (c MonitoringConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSecs) * time.Second
}

// Load reads configuration from config.yaml and YESTERDAY_* environment
// variables. Env wins over file, file wins over defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("YESTERDAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("http.user_agent", "yesterday/1.0")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("govuk.base_url", "https://www.gov.uk")
	v.SetDefault("govuk.page_size", 100)
	v.SetDefault("govuk.max_retries", 3)
	v.SetDefault("govuk.base_delay_ms", 1000)
	v.SetDefault("govuk.rate_per_sec", 5.0)
	v.SetDefault("parliament.bills_base_url", "https://bills-api.parliament.uk")
	v.SetDefault("parliament.sis_base_url", "https://statutoryinstruments-api.parliament.uk")
	v.SetDefault("parliament.page_size", 200)
	v.SetDefault("parliament.max_items", 1000)
	v.SetDefault("parliament.rate_per_sec", 5.0)
	v.SetDefault("schedule.timezone", "Europe/London")
	v.SetDefault("schedule.cron", "0 2 * * *")
	v.SetDefault("schedule.temporal_address", "localhost:7233")
	v.SetDefault("schedule.namespace", "default")
	v.SetDefault("schedule.task_queue", "yesterday-ingest")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_secs", 3600)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.lookback_days", 7)
	v.SetDefault("monitoring.check_interval_secs", 3600)
	v.SetDefault("monitoring.stuck_after_mins", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	// Registering the cron schedule is the only mode that never opens the store.
	if mode != "schedule" {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required (sqlite file path)")
			}
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
	}

	switch mode {
	case "ingest", "migrate", "query":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "worker", "schedule":
		if c.Schedule.TemporalAddress == "" {
			errs = append(errs, "schedule.temporal_address is required")
		}
		if c.Schedule.TaskQueue == "" {
			errs = append(errs, "schedule.task_queue is required")
		}
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			errs = append(errs, "schedule.timezone is not a known zone")
		}
	case "monitor":
		if c.Monitoring.LookbackDays < 1 {
			errs = append(errs, "monitoring.lookback_days must be >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.GovUK.PageSize < 1 || c.GovUK.PageSize > 1000 {
		errs = append(errs, "govuk.page_size must be between 1 and 1000")
	}
	if c.GovUK.MaxRetries < 1 {
		errs = append(errs, "govuk.max_retries must be >= 1")
	}
	if c.Parliament.PageSize < 1 {
		errs = append(errs, "parliament.page_size must be >= 1")
	}
	if c.Parliament.MaxItems < c.Parliament.PageSize {
		errs = append(errs, "parliament.max_items must be >= parliament.page_size")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
