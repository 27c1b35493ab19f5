package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/places-sync/internal/cost"
	"github.com/sells-group/places-sync/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Photos     PhotosConfig     `yaml:"photos" mapstructure:"photos"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
}

// RateLimitConfig configures the shared API call gate.
type RateLimitConfig struct {
	DailyLimit     int            `yaml:"daily_limit" mapstructure:"daily_limit" validate:"gt=0"`
	PerMinuteLimit int            `yaml:"per_minute_limit" mapstructure:"per_minute_limit" validate:"gt=0"`
	DailyByType    map[string]int `yaml:"daily_by_type" mapstructure:"daily_by_type" validate:"dive,gte=0"`
	Timezone       string         `yaml:"timezone" mapstructure:"timezone"`
}

// SearchConfig configures paginated text search.
type SearchConfig struct {
	CacheTTLMins  int     `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins" validate:"gt=0"`
	DefaultRadius int     `yaml:"default_radius" mapstructure:"default_radius" validate:"gte=0"`
	DefaultLimit  int     `yaml:"default_limit" mapstructure:"default_limit" validate:"gt=0,lte=20"`
	CenterLat     float64 `yaml:"center_lat" mapstructure:"center_lat" validate:"gte=-90,lte=90"`
	CenterLng     float64 `yaml:"center_lng" mapstructure:"center_lng" validate:"gte=-180,lte=180"`
}

// ImportConfig configures search-driven business import.
type ImportConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"gt=0,lte=20"`
	MaxPages    int `yaml:"max_pages" mapstructure:"max_pages" validate:"gt=0"`
}

// PhotosConfig configures photo ingestion and optimization.
type PhotosConfig struct {
	MaxPerBusiness int     `yaml:"max_per_business" mapstructure:"max_per_business" validate:"gte=0"`
	MaxWidthPx     int     `yaml:"max_width_px" mapstructure:"max_width_px" validate:"gt=0,lte=4800"`
	MinBytes       int     `yaml:"min_bytes" mapstructure:"min_bytes" validate:"gte=0"`
	DownloadRPS    float64 `yaml:"download_rps" mapstructure:"download_rps" validate:"gte=0"`
	BucketURL      string  `yaml:"bucket_url" mapstructure:"bucket_url" validate:"required"`
	Optimize       bool    `yaml:"optimize" mapstructure:"optimize"`
	MaxDimension   int     `yaml:"max_dimension" mapstructure:"max_dimension" validate:"gt=0"`
	JPEGQuality    int     `yaml:"jpeg_quality" mapstructure:"jpeg_quality" validate:"gte=1,lte=100"`
}

// QueueConfig configures the background photo queue.
type QueueConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size" validate:"gt=0"`
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs" validate:"gt=0"`
}

// MonitoringConfig configures usage rollups and threshold alerts.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	UsageWarnPct          float64 `yaml:"usage_warn_pct" mapstructure:"usage_warn_pct" validate:"gte=0,lte=1"`
	UsageCriticalPct      float64 `yaml:"usage_critical_pct" mapstructure:"usage_critical_pct" validate:"gte=0,lte=1"`
	QueueBacklogThreshold int     `yaml:"queue_backlog_threshold" mapstructure:"queue_backlog_threshold" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLACES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "places.db")
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.timeout_secs", 10)
	v.SetDefault("ratelimit.daily_limit", 100000)
	v.SetDefault("ratelimit.per_minute_limit", 60)
	v.SetDefault("ratelimit.timezone", "UTC")
	v.SetDefault("search.cache_ttl_mins", 60)
	v.SetDefault("search.default_radius", 5000)
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.center_lat", 0.0)
	v.SetDefault("search.center_lng", 0.0)
	v.SetDefault("import.concurrency", 4)
	v.SetDefault("import.max_pages", 3)
	v.SetDefault("photos.max_per_business", 10)
	v.SetDefault("photos.max_width_px", 1600)
	v.SetDefault("photos.min_bytes", 1024)
	v.SetDefault("photos.download_rps", 2.0)
	v.SetDefault("photos.bucket_url", "file:///var/lib/places-sync/media")
	v.SetDefault("photos.optimize", true)
	v.SetDefault("photos.max_dimension", 1920)
	v.SetDefault("photos.jpeg_quality", 85)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.interval_secs", 60)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.usage_warn_pct", 0.8)
	v.SetDefault("monitoring.usage_critical_pct", 0.95)
	v.SetDefault("monitoring.queue_backlog_threshold", 500)
	v.SetDefault("pricing.per_thousand", cost.DefaultRates().PerThousand)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, eris.Wrap(resilience.NewConfigError(err.Error()), "config: validate")
	}

	return &cfg, nil
}

// Validate checks the settings a specific command needs beyond the
// struct-level rules enforced by Load. Returned errors match
// resilience.ErrConfiguration.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "api":
		if c.Google.Key == "" {
			problems = append(problems, "google.key is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Google.Key == "" {
			problems = append(problems, "google.key is required")
		}
	case "store":
	default:
		return resilience.NewConfigError(fmt.Sprintf("unknown mode %q", mode))
	}

	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}
	if c.Monitoring.UsageCriticalPct > 0 && c.Monitoring.UsageWarnPct > c.Monitoring.UsageCriticalPct {
		problems = append(problems, "monitoring.usage_warn_pct must be <= usage_critical_pct")
	}

	if len(problems) > 0 {
		return resilience.NewConfigError(strings.Join(problems, "; "))
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
