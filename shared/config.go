// shared/config.go
package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAPIGatewayPort = "8080"
	DefaultWorkerPort     = "8081" // Workers expose their own HTTP endpoint for health checks and metrics
	DefaultMaxWorkers     = 3
	DefaultAdminToken     = "super-secret-admin-token-change-me" // CHANGE THIS IN PRODUCTION
	DefaultQueueName      = "jobs"
)

// Config holds global configuration for the services
type Config struct {
	APIGatewayPort string `yaml:"api_gateway_port" env:"API_GATEWAY_PORT" env-default:"8080"`
	WorkerPort     string `yaml:"worker_port" env:"WORKER_PORT" env-default:"8081"`
	MaxWorkers     int    `yaml:"max_workers" env:"MAX_WORKERS" env-default:"3"`
	// EmbeddedWorkers runs a worker pool inside the API gateway. It is forced
	// on when Redis is not configured, as nothing else can reach the in-memory queue.
	EmbeddedWorkers bool   `yaml:"embedded_workers" env:"EMBEDDED_WORKERS" env-default:"true"`
	AdminToken      string `yaml:"admin_token" env:"ADMIN_TOKEN"`

	// Redis (optional). If RedisAddr is empty, in-memory implementations are used.
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`

	// Queue configuration. A QueueMaxLength of zero leaves the lanes unbounded.
	QueueName      string `yaml:"queue_name" env:"QUEUE_NAME" env-default:"jobs"`
	QueueMaxLength int    `yaml:"queue_max_length" env:"QUEUE_MAX_LENGTH" env-default:"0"`

	// CORS and URL validation. An empty host list accepts any host.
	AllowedOrigins    []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-default:"*" env-separator:","`
	AllowedVideoHosts []string `yaml:"allowed_video_hosts" env:"ALLOWED_VIDEO_HOSTS" env-separator:","`

	// Rate limiting (requests per minute per IP)
	RateLimitRPM int `yaml:"rate_limit_rpm" env:"RATE_LIMIT_RPM" env-default:"300"`

	// Public base URL for API (used for download link construction)
	PublicAPIBaseURL string `yaml:"public_api_base_url" env:"PUBLIC_API_BASE_URL"`

	// External binaries configuration
	YtDlpPath  string `yaml:"ytdlp_path" env:"YTDLP_PATH" env-default:"yt-dlp"`
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH"` // empty lets yt-dlp find ffmpeg itself
	OutputDir  string `yaml:"output_dir" env:"OUTPUT_DIR" env-default:"./downloads"`

	// Content limits
	MaxVideoDurationSeconds int `yaml:"max_video_duration_seconds" env:"MAX_VIDEO_DURATION_SECONDS" env-default:"0"`

	Cache CacheConfig `yaml:"cache"`

	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL" env-default:"1s"`
	WatchTimeout time.Duration `yaml:"watch_timeout" env:"WATCH_TIMEOUT" env-default:"5m"`
	JobTimeout   time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT" env-default:"30m"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"console"`
}

// CacheConfig selects and sizes the metadata cache
type CacheConfig struct {
	Type          string        `yaml:"type" env:"CACHE_TYPE" env-default:"memory"` // "memory", "redis", "noop"
	TTL           time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"1h"`
	MaxEntries    int           `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"10000"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"CACHE_SWEEP_INTERVAL" env-default:"5m"`
	KeyPrefix     string        `yaml:"key_prefix" env:"CACHE_KEY_PREFIX" env-default:"meta:"`
}

// LoadConfig loads configuration from an optional .env file, then either the
// YAML file at path (when non-empty) or the environment alone.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, environment variables might be set manually
		log.Debug().Msg("No .env file found")
	}

	cfg := &Config{}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.normalise()
	return cfg, nil
}

func (cfg *Config) normalise() {
	if cfg.MaxWorkers <= 0 {
		log.Info().Int("default", DefaultMaxWorkers).Msg("MAX_WORKERS not set or invalid, using default")
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if strings.TrimSpace(cfg.AdminToken) == "" {
		log.Warn().Msg("ADMIN_TOKEN not set. Using default development token. DO NOT USE IN PRODUCTION.")
		cfg.AdminToken = DefaultAdminToken
	}
	if strings.TrimSpace(cfg.QueueName) == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.RedisAddr == "" {
		cfg.EmbeddedWorkers = true
		if cfg.Cache.Type == "redis" {
			log.Warn().Msg("CACHE_TYPE=redis requires REDIS_ADDR, falling back to memory cache")
			cfg.Cache.Type = "memory"
		}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	cfg.AllowedOrigins = cleanList(cfg.AllowedOrigins)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	cfg.AllowedVideoHosts = cleanList(cfg.AllowedVideoHosts)
}

// UsesRedis reports whether the shared Redis backends are configured.
func (cfg *Config) UsesRedis() bool {
	return cfg.RedisAddr != ""
}

// cleanList trims entries and removes empty ones
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
