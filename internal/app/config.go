package app

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the portal.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	// AdminAddr serves /metrics and /jobs/health; keep it off the public network.
	AdminAddr string `envconfig:"ADMIN_ADDR" default:"127.0.0.1:9090"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`

	// PGDSN is optional; without it login sessions are not recorded.
	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionCookie string        `envconfig:"SESSION_COOKIE" default:"emis_session"`

	CSRFSecret     string `envconfig:"CSRF_SECRET" required:"true"`
	RememberSecret string `envconfig:"REMEMBER_SECRET"`

	APIURL     string        `envconfig:"EMIS_API_URL" default:"http://127.0.0.1:5000"`
	APITimeout time.Duration `envconfig:"EMIS_API_TIMEOUT" default:"15s"`

	RealtimeChannelPrefix string        `envconfig:"REALTIME_CHANNEL_PREFIX" default:"emis:room:"`
	TokenVerifyInterval   time.Duration `envconfig:"TOKEN_VERIFY_INTERVAL" default:"5m"`
	StatsCacheTTL         time.Duration `envconfig:"STATS_CACHE_TTL" default:"10m"`
	RegistrySweepCron     string        `envconfig:"REGISTRY_SWEEP_CRON" default:"*/15 * * * *"`

	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret must be provided")
	}
	if cfg.CSRFSecret == "" {
		return nil, errors.New("csrf secret must be provided")
	}
	if cfg.RememberSecret == "" {
		cfg.RememberSecret = cfg.SessionSecret
	}
	if cfg.APIURL == "" {
		return nil, errors.New("emis api url must be provided")
	}
	return &cfg, nil
}

// IsProduction returns true when the portal runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
