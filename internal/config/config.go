package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDSN   string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL   string `env:"RABBITMQ_URL,required=true"`
	RedisURL      string `env:"REDIS_URL,required=true"`
	ProvidersFile string `env:"PROVIDERS_FILE"`
	APIPort       int    `env:"API_PORT,default=8080"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`
	LogFormat     string `env:"LOG_FORMAT,default=json"`

	Database  DatabaseConfig
	Worker    WorkerConfig
	Dispatch  DispatchConfig
	Scheduler SchedulerConfig
	Limits    LimitsConfig
}

type DatabaseConfig struct {
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`
}

type WorkerConfig struct {
	Concurrency int `env:"WORKER_CONCURRENCY,default=16"`
	Prefetch    int `env:"WORKER_PREFETCH,default=10"`
}

type DispatchConfig struct {
	ThrottleDelay  time.Duration `env:"THROTTLE_DELAY,default=30s"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY,default=60s"`
	SendTimeout    time.Duration `env:"PROVIDER_SEND_TIMEOUT,default=10s"`
}

type SchedulerConfig struct {
	PollInterval      time.Duration `env:"SCHEDULER_POLL_INTERVAL,default=5s"`
	BatchSize         int           `env:"SCHEDULER_BATCH_SIZE,default=100"`
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT,default=5m"`
	StalePendingAfter time.Duration `env:"STALE_PENDING_AFTER,default=10m"`
	RetryScanInterval time.Duration `env:"RETRY_SCAN_INTERVAL,default=1m"`
}

type LimitsConfig struct {
	APIKeyPerHour        int `env:"API_KEY_RATE_LIMIT_PER_HOUR,default=1000"`
	BulkOperationPerHour int `env:"BULK_OPERATIONS_PER_HOUR,default=10"`
}

// Load reads configuration from the environment. Each listed dotenv file is
// loaded first when present; variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if strings.TrimSpace(file) == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("invalid config: WORKER_CONCURRENCY must be >= 1")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("invalid config: SCHEDULER_POLL_INTERVAL must be positive")
	}
	if c.Scheduler.BatchSize < 1 {
		return fmt.Errorf("invalid config: SCHEDULER_BATCH_SIZE must be >= 1")
	}
	if c.Dispatch.RetryBaseDelay <= 0 || c.Dispatch.ThrottleDelay <= 0 {
		return fmt.Errorf("invalid config: dispatch delays must be positive")
	}
	if c.ProvidersFile != "" {
		if _, err := os.Stat(c.ProvidersFile); err != nil {
			return fmt.Errorf("invalid config: PROVIDERS_FILE: %w", err)
		}
	}
	return nil
}
