package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverMongo  = "mongo"
)

var ErrUnknownDriver = errors.New("unknown store driver")

type Config struct {
	Env            string        `yaml:"env" env:"MODGATE_ENV" env-default:"local"`
	ListenAddr     string        `yaml:"listen_addr" env:"MODGATE_LISTEN" env-default:":3456"`
	DataDir        string        `yaml:"data_dir" env:"MODGATE_DATA_DIR" env-default:"./data"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"MODGATE_ALLOWED_ORIGINS" env-default:"*"`
	JWTSecret      string        `yaml:"jwt_secret" env:"MODGATE_JWT_SECRET"`
	TokenTTL       time.Duration `yaml:"token_ttl" env:"MODGATE_TOKEN_TTL" env-default:"168h"`
	GeoIPPath      string        `yaml:"geoip_path" env:"MODGATE_GEOIP_PATH"`
	MasterKey      string        `yaml:"master_key" env:"MODGATE_MASTER_KEY"`

	Log       Log       `yaml:"log"`
	Store     Store     `yaml:"store"`
	Access    Access    `yaml:"access"`
	RateLimit RateLimit `yaml:"ratelimit"`
}

type Log struct {
	Level string `yaml:"level" env:"MODGATE_LOG_LEVEL" env-default:"info"`
}

// Store selects and configures the document store backend.
type Store struct {
	Driver     string `yaml:"driver" env:"MODGATE_STORE_DRIVER" env-default:"sqlite"`
	SQLitePath string `yaml:"sqlite_path" env:"MODGATE_SQLITE_PATH"`

	RedisAddr      string `yaml:"redis_addr" env:"MODGATE_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword  string `yaml:"redis_password" env:"MODGATE_REDIS_PASSWORD"`
	RedisDB        int    `yaml:"redis_db" env:"MODGATE_REDIS_DB" env-default:"0"`
	RedisKeyPrefix string `yaml:"redis_key_prefix" env:"MODGATE_REDIS_KEY_PREFIX" env-default:"modgate"`

	MongoURI      string `yaml:"mongo_uri" env:"MODGATE_MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"MODGATE_MONGO_DATABASE" env-default:"modgate"`

	// Breaker is on, off or auto. Auto wraps redis and mongo only.
	Breaker string `yaml:"breaker" env:"MODGATE_STORE_BREAKER" env-default:"auto"`
}

// Access tunes the license refresh loop and grace period.
type Access struct {
	RefreshInterval  time.Duration `yaml:"refresh_interval" env:"MODGATE_REFRESH_INTERVAL" env-default:"60m"`
	GracePeriod      time.Duration `yaml:"grace_period" env:"MODGATE_GRACE_PERIOD" env-default:"24h"`
	TrialDays        int           `yaml:"trial_days" env:"MODGATE_TRIAL_DAYS" env-default:"30"`
	ExpiringSoonDays int           `yaml:"expiring_soon_days" env:"MODGATE_EXPIRING_SOON_DAYS" env-default:"7"`
}

type RateLimit struct {
	LoginPerMinute int `yaml:"login_per_minute" env:"MODGATE_LOGIN_PER_MINUTE" env-default:"10"`
}

// Load reads path when it exists and otherwise falls back to the
// environment and defaults. An empty path uses MODGATE_CONFIG, then
// config.yaml.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MODGATE_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverMemory, DriverRedis, DriverMongo:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Store.Driver)
	}
	if c.Access.TrialDays <= 0 {
		return fmt.Errorf("access.trial_days must be positive, got %d", c.Access.TrialDays)
	}
	if c.Access.RefreshInterval <= 0 || c.Access.GracePeriod <= 0 {
		return errors.New("access.refresh_interval and access.grace_period must be positive")
	}
	return nil
}

// SQLitePath is the configured database path or modgate.db under DataDir.
func (c *Config) SQLitePath() string {
	if c.Store.SQLitePath != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.DataDir, "modgate.db")
}

// BreakerEnabled reports whether the store should be wrapped in a breaker.
func (c *Config) BreakerEnabled() bool {
	switch c.Store.Breaker {
	case "on", "true":
		return true
	case "off", "false":
		return false
	}
	return c.Store.Driver == DriverRedis || c.Store.Driver == DriverMongo
}

// Usage describes every environment variable for --help output.
func Usage() string {
	var cfg Config
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return desc
}
