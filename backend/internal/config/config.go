package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"taskify/backend/internal/utils"
)

type ServerConfig struct {
	Host         string        `toml:"host"`
	Port         int           `toml:"port"`
	Environment  string        `toml:"environment"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	IdleTimeout  time.Duration `toml:"idle_timeout"`
	AllowOrigins []string      `toml:"allow_origins"`
}

type DatabaseConfig struct {
	Driver          string        `toml:"driver"` // "postgres" or "sqlite"
	DSN             string        `toml:"dsn"`
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	User            string        `toml:"user"`
	Password        string        `toml:"password"`
	Name            string        `toml:"name"`
	SSLMode         string        `toml:"ssl_mode"`
	MigrationsPath  string        `toml:"migrations_path"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `toml:"conn_max_idle_time"`
}

type RedisConfig struct {
	Enabled      bool          `toml:"enabled"`
	Host         string        `toml:"host"`
	Port         int           `toml:"port"`
	Password     string        `toml:"password"`
	DB           int           `toml:"db"`
	PoolSize     int           `toml:"pool_size"`
	MinIdleConns int           `toml:"min_idle_conns"`
	MaxRetries   int           `toml:"max_retries"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type RateLimitConfig struct {
	RequestsPerMin  int `toml:"requests_per_min"`
	BurstSize       int `toml:"burst_size"`
	MutationsPerMin int `toml:"mutations_per_min"`
}

type AuthConfig struct {
	JWTSecret     string        `toml:"jwt_secret"`
	Issuer        string        `toml:"issuer"`
	SessionTTL    time.Duration `toml:"session_ttl"`
	CookieName    string        `toml:"cookie_name"`
	SecureCookies bool          `toml:"secure_cookies"`
}

type CacheConfig struct {
	TaskListTTL time.Duration `toml:"task_list_ttl"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "text"
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Auth      AuthConfig      `toml:"auth"`
	Cache     CacheConfig     `toml:"cache"`
	Log       LogConfig       `toml:"log"`
}

const defaultJWTSecret = "default_secret_change_in_production"

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Environment:  "development",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			AllowOrigins: []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "taskify.db",
			Host:            "localhost",
			Port:            5432,
			User:            "taskify",
			Name:            "taskify",
			SSLMode:         "disable",
			MigrationsPath:  "file://migrations",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         6379,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin:  300,
			BurstSize:       50,
			MutationsPerMin: 60,
		},
		Auth: AuthConfig{
			JWTSecret:  defaultJWTSecret,
			Issuer:     "taskify-backend",
			SessionTTL: 30 * 24 * time.Hour,
			CookieName: "taskify_session",
		},
		Cache: CacheConfig{
			TaskListTTL: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig layers defaults, the optional TOML file named by TASKIFY_CONFIG,
// and environment variables, in that order.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("TASKIFY_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) LoadFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = utils.GetEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = utils.GetEnvAsInt("SERVER_PORT", c.Server.Port)
	c.Server.Environment = utils.GetEnv("APP_ENV", c.Server.Environment)
	c.Server.ReadTimeout = utils.GetEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = utils.GetEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = utils.GetEnvAsDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)

	c.Database.Driver = utils.GetEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = utils.GetEnv("DB_DSN", c.Database.DSN)
	c.Database.Host = utils.GetEnv("DB_HOST", c.Database.Host)
	c.Database.Port = utils.GetEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = utils.GetEnv("DB_USER", c.Database.User)
	c.Database.Password = utils.GetEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = utils.GetEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = utils.GetEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MigrationsPath = utils.GetEnv("DB_MIGRATIONS_PATH", c.Database.MigrationsPath)
	c.Database.MaxOpenConns = utils.GetEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = utils.GetEnvAsInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Redis.Enabled = utils.GetEnvAsBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = utils.GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = utils.GetEnvAsInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = utils.GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = utils.GetEnvAsInt("REDIS_DB", c.Redis.DB)

	c.RateLimit.RequestsPerMin = utils.GetEnvAsInt("RATE_LIMIT_REQUESTS_PER_MIN", c.RateLimit.RequestsPerMin)
	c.RateLimit.BurstSize = utils.GetEnvAsInt("RATE_LIMIT_BURST", c.RateLimit.BurstSize)
	c.RateLimit.MutationsPerMin = utils.GetEnvAsInt("RATE_LIMIT_MUTATIONS_PER_MIN", c.RateLimit.MutationsPerMin)

	c.Auth.JWTSecret = utils.GetEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.SessionTTL = utils.GetEnvAsDuration("SESSION_TTL", c.Auth.SessionTTL)
	c.Auth.SecureCookies = utils.GetEnvAsBool("SECURE_COOKIES", c.Auth.SecureCookies)

	c.Cache.TaskListTTL = utils.GetEnvAsDuration("CACHE_TASK_LIST_TTL", c.Cache.TaskListTTL)

	c.Log.Level = utils.GetEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = utils.GetEnv("LOG_FORMAT", c.Log.Format)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret must not be empty"))
	}
	if c.IsProduction() && c.Auth.JWTSecret == defaultJWTSecret {
		errs = append(errs, errors.New("jwt secret must be set in production"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.RateLimit.RequestsPerMin <= 0 || c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("rate limit values must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// PostgresDSN returns Database.DSN when set, otherwise builds one from parts.
func (c *Config) PostgresDSN() string {
	if c.Database.DSN != "" && c.Database.Driver == "postgres" {
		return c.Database.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name, c.Database.SSLMode)
}
