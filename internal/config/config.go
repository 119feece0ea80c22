// Package config loads ticketforge settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/goatkit/ticketforge/internal/database"
)

// EnvPrefix is prepended to every environment override, e.g. TICKETFORGE_SERVER_PORT.
const EnvPrefix = "TICKETFORGE"

// Config is the root configuration document.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Completion CompletionConfig `mapstructure:"completion"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is requests per second per client IP, zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver              string        `mapstructure:"driver"`
	DSN                 string        `mapstructure:"dsn"`
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	Name                string        `mapstructure:"name"`
	User                string        `mapstructure:"user"`
	Password            string        `mapstructure:"password"`
	SSLMode             string        `mapstructure:"ssl_mode"`
	MaxOpenConns        int           `mapstructure:"max_open_conns"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime     time.Duration `mapstructure:"conn_max_lifetime"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
}

// PoolConfig maps the section onto database.PoolConfig.
func (d DatabaseConfig) PoolConfig() *database.PoolConfig {
	return &database.PoolConfig{
		Driver:              d.Driver,
		DSN:                 d.DSN,
		Host:                d.Host,
		Port:                d.Port,
		Database:            d.Name,
		Username:            d.User,
		Password:            d.Password,
		SSLMode:             d.SSLMode,
		MaxOpenConns:        d.MaxOpenConns,
		MaxIdleConns:        d.MaxIdleConns,
		ConnMaxLifetime:     d.ConnMaxLifetime,
		HealthCheckInterval: d.HealthCheckInterval,
		ConnectTimeout:      d.ConnectTimeout,
	}
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type CompletionConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
}

// Configured reports whether a completion endpoint can be called at all.
func (c CompletionConfig) Configured() bool {
	return c.BaseURL != "" && c.APIKey != ""
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type TrackerConfig struct {
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type GitHubConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	BotToken    string `mapstructure:"bot_token"`
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
}

type DispatchConfig struct {
	// Backend is "local" or "redis".
	Backend     string        `mapstructure:"backend"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	QueueKey    string        `mapstructure:"queue_key"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
	// Schedules overrides job schedules by slug.
	Schedules map[string]string `mapstructure:"schedules"`
	// MaxFailedProjects turns a partially failed sweep into a job error.
	MaxFailedProjects int `mapstructure:"max_failed_projects"`
}

// Location resolves the configured timezone, falling back to UTC.
func (s SchedulerConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type SecretsConfig struct {
	// Key seals stored repository tokens; empty stores them as plain text.
	Key string `mapstructure:"key"`
}

var (
	mu      sync.RWMutex
	current *Config
	loader  *viper.Viper
)

// Load reads path (optional) plus environment overrides and installs the
// result as the global configuration.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	loader = v
	mu.Unlock()
	return cfg, nil
}

// Get returns the loaded configuration or nil before Load.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// GetConfig returns the loaded configuration, falling back to defaults.
func GetConfig() *Config {
	if cfg := Get(); cfg != nil {
		return cfg
	}
	cfg, err := decode(newViper())
	if err != nil {
		return &Config{}
	}
	return cfg
}

// Set replaces the global configuration. Intended for tests and commands
// that build a Config by hand.
func Set(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

// Watch reloads the file passed to Load whenever it changes. Invalid edits
// are logged and the previous configuration is kept.
func Watch(logger *log.Logger, onChange func(*Config)) error {
	mu.RLock()
	v := loader
	mu.RUnlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return errors.New("config: no file loaded to watch")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CONFIG] ", log.LstdFlags)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err == nil {
			err = Validate(cfg)
		}
		if err != nil {
			logger.Printf("ignoring config change in %s: %v", e.Name, err)
			return
		}
		Set(cfg)
		logger.Printf("reloaded config from %s", e.Name)
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}

// Validate checks the settings that would otherwise fail late.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	var problems []string
	switch cfg.Database.Driver {
	case "postgres", "postgresql", "mysql", "mariadb", "sqlite", "sqlite3":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", cfg.Database.Driver))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Dispatch.Backend {
	case "local":
	case "redis":
		if !cfg.Redis.Enabled() {
			problems = append(problems, "dispatch.backend redis requires redis.addr")
		}
	default:
		problems = append(problems, fmt.Sprintf("dispatch.backend %q must be local or redis", cfg.Dispatch.Backend))
	}
	if cfg.Dispatch.Workers < 1 {
		problems = append(problems, "dispatch.workers must be at least 1")
	}
	if cfg.Completion.Retry.MaxRetries < 0 {
		problems = append(problems, "completion.retry.max_retries must not be negative")
	}
	if cfg.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("scheduler.timezone: %v", err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ticketforge")
	v.SetDefault("app.env", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "ticketforge.db")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.health_check_interval", time.Minute)
	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("completion.base_url", "https://api.blackbox.ai/chat/completions")
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.model", "blackboxai/anthropic/claude-sonnet-4")
	v.SetDefault("completion.rate_limit", 2.0)
	v.SetDefault("completion.burst", 4)
	v.SetDefault("completion.timeout", 2*time.Minute)
	v.SetDefault("completion.retry.max_retries", 3)
	v.SetDefault("completion.retry.base_delay", time.Second)
	v.SetDefault("completion.retry.max_delay", 10*time.Second)
	v.SetDefault("completion.retry.timeout", 30*time.Second)

	v.SetDefault("tracker.auth_token", "")
	v.SetDefault("tracker.timeout", 30*time.Second)

	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.bot_token", "")
	v.SetDefault("github.author_name", "ticketforge-bot")
	v.SetDefault("github.author_email", "bot@ticketforge.local")

	v.SetDefault("dispatch.backend", "local")
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.task_timeout", 10*time.Minute)
	v.SetDefault("dispatch.queue_key", "ticketforge:tasks")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.max_failed_projects", 0)

	v.SetDefault("secrets.key", "")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
