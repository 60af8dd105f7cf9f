// Package config loads process configuration from an optional YAML file and
// ALGORYTHMOS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/skalaliya/agent.algorythmos/internal/runner"
)

const EnvPrefix = "ALGORYTHMOS"

type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`
	// Store selects the repository backend: "postgres" or "memory".
	Store string `mapstructure:"store"`
	DB    DB     `mapstructure:"db"`
	Redis struct {
		Addr              string        `mapstructure:"addr"`
		Password          string        `mapstructure:"password"`
		DB                int           `mapstructure:"db"`
		VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	} `mapstructure:"redis"`
	Queue     Queue     `mapstructure:"queue"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Mail      struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"mail"`
	AI struct {
		// Endpoint of a completion gateway. Empty selects the offline mock.
		Endpoint string        `mapstructure:"endpoint"`
		APIKey   string        `mapstructure:"api_key"`
		RPS      float64       `mapstructure:"rps"`
		Burst    int           `mapstructure:"burst"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ai"`
	Credits Credits `mapstructure:"credits"`
}

type DB struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// DSN renders the connection settings as a postgres URL.
func (d DB) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type Queue struct {
	// Backend is "redis" or "memory".
	Backend          string        `mapstructure:"backend"`
	Name             string        `mapstructure:"name"`
	Attempts         int           `mapstructure:"attempts"`
	BackoffType      string        `mapstructure:"backoff_type"`
	BackoffDelay     time.Duration `mapstructure:"backoff_delay"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	RemoveOnComplete bool          `mapstructure:"remove_on_complete"`
	Concurrency      int           `mapstructure:"concurrency"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
	JobTimeout       time.Duration `mapstructure:"job_timeout"`
}

type Scheduler struct {
	Tick            time.Duration `mapstructure:"tick"`
	Tolerance       time.Duration `mapstructure:"tolerance"`
	Watermark       bool          `mapstructure:"watermark"`
	DefaultTimezone string        `mapstructure:"default_timezone"`
}

type Credits struct {
	DefaultRate float64 `mapstructure:"default_rate"`
	Rates       []Rate  `mapstructure:"rates"`
}

type Rate struct {
	Provider string  `mapstructure:"provider"`
	Model    string  `mapstructure:"model"`
	Rate     float64 `mapstructure:"rate"`
}

// RateTable starts from the built-in rates and applies the configured ones
// on top.
func (c Credits) RateTable() *runner.RateTable {
	table := runner.DefaultRateTable()
	table.SetDefaultRate(c.DefaultRate)
	for _, r := range c.Rates {
		table.Set(r.Provider, r.Model, r.Rate)
	}
	return table
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("store", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "algorythmos")
	v.SetDefault("db.password", "algorythmos")
	v.SetDefault("db.name", "algorythmos")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("db.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.visibility_timeout", 5*time.Minute)

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.name", "run.execute")
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff_type", "exponential")
	v.SetDefault("queue.backoff_delay", 2*time.Second)
	v.SetDefault("queue.backoff_max", time.Duration(0))
	v.SetDefault("queue.remove_on_complete", true)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.poll_timeout", 5*time.Second)
	v.SetDefault("queue.job_timeout", 4*time.Minute)

	v.SetDefault("scheduler.tick", 60*time.Second)
	v.SetDefault("scheduler.tolerance", 2*time.Minute)
	v.SetDefault("scheduler.watermark", true)
	v.SetDefault("scheduler.default_timezone", "Europe/Paris")

	v.SetDefault("mail.host", "mailhog")
	v.SetDefault("mail.port", 1025)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "Algorythmos AI Agents <noreply@local.dev>")

	v.SetDefault("ai.endpoint", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.rps", 5.0)
	v.SetDefault("ai.burst", 1)
	v.SetDefault("ai.timeout", 30*time.Second)

	v.SetDefault("credits.default_rate", runner.DefaultRate)
}

// Load reads path when non-empty, then applies environment overrides such
// as ALGORYTHMOS_DB_HOST for db.host.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("store must be postgres or memory, got %q", c.Store))
	}
	switch c.Queue.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("queue.backend must be redis or memory, got %q", c.Queue.Backend))
	}
	switch c.Queue.BackoffType {
	case "fixed", "exponential":
	default:
		errs = append(errs, fmt.Errorf("queue.backoff_type must be fixed or exponential, got %q", c.Queue.BackoffType))
	}
	// A job still running when its visibility deadline passes is redelivered.
	if c.Queue.Backend == "redis" && (c.Queue.JobTimeout <= 0 || c.Queue.JobTimeout >= c.Redis.VisibilityTimeout) {
		errs = append(errs, errors.New("queue.job_timeout must be positive and below redis.visibility_timeout"))
	}
	if c.Queue.Concurrency < 1 {
		errs = append(errs, errors.New("queue.concurrency must be at least 1"))
	}
	if c.Scheduler.Tick <= 0 {
		errs = append(errs, errors.New("scheduler.tick must be positive"))
	}
	if _, err := time.LoadLocation(c.Scheduler.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.default_timezone: %w", err))
	}
	return errors.Join(errs...)
}
