// Package config assembles process configuration from defaults, an optional
// YAML file, environment variables (optionally loaded from .env) and
// command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cgaf/gaf-engine/internal/gaf"
	"github.com/cgaf/gaf-engine/internal/model"
	"github.com/cgaf/gaf-engine/internal/pipeline"
)

// DefaultSecretFile is where container runtimes mount the Postgres password.
const DefaultSecretFile = "/run/secrets/pg_pw"

// PostgresConfig holds discrete connection settings, used when no
// DATABASE_URL is given.
type PostgresConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"db"`
}

// CollectorConfig configures the upstream poller.
type CollectorConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Aggregation int           `yaml:"aggregation"`
	Depth       int           `yaml:"depth"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EncodeConfig is the YAML view of the pipeline parameters.
type EncodeConfig struct {
	Workers        int               `yaml:"workers"`
	MinDepth       int               `yaml:"min_depth"`
	SignConvention string            `yaml:"sign_convention"`
	Background     string            `yaml:"background"`
	Triplet        gaf.TripletParams `yaml:"triplet"`
}

// Config is the merged configuration of all three commands.
type Config struct {
	DatabaseURL string         `yaml:"database_url"`
	Postgres    PostgresConfig `yaml:"postgres"`
	RedisURL    string         `yaml:"redis_url"`
	CacheTTL    time.Duration  `yaml:"cache_ttl"`
	Port        string         `yaml:"port"`
	LogLevel    string         `yaml:"log_level"`

	// MetricsAddr is where the worker commands expose /metrics; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// Interval is the tick period of the calculator and the collector.
	Interval time.Duration `yaml:"interval"`

	Collector CollectorConfig `yaml:"collector"`
	Encode    EncodeConfig    `yaml:"encode"`

	// Products are upserted at startup when listed.
	Products []model.ProductConfig `yaml:"products"`

	// SecretFile is read for the Postgres password when none is configured.
	SecretFile string `yaml:"-"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	p := pipeline.DefaultConfig()
	return &Config{
		Postgres: PostgresConfig{
			User: "postgres",
			Host: "postgresql",
			Port: 5432,
			DB:   "postgres",
		},
		CacheTTL:    30 * time.Second,
		Port:        "8080",
		LogLevel:    "info",
		MetricsAddr: ":9090",
		Interval:    time.Second,
		Collector: CollectorConfig{
			BaseURL:     "http://coinbase-local:4201",
			Aggregation: 10,
			Depth:       3,
			Timeout:     10 * time.Second,
		},
		Encode: EncodeConfig{
			Workers:        p.Workers,
			MinDepth:       p.MinDepth,
			SignConvention: p.Sign.String(),
			Background:     p.Triplet.Background.String(),
			Triplet:        p.Triplet,
		},
		SecretFile: DefaultSecretFile,
	}
}

// LoadDotEnv loads .env into the process environment if the file exists.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load builds the configuration for the named command. getenv is usually
// os.Getenv; args excludes the program name.
func Load(name string, args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configFile := fs.String("config", getenv("CONFIG_FILE"), "path to YAML config file")
	pgUser := fs.String("pg_user", "", "postgres user")
	pgPw := fs.String("pg_pw", "", "postgres password")
	pgHost := fs.String("pg_host", "", "postgres host")
	pgPort := fs.Int("pg_port", 0, "postgres port")
	pgDB := fs.String("db", "", "postgres database")
	sleep := fs.Float64("sleep", 0, "tick interval in seconds")
	port := fs.String("port", "", "HTTP listen port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configFile != "" {
		if err := cfg.loadFile(*configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	// Flags win over everything else.
	setString(&cfg.Postgres.User, *pgUser)
	setString(&cfg.Postgres.Password, *pgPw)
	setString(&cfg.Postgres.Host, *pgHost)
	setString(&cfg.Postgres.DB, *pgDB)
	setString(&cfg.Port, *port)
	if *pgPort != 0 {
		cfg.Postgres.Port = *pgPort
	}
	if *sleep != 0 {
		cfg.Interval = seconds(*sleep)
	}

	if cfg.Postgres.Password == "" && cfg.DatabaseURL == "" {
		if err := cfg.readSecret(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.DatabaseURL, getenv("DATABASE_URL"))
	setString(&c.RedisURL, getenv("REDIS_URL"))
	setString(&c.Port, getenv("PORT"))
	setString(&c.LogLevel, getenv("LOG_LEVEL"))
	setString(&c.MetricsAddr, getenv("METRICS_ADDR"))
	setString(&c.Postgres.User, getenv("POSTGRES_USER"))
	setString(&c.Postgres.Password, getenv("POSTGRES_PW"))
	setString(&c.Postgres.Host, getenv("POSTGRES_HOST"))
	setString(&c.Postgres.DB, getenv("POSTGRES_DB"))
	setString(&c.Collector.BaseURL, getenv("COINBASE_URL"))

	if v := getenv("POSTGRES_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: POSTGRES_PORT: %w", err)
		}
		c.Postgres.Port = p
	}
	if v := getenv("SLEEP_INTERVAL"); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: SLEEP_INTERVAL: %w", err)
		}
		c.Interval = seconds(s)
	}
	if v := getenv("HTTP_TIMEOUT"); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: HTTP_TIMEOUT: %w", err)
		}
		c.Collector.Timeout = seconds(s)
	}
	return nil
}

func (c *Config) readSecret() error {
	if c.SecretFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.SecretFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read secret file: %w", err)
	}
	c.Postgres.Password = strings.TrimSpace(string(data))
	return nil
}

// Validate rejects configurations no command can run with.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("config: interval must be positive, got %s", c.Interval)
	}
	if c.Collector.Timeout <= 0 {
		return fmt.Errorf("config: http timeout must be positive, got %s", c.Collector.Timeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Pipeline(); err != nil {
		return err
	}
	for _, p := range c.Products {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Level parses LogLevel into a slog level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Pipeline converts the encode section into a validated pipeline.Config.
func (c *Config) Pipeline() (pipeline.Config, error) {
	p := pipeline.DefaultConfig()
	p.Workers = c.Encode.Workers
	p.MinDepth = c.Encode.MinDepth
	p.Triplet = c.Encode.Triplet

	sign, err := gaf.ParseSignConvention(c.Encode.SignConvention)
	if err != nil {
		return p, err
	}
	p.Sign = sign
	bg, err := gaf.ParseBackground(c.Encode.Background)
	if err != nil {
		return p, err
	}
	p.Triplet.Background = bg
	return p, p.Validate()
}

// DSN returns DATABASE_URL when set, otherwise a URL built from the
// discrete Postgres settings.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:   "/" + c.Postgres.DB,
	}
	if c.Postgres.Password != "" {
		u.User = url.UserPassword(c.Postgres.User, c.Postgres.Password)
	} else {
		u.User = url.User(c.Postgres.User)
	}
	return u.String()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
