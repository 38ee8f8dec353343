package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cgaf/gaf-engine/internal/gaf"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func load(t *testing.T, args []string, env map[string]string) *Config {
	t.Helper()
	cfg, err := Load("test", args, envMap(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t, nil, map[string]string{"DATABASE_URL": "postgres://localhost/gaf"})

	if cfg.Interval != time.Second {
		t.Errorf("expected 1s interval, got %s", cfg.Interval)
	}
	if cfg.Port != "8080" || cfg.Collector.Depth != 3 || cfg.Collector.Aggregation != 10 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	p, err := cfg.Pipeline()
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if p.Workers != 4 || p.Triplet.Gamma != 1 || p.Triplet.Background != gaf.BackgroundZero {
		t.Errorf("unexpected pipeline defaults: %+v", p)
	}
}

func TestLoad_Precedence(t *testing.T) {
	file := writeFile(t, "gaf.yaml", `
interval: 5s
port: "9000"
postgres:
  host: from-file
  user: file-user
encode:
  background: floor
  sign_convention: ask_minus_bid
  triplet:
    gamma: 2
products:
  - product: BTC-USD
    max_size: 64
`)
	env := map[string]string{
		"CONFIG_FILE":    file,
		"SLEEP_INTERVAL": "2.5",
		"POSTGRES_HOST":  "from-env",
		"POSTGRES_PW":    "secret",
	}
	cfg := load(t, []string{"-pg_host", "from-flag"}, env)

	if cfg.Interval != 2500*time.Millisecond {
		t.Errorf("env should override file interval, got %s", cfg.Interval)
	}
	if cfg.Port != "9000" {
		t.Errorf("file port expected, got %s", cfg.Port)
	}
	if cfg.Postgres.Host != "from-flag" {
		t.Errorf("flag should win, got %s", cfg.Postgres.Host)
	}
	if cfg.Postgres.User != "file-user" {
		t.Errorf("file user expected, got %s", cfg.Postgres.User)
	}
	if len(cfg.Products) != 1 || cfg.Products[0].MaxSize != 64 {
		t.Errorf("expected one product from file, got %+v", cfg.Products)
	}

	p, err := cfg.Pipeline()
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if p.Triplet.Gamma != 2 || p.Triplet.ContrastMax != 1.7 {
		t.Errorf("expected partial triplet override, got %+v", p.Triplet)
	}
	if p.Triplet.Background != gaf.BackgroundFloor || p.Sign != gaf.AskMinusBid {
		t.Errorf("expected floor/ask_minus_bid, got %v/%v", p.Triplet.Background, p.Sign)
	}
}

func TestLoad_SecretFile(t *testing.T) {
	secret := writeFile(t, "pg_pw", "hunter2\n")

	cfg, err := loadWithSecret(secret, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Errorf("expected password from secret file, got %q", cfg.Postgres.Password)
	}
	if !strings.Contains(cfg.DSN(), "postgres:hunter2@postgresql:5432/postgres") {
		t.Errorf("unexpected DSN %s", cfg.DSN())
	}

	// An explicit password is never replaced by the secret.
	cfg, _ = loadWithSecret(secret, map[string]string{"POSTGRES_PW": "explicit"})
	if cfg.Postgres.Password != "explicit" {
		t.Errorf("expected explicit password, got %q", cfg.Postgres.Password)
	}
}

// loadWithSecret mirrors Load with a custom secret path.
func loadWithSecret(path string, env map[string]string) (*Config, error) {
	cfg := Default()
	cfg.SecretFile = path
	if err := cfg.applyEnv(envMap(env)); err != nil {
		return nil, err
	}
	if cfg.Postgres.Password == "" {
		if err := cfg.readSecret(); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

func TestReadSecret_MissingFileIgnored(t *testing.T) {
	cfg := Default()
	cfg.SecretFile = filepath.Join(t.TempDir(), "absent")
	if err := cfg.readSecret(); err != nil {
		t.Errorf("missing secret should be ignored, got %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad port":     {"POSTGRES_PORT": "abc"},
		"bad interval": {"SLEEP_INTERVAL": "soon"},
		"zero":         {"SLEEP_INTERVAL": "0"},
		"bad level":    {"LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		env["DATABASE_URL"] = "postgres://localhost/gaf"
		if _, err := Load("test", nil, envMap(env)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	bad := writeFile(t, "bad.yaml", "encode:\n  background: plaid\n")
	if _, err := Load("test", []string{"-config", bad}, envMap(map[string]string{"DATABASE_URL": "x"})); err == nil {
		t.Error("expected error for unknown background")
	}
	bad = writeFile(t, "bad_product.yaml", "products:\n  - product: btc\n    max_size: 10\n")
	if _, err := Load("test", []string{"-config", bad}, envMap(map[string]string{"DATABASE_URL": "x"})); err == nil {
		t.Error("expected error for invalid product id")
	}
}

func TestLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	if l, err := cfg.Level(); err != nil || l != slog.LevelDebug {
		t.Errorf("expected debug, got %v %v", l, err)
	}
}

func TestDSN_PrefersURL(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "postgres://u:p@db/x"
	if cfg.DSN() != "postgres://u:p@db/x" {
		t.Errorf("expected DATABASE_URL verbatim, got %s", cfg.DSN())
	}
}
