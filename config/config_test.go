package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/rpcspec/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
check:
  keep_going: true
  parallelism: 4
  unique_names: true

server:
  host: "0.0.0.0"
  port: 9090
  request_timeout: 5s
  rate_limit:
    rps: 20
    burst: 40

database:
  driver: "sqlite"
  dsn: ":memory:"

logging:
  level: debug
  format: json

metrics:
  enabled: true
`

	cfg := writeAndLoad(t, content)

	if !cfg.Check.KeepGoing || cfg.Check.Parallelism != 4 || !cfg.Check.UniqueNames {
		t.Errorf("Check = %+v", cfg.Check)
	}
	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("Addr = %s, want 0.0.0.0:9090", cfg.Server.Addr())
	}
	if cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.Server.RequestTimeout)
	}
	if cfg.Server.RateLimit.RPS != 20 || cfg.Server.RateLimit.Burst != 40 {
		t.Errorf("RateLimit = %+v", cfg.Server.RateLimit)
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("Database.DSN = %s", cfg.Database.DSN)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %s, want json", cfg.Logging.Format)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "# empty\n")

	if cfg.Check.KeepGoing {
		t.Error("default KeepGoing = true, want false")
	}
	if cfg.Check.Parallelism != 1 {
		t.Errorf("default Parallelism = %d, want 1", cfg.Check.Parallelism)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8080 {
		t.Errorf("default Addr = %s", cfg.Server.Addr())
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("default MaxBodyBytes = %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.RateLimit.RPS != 0 {
		t.Errorf("rate limiting should be off by default")
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "rpcspec.db" {
		t.Errorf("default Database = %+v", cfg.Database)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("default Logging = %+v", cfg.Logging)
	}
}

func TestLoad_MemoryDriverHasNoDSN(t *testing.T) {
	cfg := writeAndLoad(t, "database:\n  driver: memory\n  history_limit: 50\n")
	if cfg.Database.DSN != "" {
		t.Errorf("DSN = %q, want empty", cfg.Database.DSN)
	}
	if cfg.Database.HistoryLimit != 50 {
		t.Errorf("HistoryLimit = %d, want 50", cfg.Database.HistoryLimit)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_RPCSPEC_DB", "/tmp/expanded.db")

	cfg := writeAndLoad(t, "database:\n  dsn: \"${TEST_RPCSPEC_DB}\"\n")

	if cfg.Database.DSN != "/tmp/expanded.db" {
		t.Errorf("Database.DSN = %s, want /tmp/expanded.db", cfg.Database.DSN)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		msg     string
	}{
		{"parallelism", "check:\n  parallelism: 1000\n", "check.parallelism"},
		{"negative parallelism", "check:\n  parallelism: -1\n", "check.parallelism"},
		{"port", "server:\n  port: 70000\n", "server.port"},
		{"negative rps", "server:\n  rate_limit:\n    rps: -1\n", "rate_limit.rps"},
		{"driver", "database:\n  driver: postgres\n", "database.driver"},
		{"log level", "logging:\n  level: loud\n", "logging.level"},
		{"log format", "logging:\n  format: xml\n", "logging.format"},
		{"metrics path", "metrics:\n  path: metrics\n", "metrics.path"},
		{"yaml", "check: [\n", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := writeAndLoadErr(t, tt.content)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q does not mention %q", err, tt.msg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RPCSPEC_CHECK_KEEP_GOING", "yes")
	t.Setenv("RPCSPEC_CHECK_PARALLELISM", "8")
	t.Setenv("RPCSPEC_SERVER_PORT", "9999")
	t.Setenv("RPCSPEC_SERVER_REQUEST_TIMEOUT", "2s")
	t.Setenv("RPCSPEC_RATELIMIT_RPS", "2.5")
	t.Setenv("RPCSPEC_DATABASE_DRIVER", "memory")
	t.Setenv("RPCSPEC_LOG_LEVEL", "debug")
	t.Setenv("RPCSPEC_METRICS_ENABLED", "1")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}

	if !cfg.Check.KeepGoing || cfg.Check.Parallelism != 8 {
		t.Errorf("Check = %+v", cfg.Check)
	}
	if cfg.Server.Port != 9999 || cfg.Server.RequestTimeout != 2*time.Second {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.RateLimit.RPS != 2.5 {
		t.Errorf("RPS = %v, want 2.5", cfg.Server.RateLimit.RPS)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Driver = %s, want memory", cfg.Database.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s, want debug", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("RPCSPEC_SERVER_PORT", "7777")
	t.Setenv("RPCSPEC_LOG_LEVEL", "error")

	cfg := writeAndLoad(t, "server:\n  port: 9090\nlogging:\n  level: debug\n")

	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want 7777 (env override)", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Level = %s, want error (env override)", cfg.Logging.Level)
	}
}

func TestEnvOverrides_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"RPCSPEC_SERVER_PORT":         "not-a-port",
		"RPCSPEC_SERVER_READ_TIMEOUT": "soon",
		"RPCSPEC_RATELIMIT_RPS":       "fast",
	}

	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			_, err := config.LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), name) {
				t.Errorf("err = %v, want mention of %s", err, name)
			}
		})
	}
}

func TestParseBoolValues(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes", "on", " on "} {
		t.Setenv("RPCSPEC_CHECK_UNIQUE_NAMES", v)
		cfg, err := config.LoadFromEnv()
		if err != nil {
			t.Fatalf("LoadFromEnv: %v", err)
		}
		if !cfg.Check.UniqueNames {
			t.Errorf("%q should parse as true", v)
		}
	}
	for _, v := range []string{"false", "0", "no", "off", "maybe"} {
		t.Setenv("RPCSPEC_CHECK_UNIQUE_NAMES", v)
		cfg, _ := config.LoadFromEnv()
		if cfg.Check.UniqueNames {
			t.Errorf("%q should parse as false", v)
		}
	}
}

func TestLoadWithFallback(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "rpcspec.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		t.Fatalf("LoadWithFallback(file) error: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Server.Port)
	}

	cfg, err = config.LoadWithFallback(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback(missing) error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte("check:\n  unique_names: true\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !cfg.Check.UniqueNames {
		t.Error("UniqueNames = false, want true")
	}
}

// Helpers

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := writeAndLoadErr(t, content)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func writeAndLoadErr(t *testing.T, content string) (*config.Config, error) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return config.Load(path)
}
