package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadConfig_EnvFileOverridesBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  port: ":8080"
db:
  host: localhost
  port: 5432
`)
	writeFile(t, dir, "prod.yaml", `
db:
  host: db.internal
`)

	cfgMap, err := LoadConfig("prod", dir)
	if err != nil {
		t.Fatalf("LoadConfig() err=%v", err)
	}

	var out struct {
		Server ServerConfig `yaml:"server"`
		DB     DBConfig     `yaml:"db"`
	}
	if err := Decode(cfgMap, &out); err != nil {
		t.Fatalf("Decode() err=%v", err)
	}
	if out.DB.Host != "db.internal" {
		t.Fatalf("expected env override, got %q", out.DB.Host)
	}
	if out.DB.Port != 5432 {
		t.Fatalf("expected base port kept, got %d", out.DB.Port)
	}
	if out.Server.Port != ":8080" {
		t.Fatalf("expected base server port, got %q", out.Server.Port)
	}
}

func TestLoadConfig_SecretsSubstitution(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
judge:
  api_key: "${JUDGE_SECRET}"
  timeout: 7s
`)
	writeFile(t, dir, "secrets.env", "# comment\nJUDGE_SECRET='sk-test'\n")

	cfgMap, err := LoadConfig("", dir)
	if err != nil {
		t.Fatalf("LoadConfig() err=%v", err)
	}
	var out struct {
		Judge JudgeConfig `yaml:"judge"`
	}
	if err := Decode(cfgMap, &out); err != nil {
		t.Fatalf("Decode() err=%v", err)
	}
	if out.Judge.APIKey != "sk-test" {
		t.Fatalf("expected substituted secret, got %q", out.Judge.APIKey)
	}
	if out.Judge.Timeout != 7*time.Second {
		t.Fatalf("expected 7s timeout, got %v", out.Judge.Timeout)
	}
}

func TestLoadConfig_MissingBase(t *testing.T) {
	if _, err := LoadConfig("local", t.TempDir()); err == nil {
		t.Fatalf("expected error for missing base.yaml")
	}
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("OTEL_ENABLED", "true")

	var db DBConfig
	OverrideDBFromEnv(&db)
	if db.Port != 6543 {
		t.Fatalf("expected port 6543, got %d", db.Port)
	}

	var rc RedisConfig
	OverrideRedisFromEnv(&rc)
	if rc.Addr != "redis:6379" {
		t.Fatalf("expected redis addr, got %q", rc.Addr)
	}

	var oc OTelConfig
	OverrideOTelFromEnv(&oc)
	if !oc.Enabled {
		t.Fatalf("expected otel enabled")
	}
}
