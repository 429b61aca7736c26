package telemetry

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/sekia-ai/telemetry/internal/secrets"
	"github.com/sekia-ai/telemetry/pkg/transport"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "telemetry.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearConfigEnv(t *testing.T) {
	for _, key := range []string{"TELEMETRY_ENV", "APP_ENV", "TELEMETRY_ENABLED", "TELEMETRY_INDEX", "TELEMETRY_DEFAULT_TRANSPORT"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)
	path := writeConfig(t, t.TempDir(), "enabled = true\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if !cfg.Enabled || cfg.Env != "production" || cfg.Index != "telemetry" {
		t.Errorf("enabled/env/index = %v/%q/%q", cfg.Enabled, cfg.Env, cfg.Index)
	}
	if cfg.DefaultTransport != "redis" {
		t.Errorf("default_transport = %q", cfg.DefaultTransport)
	}
	if cfg.Connections["redis"][transport.KeyDriver] != transport.DriverRedis {
		t.Errorf("connections.redis = %v", cfg.Connections["redis"])
	}
	if !cfg.Payloads.Request.Included || !slices.Contains(cfg.Payloads.Request.Headers, "authorization") {
		t.Errorf("payloads.request = %+v", cfg.Payloads.Request)
	}
	if !slices.Equal(cfg.Payloads.User.Attributes, []string{"email", "id", "name"}) {
		t.Errorf("payloads.user.attributes = %v", cfg.Payloads.User.Attributes)
	}
	if !slices.Equal(cfg.Payloads.ObfuscatedDataKeys, []string{"password", "password_confirmation"}) {
		t.Errorf("obfuscated_data_keys = %v", cfg.Payloads.ObfuscatedDataKeys)
	}
	if cfg.Notifications.ThrowTransportExceptions {
		t.Error("throw_transport_exceptions should default to false")
	}
}

func TestLoadConfig_File(t *testing.T) {
	clearConfigEnv(t)

	id, err := secrets.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv(secrets.EnvAgeKey, id.String())
	enc, err := secrets.Encrypt("hunter2", id.Recipient())
	if err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, t.TempDir(), `
enabled = true
env = "staging"
index = "events"
default_transport = "queue"

[connections.queue]
driver = "redis"
connection = "default"
queue = "telemetry"

[redis.default]
addr = "localhost:6379"
password = "`+enc+`"
db = 2

[payloads]
obfuscated_data_keys = ["password", "ssn"]

[payloads.user]
attributes = ["id"]
callback_method = "TelemetryExtras"

[payloads.vars]
region = "eu-west-1"

[notifications]
logging_channel = "audit"
throw_transport_exceptions = true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Env != "staging" || cfg.Index != "events" || cfg.DefaultTransport != "queue" {
		t.Errorf("env/index/default = %q/%q/%q", cfg.Env, cfg.Index, cfg.DefaultTransport)
	}
	queue := cfg.Connections["queue"]
	if queue["connection"] != "default" || queue["queue"] != "telemetry" {
		t.Errorf("connections.queue = %v", queue)
	}
	if got := cfg.Redis["default"]; got.Password != "hunter2" || got.DB != 2 {
		t.Errorf("redis.default = %+v, want decrypted password", got)
	}
	if cfg.Payloads.User.CallbackMethod != "TelemetryExtras" || !slices.Equal(cfg.Payloads.User.Attributes, []string{"id"}) {
		t.Errorf("payloads.user = %+v", cfg.Payloads.User)
	}
	if cfg.Payloads.Vars["region"] != "eu-west-1" {
		t.Errorf("payloads.vars = %v", cfg.Payloads.Vars)
	}
	if cfg.Notifications.LoggingChannel != "audit" || !cfg.Notifications.ThrowTransportExceptions {
		t.Errorf("notifications = %+v", cfg.Notifications)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APP_ENV", "ci")
	path := writeConfig(t, t.TempDir(), "env = \"from-file\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Env != "ci" {
		t.Errorf("env = %q, want APP_ENV to win", cfg.Env)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}

	bad := writeConfig(t, dir, "enabled = [unterminated\n")
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected error for invalid TOML")
	}

	t.Setenv(secrets.EnvAgeKey, "")
	t.Setenv(secrets.EnvAgeKeyFile, "")
	t.Setenv("HOME", t.TempDir())
	enc := writeConfig(t, t.TempDir(), "[nats.default]\ntoken = \"ENC[c2VhbGVk]\"\n")
	if _, err := LoadConfig(enc); err == nil {
		t.Error("expected error for encrypted values without an identity")
	}
}
