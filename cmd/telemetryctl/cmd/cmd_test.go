package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/sekia-ai/telemetry/internal/secrets"
	"github.com/sekia-ai/telemetry/pkg/telemetry"
)

const devConfig = `
enabled = true
env = "cli"
index = ""
default_transport = "dev"

[connections.dev]
driver = "stream"
output = "stderr"

[connections.broken]
driver = "redis"
queue = "telemetry"

[payloads.user]
attributes = ["id"]
`

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile = ""
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPayloadCmd(t *testing.T) {
	path := writeTestConfig(t, devConfig)

	out, err := run(t, "payload", "user.signup", "--config", path,
		"-d", "plan=pro", "--data-json", `{"seats": 3}`, "--user", `{"id": 5}`, "--thread-id", "t-1")
	if err != nil {
		t.Fatalf("payload: %v\n%s", err, out)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if payload["event"] != "user.signup" || payload["env"] != "cli" || payload["thread_id"] != "t-1" {
		t.Errorf("payload = %v", payload)
	}
	data, _ := payload["data"].(map[string]any)
	if data["plan"] != "pro" || data["seats"] != float64(3) {
		t.Errorf("data = %v", data)
	}
	if user, _ := payload["user"].(map[string]any); user["id"] != float64(5) {
		t.Errorf("user = %v", payload["user"])
	}
}

func TestPayloadCmd_BadData(t *testing.T) {
	path := writeTestConfig(t, devConfig)
	if _, err := run(t, "payload", "evt", "--config", path, "-d", "novalue"); err == nil {
		t.Error("expected error for --data without '='")
	}
}

func TestFireCmd_Stream(t *testing.T) {
	path := writeTestConfig(t, devConfig)

	out, err := run(t, "fire", "evt", "--config", path)
	if err != nil {
		t.Fatalf("fire: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Status: published") {
		t.Errorf("output = %q", out)
	}
}

func TestConnectionsValidateCmd(t *testing.T) {
	path := writeTestConfig(t, devConfig)

	out, err := run(t, "connections", "validate", "--config", path)
	if err == nil {
		t.Fatal("expected failure for the broken connection")
	}
	if !strings.Contains(out, "OK    dev (stream)") {
		t.Errorf("dev not reported valid: %q", out)
	}
	if !strings.Contains(out, "FAIL  broken: invalid connection config: invalid redis connection") {
		t.Errorf("broken not reported: %q", out)
	}

	if out, err := run(t, "connections", "validate", "dev", "--config", path); err != nil {
		t.Errorf("validate dev: %v\n%s", err, out)
	}
}

func TestConnectionsListCmd(t *testing.T) {
	path := writeTestConfig(t, devConfig)

	out, err := run(t, "connections", "list", "--config", path)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "dev") || !strings.Contains(out, "stream") || !strings.Contains(out, "*") {
		t.Errorf("output = %q", out)
	}
}

func TestSecretsEncryptDecrypt(t *testing.T) {
	id, err := secrets.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv(secrets.EnvAgeKey, id.String())

	enc, err := run(t, "secrets", "encrypt", "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	enc = strings.TrimSpace(enc)
	if !secrets.IsEncrypted(enc) {
		t.Fatalf("encrypt output = %q", enc)
	}

	plain, err := run(t, "secrets", "decrypt", enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if strings.TrimSpace(plain) != "hunter2" {
		t.Errorf("decrypt output = %q", plain)
	}
}

func TestSecretsKeygen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "age.key")

	out, err := run(t, "secrets", "keygen", "-o", path)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if !strings.Contains(out, "Public key: age1") {
		t.Errorf("output = %q", out)
	}
	if _, err := secrets.LoadIdentity(path); err != nil {
		t.Errorf("written key unreadable: %v", err)
	}
	if _, err := run(t, "secrets", "keygen", "-o", path); err == nil {
		t.Error("expected error when the key file exists")
	}
}

func TestEventHandler(t *testing.T) {
	path := writeTestConfig(t, devConfig)
	cfg, err := telemetry.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	s, err := newSession(telemetry.StaticConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events/{name}", eventHandler(s.client))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/order.paid", strings.NewReader(`{"amount":42}`)))
	if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), `"status":"published"`) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/x", strings.NewReader(`[1,2]`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-object body: got %d", rec.Code)
	}
}

type swappableConfig struct{ cfg telemetry.Config }

func (c *swappableConfig) Snapshot() telemetry.Config { return c.cfg }

func TestSession_IndexScriptUsesLiveDefault(t *testing.T) {
	script := filepath.Join(t.TempDir(), "index.lua")
	body := `function get_index(event, payload)
  if event == "quiet" then return "" end
  return nil
end`
	if err := os.WriteFile(script, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	path := writeTestConfig(t, devConfig)
	cfg, err := telemetry.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Index = "v1"
	cfg.IndexResolver.Script = script
	src := &swappableConfig{cfg: cfg}

	s, err := newSession(src)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	index := func(event string) any {
		t.Helper()
		p, err := s.client.Event(event).Payload(context.Background())
		if err != nil {
			t.Fatalf("Payload: %v", err)
		}
		md, ok := p[telemetry.KeyMetadata].(map[string]any)
		if !ok {
			return nil
		}
		return md[telemetry.KeyIndex]
	}

	if got := index("loud"); got != "v1" {
		t.Errorf("index = %v, want v1", got)
	}
	src.cfg.Index = "v2"
	if got := index("loud"); got != "v2" {
		t.Errorf("index after reload = %v, want v2", got)
	}
	if got := index("quiet"); got != nil {
		t.Errorf("index = %v, want no metadata when the script returns an empty string", got)
	}
}
