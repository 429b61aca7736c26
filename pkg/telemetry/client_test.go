package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/telemetry/internal/metrics"
	"github.com/sekia-ai/telemetry/pkg/transport"
)

var fixedNow = time.Unix(1700000000, 0)

// captureTransport records every payload it is asked to publish.
type captureTransport struct {
	mu       sync.Mutex
	payloads []map[string]any

	result     any
	publishErr error
	validErr   error
	panicWith  any
}

func (c *captureTransport) Publish(_ context.Context, payload map[string]any) (any, error) {
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return c.result, c.publishErr
}

func (c *captureTransport) ValidateConnection() error { return c.validErr }

func (c *captureTransport) published() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.payloads...)
}

func testConfig() Config {
	return Config{
		Enabled:          true,
		Env:              "testing",
		DefaultTransport: "capture",
		Connections: map[string]map[string]any{
			"capture": {transport.KeyTransport: "capture", "region": "eu"},
		},
	}
}

type testClient struct {
	*Client
	transport *captureTransport
	built     int
	fields    map[string]any
	logs      *bytes.Buffer
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) *testClient {
	t.Helper()
	tc := &testClient{transport: &captureTransport{result: "ok"}, logs: &bytes.Buffer{}}

	base := []Option{
		WithBackends(transport.Backends{}),
		WithLogger(zerolog.New(tc.logs)),
		WithClock(func() time.Time { return fixedNow }),
		WithHost(Host{Name: "web-1", IP: "10.0.0.1"}),
		WithTransport("capture", func(fields map[string]any) (any, error) {
			tc.built++
			tc.fields = fields
			return tc.transport, nil
		}),
	}
	tc.Client = NewClient(StaticConfig(cfg), append(base, opts...)...)
	t.Cleanup(tc.Close)
	return tc
}

func (tc *testClient) notifications() []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(tc.logs.String()), "\n") {
		if strings.Contains(line, "Telemetry Error: ") {
			out = append(out, line)
		}
	}
	return out
}

func TestFire_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	tc := newTestClient(t, cfg)

	res, err := tc.Event("signup").Fire(context.Background())
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if res.Status != StatusDisabled {
		t.Errorf("Status = %v, want disabled", res.Status)
	}
	if tc.built != 0 {
		t.Error("transport resolved while disabled")
	}
}

func TestFire_Publishes(t *testing.T) {
	tc := newTestClient(t, testConfig())

	res, err := tc.Event("signup").WithData(map[string]any{"plan": "pro"}).Fire(context.Background())
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if res.Status != StatusPublished || res.Value != "ok" {
		t.Errorf("Result = %+v, want published/ok", res)
	}

	if _, ok := tc.fields[transport.KeyTransport]; ok {
		t.Error("transport key passed to the factory")
	}
	if tc.fields["region"] != "eu" {
		t.Errorf("factory fields = %v", tc.fields)
	}

	got := tc.transport.published()
	if len(got) != 1 {
		t.Fatalf("published %d payloads, want 1", len(got))
	}
	if got[0][KeyEvent] != "signup" {
		t.Errorf("event = %v", got[0][KeyEvent])
	}
	if data, _ := got[0][KeyData].(map[string]any); data["plan"] != "pro" {
		t.Errorf("data = %v", got[0][KeyData])
	}
}

func TestFireOn_NamedConnection(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultTransport = "missing"
	tc := newTestClient(t, cfg)

	res, err := tc.Event("evt").FireOn(context.Background(), "capture")
	if err != nil || res.Status != StatusPublished {
		t.Fatalf("FireOn = %+v, %v", res, err)
	}
}

func TestFire_MissingEventName(t *testing.T) {
	tc := newTestClient(t, testConfig())

	res, err := tc.New().Fire(context.Background())
	if err != nil {
		t.Fatalf("Fire returned %v, want nil without throw", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("Status = %v, want failed", res.Status)
	}

	notes := tc.notifications()
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1: %v", len(notes), notes)
	}
	if !strings.Contains(notes[0], "telemetry requires an event name to index") {
		t.Errorf("notification = %q", notes[0])
	}
	if !strings.Contains(notes[0], `"level":"warn"`) {
		t.Errorf("notification not at warn level: %q", notes[0])
	}
	if tc.built != 0 {
		t.Error("transport resolved without an event name")
	}
}

func TestFire_ThrowTransportExceptions(t *testing.T) {
	cfg := testConfig()
	cfg.Notifications.ThrowTransportExceptions = true
	tc := newTestClient(t, cfg)

	_, err := tc.New().Fire(context.Background())
	if !errors.Is(err, ErrMissingEventName) {
		t.Fatalf("err = %v, want ErrMissingEventName", err)
	}
	if err.Error() != ErrMissingEventName.Error() {
		t.Errorf("re-raised message = %q, want the original", err.Error())
	}
	if len(tc.notifications()) != 1 {
		t.Error("error should be logged before it is returned")
	}
}

func TestFire_TransportFailures(t *testing.T) {
	boom := errors.New("queue is down")

	tests := []struct {
		name    string
		prepare func(*captureTransport)
		want    string
	}{
		{"publish error", func(c *captureTransport) { c.publishErr = boom }, "queue is down"},
		{"validation error", func(c *captureTransport) { c.validErr = boom }, "queue is down"},
		{"panic", func(c *captureTransport) { c.panicWith = "kaboom" }, "kaboom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Notifications.ThrowTransportExceptions = true
			tc := newTestClient(t, cfg)
			tt.prepare(tc.transport)

			res, err := tc.Event("evt").Fire(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
			if res.Status != StatusFailed {
				t.Errorf("Status = %v, want failed", res.Status)
			}
		})
	}
}

func TestFire_InvalidTransportDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Notifications.ThrowTransportExceptions = true
	tc := newTestClient(t, cfg, WithTransport("capture", func(map[string]any) (any, error) {
		return struct{}{}, nil
	}))

	_, err := tc.Event("evt").Fire(context.Background())
	if !errors.Is(err, transport.ErrInvalidTransportDriver) {
		t.Fatalf("err = %v, want ErrInvalidTransportDriver", err)
	}
}

func TestFire_StreamDriver(t *testing.T) {
	var out bytes.Buffer
	cfg := testConfig()
	cfg.DefaultTransport = "dev"
	cfg.Connections["dev"] = map[string]any{transport.KeyDriver: transport.DriverStream, "output": "stdout"}

	tc := newTestClient(t, cfg, WithBackends(transport.Backends{
		Streams: map[string]io.Writer{"stdout": &out},
	}))

	res, err := tc.Event("evt").Fire(context.Background())
	if err != nil || res.Status != StatusPublished {
		t.Fatalf("Fire = %+v, %v", res, err)
	}
	if !strings.Contains(out.String(), `"event":"evt"`) {
		t.Errorf("stream output = %q", out.String())
	}
}

func TestClient_Resolve(t *testing.T) {
	tc := newTestClient(t, testConfig())

	conn, err := tc.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if conn.Name != "capture" {
		t.Errorf("Name = %q, want default transport", conn.Name)
	}
}

func TestClient_ThreadIDScoping(t *testing.T) {
	tc := newTestClient(t, testConfig())

	ctx := ContextWithBindings(context.Background(), NewMapBindings())
	tc.SetThreadID(ctx, "req-1")

	if got := tc.ThreadID(ctx); got != "req-1" {
		t.Errorf("ThreadID(scoped) = %q", got)
	}
	if got := tc.ThreadID(context.Background()); got != "" {
		t.Errorf("thread id leaked into process bindings: %q", got)
	}

	tc.SetThreadID(context.Background(), "process")
	if got := tc.ThreadID(ctx); got != "req-1" {
		t.Errorf("request binding should win, got %q", got)
	}
}

func TestFire_Metrics(t *testing.T) {
	cfg := testConfig()
	tc := newTestClient(t, cfg)

	published := metrics.EventsFired.WithLabelValues(StatusPublished.String())
	failed := metrics.EventsFired.WithLabelValues(StatusFailed.String())
	beforePublished := testutil.ToFloat64(published)
	beforeFailed := testutil.ToFloat64(failed)
	beforeNotes := testutil.ToFloat64(metrics.Notifications)

	tc.Event("evt").Fire(context.Background())
	tc.New().Fire(context.Background())

	if got := testutil.ToFloat64(published) - beforePublished; got != 1 {
		t.Errorf("published delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(failed) - beforeFailed; got != 1 {
		t.Errorf("failed delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Notifications) - beforeNotes; got != 1 {
		t.Errorf("notifications delta = %v, want 1", got)
	}
}
