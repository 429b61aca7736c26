// Package telemetry assembles event payloads (request, response, user and
// arbitrary data, normalized and obfuscated) and publishes them through a
// configured transport.
//
//	client := telemetry.NewClient(telemetry.StaticConfig(cfg))
//	defer client.Close()
//
//	client.Event("user.login").
//		WithData(map[string]any{"method": "passkey"}).
//		Fire(ctx)
package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sekia-ai/telemetry/internal/logging"
	"github.com/sekia-ai/telemetry/internal/metrics"
	"github.com/sekia-ai/telemetry/pkg/transport"
)

// ConfigSource hands out the configuration snapshot a Fire call works with.
type ConfigSource interface {
	Snapshot() Config
}

// StaticConfig is a ConfigSource that never changes.
type StaticConfig Config

func (s StaticConfig) Snapshot() Config { return Config(s) }

// Client builds and fires events. It is safe for concurrent use.
type Client struct {
	config    ConfigSource
	channels  *logging.Channels
	bindings  Bindings
	ambient   AmbientProvider
	backends  *transport.Backends
	factories map[string]transport.Factory
	vars      any
	now       func() time.Time
	host      func() Host

	closers []func()
}

// Option configures a Client.
type Option func(*Client)

// WithChannels sets the log channels notifications are written to.
func WithChannels(ch *logging.Channels) Option {
	return func(c *Client) { c.channels = ch }
}

// WithLogger routes every log channel to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.channels = logging.Single(logger) }
}

// WithBindings sets the process wide bindings. Request scoped bindings in the
// context take precedence.
func WithBindings(b Bindings) Option {
	return func(c *Client) { c.bindings = b }
}

// WithAmbient sets where the ambient request and user come from.
func WithAmbient(p AmbientProvider) Option {
	return func(c *Client) { c.ambient = p }
}

// WithBackends sets the handles built-in drivers publish through. Without it
// the client builds them from the initial config and closes them on Close.
func WithBackends(b transport.Backends) Option {
	return func(c *Client) { c.backends = &b }
}

// WithTransport registers a custom transport factory under ref, the value of a
// connection's "transport" key.
func WithTransport(ref string, f transport.Factory) Option {
	return func(c *Client) { c.factories[ref] = f }
}

// WithVars sets a variables source merged into every payload: a map, a
// VarsProvider or a func() VarsProvider.
func WithVars(source any) Option {
	return func(c *Client) { c.vars = source }
}

// WithClock overrides the event timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithHost overrides the host block.
func WithHost(h Host) Option {
	return func(c *Client) { c.host = func() Host { return h } }
}

// NewClient creates a Client reading configuration from src.
func NewClient(src ConfigSource, opts ...Option) *Client {
	c := &Client{
		config:    src,
		bindings:  NewMapBindings(),
		ambient:   ContextAmbient{},
		factories: make(map[string]transport.Factory),
		now:       time.Now,
		host:      localHost,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.channels == nil {
		c.channels = logging.New(src.Snapshot().Logging)
	}
	if c.backends == nil {
		b, closeFn := NewBackends(src.Snapshot(), c.channels.Get(""))
		c.backends = &b
		c.closers = append(c.closers, closeFn)
	}
	return c
}

// NewBackends builds the redis, NATS and S3 handles named in cfg. The returned
// func releases them.
func NewBackends(cfg Config, logger zerolog.Logger) (transport.Backends, func()) {
	redisPool := transport.NewRedisPool(cfg.Redis)
	natsPool := transport.NewNATSPool(cfg.NATS, logger)
	return transport.Backends{
			Redis: redisPool,
			NATS:  natsPool,
			S3:    transport.NewAWSConnector(),
		}, func() {
			redisPool.Close()
			natsPool.Close()
		}
}

// Event starts a new event.
func (c *Client) Event(name string) *Builder {
	return c.New().Event(name)
}

// New starts an empty builder.
func (c *Client) New() *Builder {
	return &Builder{client: c}
}

// Resolve resolves and validates a connection against the current config.
// An empty name resolves the default transport.
func (c *Client) Resolve(name string) (*transport.Connection, error) {
	cfg := c.config.Snapshot()
	if name == "" {
		name = cfg.DefaultTransport
	}
	return c.resolver(cfg).Resolve(name)
}

func (c *Client) resolver(cfg Config) *transport.Resolver {
	return transport.NewResolver(cfg.Connections, *c.backends, c.factories)
}

// ThreadID returns the correlation id bound for the current unit of work.
func (c *Client) ThreadID(ctx context.Context) string {
	v, _ := c.bindingsFor(ctx).Get(ThreadIDBinding)
	id, _ := v.(string)
	return id
}

// SetThreadID binds the correlation id for the current unit of work.
func (c *Client) SetThreadID(ctx context.Context, id string) {
	c.bindingsFor(ctx).Set(ThreadIDBinding, id)
}

// Bind stores value under key in the process wide bindings, e.g. an
// IndexResolver under IndexResolverBinding.
func (c *Client) Bind(key string, value any) {
	c.bindings.Set(key, value)
}

func (c *Client) bindingsFor(ctx context.Context) Bindings {
	req, _ := BindingsFromContext(ctx)
	return scopedBindings{request: req, process: c.bindings}
}

// fail reports err through the notification policy.
func (c *Client) fail(cfg Config, err error) (Result, error) {
	metrics.EventsFired.WithLabelValues(StatusFailed.String()).Inc()
	return Result{Status: StatusFailed}, c.notify(cfg, err)
}

// notify logs err on the configured channel and hands it back only when the
// configuration asks for exceptions to be thrown.
func (c *Client) notify(cfg Config, err error) error {
	metrics.Notifications.Inc()

	logger := c.channels.Get(cfg.Notifications.LoggingChannel)
	logger.Warn().Msg("Telemetry Error: " + err.Error())

	if cfg.Notifications.ThrowTransportExceptions {
		return err
	}
	return nil
}

// Close releases backend handles the client created itself.
func (c *Client) Close() {
	for _, fn := range c.closers {
		fn()
	}
	c.closers = nil
}
