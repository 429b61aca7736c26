package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSOptions describes one named NATS connection.
type NATSOptions struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// NATSConnector hands out JetStream contexts by connection name.
type NATSConnector interface {
	JetStream(name string) (jetstream.JetStream, error)
}

// NATSPool lazily connects and caches one JetStream context per configured
// connection.
type NATSPool struct {
	mu      sync.Mutex
	options map[string]NATSOptions
	extra   []nats.Option
	conns   map[string]*nats.Conn
	streams map[string]jetstream.JetStream
	logger  zerolog.Logger
}

// NewNATSPool creates a pool over the named connection options. extra is
// appended to every connect call (tests pass nats.InProcessServer here).
func NewNATSPool(options map[string]NATSOptions, logger zerolog.Logger, extra ...nats.Option) *NATSPool {
	return &NATSPool{
		options: options,
		extra:   extra,
		conns:   make(map[string]*nats.Conn),
		streams: make(map[string]jetstream.JetStream),
		logger:  logger.With().Str("component", "nats-pool").Logger(),
	}
}

// JetStream returns the JetStream context for name, connecting on first use.
func (p *NATSPool) JetStream(name string) (jetstream.JetStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if js, ok := p.streams[name]; ok {
		return js, nil
	}
	opts, ok := p.options[name]
	if !ok {
		return nil, fmt.Errorf("nats connection %q is not configured", name)
	}

	connLogger := p.logger.With().Str("connection", name).Logger()
	natsOpts := []nats.Option{
		nats.Name("telemetry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				connLogger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			connLogger.Info().Msg("NATS reconnected")
		}),
	}
	if opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	}
	natsOpts = append(natsOpts, p.extra...)

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %q: %w", name, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init %q: %w", name, err)
	}

	p.conns[name] = nc
	p.streams[name] = js
	return js, nil
}

// Close drains every connection the pool has opened.
func (p *NATSPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, nc := range p.conns {
		nc.Drain()
		delete(p.conns, name)
		delete(p.streams, name)
	}
}

// NATSTransport publishes JSON payloads onto a JetStream subject.
type NATSTransport struct {
	connection string
	queue      string
	connector  NATSConnector
}

// NewNATSTransport creates a transport publishing to the queue subject over the
// named NATS connection. A stream must already capture the subject.
func NewNATSTransport(connector NATSConnector, connection, queue string) *NATSTransport {
	return &NATSTransport{connection: connection, queue: queue, connector: connector}
}

func newNATSTransport(fields map[string]any, connector NATSConnector) (*NATSTransport, error) {
	var f queueFields
	if err := decodeFields(fields, &f); err != nil {
		return nil, err
	}
	return NewNATSTransport(connector, f.Connection, f.Queue), nil
}

// ValidateConnection requires a connection name and a queue subject.
func (t *NATSTransport) ValidateConnection() error {
	return validateQueueFields(DriverNATS, queueFields{Connection: t.connection, Queue: t.queue})
}

// Publish returns the *jetstream.PubAck of the stored message.
func (t *NATSTransport) Publish(ctx context.Context, payload map[string]any) (any, error) {
	if t.connector == nil {
		return nil, fmt.Errorf("nats connector not configured")
	}
	js, err := t.connector.JetStream(t.connection)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	ack, err := js.Publish(ctx, t.queue, data)
	if err != nil {
		return nil, fmt.Errorf("jetstream publish %s: %w", t.queue, err)
	}
	return ack, nil
}
