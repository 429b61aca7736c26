package transport

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisOptions describes one named redis connection.
type RedisOptions struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"` // #nosec G117 -- config deserialization, not hardcoded
	DB       int    `mapstructure:"db"`
}

// RedisConnector hands out redis clients by connection name.
type RedisConnector interface {
	RedisClient(name string) (redis.Cmdable, error)
}

// RedisPool lazily dials and caches one client per configured connection.
type RedisPool struct {
	mu      sync.Mutex
	options map[string]RedisOptions
	clients map[string]*redis.Client
}

// NewRedisPool creates a pool over the named connection options.
func NewRedisPool(options map[string]RedisOptions) *RedisPool {
	return &RedisPool{
		options: options,
		clients: make(map[string]*redis.Client),
	}
}

// RedisClient returns the client for name, creating it on first use.
func (p *RedisPool) RedisClient(name string) (redis.Cmdable, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[name]; ok {
		return c, nil
	}
	opts, ok := p.options[name]
	if !ok {
		return nil, fmt.Errorf("redis connection %q is not configured", name)
	}
	c := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	p.clients[name] = c
	return c, nil
}

// Close closes every client the pool has handed out.
func (p *RedisPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close redis %q: %w", name, err)
		}
		delete(p.clients, name)
	}
	return firstErr
}

// RedisTransport pushes JSON payloads onto a redis list.
type RedisTransport struct {
	connection string
	queue      string
	connector  RedisConnector
}

// NewRedisTransport creates a transport that RPUSHes onto queue using the
// named redis connection.
func NewRedisTransport(connector RedisConnector, connection, queue string) *RedisTransport {
	return &RedisTransport{connection: connection, queue: queue, connector: connector}
}

func newRedisTransport(fields map[string]any, connector RedisConnector) (*RedisTransport, error) {
	var f queueFields
	if err := decodeFields(fields, &f); err != nil {
		return nil, err
	}
	return NewRedisTransport(connector, f.Connection, f.Queue), nil
}

// ValidateConnection requires a connection name and a queue name.
func (t *RedisTransport) ValidateConnection() error {
	return validateQueueFields(DriverRedis, queueFields{Connection: t.connection, Queue: t.queue})
}

// Publish returns the length of the list after the push.
func (t *RedisTransport) Publish(ctx context.Context, payload map[string]any) (any, error) {
	if t.connector == nil {
		return nil, fmt.Errorf("redis connector not configured")
	}
	client, err := t.connector.RedisClient(t.connection)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	n, err := client.RPush(ctx, t.queue, string(data)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis rpush %s: %w", t.queue, err)
	}
	return n, nil
}
