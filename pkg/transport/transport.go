// Package transport resolves named connection configs into transports that
// deliver finished telemetry payloads to an indexing pipeline.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-viper/mapstructure/v2"
)

// Built-in driver names.
const (
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverS3     = "s3"
	DriverStream = "stream"
)

// Reserved connection config keys. They select the implementation and are
// never passed on to it.
const (
	KeyDriver    = "driver"
	KeyTransport = "transport"
)

var (
	// ErrInvalidConnectionConfig is returned when a built-in driver is missing
	// a required field.
	ErrInvalidConnectionConfig = errors.New("invalid connection config")

	// ErrInvalidTransportDriver is returned when a connection resolves to
	// something that does not implement Transport.
	ErrInvalidTransportDriver = errors.New("invalid transport driver")
)

// Transport publishes payloads into storage, usually a queue of sorts, for the
// indexing pipeline to consume from.
type Transport interface {
	// Publish delivers the payload. The result is driver specific and is
	// passed through to the caller untouched.
	Publish(ctx context.Context, payload map[string]any) (any, error)

	// ValidateConnection checks the connection details given to the transport.
	ValidateConnection() error
}

// Factory builds a custom transport from the connection fields left after the
// driver and transport keys are stripped. The returned value must implement
// Transport; anything else fails resolution with ErrInvalidTransportDriver.
type Factory func(fields map[string]any) (any, error)

// Backends holds the long-lived handles built-in drivers publish through.
type Backends struct {
	Redis RedisConnector
	NATS  NATSConnector
	S3    S3Connector

	// Streams overrides the writers behind the stream driver, keyed by
	// output name ("stdout", "stderr").
	Streams map[string]io.Writer
}

// Resolver selects and builds transports from named connection configs.
type Resolver struct {
	connections map[string]map[string]any
	backends    Backends
	factories   map[string]Factory
}

// NewResolver creates a Resolver over the given connection configs. factories
// maps the "transport" reference of unknown drivers to their constructors.
func NewResolver(connections map[string]map[string]any, backends Backends, factories map[string]Factory) *Resolver {
	return &Resolver{
		connections: connections,
		backends:    backends,
		factories:   factories,
	}
}

// Resolve builds and validates the transport configured under name.
func (r *Resolver) Resolve(name string) (*Connection, error) {
	fields := make(map[string]any, len(r.connections[name]))
	for k, v := range r.connections[name] {
		fields[k] = v
	}

	driver, _ := fields[KeyDriver].(string)
	ref, _ := fields[KeyTransport].(string)
	delete(fields, KeyDriver)
	delete(fields, KeyTransport)

	var (
		built any
		err   error
	)
	switch driver {
	case DriverRedis:
		built, err = newRedisTransport(fields, r.backends.Redis)
	case DriverNATS:
		built, err = newNATSTransport(fields, r.backends.NATS)
	case DriverS3:
		built, err = newS3Transport(fields, r.backends.S3)
	case DriverStream:
		built, err = newStreamTransport(fields, r.backends.Streams)
	default:
		// Not a driver we know about; try the implementation the config
		// points at. Without one we fall through to the capability check.
		if factory, ok := r.factories[ref]; ok && ref != "" {
			built, err = factory(fields)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build %q transport: %w", driver, err)
	}

	t, ok := built.(Transport)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: telemetry driver %q is not a valid transport", ErrInvalidTransportDriver, driver)
	}

	if err := t.ValidateConnection(); err != nil {
		return nil, err
	}

	return &Connection{Name: name, Driver: driver, transport: t}, nil
}

// Connection is a resolved, validated transport.
type Connection struct {
	Name   string
	Driver string

	transport Transport
}

// Publish hands the payload to the transport. An empty payload is a no-op
// and returns a nil result.
func (c *Connection) Publish(ctx context.Context, payload map[string]any) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	return c.transport.Publish(ctx, payload)
}

// Transport returns the underlying transport.
func (c *Connection) Transport() Transport { return c.transport }

func decodeFields(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(fields)
}

// queueFields are the fields shared by the queue-backed drivers.
type queueFields struct {
	Connection string `mapstructure:"connection"`
	Queue      string `mapstructure:"queue"`
}

func validateQueueFields(driver string, f queueFields) error {
	if f.Connection == "" {
		return fmt.Errorf("%w: invalid %s connection", ErrInvalidConnectionConfig, driver)
	}
	if f.Queue == "" {
		return fmt.Errorf("%w: invalid %s queue", ErrInvalidConnectionConfig, driver)
	}
	return nil
}
