package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/sekia-ai/telemetry/internal/metrics"
)

type requestMode int

const (
	requestUnset requestMode = iota
	requestExclude
	requestAmbient
	requestLiteral
	requestExplicit
)

type userMode int

const (
	userAmbient userMode = iota
	userExclude
	userExplicit
)

// Status tells apart the outcomes of Fire.
type Status int

const (
	// StatusDisabled means telemetry is switched off; nothing was attempted.
	StatusDisabled Status = iota + 1
	// StatusFailed means the attempt failed and was reported.
	StatusFailed
	// StatusPublished means the transport accepted the payload.
	StatusPublished
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusFailed:
		return "failed"
	case StatusPublished:
		return "published"
	}
	return "unknown"
}

// Result is what Fire returns. Value is the transport's own publish result.
type Result struct {
	Status Status
	Value  any
}

// Builder accumulates one event and its context. A Builder is not safe for
// concurrent use; build a new one per event.
type Builder struct {
	client *Client

	event string
	data  map[string]any

	requestMode   requestMode
	requestFields map[string]any
	request       Request

	response map[string]any

	userMode userMode
	user     any
}

// Event sets the event name, the identifier events are aggregated on.
func (b *Builder) Event(name string) *Builder {
	b.event = name
	return b
}

// WithData sets the first-class data placed under the data key.
func (b *Builder) WithData(data map[string]any) *Builder {
	b.data = data
	return b
}

// Data sets first-class data from a map with string keys or a Mappable. Any
// other value is rejected right away with ErrInvalidInputData.
func (b *Builder) Data(v any) error {
	switch d := v.(type) {
	case Mappable:
		if isNil(d) {
			break
		}
		b.data = d.ToMap()
		return nil
	case map[string]any:
		b.data = d
		return nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String && !rv.IsNil() {
		data := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			data[iter.Key().String()] = iter.Value().Interface()
		}
		b.data = data
		return nil
	}
	return fmt.Errorf("%w: got %T", ErrInvalidInputData, v)
}

// WithRequestData forces the ambient request in (true) or leaves the decision
// to configuration (false).
func (b *Builder) WithRequestData(include bool) *Builder {
	b.request = nil
	b.requestFields = nil
	if include {
		b.requestMode = requestAmbient
	} else {
		b.requestMode = requestExclude
	}
	return b
}

// WithRequestFields uses fields verbatim as the request section.
func (b *Builder) WithRequestFields(fields map[string]any) *Builder {
	b.request = nil
	b.requestMode = requestLiteral
	b.requestFields = fields
	return b
}

// WithRequest extracts the request section from r instead of the ambient
// request.
func (b *Builder) WithRequest(r Request) *Builder {
	b.requestFields = nil
	b.requestMode = requestExplicit
	b.request = r
	return b
}

// WithHTTPRequest is WithRequest for a *http.Request.
func (b *Builder) WithHTTPRequest(r *http.Request) *Builder {
	return b.WithRequest(HTTPRequest(r))
}

// WithResponseData snapshots status, headers and content of the response now.
// Later changes to the response are not seen.
func (b *Builder) WithResponseData(r ResponseSource) *Builder {
	if r == nil {
		b.response = nil
		return b
	}
	b.response = snapshotResponse(r)
	return b
}

// WithUserData uses user instead of the ambient authenticated user. Passing
// false excludes the user; passing nil restores the ambient user.
func (b *Builder) WithUserData(user any) *Builder {
	switch u := user.(type) {
	case nil:
		b.userMode = userAmbient
		b.user = nil
	case bool:
		if !u {
			b.userMode = userExclude
			b.user = nil
			return b
		}
		b.userMode = userAmbient
	default:
		b.userMode = userExplicit
		b.user = user
	}
	return b
}

// WithoutUser excludes the user section.
func (b *Builder) WithoutUser() *Builder {
	return b.WithUserData(false)
}

// Payload builds the payload without publishing it.
func (b *Builder) Payload(ctx context.Context) (map[string]any, error) {
	return b.payload(ctx, b.client.config.Snapshot())
}

func (b *Builder) payload(ctx context.Context, cfg Config) (map[string]any, error) {
	a := &assembler{
		cfg:      cfg,
		ambient:  b.client.ambient,
		bindings: b.client.bindingsFor(ctx),
		vars:     b.client.vars,
		now:      b.client.now,
		host:     b.client.host,
	}
	return a.build(ctx, b)
}

// Fire publishes the event through the default transport.
func (b *Builder) Fire(ctx context.Context) (Result, error) {
	return b.FireOn(ctx, "")
}

// FireOn publishes the event through the named connection, or the default
// transport when connection is empty.
//
// Failures never escape unless notifications.throw_transport_exceptions is
// set: they are logged and reported as StatusFailed.
func (b *Builder) FireOn(ctx context.Context, connection string) (Result, error) {
	cfg := b.client.config.Snapshot()

	if !cfg.Enabled {
		metrics.EventsFired.WithLabelValues(StatusDisabled.String()).Inc()
		return Result{Status: StatusDisabled}, nil
	}

	if b.event == "" {
		return b.client.fail(cfg, ErrMissingEventName)
	}

	if connection == "" {
		connection = cfg.DefaultTransport
	}

	value, err := b.publish(ctx, cfg, connection)
	if err != nil {
		return b.client.fail(cfg, err)
	}

	metrics.EventsFired.WithLabelValues(StatusPublished.String()).Inc()
	return Result{Status: StatusPublished, Value: value}, nil
}

func (b *Builder) publish(ctx context.Context, cfg Config, connection string) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("telemetry panic: %v", r)
		}
	}()

	conn, err := b.client.resolver(cfg).Resolve(connection)
	if err != nil {
		return nil, err
	}

	payload, err := b.payload(ctx, cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	value, err = conn.Publish(ctx, payload)
	metrics.PublishDuration.WithLabelValues(conn.Driver).Observe(time.Since(start).Seconds())
	return value, err
}
