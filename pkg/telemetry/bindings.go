package telemetry

import (
	"context"
	"sync"
)

// Binding keys read by the payload assembler.
const (
	// ThreadIDBinding holds the correlation id linking the events of one
	// logical unit of work.
	ThreadIDBinding = "TelemetryThreadId"

	// IndexResolverBinding holds an application supplied IndexResolver.
	IndexResolverBinding = "TelemetryIndexResolver"
)

// Bindings is a keyed store the host scopes per logical request.
type Bindings interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MapBindings is an in-memory Bindings safe for concurrent use.
type MapBindings struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMapBindings creates an empty MapBindings.
func NewMapBindings() *MapBindings {
	return &MapBindings{values: make(map[string]any)}
}

func (b *MapBindings) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

func (b *MapBindings) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
}

type ctxKey int

const (
	bindingsKey ctxKey = iota
	requestKey
	userKey
)

// ContextWithBindings returns a context carrying request scoped bindings.
func ContextWithBindings(ctx context.Context, b Bindings) context.Context {
	return context.WithValue(ctx, bindingsKey, b)
}

// BindingsFromContext returns the bindings stored in ctx, if any.
func BindingsFromContext(ctx context.Context) (Bindings, bool) {
	b, ok := ctx.Value(bindingsKey).(Bindings)
	return b, ok && b != nil
}
