package telemetry

import "reflect"

// IndexResolver lets the application choose the index a payload is stored in.
type IndexResolver interface {
	GetIndex(eventName string, payload map[string]any) string
}

// ResolveIndex asks the resolver bound under IndexResolverBinding for the
// index. When nothing usable is bound, defaultIndex is returned. An empty
// result means no metadata block is attached.
func ResolveIndex(b Bindings, defaultIndex, eventName string, payload map[string]any) string {
	if b != nil {
		if v, ok := b.Get(IndexResolverBinding); ok {
			if r, ok := v.(IndexResolver); ok && !isNil(r) {
				return r.GetIndex(eventName, payload)
			}
		}
	}
	return defaultIndex
}

// isNil also catches nil pointers, maps and funcs stored in an interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
