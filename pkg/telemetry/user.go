package telemetry

import (
	"reflect"
	"strings"
)

// UserAttributes is implemented by user values that look up their own
// attributes. Other users are read as maps or struct fields.
type UserAttributes interface {
	TelemetryAttribute(name string) (any, bool)
}

// userAttribute returns the named attribute or nil when the user has none.
func userAttribute(user any, name string) any {
	switch u := user.(type) {
	case UserAttributes:
		if v, ok := u.TelemetryAttribute(name); ok {
			return v
		}
		return nil
	case map[string]any:
		return u[name]
	}

	rv := reflect.ValueOf(user)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil
		}
		return v.Interface()
	case reflect.Struct:
		return structField(rv, name)
	}
	return nil
}

// structField matches name against json tags first, then field names
// case-insensitively.
func structField(rv reflect.Value, name string) any {
	t := rv.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag == name {
			return rv.Field(i).Interface()
		}
	}
	for i := range t.NumField() {
		f := t.Field(i)
		if f.IsExported() && strings.EqualFold(f.Name, name) {
			return rv.Field(i).Interface()
		}
	}
	return nil
}

// userCallback invokes the named method on user when it exists and has the
// shape func() map[string]any.
func userCallback(user any, method string) map[string]any {
	if method == "" {
		return nil
	}
	m := reflect.ValueOf(user).MethodByName(method)
	if !m.IsValid() {
		return nil
	}
	mt := m.Type()
	if mt.NumIn() != 0 || mt.NumOut() != 1 {
		return nil
	}
	out, _ := m.Call(nil)[0].Interface().(map[string]any)
	return out
}

// isEmpty reports nil, typed nil, false, and zero-length values.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.Map, reflect.Slice, reflect.String:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	}
	return false
}
