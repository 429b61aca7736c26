package telemetry

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"reflect"
	"strconv"
	"time"
)

// TimestampFormat is how time.Time values are rendered in payloads.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// TelemetryData is implemented by values that know their own payload shape.
// It takes priority over Mappable.
type TelemetryData interface {
	TelemetryData() map[string]any
}

// Mappable is implemented by values with a generic map representation.
type Mappable interface {
	ToMap() map[string]any
}

// UploadedFile is implemented by uploaded file values. Only the client
// supplied filename ever reaches a payload.
type UploadedFile interface {
	ClientOriginalName() string
}

type kind int

const (
	kindNull kind = iota
	kindScalar
	kindMapping
	kindSequence
	kindTelemetryShaped
	kindGenericShaped
	kindTimestamp
	kindUploadedFile
	kindPointer
	kindUnsupported
)

func classify(v any) kind {
	if v == nil {
		return kindNull
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return kindNull
		}
	}

	switch v.(type) {
	case TelemetryData:
		return kindTelemetryShaped
	case Mappable:
		return kindGenericShaped
	case time.Time, *time.Time:
		return kindTimestamp
	case UploadedFile, *multipart.FileHeader:
		return kindUploadedFile
	case json.Number:
		return kindScalar
	}

	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return kindScalar
	case reflect.Map:
		switch rv.Type().Key().Kind() {
		case reflect.String,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return kindMapping
		}
	case reflect.Slice, reflect.Array:
		return kindSequence
	case reflect.Pointer:
		return kindPointer
	}
	return kindUnsupported
}

// Normalize converts v into a tree made only of nil, scalars, map[string]any
// and []any. Maps keep exactly their keys.
func Normalize(v any) (any, error) {
	switch classify(v) {
	case kindNull:
		return nil, nil
	case kindScalar:
		return v, nil
	case kindMapping:
		if m, ok := v.(map[string]any); ok {
			return NormalizeMap(m)
		}
		return normalizeReflectMap(reflect.ValueOf(v))
	case kindSequence:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return normalizeSequence(reflect.ValueOf(v))
	case kindTelemetryShaped:
		return NormalizeMap(v.(TelemetryData).TelemetryData())
	case kindGenericShaped:
		return NormalizeMap(v.(Mappable).ToMap())
	case kindTimestamp:
		switch t := v.(type) {
		case *time.Time:
			return t.UTC().Format(TimestampFormat), nil
		default:
			return v.(time.Time).UTC().Format(TimestampFormat), nil
		}
	case kindUploadedFile:
		if fh, ok := v.(*multipart.FileHeader); ok {
			return fh.Filename, nil
		}
		return v.(UploadedFile).ClientOriginalName(), nil
	case kindPointer:
		return Normalize(reflect.ValueOf(v).Elem().Interface())
	}
	return nil, fmt.Errorf(
		"%w: %T is an object that is not handled explicitly, does not implement Mappable or TelemetryData",
		ErrUnsupportedDataType, v,
	)
}

// NormalizeMap normalizes every value of m into a new map.
func NormalizeMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeReflectMap(rv reflect.Value) (map[string]any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		nv, err := Normalize(iter.Value().Interface())
		if err != nil {
			return nil, err
		}
		out[mapKey(iter.Key())] = nv
	}
	return out, nil
}

func mapKey(k reflect.Value) string {
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10)
	default:
		return strconv.FormatInt(k.Int(), 10)
	}
}

func normalizeSequence(rv reflect.Value) ([]any, error) {
	out := make([]any, rv.Len())
	for i := range rv.Len() {
		nv, err := Normalize(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}
