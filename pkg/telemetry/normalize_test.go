package telemetry

import (
	"errors"
	"mime/multipart"
	"reflect"
	"strings"
	"testing"
	"time"
)

type arrayableData struct {
	key, value string
}

func (a arrayableData) ToMap() map[string]any { return map[string]any{a.key: a.value} }

type shapedData struct{}

func (shapedData) TelemetryData() map[string]any {
	return map[string]any{"shaped": true, "when": time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)}
}

// ToMap must be ignored when TelemetryData is present.
func (shapedData) ToMap() map[string]any { return map[string]any{"generic": true} }

type upload struct{ name string }

func (u upload) ClientOriginalName() string { return u.name }

type plainStruct struct{ A int }

func TestNormalize_Scalars(t *testing.T) {
	for _, v := range []any{nil, "s", 1, int64(2), 3.5, true, uint8(7)} {
		got, err := Normalize(v)
		if err != nil {
			t.Fatalf("Normalize(%v): %v", v, err)
		}
		if got != v {
			t.Errorf("Normalize(%v) = %v, want unchanged", v, got)
		}
	}
}

func TestNormalize_Capabilities(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.FixedZone("X", 3600))

	in := map[string]any{
		"arrayable": arrayableData{"k", "v"},
		"shaped":    shapedData{},
		"time":      ts,
		"file":      upload{"avatar.png"},
		"header":    &multipart.FileHeader{Filename: "resume.pdf"},
		"nested":    map[string]any{"deep": arrayableData{"a", "b"}},
		"list":      []string{"x", "y"},
		"ints":      map[int]string{1: "one"},
		"nilptr":    (*shapedData)(nil),
	}

	got, err := NormalizeMap(in)
	if err != nil {
		t.Fatalf("NormalizeMap: %v", err)
	}

	want := map[string]any{
		"arrayable": map[string]any{"k": "v"},
		"shaped":    map[string]any{"shaped": true, "when": "2024-01-02T03:04:05.000006Z"},
		"time":      "2024-05-06T06:08:09.123456Z",
		"file":      "avatar.png",
		"header":    "resume.pdf",
		"nested":    map[string]any{"deep": map[string]any{"a": "b"}},
		"list":      []any{"x", "y"},
		"ints":      map[string]any{"1": "one"},
		"nilptr":    nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeMap =\n%#v\nwant\n%#v", got, want)
	}
}

func TestNormalize_PreservesKeys(t *testing.T) {
	in := map[string]any{"a": 1, "b": map[string]any{"c": nil, "d": "x"}, "e": nil}
	got, err := NormalizeMap(in)
	if err != nil {
		t.Fatalf("NormalizeMap: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("top-level keys = %d, want %d", len(got), len(in))
	}
	inner := got["b"].(map[string]any)
	if _, ok := inner["c"]; !ok || len(inner) != 2 {
		t.Errorf("nested keys changed: %v", inner)
	}
}

func TestNormalize_Unsupported(t *testing.T) {
	_, err := NormalizeMap(map[string]any{"x": map[string]any{"y": plainStruct{A: 1}}})
	if !errors.Is(err, ErrUnsupportedDataType) {
		t.Fatalf("err = %v, want ErrUnsupportedDataType", err)
	}
	if !strings.Contains(err.Error(), "telemetry.plainStruct") {
		t.Errorf("err = %q, want it to name the type", err)
	}
}

func TestNormalize_PointerToScalar(t *testing.T) {
	s := "hello"
	got, err := Normalize(&s)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "hello" {
		t.Errorf("Normalize(&s) = %v, want hello", got)
	}
}
