package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

type fakeS3 struct {
	region string
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (f *fakeS3) S3Client(_ context.Context, region string) (S3Putter, error) {
	f.region = region
	return f, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Transport_Validation(t *testing.T) {
	tests := []struct {
		fields  map[string]any
		wantErr string
	}{
		{map[string]any{}, "invalid s3 bucket"},
		{map[string]any{"bucket": "b"}, "invalid s3 region"},
		{map[string]any{"bucket": "b", "region": "us-east-1"}, ""},
	}
	for _, tt := range tests {
		tr, err := newS3Transport(tt.fields, nil)
		if err != nil {
			t.Fatalf("newS3Transport: %v", err)
		}
		err = tr.ValidateConnection()
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("ValidateConnection(%v) = %v, want nil", tt.fields, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidConnectionConfig) || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("ValidateConnection(%v) = %v, want %q", tt.fields, err, tt.wantErr)
		}
	}
}

func TestS3Transport_PublishCompressed(t *testing.T) {
	fake := &fakeS3{}
	tr, err := newS3Transport(map[string]any{
		"bucket":   "telemetry-archive",
		"region":   "eu-west-1",
		"prefix":   "events",
		"compress": "true",
	}, fake)
	if err != nil {
		t.Fatalf("newS3Transport: %v", err)
	}
	tr.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }

	res, err := tr.Publish(context.Background(), map[string]any{"event": "user/login"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	key, _ := res.(string)
	if !strings.HasPrefix(key, "events/2024/03/09/user_login-") || !strings.HasSuffix(key, ".json.gz") {
		t.Errorf("key = %q", key)
	}
	if fake.region != "eu-west-1" {
		t.Errorf("region = %q, want eu-west-1", fake.region)
	}
	if got := *fake.inputs[0].ContentEncoding; got != "gzip" {
		t.Errorf("content encoding = %q, want gzip", got)
	}

	zr, err := gzip.NewReader(bytes.NewReader(fake.bodies[0]))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, _ := io.ReadAll(zr)
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["event"] != "user/login" {
		t.Errorf("event = %v, want user/login", doc["event"])
	}
}
