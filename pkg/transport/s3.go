package transport

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// S3Putter is the subset of the S3 client the archive driver needs.
type S3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Connector hands out S3 clients by region.
type S3Connector interface {
	S3Client(ctx context.Context, region string) (S3Putter, error)
}

// AWSConnector builds S3 clients from the default AWS credential chain and
// caches one per region.
type AWSConnector struct {
	mu      sync.Mutex
	clients map[string]*s3.Client
}

// NewAWSConnector creates an empty connector.
func NewAWSConnector() *AWSConnector {
	return &AWSConnector{clients: make(map[string]*s3.Client)}
}

// S3Client returns the client for region, loading AWS config on first use.
func (c *AWSConnector) S3Client(ctx context.Context, region string) (S3Putter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[region]; ok {
		return client, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	c.clients[region] = client
	return client, nil
}

type s3Fields struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Prefix   string `mapstructure:"prefix"`
	Compress bool   `mapstructure:"compress"`
}

// S3Transport archives each payload as its own object.
type S3Transport struct {
	fields    s3Fields
	connector S3Connector
	now       func() time.Time
}

func newS3Transport(fields map[string]any, connector S3Connector) (*S3Transport, error) {
	var f s3Fields
	if err := decodeFields(fields, &f); err != nil {
		return nil, err
	}
	return &S3Transport{fields: f, connector: connector, now: time.Now}, nil
}

// ValidateConnection requires a bucket and a region.
func (t *S3Transport) ValidateConnection() error {
	if t.fields.Bucket == "" {
		return fmt.Errorf("%w: invalid s3 bucket", ErrInvalidConnectionConfig)
	}
	if t.fields.Region == "" {
		return fmt.Errorf("%w: invalid s3 region", ErrInvalidConnectionConfig)
	}
	return nil
}

// Publish returns the object key the payload was written to.
func (t *S3Transport) Publish(ctx context.Context, payload map[string]any) (any, error) {
	if t.connector == nil {
		return nil, fmt.Errorf("s3 connector not configured")
	}
	client, err := t.connector.S3Client(ctx, t.fields.Region)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	key := t.objectKey(payload)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(t.fields.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/json"),
	}

	if t.fields.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("gzip payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		body = buf.Bytes()
		input.ContentEncoding = aws.String("gzip")
	}
	input.Body = bytes.NewReader(body)

	if _, err := client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("s3 put %s: %w", key, err)
	}
	return key, nil
}

func (t *S3Transport) objectKey(payload map[string]any) string {
	event, _ := payload["event"].(string)
	if event == "" {
		event = "event"
	}
	event = strings.NewReplacer("/", "_", " ", "_").Replace(event)

	name := fmt.Sprintf("%s-%s.json", event, uuid.NewString())
	if t.fields.Compress {
		name += ".gz"
	}
	return path.Join(t.fields.Prefix, t.now().UTC().Format("2006/01/02"), name)
}
