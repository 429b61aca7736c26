package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	json "github.com/goccy/go-json"
)

// StreamTransport writes payloads as newline-delimited JSON to stdout or
// stderr. Meant for local development.
type StreamTransport struct {
	output string
	w      io.Writer
	mu     sync.Mutex
}

func newStreamTransport(fields map[string]any, writers map[string]io.Writer) (*StreamTransport, error) {
	var f struct {
		Output string `mapstructure:"output"`
	}
	if err := decodeFields(fields, &f); err != nil {
		return nil, err
	}
	if f.Output == "" {
		f.Output = "stdout"
	}

	w := writers[f.Output]
	if w == nil {
		switch f.Output {
		case "stdout":
			w = os.Stdout
		case "stderr":
			w = os.Stderr
		}
	}
	return &StreamTransport{output: f.Output, w: w}, nil
}

// ValidateConnection requires a known output.
func (t *StreamTransport) ValidateConnection() error {
	if t.w == nil {
		return fmt.Errorf("%w: invalid stream output %q", ErrInvalidConnectionConfig, t.output)
	}
	return nil
}

// Publish returns the number of bytes written.
func (t *StreamTransport) Publish(_ context.Context, payload map[string]any) (any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.w.Write(data)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", t.output, err)
	}
	return n, nil
}
