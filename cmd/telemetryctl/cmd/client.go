package cmd

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/sekia-ai/telemetry/internal/logging"
	"github.com/sekia-ai/telemetry/internal/luaindex"
	"github.com/sekia-ai/telemetry/pkg/telemetry"
)

// session is a client built from the CLI's config, with whatever it owns.
type session struct {
	client   *telemetry.Client
	channels *logging.Channels
	closers  []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newSession builds a client over src. The index resolver script named in
// the config, if any, is bound process wide.
func newSession(src telemetry.ConfigSource, opts ...telemetry.Option) (*session, error) {
	cfg := src.Snapshot()
	channels := logging.New(cfg.Logging)

	s := &session{channels: channels}
	s.closers = append(s.closers, func() { channels.Close() })

	s.client = telemetry.NewClient(src, append([]telemetry.Option{telemetry.WithChannels(channels)}, opts...)...)
	s.closers = append(s.closers, s.client.Close)

	if script := cfg.IndexResolver.Script; script != "" {
		defaultIndex := func() string { return src.Snapshot().Index }
		r, err := luaindex.Load(script, defaultIndex, channels.Get(""))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.client.Bind(telemetry.IndexResolverBinding, r)
		s.closers = append(s.closers, r.Close)
	}
	return s, nil
}

func loadSession() (*session, telemetry.Config, error) {
	cfg, err := telemetry.LoadConfig(cfgFile)
	if err != nil {
		return nil, cfg, fmt.Errorf("load config: %w", err)
	}
	s, err := newSession(telemetry.StaticConfig(cfg))
	return s, cfg, err
}

// eventFlags are shared by fire and payload.
type eventFlags struct {
	data       []string
	dataJSON   string
	requestURI string
	user       string
	threadID   string
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.data, "data", "d", nil, "data field as key=value (repeatable)")
	cmd.Flags().StringVar(&f.dataJSON, "data-json", "", "data as a JSON object, merged under --data fields")
	cmd.Flags().StringVar(&f.requestURI, "request-uri", "", "attach a literal request section with this uri")
	cmd.Flags().StringVar(&f.user, "user", "", "user as a JSON object")
	cmd.Flags().StringVar(&f.threadID, "thread-id", "", "correlation id to attach")
}

func (f *eventFlags) builder(s *session, event string) (*telemetry.Builder, error) {
	data := make(map[string]any)
	if f.dataJSON != "" {
		if err := json.Unmarshal([]byte(f.dataJSON), &data); err != nil {
			return nil, fmt.Errorf("parse --data-json: %w", err)
		}
	}
	for _, kv := range f.data {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --data %q, want key=value", kv)
		}
		data[k] = v
	}

	b := s.client.Event(event)
	if len(data) > 0 {
		b.WithData(data)
	}
	if f.requestURI != "" {
		b.WithRequestFields(map[string]any{"uri": f.requestURI})
	}
	if f.user != "" {
		var user map[string]any
		if err := json.Unmarshal([]byte(f.user), &user); err != nil {
			return nil, fmt.Errorf("parse --user: %w", err)
		}
		b.WithUserData(user)
	}
	if f.threadID != "" {
		s.client.Bind(telemetry.ThreadIDBinding, f.threadID)
	}
	return b, nil
}
