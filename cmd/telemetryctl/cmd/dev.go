package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sekia-ai/telemetry/internal/natsserver"
	"github.com/sekia-ai/telemetry/pkg/telemetry"
	"github.com/sekia-ai/telemetry/pkg/telemetryhttp"
)

func newDevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Local development helpers",
	}

	cmd.AddCommand(newDevNATSCmd())
	cmd.AddCommand(newDevServeCmd())

	return cmd
}

func devLogger() zerolog.Logger {
	return zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	).With().Timestamp().Logger()
}

func newDevNATSCmd() *cobra.Command {
	var (
		cfg     natsserver.Config
		stream  string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "nats",
		Short: "Run an embedded NATS JetStream server as a local telemetry queue",
		Long: `Starts NATS with JetStream and a work-queue stream capturing <subject>,
then prints the config that points the nats driver at it. Runs until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := devLogger()

			if cfg.StoreDir == "" {
				dir, err := os.MkdirTemp("", "telemetry-nats-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)
				cfg.StoreDir = dir
			}

			srv, err := natsserver.New(cfg, logger)
			if err != nil {
				return err
			}
			defer srv.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := srv.EnsureQueue(ctx, stream, subject); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), `default_transport = "nats"

[connections.nats]
driver = "nats"
connection = "local"
queue = %q

[nats.local]
url = %q
`, subject, srv.ClientURL())
			if cfg.Token != "" {
				fmt.Fprintln(cmd.OutOrStdout(), `token = "<token>"`)
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.Host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&cfg.Port, "port", 4222, "listen port")
	cmd.Flags().StringVar(&cfg.Token, "token", "", "require this auth token")
	cmd.Flags().StringVar(&cfg.StoreDir, "store-dir", "", "JetStream storage directory (default: a temp dir)")
	cmd.Flags().StringVar(&stream, "stream", "TELEMETRY", "stream name")
	cmd.Flags().StringVar(&subject, "subject", "telemetry.events", "subject the stream captures")
	return cmd
}

func newDevServeCmd() *cobra.Command {
	var (
		listen string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an HTTP endpoint that fires events from request bodies",
		Long: `Serves POST /events/{name}: the JSON body becomes the event data and the
request itself is available to the payload. GET /metrics exposes delivery
metrics. With --watch the config file is reloaded when it changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := devLogger()

			src, err := devConfigSource(watch, logger)
			if err != nil {
				return err
			}
			if w, ok := src.(*telemetry.Watcher); ok {
				stopWatch, err := w.Start()
				if err != nil {
					return err
				}
				defer stopWatch()
			}

			s, err := newSession(src)
			if err != nil {
				return err
			}
			defer s.Close()

			mux := http.NewServeMux()
			mux.Handle("GET /metrics", promhttp.Handler())
			mux.HandleFunc("POST /events/{name}", eventHandler(s.client))

			httpSrv := &http.Server{
				Addr:              listen,
				Handler:           telemetryhttp.Middleware(telemetryhttp.Options{EchoThreadID: true})(mux),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("listen", listen).Msg("dev server listening")
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "HTTP listen address")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the config file when it changes")
	return cmd
}

func devConfigSource(watch bool, logger zerolog.Logger) (telemetry.ConfigSource, error) {
	if watch {
		w, err := telemetry.NewWatcher(cfgFile, logger)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return w, nil
	}
	cfg, err := telemetry.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return telemetry.StaticConfig(cfg), nil
}

// eventHandler fires the event named in the path with the JSON body as data
// and answers with the fire outcome.
func eventHandler(client *telemetry.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var data map[string]any
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err == nil && len(body) > 0 {
			err = json.Unmarshal(body, &data)
		}
		if err != nil {
			http.Error(w, "body must be a JSON object", http.StatusBadRequest)
			return
		}

		res, err := client.Event(r.PathValue("name")).
			WithData(data).
			WithHTTPRequest(r).
			Fire(r.Context())

		status := http.StatusAccepted
		resp := map[string]any{"status": res.Status.String()}
		if err != nil {
			status = http.StatusBadGateway
			resp["error"] = err.Error()
		} else if res.Status == telemetry.StatusFailed {
			status = http.StatusBadGateway
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
