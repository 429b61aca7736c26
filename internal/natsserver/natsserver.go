// Package natsserver runs an embedded NATS server with JetStream enabled, used
// as a local telemetry queue for development and tests.
package natsserver

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Config holds settings for the embedded server.
type Config struct {
	StoreDir string
	Host     string // empty means in-process only
	Port     int
	Token    string
}

// Server wraps an embedded NATS server and a client connection to it.
type Server struct {
	ns        *server.Server
	nc        *nats.Conn
	inProcess bool
	token     string
	js        jetstream.JetStream
	logger    zerolog.Logger
}

// New starts the server and waits for it to accept connections.
func New(cfg Config, logger zerolog.Logger) (*Server, error) {
	opts := &server.Options{
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		DontListen: cfg.Host == "",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("nats server create: %w", err)
	}
	ns.SetLoggerV2(newZerologAdapter(logger), false, false, false)

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server failed to become ready")
	}

	srv := &Server{ns: ns, inProcess: opts.DontListen, token: cfg.Token, logger: logger}

	nc, err := nats.Connect(ns.ClientURL(), srv.ConnectOptions()...)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	srv.nc = nc
	srv.js = js

	logger.Info().Str("client_url", ns.ClientURL()).Msg("embedded NATS started")

	return srv, nil
}

// ConnectOptions returns the options a client needs to reach the server.
// In-process servers are reached without a socket.
func (s *Server) ConnectOptions() []nats.Option {
	var opts []nats.Option
	if s.inProcess {
		opts = append(opts, nats.InProcessServer(s.ns))
	}
	if s.token != "" {
		opts = append(opts, nats.Token(s.token))
	}
	return opts
}

// EnsureQueue creates (or updates) a work-queue stream capturing subject.
func (s *Server) EnsureQueue(ctx context.Context, stream, subject string) (jetstream.Stream, error) {
	st, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	s.logger.Debug().Str("stream", stream).Str("subject", subject).Msg("queue stream ready")
	return st, nil
}

// ClientURL returns the NATS client connection URL.
func (s *Server) ClientURL() string { return s.ns.ClientURL() }

// NATSServer returns the raw server for in-process connections.
func (s *Server) NATSServer() *server.Server { return s.ns }

// JetStream returns the server-side JetStream handle.
func (s *Server) JetStream() jetstream.JetStream { return s.js }

// Shutdown drains the client connection and stops the server.
func (s *Server) Shutdown() {
	s.logger.Info().Msg("shutting down embedded NATS")
	s.nc.Drain()
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
