// Package logging builds the named zerolog channels telemetry reports to.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config lists the available channels and which one is the default.
type Config struct {
	Default  string                   `mapstructure:"default"`
	Channels map[string]ChannelConfig `mapstructure:"channels"`
}

// ChannelConfig describes one channel.
type ChannelConfig struct {
	// Output is "stdout", "stderr" or a file path opened for appending.
	Output string `mapstructure:"output"`
	// Format is "console" (default) or "json".
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// Channels hands out loggers by channel name. Unknown or empty names get the
// default channel.
type Channels struct {
	def     string
	loggers map[string]zerolog.Logger

	mu    sync.Mutex
	files []*os.File
}

// New builds every configured channel. The built-in "stdout" and "stderr"
// channels always exist.
func New(cfg Config) *Channels {
	c := &Channels{
		def:     cfg.Default,
		loggers: make(map[string]zerolog.Logger),
	}
	if c.def == "" {
		c.def = "stderr"
	}

	c.loggers["stdout"] = newLogger(os.Stdout, "console", "")
	c.loggers["stderr"] = newLogger(os.Stderr, "console", "")

	for name, ch := range cfg.Channels {
		c.loggers[name] = newLogger(c.output(ch.Output), ch.Format, ch.Level)
	}
	return c
}

// Single routes every channel to logger.
func Single(logger zerolog.Logger) *Channels {
	return &Channels{def: "default", loggers: map[string]zerolog.Logger{"default": logger}}
}

// Get returns the named channel.
func (c *Channels) Get(name string) zerolog.Logger {
	if l, ok := c.loggers[name]; ok {
		return l
	}
	return c.loggers[c.def]
}

// Close closes file outputs.
func (c *Channels) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, f := range c.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.files = nil
	return firstErr
}

func (c *Channels) output(name string) io.Writer {
	switch name {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	}
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return os.Stderr
	}
	c.mu.Lock()
	c.files = append(c.files, f)
	c.mu.Unlock()
	return f
}

func newLogger(w io.Writer, format, level string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = l
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("component", "telemetry").Logger()
}
