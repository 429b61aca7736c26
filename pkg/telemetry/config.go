package telemetry

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/sekia-ai/telemetry/internal/logging"
	"github.com/sekia-ai/telemetry/internal/secrets"
	"github.com/sekia-ai/telemetry/pkg/transport"
)

// Config is an immutable snapshot of the telemetry configuration.
type Config struct {
	Enabled          bool                              `mapstructure:"enabled"`
	Env              string                            `mapstructure:"env"`
	Index            string                            `mapstructure:"index"`
	IndexResolver    IndexResolverConfig               `mapstructure:"index_resolver"`
	DefaultTransport string                            `mapstructure:"default_transport"`
	Connections      map[string]map[string]any         `mapstructure:"connections"`
	Redis            map[string]transport.RedisOptions `mapstructure:"redis"`
	NATS             map[string]transport.NATSOptions  `mapstructure:"nats"`
	Payloads         PayloadsConfig                    `mapstructure:"payloads"`
	Notifications    NotificationsConfig               `mapstructure:"notifications"`
	Logging          logging.Config                    `mapstructure:"logging"`
}

// IndexResolverConfig points at an optional Lua index resolver script.
type IndexResolverConfig struct {
	Script string `mapstructure:"script"`
}

// PayloadsConfig controls what goes into a payload.
type PayloadsConfig struct {
	Request            RequestPayloadConfig `mapstructure:"request"`
	User               UserPayloadConfig    `mapstructure:"user"`
	ObfuscatedDataKeys []string             `mapstructure:"obfuscated_data_keys"`
	Vars               map[string]any       `mapstructure:"vars"`
}

// RequestPayloadConfig controls the request section.
type RequestPayloadConfig struct {
	Included bool     `mapstructure:"included"`
	Headers  []string `mapstructure:"headers"`
}

// UserPayloadConfig controls the user section.
type UserPayloadConfig struct {
	Included       bool     `mapstructure:"included"`
	Attributes     []string `mapstructure:"attributes"`
	CallbackMethod string   `mapstructure:"callback_method"`
}

// NotificationsConfig controls how fire failures are reported.
type NotificationsConfig struct {
	LoggingChannel           string `mapstructure:"logging_channel"`
	ThrowTransportExceptions bool   `mapstructure:"throw_transport_exceptions"`
}

// LoadConfig reads the configuration from file, env vars and defaults.
func LoadConfig(cfgFile string) (Config, error) {
	cfg, _, err := loadConfig(cfgFile)
	return cfg, err
}

// loadConfig also returns the config file actually read, if any.
func loadConfig(cfgFile string) (Config, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("telemetry")
		v.AddConfigPath("/etc/telemetry")
		v.AddConfigPath("$HOME/.config/telemetry")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TELEMETRY")
	v.AutomaticEnv()

	v.BindEnv("env", "TELEMETRY_ENV", "APP_ENV")
	v.BindEnv("enabled", "TELEMETRY_ENABLED")
	v.BindEnv("index", "TELEMETRY_INDEX")
	v.BindEnv("default_transport", "TELEMETRY_DEFAULT_TRANSPORT")
	v.BindEnv("connections.redis.connection", "TELEMETRY_REDIS_CONNECTION")
	v.BindEnv("connections.redis.queue", "TELEMETRY_REDIS_QUEUE")
	v.BindEnv("payloads.request.included", "TELEMETRY_PAYLOADS_REQUEST_INCLUDED")
	v.BindEnv("payloads.request.headers", "TELEMETRY_REQUEST_HEADERS")
	v.BindEnv("payloads.user.included", "TELEMETRY_PAYLOADS_USER_INCLUDED")
	v.BindEnv("payloads.user.attributes", "TELEMETRY_USER_ATTRIBUTES")
	v.BindEnv("payloads.obfuscated_data_keys", "TELEMETRY_OBFUSCATED_DATA_KEYS")
	v.BindEnv("notifications.logging_channel", "TELEMETRY_LOGGING_CHANNEL")
	v.BindEnv("notifications.throw_transport_exceptions", "TELEMETRY_THROW_TRANSPORT_EXCEPTIONS")

	// Config file is optional unless named explicitly.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, "", fmt.Errorf("read config: %w", err)
		}
	}

	if secrets.HasEncryptedValues(v) {
		ids, err := secrets.ResolveIdentity(v)
		if err != nil {
			return Config{}, "", fmt.Errorf("resolve age identity: %w", err)
		}
		if ids == nil {
			return Config{}, "", fmt.Errorf("config has ENC[...] values but no age identity is configured")
		}
		if err := secrets.DecryptViperConfig(v, ids); err != nil {
			return Config{}, "", err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled", false)
	v.SetDefault("env", "production")
	v.SetDefault("index", "telemetry")
	v.SetDefault("default_transport", "redis")

	v.SetDefault("connections.redis.driver", transport.DriverRedis)
	v.SetDefault("connections.redis.connection", "")
	v.SetDefault("connections.redis.queue", "")

	v.SetDefault("payloads.request.included", true)
	v.SetDefault("payloads.request.headers", []string{
		"accept",
		"authorization",
		"content-length",
		"content-type",
		"origin",
	})
	v.SetDefault("payloads.user.included", true)
	v.SetDefault("payloads.user.attributes", []string{"email", "id", "name"})
	v.SetDefault("payloads.user.callback_method", "")
	v.SetDefault("payloads.obfuscated_data_keys", []string{"password", "password_confirmation"})

	v.SetDefault("notifications.logging_channel", "")
	v.SetDefault("notifications.throw_transport_exceptions", false)

	v.SetDefault("logging.default", "stderr")
}
