// Package secrets decrypts age-encrypted values in telemetry config files.
//
// A sealed value is written as ENC[<base64 age ciphertext>] anywhere a
// string is accepted, typically connection passwords and tokens.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/spf13/viper"
)

const (
	// EnvAgeKey holds a raw AGE-SECRET-KEY-1... string.
	EnvAgeKey = "TELEMETRY_AGE_KEY"

	// EnvAgeKeyFile holds a path to an age identity file.
	EnvAgeKeyFile = "TELEMETRY_AGE_KEY_FILE"

	// IdentityConfigKey is the config key naming an identity file.
	IdentityConfigKey = "secrets.identity"
)

// ErrNotEncrypted is returned by Decrypt for values without the ENC[...] wrapper.
var ErrNotEncrypted = errors.New("value is not encrypted (missing ENC[...] wrapper)")

// unwrap returns the body of an ENC[...] value.
func unwrap(value string) (string, bool) {
	body, ok := strings.CutPrefix(value, "ENC[")
	if !ok {
		return "", false
	}
	body, ok = strings.CutSuffix(body, "]")
	return body, ok && body != ""
}

// IsEncrypted reports whether value is wrapped in ENC[...] with a non-empty body.
func IsEncrypted(value string) bool {
	_, ok := unwrap(value)
	return ok
}

// Encrypt seals a config value for recipients.
func Encrypt(value string, recipients ...age.Recipient) (string, error) {
	var out bytes.Buffer
	enc := base64.NewEncoder(base64.StdEncoding, &out)
	w, err := age.Encrypt(enc, recipients...)
	if err == nil {
		_, err = io.WriteString(w, value)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		return "", fmt.Errorf("seal value: %w", err)
	}
	enc.Close()
	return "ENC[" + out.String() + "]", nil
}

// EncryptFor is Encrypt with recipients given as age1... strings, the form
// telemetryctl accepts on its command line.
func EncryptFor(value string, recipients ...string) (string, error) {
	if len(recipients) == 0 {
		return "", errors.New("at least one recipient is required")
	}
	parsed := make([]age.Recipient, len(recipients))
	for i, s := range recipients {
		rec, err := age.ParseX25519Recipient(strings.TrimSpace(s))
		if err != nil {
			return "", fmt.Errorf("parse recipient %q: %w", s, err)
		}
		parsed[i] = rec
	}
	return Encrypt(value, parsed...)
}

// Decrypt opens a sealed config value.
func Decrypt(value string, identities ...age.Identity) (string, error) {
	body, ok := unwrap(value)
	if !ok {
		return "", ErrNotEncrypted
	}
	ciphertext := base64.NewDecoder(base64.StdEncoding, strings.NewReader(body))
	r, err := age.Decrypt(ciphertext, identities...)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	var out strings.Builder
	if _, err := io.Copy(&out, r); err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return out.String(), nil
}

// GenerateKeyPair creates a new X25519 identity.
func GenerateKeyPair() (*age.X25519Identity, error) {
	return age.GenerateX25519Identity()
}

// LoadIdentity reads identities from an age key file.
func LoadIdentity(path string) ([]age.Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	ids, err := age.ParseIdentities(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("identity file %s: %w", path, err)
	}
	return ids, nil
}

// IdentityFromString parses a raw AGE-SECRET-KEY-1... string.
func IdentityFromString(key string) (*age.X25519Identity, error) {
	return age.ParseX25519Identity(strings.TrimSpace(key))
}

// DefaultKeyPath is ~/.config/telemetry/age.key.
func DefaultKeyPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "telemetry", "age.key"), nil
}

// identitySource yields identities, or ok=false when it is not configured.
type identitySource func(v *viper.Viper) (ids []age.Identity, ok bool, err error)

var identitySources = []identitySource{
	func(*viper.Viper) ([]age.Identity, bool, error) {
		raw := os.Getenv(EnvAgeKey)
		if raw == "" {
			return nil, false, nil
		}
		id, err := IdentityFromString(raw)
		if err != nil {
			return nil, true, fmt.Errorf("parse %s: %w", EnvAgeKey, err)
		}
		return []age.Identity{id}, true, nil
	},
	func(*viper.Viper) ([]age.Identity, bool, error) {
		return loadIfSet(os.Getenv(EnvAgeKeyFile))
	},
	func(v *viper.Viper) ([]age.Identity, bool, error) {
		return loadIfSet(expandHome(v.GetString(IdentityConfigKey)))
	},
	func(*viper.Viper) ([]age.Identity, bool, error) {
		path, err := DefaultKeyPath()
		if err != nil {
			return nil, false, nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil, false, nil
		}
		return loadIfSet(path)
	},
}

func loadIfSet(path string) ([]age.Identity, bool, error) {
	if path == "" {
		return nil, false, nil
	}
	ids, err := LoadIdentity(path)
	return ids, true, err
}

// ResolveIdentity returns the identities of the first configured source:
// TELEMETRY_AGE_KEY, TELEMETRY_AGE_KEY_FILE, the secrets.identity config key
// and finally the default key file. It returns (nil, nil) when none is set.
func ResolveIdentity(v *viper.Viper) ([]age.Identity, error) {
	for _, source := range identitySources {
		if ids, ok, err := source(v); ok {
			return ids, err
		}
	}
	return nil, nil
}

// DecryptViperConfig replaces every ENC[...] value in v with its plaintext.
func DecryptViperConfig(v *viper.Viper, identities []age.Identity) error {
	for _, key := range encryptedKeys(v) {
		plain, err := Decrypt(v.GetString(key), identities...)
		if err != nil {
			return fmt.Errorf("decrypt config key %q: %w", key, err)
		}
		v.Set(key, plain)
	}
	return nil
}

// HasEncryptedValues reports whether any value in v is ENC[...].
func HasEncryptedValues(v *viper.Viper) bool {
	return len(encryptedKeys(v)) > 0
}

func encryptedKeys(v *viper.Viper) []string {
	var keys []string
	for _, key := range v.AllKeys() {
		if IsEncrypted(v.GetString(key)) {
			keys = append(keys, key)
		}
	}
	return keys
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && rest[0] != '/') {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
