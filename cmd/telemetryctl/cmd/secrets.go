package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sekia-ai/telemetry/internal/secrets"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Encrypt connection credentials for config files",
	}

	cmd.AddCommand(newSecretsKeygenCmd())
	cmd.AddCommand(newSecretsEncryptCmd())
	cmd.AddCommand(newSecretsDecryptCmd())

	return cmd
}

func newSecretsKeygenCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an age keypair for config encryption",
		Long: `Writes a new X25519 age identity to a key file and prints its public key,
for use with 'telemetryctl secrets encrypt --recipient'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				path, err := secrets.DefaultKeyPath()
				if err != nil {
					return fmt.Errorf("locate default key path: %w", err)
				}
				output = path
			}
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("key file already exists: %s (remove it first to regenerate)", output)
			}

			id, err := secrets.GenerateKeyPair()
			if err != nil {
				return fmt.Errorf("generate keypair: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o700); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}

			content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
				time.Now().Format(time.RFC3339), id.Recipient(), id)
			if err := os.WriteFile(output, []byte(content), 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Key file:   %s\n", output)
			fmt.Fprintf(cmd.OutOrStdout(), "Public key: %s\n", id.Recipient())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "key file path (default: ~/.config/telemetry/age.key)")
	return cmd
}

func newSecretsEncryptCmd() *cobra.Command {
	var recipients []string

	cmd := &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a value into an ENC[...] string",
		Long: `Prints the ENC[...] form of <value>, ready to paste into telemetry.toml,
e.g. as redis.default.password. Without --recipient the public key of the
resolved identity is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				enc string
				err error
			)
			if len(recipients) > 0 {
				enc, err = secrets.EncryptFor(args[0], recipients...)
			} else {
				var rec age.Recipient
				rec, err = defaultRecipient()
				if err == nil {
					enc, err = secrets.Encrypt(args[0], rec)
				}
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&recipients, "recipient", nil, "age public key (repeatable; default: from the resolved identity)")
	return cmd
}

func newSecretsDecryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <ENC[...]>",
		Short: "Decrypt an ENC[...] value (for debugging)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveIdentities()
			if err != nil {
				return err
			}
			plain, err := secrets.Decrypt(args[0], ids...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plain)
			return nil
		},
	}
}

func resolveIdentities() ([]age.Identity, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		_ = v.ReadInConfig()
	}
	ids, err := secrets.ResolveIdentity(v)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if ids == nil {
		return nil, fmt.Errorf("no age identity found; set %s or %s, or run 'telemetryctl secrets keygen'",
			secrets.EnvAgeKey, secrets.EnvAgeKeyFile)
	}
	return ids, nil
}

func defaultRecipient() (age.Recipient, error) {
	ids, err := resolveIdentities()
	if err != nil {
		return nil, err
	}
	x, ok := ids[0].(*age.X25519Identity)
	if !ok {
		return nil, errors.New("resolved identity is not X25519; pass --recipient")
	}
	return x.Recipient(), nil
}
