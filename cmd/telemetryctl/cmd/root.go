package cmd

import "github.com/spf13/cobra"

var (
	cfgFile string

	// Version is set by the main package via ldflags.
	Version = "dev"
)

// NewRootCmd creates the root telemetryctl command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "telemetryctl",
		Short:        "Build, inspect and publish telemetry events",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: telemetry.toml in /etc/telemetry, ~/.config/telemetry or .)")

	rootCmd.AddCommand(newFireCmd())
	rootCmd.AddCommand(newPayloadCmd())
	rootCmd.AddCommand(newConnectionsCmd())
	rootCmd.AddCommand(newSecretsCmd())
	rootCmd.AddCommand(newDevCmd())

	return rootCmd
}
