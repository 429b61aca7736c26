package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/telemetry/pkg/telemetry"
)

func newFireCmd() *cobra.Command {
	var (
		flags      eventFlags
		connection string
	)

	cmd := &cobra.Command{
		Use:   "fire <event>",
		Short: "Publish an event through a configured transport",
		Long: `Builds a payload for <event> and publishes it through the default transport,
or the connection named with --connection. Failures are reported the way the
notifications config says; set notifications.throw_transport_exceptions to
make them fail the command.

Examples:
  telemetryctl fire user.signup -d plan=pro -d source=cli
  telemetryctl fire order.paid --data-json '{"amount": 42}' --connection s3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			b, err := flags.builder(s, args[0])
			if err != nil {
				return err
			}

			res, err := b.FireOn(cmd.Context(), connection)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\n", res.Status)
			if res.Status == telemetry.StatusPublished {
				fmt.Fprintf(cmd.OutOrStdout(), "Result: %v\n", res.Value)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&connection, "connection", "", "connection to publish through (default: default_transport)")
	return cmd
}
