package cmd

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newPayloadCmd() *cobra.Command {
	var flags eventFlags

	cmd := &cobra.Command{
		Use:   "payload <event>",
		Short: "Print the payload an event would publish, without publishing it",
		Args:  cobra.ExactArgs(1),
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

			payload, err := b.Payload(cmd.Context())
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal payload: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
