package cmd

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/telemetry/pkg/transport"
)

func newConnectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Inspect configured transport connections",
	}

	cmd.AddCommand(newConnectionsListCmd())
	cmd.AddCommand(newConnectionsValidateCmd())

	return cmd
}

func newConnectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDRIVER\tDEFAULT")
			for _, name := range sortedKeys(cfg.Connections) {
				fields := cfg.Connections[name]
				driver, _ := fields[transport.KeyDriver].(string)
				if driver == "" {
					driver, _ = fields[transport.KeyTransport].(string)
				}
				def := ""
				if name == cfg.DefaultTransport {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, driver, def)
			}
			return w.Flush()
		},
	}
}

func newConnectionsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [name...]",
		Short: "Resolve and validate connections (default: all configured)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			names := args
			if len(names) == 0 {
				names = sortedKeys(cfg.Connections)
			}

			failed := 0
			for _, name := range names {
				conn, err := s.client.Resolve(name)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %v\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK    %s (%s)\n", name, conn.Driver)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d connections invalid", failed, len(names))
			}
			return nil
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
