package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"schedkit/internal/config"
)

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and list the jobs it declares",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", *cfgPath)
			for _, j := range cfg.Jobs {
				when := j.Expression
				if when == "" {
					when = fmt.Sprintf("every %ds", j.Period)
				}
				fmt.Fprintf(out, "  %-24s %-20s %s\n", j.Name, when, j.Command)
			}
			return nil
		},
	}
}
