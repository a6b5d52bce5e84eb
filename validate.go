package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jayyu23/x402-zkid/config"
	"github.com/jayyu23/x402-zkid/x402"
)

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and payment routes without serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			payTo := cfg.Payee.Address
			if payTo == "" {
				payTo = placeholderPayTo
			}
			reg, err := x402.NewRegistry(cfg.Routes, x402.WithDefaultPayTo(payTo))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, rt := range reg.Routes() {
				fmt.Fprintf(out, "%-24s %d requirement(s)\n", rt.Pattern, len(rt.Config.Accepts))
			}
			fmt.Fprintf(out, "configuration OK: %d route(s), facilitator mode %s\n", len(reg.Routes()), cfg.Facilitator.Mode)
			return nil
		},
	}
}
