// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pricepulse/pricepulse/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	var validate bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, the config file, the
environment and flags. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, validate)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return oops.Code("CONFIG_PRINT_FAILED").Wrap(err)
			}
			cmd.Print(string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "fail if the configuration is not runnable")
	config.RegisterFlags(cmd.Flags())
	return cmd
}
