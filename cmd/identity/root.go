// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/socialhub/identity/internal/config"
)

// configFile is the --config flag shared by every subcommand.
var configFile string

// NewRootCmd creates the root command for the identity CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "SocialHub identity - account registration and sign-in",
		Long: `identity serves the account API of SocialHub: registration, email
confirmation, sign-in, password reset and email change.

Settings come from an optional YAML file, IDENTITY_* environment variables
(IDENTITY_DATABASE__URL sets database.url) and flags, later sources winning.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPurgeCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig reads the configuration for cmd, honoring its flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}
