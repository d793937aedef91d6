// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package main

import (
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/logging"
	"github.com/socialhub/identity/internal/maintenance"
)

// NewPurgeCmd creates the purge subcommand.
func NewPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired tokens and sessions once",
		Long: `Run the expired-row cleanup that serve schedules, then exit. Useful
from an external scheduler when serve runs with maintenance.purge_schedule
empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.Setup(logging.Options{
				Service: "identity",
				Version: version,
				Format:  cfg.Log.Format,
				Level:   cfg.Log.Level,
			}, cmd.ErrOrStderr())

			ctx := cmd.Context()
			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.close()

			svc, err := newServices(cfg, st, account.NewArgon2idHasher(), logger)
			if err != nil {
				return err
			}
			counts, err := maintenance.Run(ctx, purgeTasks(svc), logger)
			for _, name := range slices.Sorted(maps.Keys(counts)) {
				cmd.Printf("%s: %d purged\n", name, counts[name])
			}
			return err
		},
	}
}
