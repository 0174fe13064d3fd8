/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/openshift-kni/vdisk-registry/internal"
	"github.com/openshift-kni/vdisk-registry/internal/config"
	"github.com/openshift-kni/vdisk-registry/internal/exit"
	"github.com/openshift-kni/vdisk-registry/internal/kvcoord"
)

// Migrate creates and returns the `migrate` command: applies the Key-Value Coordinator's Postgres
// schema.
func Migrate() *cobra.Command {
	c := &MigrateCommand{}
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Key-Value Coordinator's database schema",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
}

// MigrateCommand contains the data and logic needed to run the `migrate` command.
type MigrateCommand struct{}

func (c *MigrateCommand) run(cmd *cobra.Command, argv []string) error {
	ctx := cmd.Context()
	logger := internal.LoggerFromContext(ctx)

	cfg, err := config.Load()
	if err != nil {
		logger.ErrorContext(ctx, "loading configuration", "error", err)
		return exit.Error(1)
	}

	if err := kvcoord.Migrate(cfg.DatabaseURL, logger); err != nil {
		logger.ErrorContext(ctx, "applying database schema", "error", err)
		return exit.Error(1)
	}
	logger.InfoContext(ctx, "database schema is up to date")
	return nil
}
