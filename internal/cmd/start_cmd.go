/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package cmd assembles the vdiskd root command and its subcommands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/openshift-kni/vdisk-registry/internal/logging"
)

// Root creates and returns the `vdiskd` root command, with the `serve`, `migrate`, `registry` and
// `version` subcommands attached.
func Root() *cobra.Command {
	result := &cobra.Command{
		Use:   "vdiskd",
		Short: "Distributed virtual-disk registry node",
		Args:  cobra.NoArgs,
	}
	logging.AddFlags(result.PersistentFlags())
	result.AddCommand(Serve())
	result.AddCommand(Migrate())
	result.AddCommand(Registry())
	result.AddCommand(Version())
	return result
}
