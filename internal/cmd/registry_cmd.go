/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/openshift-kni/vdisk-registry/internal"
	"github.com/openshift-kni/vdisk-registry/internal/config"
	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/kvcoord"
	"github.com/openshift-kni/vdisk-registry/internal/logging"
	"github.com/openshift-kni/vdisk-registry/internal/registry"
)

// Registry creates and returns the `registry` command group: one-shot admin operations against the
// Object Registry, for operational scripts and integration tests.
func Registry() *cobra.Command {
	result := &cobra.Command{
		Use:   "registry",
		Short: "One-shot Object Registry admin operations",
		Args:  cobra.NoArgs,
	}
	result.AddCommand(registryList())
	result.AddCommand(registryFind())
	result.AddCommand(registryRegisterBaseVolume())
	result.AddCommand(registryUnregister())
	result.AddCommand(registryMigrate())
	return result
}

func registryList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists every registered object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			logger := internal.LoggerFromContext(ctx)
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()
			kv := kvcoord.NewPostgres(pool, logger)
			ctx = logging.AppendCtx(ctx, slog.String("cluster_id", cfg.ClusterId))
			reg := registry.New(kv, ids.ClusterId(cfg.ClusterId))

			all, err := reg.List(ctx)
			if err != nil {
				return err
			}
			for _, r := range all {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tnode=%s\tnamespace=%s\ttype=%v\n", r.ObjectId, r.NodeId, r.Namespace, r.TreeConfig.ObjectType)
			}
			return nil
		},
	}
}

func registryFind() *cobra.Command {
	var node string
	c := &cobra.Command{
		Use:   "find <object-id>",
		Short: "Looks up one object's registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			logger := internal.LoggerFromContext(ctx)
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()
			kv := kvcoord.NewPostgres(pool, logger)
			ctx = logging.AppendCtx(ctx, slog.String("cluster_id", cfg.ClusterId))
			ctx = logging.AppendCtx(ctx, slog.String("object_id", argv[0]))
			reg := registry.New(kv, ids.ClusterId(cfg.ClusterId))

			found, err := reg.Find(ctx, ids.ObjectId(argv[0]), ids.NodeId(node))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tnode=%s\tnamespace=%s\ttype=%v\towner_tag=%d\n",
				found.ObjectId, found.NodeId, found.Namespace, found.TreeConfig.ObjectType, found.OwnerTag)
			return nil
		},
	}
	c.Flags().StringVar(&node, "node", "", "Local node id, used only to opportunistically upgrade a legacy owner tag")
	return c
}

func registryRegisterBaseVolume() *cobra.Command {
	var node, namespace string
	c := &cobra.Command{
		Use:   "register-base-volume <object-id>",
		Short: "Registers a fresh root Volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			logger := internal.LoggerFromContext(ctx)
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()
			kv := kvcoord.NewPostgres(pool, logger)
			ctx = logging.AppendCtx(ctx, slog.String("cluster_id", cfg.ClusterId))
			ctx = logging.AppendCtx(ctx, slog.String("object_id", argv[0]))
			reg := registry.New(kv, ids.ClusterId(cfg.ClusterId))
			return reg.RegisterBaseVolume(ctx, ids.ObjectId(argv[0]), ids.NodeId(node), ids.Namespace(namespace))
		},
	}
	c.Flags().StringVar(&node, "node", "", "Owning node id")
	c.Flags().StringVar(&namespace, "namespace", "", "Backend namespace")
	_ = c.MarkFlagRequired("node")
	_ = c.MarkFlagRequired("namespace")
	return c
}

func registryUnregister() *cobra.Command {
	var caller string
	c := &cobra.Command{
		Use:   "unregister <object-id>",
		Short: "Unregisters a leaf object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			logger := internal.LoggerFromContext(ctx)
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()
			kv := kvcoord.NewPostgres(pool, logger)
			ctx = logging.AppendCtx(ctx, slog.String("cluster_id", cfg.ClusterId))
			ctx = logging.AppendCtx(ctx, slog.String("object_id", argv[0]))
			reg := registry.New(kv, ids.ClusterId(cfg.ClusterId))
			return reg.Unregister(ctx, ids.ObjectId(argv[0]), ids.NodeId(caller))
		},
	}
	c.Flags().StringVar(&caller, "caller", "", "Node id performing the unregister, must own the object")
	_ = c.MarkFlagRequired("caller")
	return c
}

func registryMigrate() *cobra.Command {
	var from, to string
	c := &cobra.Command{
		Use:   "migrate <object-id>",
		Short: "Reassigns an object's owning node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			logger := internal.LoggerFromContext(ctx)
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()
			kv := kvcoord.NewPostgres(pool, logger)
			ctx = logging.AppendCtx(ctx, slog.String("cluster_id", cfg.ClusterId))
			ctx = logging.AppendCtx(ctx, slog.String("object_id", argv[0]))
			reg := registry.New(kv, ids.ClusterId(cfg.ClusterId))
			return reg.Migrate(ctx, ids.ObjectId(argv[0]), ids.NodeId(from), ids.NodeId(to))
		},
	}
	c.Flags().StringVar(&from, "from", "", "Current owning node id")
	c.Flags().StringVar(&to, "to", "", "New owning node id")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")
	return c
}
