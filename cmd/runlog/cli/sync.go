// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/runlog-project/runlog/lib/config"
	"github.com/runlog-project/runlog/lib/reconcile"
	"github.com/runlog-project/runlog/lib/runstore"
)

// newSyncCommand builds "runlog sync": replay every operation log left
// on disk, registering offline runs along the way.
func newSyncCommand(app *App) *Command {
	var (
		configPath  string
		project     string
		offlineOnly bool
		runs        []string
		timeout     string
	)
	return &Command{
		Name:    "sync",
		Summary: "replay unsynchronized operation logs to the server",
		Usage:   "runlog sync [flags]",
		Description: "Sync replays operation logs that previous processes left on disk:\n" +
			"runs that crashed or were stopped before their data was shipped, and\n" +
			"runs recorded in offline mode. Offline runs are registered first and\n" +
			"moved into the async namespace under their server-assigned ID.",
		Examples: []Example{
			{
				Description: "Synchronize everything, registering offline runs in my-project",
				Command:     "runlog sync --project my-project",
			},
			{
				Description: "Only register and replay offline runs",
				Command:     "runlog sync --project my-project --offline-only",
			},
			{
				Description: "Synchronize two specific containers",
				Command:     "runlog sync --run RUN-17 --run RUN-23",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sync", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to runlog.yaml (overrides RUNLOG_CONFIG)")
			flagSet.StringVar(&project, "project", "", "project for registering offline runs")
			flagSet.BoolVar(&offlineOnly, "offline-only", false, "only synchronize offline runs")
			flagSet.StringArrayVar(&runs, "run", nil, "synchronize only this container ID (repeatable)")
			flagSet.StringVar(&timeout, "timeout", "", "total retry budget, e.g. 30m (default from config)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("sync takes no positional arguments, got %q", args[0])
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			retryTimeout := config.Duration(cfg.Sync.RetryTimeout)
			if timeout != "" {
				parsed, err := time.ParseDuration(timeout)
				if err != nil {
					return fmt.Errorf("--timeout: %q is not a duration", timeout)
				}
				retryTimeout = parsed
			}

			logger := NewCommandLogger().With("command", "sync")
			backend, err := app.NewBackend(cfg, logger)
			if err != nil {
				return err
			}
			reconciler, err := reconcile.New(reconcile.Config{
				Store:        runstore.New(cfg.Paths.Root),
				Backend:      backend,
				RetryTimeout: retryTimeout,
				BatchSize:    cfg.Queue.BatchSize,
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			ctx := context.Background()
			switch {
			case len(runs) > 0:
				return reconciler.SyncSelected(ctx, project, runs)
			case offlineOnly:
				return reconciler.SyncOffline(ctx, project)
			default:
				return reconciler.SyncAll(ctx, project)
			}
		},
	}
}
