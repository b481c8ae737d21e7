// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/runlog-project/runlog/lib/runstore"
)

// newStatusCommand builds "runlog status": report what is still on
// disk without touching the network. Exits 1 when anything is pending
// so scripts can gate on it.
func newStatusCommand(app *App) *Command {
	var configPath string
	return &Command{
		Name:    "status",
		Summary: "list runs with unsynchronized data on disk",
		Usage:   "runlog status [flags]",
		Examples: []Example{
			{
				Description: "Fail a CI step if anything was left unshipped",
				Command:     "runlog status && echo clean",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to runlog.yaml (overrides RUNLOG_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("status takes no positional arguments, got %q", args[0])
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store := runstore.New(cfg.Paths.Root)
			containers, err := store.DiscoverAll()
			if err != nil {
				return err
			}
			return printStatus(os.Stdout, containers)
		},
	}
}

func printStatus(w io.Writer, containers []runstore.Container) error {
	var pending uint64
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "MODE\tCONTAINER\tEXECUTIONS\tPENDING")
	for _, container := range containers {
		if container.Pending() == 0 {
			continue
		}
		pending += container.Pending()
		fmt.Fprintf(tw, "%s\t%s__%s\t%d\t%d\n",
			container.Mode,
			container.Type, container.ID,
			len(container.Executions),
			container.Pending(),
		)
	}
	if pending == 0 {
		fmt.Fprintln(w, "no unsynchronized data")
		return nil
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d operations pending; run `runlog sync` to ship them\n", pending)
	return &ExitError{Code: 1}
}
