// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the runlog command tree.
package cli

import (
	"log/slog"

	"github.com/runlog-project/runlog/lib/backend"
	"github.com/runlog-project/runlog/lib/config"
)

// BackendFactory builds the server client for commands that ship data.
// The wire protocol is not part of this repository; the binary links a
// concrete implementation through this seam.
type BackendFactory func(cfg *config.Config, logger *slog.Logger) (backend.Backend, error)

// App carries the state shared by all subcommands.
type App struct {
	// NewBackend builds the server client on demand. Commands that
	// only read local state (status) never call it.
	NewBackend BackendFactory
}

// Root builds the runlog command tree.
func Root(factory BackendFactory) *Command {
	app := &App{NewBackend: factory}
	return &Command{
		Name:    "runlog",
		Summary: "manage durable run operation logs",
		Description: "runlog inspects and synchronizes the on-disk operation logs\n" +
			"that runs leave behind when they cannot reach the server.",
		Subcommands: []*Command{
			newSyncCommand(app),
			newStatusCommand(app),
		},
	}
}

// loadConfig resolves the configuration for one command invocation.
// An explicit --config wins over the RUNLOG_CONFIG environment
// variable.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
