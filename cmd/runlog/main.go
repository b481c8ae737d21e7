// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Command runlog manages the durable operation logs that runs leave on
// disk: "runlog status" lists unsynchronized data and "runlog sync"
// replays it to the server.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/runlog-project/runlog/cmd/runlog/cli"
	"github.com/runlog-project/runlog/lib/backend"
	"github.com/runlog-project/runlog/lib/config"
)

func main() {
	root := cli.Root(newBackend)
	if err := root.Execute(os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "runlog: %v\n", err)
		os.Exit(1)
	}
}

// newBackend is the integration seam for the server client. The wire
// protocol deliberately lives outside this repository; a deployment
// links its client here and rebuilds the binary.
func newBackend(cfg *config.Config, logger *slog.Logger) (backend.Backend, error) {
	return nil, errors.New("no server client linked into this build; see lib/backend for the contract")
}
