// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package diskguard

import "errors"

// filesystemUsage has no portable implementation off Linux; the guard
// fails open there.
func filesystemUsage(string) (float64, error) {
	return 0, errors.New("disk utilization probe unsupported on this platform")
}
