// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package diskguard

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// filesystemUsage reports utilization the way df does: used blocks
// over the blocks available to unprivileged users, so the root-only
// reserve does not hide a full disk.
func filesystemUsage(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	used := st.Blocks - st.Bfree
	visible := used + st.Bavail
	if visible == 0 {
		return 0, fmt.Errorf("statfs %s: filesystem reports zero blocks", path)
	}
	return float64(used) / float64(visible) * 100, nil
}
