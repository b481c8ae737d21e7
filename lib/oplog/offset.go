// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// offsetFile is a crash-safe single-integer counter persisted to disk.
// The queue keeps two of them: last_put_version and last_ack_version.
// Every Write overwrites the entire file contents and fsyncs before
// returning, so a crash never leaves a torn value.
type offsetFile struct {
	path  string
	file  *os.File
	local uint64
}

// openOffsetFile opens (creating if needed) the counter at path and
// loads its current value. An empty or freshly created file reads as 0.
func openOffsetFile(path string) (*offsetFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening offset file: %w", err)
	}
	o := &offsetFile{path: path, file: file}
	if _, err := o.Read(); err != nil {
		file.Close()
		return nil, err
	}
	return o, nil
}

// Read re-reads the value from disk. An empty file yields 0.
func (o *offsetFile) Read() (uint64, error) {
	if _, err := o.file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("offset file %s: %w", o.path, err)
	}
	data, err := io.ReadAll(o.file)
	if err != nil {
		return 0, fmt.Errorf("offset file %s: %w", o.path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		o.local = 0
		return 0, nil
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("offset file %s: parsing %q: %w", o.path, text, err)
	}
	o.local = value
	return value, nil
}

// Local returns the last value this process read or wrote, without
// touching the disk.
func (o *offsetFile) Local() uint64 { return o.local }

// Write overwrites the file's entire contents with v and flushes it to
// stable storage before returning.
func (o *offsetFile) Write(v uint64) error {
	if err := o.file.Truncate(0); err != nil {
		return fmt.Errorf("offset file %s: %w", o.path, err)
	}
	if _, err := o.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("offset file %s: %w", o.path, err)
	}
	if _, err := o.file.WriteString(strconv.FormatUint(v, 10)); err != nil {
		return fmt.Errorf("offset file %s: %w", o.path, err)
	}
	if err := o.file.Sync(); err != nil {
		return fmt.Errorf("offset file %s: %w", o.path, err)
	}
	o.local = v
	return nil
}

func (o *offsetFile) Close() error { return o.file.Close() }
