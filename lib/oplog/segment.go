// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Segment files are named data-<minVersion>.log, where minVersion is
// the version of the first record the segment may contain. The names
// give a total order over the segments of a queue directory.
const (
	segmentPrefix = "data-"
	segmentSuffix = ".log"
)

func segmentName(minVersion uint64) string {
	return fmt.Sprintf("%s%d%s", segmentPrefix, minVersion, segmentSuffix)
}

// listSegmentVersions returns the minVersions of all segment files in
// dir, sorted ascending. Files that do not match the segment naming
// pattern are ignored (the queue directory also holds offset files).
func listSegmentVersions(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning queue directory: %w", err)
	}
	var versions []uint64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		middle := name[len(segmentPrefix) : len(name)-len(segmentSuffix)]
		version, err := strconv.ParseUint(middle, 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// nextSegmentVersion returns the minVersion of the first segment past
// current. The segment with minVersion current may itself already be
// reclaimed; the reader keeps a handle on the deleted file and only
// asks for a successor once it drains it.
func nextSegmentVersion(dir string, current uint64) (uint64, error) {
	versions, err := listSegmentVersions(dir)
	if err != nil {
		return 0, err
	}
	for _, version := range versions {
		if version > current {
			return version, nil
		}
	}
	return 0, fmt.Errorf("no segment follows data-%d%s", current, segmentSuffix)
}

// segmentWriter appends newline-delimited records to the active
// segment through a buffered writer. Appends are not durable until
// flush is called; the queue's put-offset is the durable high-water
// mark, which is why a resumed reader runs gap detection.
type segmentWriter struct {
	path       string
	file       *os.File
	buf        *bufio.Writer
	size       int64
	minVersion uint64
}

func openSegmentWriter(dir string, minVersion uint64) (*segmentWriter, error) {
	path := filepath.Join(dir, segmentName(minVersion))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening segment for append: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("segment %s: %w", path, err)
	}
	return &segmentWriter{
		path:       path,
		file:       file,
		buf:        bufio.NewWriter(file),
		size:       info.Size(),
		minVersion: minVersion,
	}, nil
}

// append writes one record line (without trailing newline) plus the
// newline delimiter.
func (w *segmentWriter) append(line []byte) error {
	if _, err := w.buf.Write(line); err != nil {
		return fmt.Errorf("segment %s: %w", w.path, err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("segment %s: %w", w.path, err)
	}
	w.size += int64(len(line)) + 1
	return nil
}

func (w *segmentWriter) flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("segment %s: %w", w.path, err)
	}
	return nil
}

func (w *segmentWriter) close() error {
	if err := w.flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// segmentReader reads newline-delimited records from a segment file.
// It tolerates reading a segment that is still being appended to: a
// partial trailing line is buffered in pending and completed on a
// later call once the writer has flushed the rest.
type segmentReader struct {
	path       string
	file       *os.File
	buf        *bufio.Reader
	pending    []byte
	minVersion uint64
}

func openSegmentReader(dir string, minVersion uint64) (*segmentReader, error) {
	path := filepath.Join(dir, segmentName(minVersion))
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment for read: %w", err)
	}
	return &segmentReader{
		path:       path,
		file:       file,
		buf:        bufio.NewReader(file),
		minVersion: minVersion,
	}, nil
}

// next returns the next complete record line (without the newline) and
// its on-disk byte size (including the newline). It returns io.EOF
// when no complete line is available yet.
func (r *segmentReader) next() ([]byte, int, error) {
	for {
		chunk, err := r.buf.ReadBytes('\n')
		r.pending = append(r.pending, chunk...)
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		if err != nil {
			return nil, 0, fmt.Errorf("segment %s: %w", r.path, err)
		}
		line := r.pending
		r.pending = nil
		size := len(line)
		line = line[:len(line)-1] // strip the newline
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		return line, size, nil
	}
}

func (r *segmentReader) close() error { return r.file.Close() }
