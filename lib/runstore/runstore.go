// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package runstore manages the on-disk layout of run data:
//
//	<root>/<mode>/<type>__<id>/<execution>/
//
// where mode is "async" (runs known to the server) or "offline" (runs
// created without connectivity, identified by a local UUID). Each
// execution directory holds one operation log plus a meta.cbor record
// of how it was created. The sync command discovers this tree and
// replays whatever was left behind.
package runstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/runlog-project/runlog/lib/codec"
)

// Mode distinguishes server-registered containers from locally created
// ones.
type Mode string

const (
	ModeAsync   Mode = "async"
	ModeOffline Mode = "offline"
)

// ContainerType is the kind of container a directory holds. Only runs
// can be created offline.
type ContainerType string

const TypeRun ContainerType = "run"

// MetadataFile is the per-execution metadata file name.
const MetadataFile = "meta.cbor"

const (
	executionPrefix = "exec-"
	offlineSuffix   = "-offline"
	typeIDSeparator = "__"
)

// Metadata records how an execution directory was created. Written
// once at init and read back during discovery.
type Metadata struct {
	Mode          Mode          `cbor:"mode"`
	ContainerType ContainerType `cbor:"container_type"`
	ContainerID   string        `cbor:"container_id"`
	Execution     string        `cbor:"execution"`
	CreatedAt     time.Time     `cbor:"created_at"`
}

// Execution is one discovered execution directory.
type Execution struct {
	// Path is the directory itself; the operation log lives directly
	// inside it.
	Path string

	// Name is the directory base name, e.g. "exec-1" or
	// "exec-1-offline".
	Name string

	// Offline marks an execution recorded without a server connection.
	Offline bool

	// Metadata is nil when meta.cbor is missing or unreadable; the
	// execution is still usable, discovery only loses provenance.
	Metadata *Metadata

	// Pending is the number of operations put but never acknowledged,
	// read from the log's offset files.
	Pending uint64
}

// Container is one discovered <type>__<id> directory with its
// executions.
type Container struct {
	Type ContainerType
	ID   string
	Mode Mode
	Path string

	Executions []Execution
}

// Pending sums the unacknowledged operations across executions.
func (c *Container) Pending() uint64 {
	var total uint64
	for _, execution := range c.Executions {
		total += execution.Pending
	}
	return total
}

// Store is a data root. The zero value is not usable; call New.
type Store struct {
	root string
}

// New returns a Store rooted at dir. The directory is created lazily
// by CreateExecution.
func New(dir string) *Store { return &Store{root: dir} }

// Root returns the data root directory.
func (s *Store) Root() string { return s.root }

// NewOfflineRunID returns a fresh local identity for a run created
// without a server connection.
func NewOfflineRunID() string { return uuid.New().String() }

// ContainerDir returns the directory for a container in the given
// mode.
func (s *Store) ContainerDir(mode Mode, containerType ContainerType, id string) string {
	return filepath.Join(s.root, string(mode), string(containerType)+typeIDSeparator+id)
}

// CreateExecution allocates the next execution directory for the
// container and writes its metadata. Offline executions carry the
// "-offline" suffix so a later scan can tell them apart even without
// metadata.
func (s *Store) CreateExecution(mode Mode, containerType ContainerType, id string, now time.Time) (*Execution, error) {
	containerDir := s.ContainerDir(mode, containerType, id)
	if err := os.MkdirAll(containerDir, 0o755); err != nil {
		return nil, fmt.Errorf("runstore: creating container directory: %w", err)
	}

	next, err := nextExecutionNumber(containerDir)
	if err != nil {
		return nil, err
	}
	name := executionPrefix + strconv.Itoa(next)
	if mode == ModeOffline {
		name += offlineSuffix
	}
	path := filepath.Join(containerDir, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("runstore: creating execution directory: %w", err)
	}

	meta := &Metadata{
		Mode:          mode,
		ContainerType: containerType,
		ContainerID:   id,
		Execution:     name,
		CreatedAt:     now,
	}
	if err := writeMetadata(filepath.Join(path, MetadataFile), meta); err != nil {
		return nil, err
	}
	return &Execution{
		Path:     path,
		Name:     name,
		Offline:  mode == ModeOffline,
		Metadata: meta,
	}, nil
}

func nextExecutionNumber(containerDir string) (int, error) {
	entries, err := os.ReadDir(containerDir)
	if err != nil {
		return 0, fmt.Errorf("runstore: scanning container directory: %w", err)
	}
	next := 1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		number, ok := parseExecutionNumber(entry.Name())
		if ok && number >= next {
			next = number + 1
		}
	}
	return next, nil
}

func parseExecutionNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, executionPrefix) {
		return 0, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, executionPrefix), offlineSuffix)
	number, err := strconv.Atoi(rest)
	if err != nil || number < 1 {
		return 0, false
	}
	return number, true
}

// Discover scans one mode's namespace and returns its containers.
// A missing namespace directory is an empty result, not an error.
func (s *Store) Discover(mode Mode) ([]Container, error) {
	modeDir := filepath.Join(s.root, string(mode))
	entries, err := os.ReadDir(modeDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runstore: scanning %s namespace: %w", mode, err)
	}

	var containers []Container
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		containerType, id, ok := strings.Cut(entry.Name(), typeIDSeparator)
		if !ok || id == "" {
			continue
		}
		container := Container{
			Type: ContainerType(containerType),
			ID:   id,
			Mode: mode,
			Path: filepath.Join(modeDir, entry.Name()),
		}
		executions, err := discoverExecutions(container.Path)
		if err != nil {
			return nil, err
		}
		container.Executions = executions
		containers = append(containers, container)
	}
	sort.Slice(containers, func(i, j int) bool { return containers[i].ID < containers[j].ID })
	return containers, nil
}

// DiscoverAll scans both namespaces, async first.
func (s *Store) DiscoverAll() ([]Container, error) {
	async, err := s.Discover(ModeAsync)
	if err != nil {
		return nil, err
	}
	offline, err := s.Discover(ModeOffline)
	if err != nil {
		return nil, err
	}
	return append(async, offline...), nil
}

func discoverExecutions(containerDir string) ([]Execution, error) {
	entries, err := os.ReadDir(containerDir)
	if err != nil {
		return nil, fmt.Errorf("runstore: scanning container directory: %w", err)
	}
	var executions []Execution
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), executionPrefix) {
			continue
		}
		path := filepath.Join(containerDir, entry.Name())
		execution := Execution{
			Path:    path,
			Name:    entry.Name(),
			Offline: strings.HasSuffix(entry.Name(), offlineSuffix),
		}
		if meta, err := readMetadata(filepath.Join(path, MetadataFile)); err == nil {
			execution.Metadata = meta
		}
		execution.Pending = pendingOperations(path)
		executions = append(executions, execution)
	}
	sort.Slice(executions, func(i, j int) bool { return executions[i].Name < executions[j].Name })
	return executions, nil
}

// pendingOperations derives the unacknowledged count from the log's
// offset files. Absent or unreadable offsets count as zero; the replay
// path re-reads them authoritatively when it opens the log.
func pendingOperations(executionDir string) uint64 {
	put := readOffset(filepath.Join(executionDir, "last_put_version"))
	ack := readOffset(filepath.Join(executionDir, "last_ack_version"))
	if put <= ack {
		return 0
	}
	return put - ack
}

func readOffset(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	value, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// Move renames an offline container into the async namespace under its
// server-assigned ID. The rename is atomic; this is the only side
// effect of registering an offline run.
func (s *Store) Move(container *Container, serverID string) (string, error) {
	if container.Mode != ModeOffline {
		return "", fmt.Errorf("runstore: container %s is not offline", container.ID)
	}
	asyncDir := filepath.Join(s.root, string(ModeAsync))
	if err := os.MkdirAll(asyncDir, 0o755); err != nil {
		return "", fmt.Errorf("runstore: creating async namespace: %w", err)
	}
	target := s.ContainerDir(ModeAsync, container.Type, serverID)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("runstore: container %s already exists in async namespace", serverID)
	}
	if err := os.Rename(container.Path, target); err != nil {
		return "", fmt.Errorf("runstore: moving container: %w", err)
	}
	return target, nil
}

func writeMetadata(path string, meta *Metadata) error {
	data, err := codec.Marshal(meta)
	if err != nil {
		return fmt.Errorf("runstore: encoding metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("runstore: writing metadata: %w", err)
	}
	return nil
}

func readMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := codec.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("runstore: decoding metadata: %w", err)
	}
	return &meta, nil
}
