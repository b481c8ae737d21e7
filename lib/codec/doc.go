// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides runlog's standard CBOR encoding.
//
// Execution-directory metadata files are CBOR rather than JSON: they
// are machine-read only (discovery and reconciliation), and the Core
// Deterministic Encoding configuration guarantees that identical
// metadata always produces identical bytes.
//
// Consumers import only this package, never fxamacker/cbor directly,
// so the encoder configuration stays in one place.
package codec
