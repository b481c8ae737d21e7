// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package record defines the operation vocabulary persisted in the
// operation log: typed metadata mutations (assignments, series
// appends, set edits, deletions) addressed by attribute path.
//
// Serialization is a tagged variant: every encoded operation carries a
// "kind" discriminant next to its payload fields. Decode rejects
// unknown kinds instead of skipping them, so the queue surfaces a
// malformed-record error rather than losing data silently.
package record
