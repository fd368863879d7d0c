// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the durable, append-only session message log.
//
// The store is the authoritative record of every session: clients keep
// optimistic local replicas and reconcile against this log after group
// turns. Appends are monotone — listing returns messages ordered by
// timestamp with insertion order breaking ties — and messages are never
// edited in place.
//
// Backed by SQLite via the pure-Go modernc.org/sqlite driver, so no cgo is
// required.
package store
