// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile merges a client's optimistic message view with the
// server's durable log after a multi-persona group turn.
//
// During a group turn every configured persona appends to the same session
// concurrently with the client's own rendering, so the client's local list
// may be missing replies (or hold a stale copy of one). Reconciliation is a
// small conflict-resolution protocol for that multi-writer append log:
//
//  1. Everything up to and including the client's most recent user message
//     is frozen and never touched.
//  2. The assistant tails of both replicas are diffed by persona identity.
//  3. Durable entries missing client-side are merged in, duplicates are
//     skipped, and the merged tail is stable-sorted by timestamp.
//
// The diff itself is the pure function Merge, testable without any store.
// Engine.Sync wraps it with the durable fetch and the best-effort error
// policy: any failure is logged and swallowed, and the caller's list comes
// back unchanged.
package reconcile
