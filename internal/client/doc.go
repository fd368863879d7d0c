// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client is the parley server's HTTP client.
//
// StreamTurn posts a group turn and pumps the streamed response through an
// sse.Decoder, translating frames into typed TurnEvents for the UI. The
// read loop owns the decoder lifecycle: whichever way the stream ends —
// clean EOF, read error, cancellation — Complete runs exactly once so the
// liveness watchdog is released.
//
// ListMessages fetches the durable log and satisfies reconcile.Lister, so
// a reconcile.Engine can run directly against a remote server.
package client
