// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the parley HTTP API.
//
// Endpoints:
//   - POST /v1/sessions/{id}/turns   - run a group turn, streamed as SSE
//   - GET  /v1/sessions/{id}/messages - durable message log for a session
//   - GET  /v1/sessions              - list sessions
//   - GET  /health                   - health check
//
// A group turn appends the user's message durably, then runs every
// configured persona in sequence. Each persona's output is streamed to the
// response as "chunk" events and durably appended as one message when it
// completes; a "done" event closes the turn. A persona whose generation
// fails produces an "error" event and the turn moves on to the next
// persona — one broken persona does not silence the rest.
package server
