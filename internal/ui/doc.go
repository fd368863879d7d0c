// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the terminal interface for parley group chats.
//
// The Bubble Tea model renders one session: a viewport of the conversation,
// a text input, and a status bar. During a group turn the model consumes
// typed turn events from the client package, growing each persona's reply
// in place as chunks arrive. When the stream closes the model runs a
// reconciliation pass against the server's durable log, so replies the
// stream dropped (or that other writers appended) show up without a
// restart.
package ui
