// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions, messages, and
// personas.
//
// This package defines the core domain types used throughout the application
// for representing group-chat sessions, the messages exchanged in them, and
// the AI personas that produce assistant turns.
//
// # Key Types
//
//   - Message: Single message with role, content, timestamp, and persona identity
//   - Conversation: The client-side ordered message replica for one session
//   - Persona: A configured AI participant (system prompt + model)
//   - ChatTurn: Minimal role/content pair sent to a generation backend
//   - Role: Message role enumeration (user, assistant, system)
//
// The server-side durable log and the client-side Conversation are
// independent replicas of the same session; they are merged by the
// reconcile package, never shared directly.
package model
