// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chunker normalizes one-shot text generation into incremental
// delivery.
//
// Generation backends differ: some stream natively, some return the whole
// completion at once. The Producer hides that difference behind one
// contract — a finite, non-restartable, lazy sequence of bounded-size text
// pieces with a small pacing delay between them — so every downstream
// consumer renders output incrementally regardless of the backend. If the
// backend later gains native streaming, only the Producer changes.
//
// A failed or empty generation surfaces as an error before any piece is
// produced; a consumer never sees partial output from a failed attempt.
package chunker
