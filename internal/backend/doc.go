// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the generation backend client.
//
// The client speaks the OpenAI-compatible chat completions API that local
// and hosted inference servers expose. It is deliberately one-shot: a
// request produces one complete completion text. The chunker package turns
// that one-shot result into incremental delivery; this package stays a thin
// HTTP client with retries and typed errors.
package backend
