// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"log"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// ENGINE
// =============================================================================

// Lister fetches the durable message log for a session. Both the store and
// the HTTP client satisfy it.
type Lister interface {
	ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error)
}

// Engine runs reconciliation passes against a durable log source. It holds
// no state between invocations; every call is independent and safe to
// repeat.
type Engine struct {
	source Lister
	logf   func(format string, args ...any)
}

// NewEngine creates an Engine reading durable state from source.
func NewEngine(source Lister) *Engine {
	return &Engine{
		source: source,
		logf:   log.Printf,
	}
}

// Sync fetches the durable log for sessionID and merges any missing persona
// replies into client. Reconciliation is a best-effort recovery pass, not a
// correctness-critical path: every failure is logged and swallowed, and the
// input list is returned untouched, so callers never observe partial
// corruption.
func (e *Engine) Sync(ctx context.Context, sessionID string, client []*model.Message) []*model.Message {
	durable, err := e.source.ListMessages(ctx, sessionID)
	if err != nil {
		e.logf("reconcile: fetch for session %s failed, keeping local view: %v", sessionID, err)
		return client
	}

	merged := func() (out []*model.Message) {
		defer func() {
			if r := recover(); r != nil {
				e.logf("reconcile: merge for session %s panicked, keeping local view: %v", sessionID, r)
				out = client
			}
		}()
		return Merge(client, durable)
	}()

	return merged
}
