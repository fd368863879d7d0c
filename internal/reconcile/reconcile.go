// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"sort"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// PURE MERGE
// =============================================================================

// Merge reconciles a client message list against the durable list for the
// same session and returns the reconciled client list.
//
// The returned slice shares message pointers with the inputs but never
// mutates a message. When nothing is missing the client slice is returned
// as-is, which also makes Merge idempotent: running it twice with no new
// durable writes in between yields the same list.
//
// Durable entries without a persona identity are never considered for
// gap-filling. Identity-less entries cannot be deduplicated safely, so the
// conservative policy is to leave them alone.
func Merge(client, durable []*model.Message) []*model.Message {
	clientTail := assistantTail(client)
	durableTail := assistantTail(durable)

	// Client assistant tail keyed by producer identity.
	byPersona := make(map[string]*model.Message, len(clientTail))
	for _, msg := range clientTail {
		if msg.PersonaID != "" {
			byPersona[msg.PersonaID] = msg
		}
	}

	var missing []*model.Message
	for _, msg := range durableTail {
		if msg.PersonaID == "" {
			continue
		}
		existing, ok := byPersona[msg.PersonaID]
		if !ok || existing.Content != msg.Content {
			missing = append(missing, msg)
		}
	}

	if len(missing) == 0 {
		return client
	}

	frozen := client[:len(client)-len(clientTail)]

	// Merge missing entries, skipping exact persona+content duplicates
	// (possible when the durable tail holds both a stale and a fresh copy
	// attribution for the same persona).
	merged := make([]*model.Message, 0, len(clientTail)+len(missing))
	merged = append(merged, clientTail...)
	for _, msg := range missing {
		if containsExact(merged, msg) {
			continue
		}
		merged = append(merged, msg)
	}

	// Timestamp order, ties keep original relative order.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	out := make([]*model.Message, 0, len(frozen)+len(merged))
	out = append(out, frozen...)
	out = append(out, merged...)
	return out
}

// assistantTail returns the portion of msgs after the most recent
// user-authored message. With no user message the whole list is tail.
func assistantTail(msgs []*model.Message) []*model.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i+1:]
		}
	}
	return msgs
}

// containsExact reports whether msgs already holds an entry with the same
// persona identity and content.
func containsExact(msgs []*model.Message, candidate *model.Message) bool {
	for _, msg := range msgs {
		if msg.PersonaID == candidate.PersonaID && msg.Content == candidate.Content {
			return true
		}
	}
	return false
}
