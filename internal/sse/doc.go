// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse implements both sides of the server-sent-events wire format
// used between the parley server and its clients.
//
// The Decoder is the receiving side: a push-based parser fed arbitrary
// chunks of stream text via Submit. Network reads do not align with event
// boundaries, so the Decoder keeps a partial-line buffer and only processes
// lines whose terminator has actually arrived; a field split across two
// reads is reassembled once the rest of it shows up. Completed frames are
// dispatched to a callback as Events, in arrival order, exactly once.
//
// The emit side (WriteEvent and friends) produces the same format:
//
//	event: <name>\n
//	data: <payload line>\n   (repeatable)
//	id: <id>\n
//	retry: <milliseconds>\n
//	\n
//
// One Decoder serves exactly one stream. Instantiate a fresh one per
// connection and release it with Destroy when done.
package sse
