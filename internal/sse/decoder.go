// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// STREAMING: Robust SSE parsing with error handling

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// DefaultEventType is used when a frame carries no event field.
	DefaultEventType = "message"

	// DefaultLivenessInterval is how often the liveness watchdog checks
	// for stalled streams.
	DefaultLivenessInterval = 30 * time.Second

	// MaxLineSize is the maximum allowed size of a single line (64KB).
	// An oversized line drops the in-progress frame, not the stream;
	// the total buffered stream size is otherwise unbounded because a
	// Submit may legitimately carry many complete events at once.
	MaxLineSize = 64 * 1024
)

// ErrStalled is reported by the liveness watchdog when no chunk has been
// submitted for twice the liveness interval. It is advisory: the Decoder
// keeps running and the owner decides whether to abort.
var ErrStalled = errors.New("stream stalled: no data received within liveness window")

// =============================================================================
// EVENT TYPE
// =============================================================================

// Event is a fully decoded unit of streamed data, ready for consumption.
// Data holds the JSON-decoded payload when the payload parses as JSON, and
// the raw string otherwise; the decode is best-effort on purpose, because
// comment-style keepalives and sentinel payloads are plain text. Events are
// constructed once per completed frame and never mutated after emission.
type Event struct {
	Type  string
	Data  any
	ID    string
	Retry int // milliseconds, 0 when absent
}

// Text returns the event payload as a string: the raw payload when the
// best-effort JSON decode kept it as text, or a re-marshalled form otherwise.
func (e Event) Text() string {
	switch v := e.Data.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// =============================================================================
// CALLBACKS
// =============================================================================

// Callbacks is the consumer surface the Decoder drives. Nil members are
// skipped. OnError receives framing errors and liveness warnings; neither
// stops the stream. OnComplete fires exactly once, from Complete. All
// callbacks run outside the Decoder's lock, so a consumer may call Submit,
// Complete, or Destroy from inside one.
type Callbacks struct {
	OnEvent    func(Event)
	OnError    func(error)
	OnComplete func()
}

// delivery is one queued callback invocation. Events and errors share one
// queue so they reach the consumer in production order.
type delivery struct {
	ev  *Event
	err error
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder reconstructs discrete events from an arbitrarily-chunked text
// stream. It owns a partial-line buffer, the in-progress frame, and a
// liveness watchdog; all three are per-instance state, so one Decoder must
// not be shared between streams.
type Decoder struct {
	mu sync.Mutex

	cb Callbacks

	// Partial-line buffer: holds the trailing incomplete line between
	// Submit calls. This is the core correctness mechanism — a line
	// terminator arriving in a later chunk joins the retained fragment
	// instead of being treated as a fresh line.
	buf strings.Builder

	// In-progress frame
	dataBuf   strings.Builder
	eventType string
	id        string
	retry     int
	hasField  bool

	// Deliveries queued under the lock, invoked after release.
	pending []delivery

	// Set when an oversized line was dropped mid-line: the line's
	// remaining bytes are swallowed until its terminator arrives.
	skipLine bool

	// Liveness watchdog
	interval  time.Duration
	lastChunk time.Time
	stopWatch chan struct{}

	completed bool
	destroyed bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLivenessInterval overrides the watchdog check interval. A
// non-positive value disables the watchdog.
func WithLivenessInterval(d time.Duration) Option {
	return func(dec *Decoder) {
		dec.interval = d
	}
}

// NewDecoder creates a Decoder and starts its liveness watchdog.
func NewDecoder(cb Callbacks, opts ...Option) *Decoder {
	dec := &Decoder{
		cb:        cb,
		interval:  DefaultLivenessInterval,
		lastChunk: time.Now(),
		stopWatch: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(dec)
	}

	if dec.interval > 0 {
		go dec.watch()
	} else {
		close(dec.stopWatch)
	}
	return dec
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit appends a chunk to the internal buffer and processes every line
// that is guaranteed complete, i.e. followed by a terminator already in the
// buffer. When the buffer does not end in a terminator, the trailing partial
// line is retained and re-prefixed to the next chunk. A malformed line is
// reported through OnError and skipped; it never discards buffered frames.
func (d *Decoder) Submit(chunk string) {
	d.mu.Lock()

	if d.destroyed || d.completed {
		d.mu.Unlock()
		return
	}
	d.lastChunk = time.Now()

	if chunk == "" {
		d.mu.Unlock()
		return
	}

	d.buf.WriteString(chunk)
	buffered := d.buf.String()
	d.buf.Reset()

	// Swallow the remainder of a previously dropped oversized line up to
	// its terminator; those bytes belong to the line already reported.
	if d.skipLine {
		idx := strings.Index(buffered, "\n")
		if idx < 0 {
			batch := d.drainLocked()
			d.mu.Unlock()
			d.deliver(batch)
			return
		}
		buffered = buffered[idx+1:]
		d.skipLine = false
	}

	lines := strings.Split(buffered, "\n")
	// The final element is complete only if the buffer ended in a
	// terminator, in which case it is the empty remainder after the
	// last "\n".
	for _, line := range lines[:len(lines)-1] {
		if len(line) > MaxLineSize {
			d.queueError(fmt.Errorf("line too large: %d bytes, frame dropped", len(line)))
			d.resetFrame()
			continue
		}
		d.processLine(line)
	}
	if tail := lines[len(lines)-1]; tail != "" {
		if len(tail) > MaxLineSize {
			// The line cannot complete within bounds; drop the frame
			// now and discard the line's remaining bytes as they arrive.
			d.queueError(fmt.Errorf("line too large: %d bytes, frame dropped", len(tail)))
			d.resetFrame()
			d.skipLine = true
		} else {
			d.buf.WriteString(tail)
		}
	}

	batch := d.drainLocked()
	d.mu.Unlock()
	d.deliver(batch)
}

// processLine classifies a single complete line. Caller holds d.mu.
func (d *Decoder) processLine(line string) {
	line = strings.TrimSuffix(line, "\r")

	switch {
	case line == "":
		// Frame boundary.
		d.dispatchFrame()

	case strings.HasPrefix(line, "data: "):
		// Trailing newline marker so consecutive data lines concatenate
		// with correct internal line breaks.
		d.dataBuf.WriteString(line[len("data: "):])
		d.dataBuf.WriteString("\n")
		d.hasField = true

	case strings.HasPrefix(line, "data:"):
		d.dataBuf.WriteString(strings.TrimPrefix(line, "data:"))
		d.dataBuf.WriteString("\n")
		d.hasField = true

	case strings.HasPrefix(line, "event: "):
		// Last write wins.
		d.eventType = line[len("event: "):]
		d.hasField = true

	case strings.HasPrefix(line, "id: "):
		d.id = line[len("id: "):]
		d.hasField = true

	case strings.HasPrefix(line, "retry: "):
		ms, err := strconv.Atoi(strings.TrimSpace(line[len("retry: "):]))
		if err != nil {
			// Unparseable retry is dropped, not fatal.
			return
		}
		d.retry = ms
		d.hasField = true

	case strings.HasPrefix(line, ":"):
		// Comment, discarded.

	default:
		// Unrecognized field. Ignored rather than treated as an error so
		// future protocol additions do not abort parsing.
	}
}

// dispatchFrame converts the accumulated frame into an Event and emits it.
// An empty frame is discarded silently. Caller holds d.mu.
func (d *Decoder) dispatchFrame() {
	if !d.hasField {
		return
	}

	raw := strings.TrimSuffix(d.dataBuf.String(), "\n")

	eventType := d.eventType
	if eventType == "" {
		eventType = DefaultEventType
	}

	ev := Event{
		Type:  eventType,
		Data:  decodePayload(raw),
		ID:    d.id,
		Retry: d.retry,
	}
	d.resetFrame()

	d.queueEvent(ev)
}

// decodePayload attempts a JSON decode of the payload, keeping the raw
// string on failure. Best-effort on purpose.
func decodePayload(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 {
		return raw
	}
	switch trimmed[0] {
	case '{', '[', '"', 't', 'f', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return raw
}

// queueEvent schedules an OnEvent delivery. Caller holds d.mu.
func (d *Decoder) queueEvent(ev Event) {
	d.pending = append(d.pending, delivery{ev: &ev})
}

// queueError schedules a non-fatal OnError delivery. Caller holds d.mu.
func (d *Decoder) queueError(err error) {
	d.pending = append(d.pending, delivery{err: err})
}

// drainLocked detaches the delivery queue. Caller holds d.mu and must pass
// the result to deliver after unlocking.
func (d *Decoder) drainLocked() []delivery {
	batch := d.pending
	d.pending = nil
	return batch
}

// deliver runs queued callbacks with the lock released. A panicking event
// consumer is converted into an OnError report and the remaining
// deliveries proceed.
func (d *Decoder) deliver(batch []delivery) {
	for _, item := range batch {
		if item.ev != nil {
			d.emit(*item.ev)
			continue
		}
		if d.cb.OnError != nil {
			d.cb.OnError(item.err)
		}
	}
}

// emit invokes OnEvent, converting a consumer panic into an OnError report
// instead of unwinding the stream.
func (d *Decoder) emit(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			if d.cb.OnError != nil {
				d.cb.OnError(fmt.Errorf("event consumer panicked: %v", r))
			}
		}
	}()
	if d.cb.OnEvent != nil {
		d.cb.OnEvent(ev)
	}
}

// resetFrame clears the in-progress frame. Caller holds d.mu.
func (d *Decoder) resetFrame() {
	d.dataBuf.Reset()
	d.eventType = ""
	d.id = ""
	d.retry = 0
	d.hasField = false
}

// =============================================================================
// LIVENESS WATCHDOG
// =============================================================================

// watch periodically checks whether the stream has gone quiet. The check is
// advisory only: a stalled stream raises ErrStalled through OnError, and the
// owning consumer decides whether to abort.
func (d *Decoder) watch() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopWatch:
			return
		case <-ticker.C:
			d.mu.Lock()
			silent := time.Since(d.lastChunk)
			if !d.completed && !d.destroyed && silent > 2*d.interval {
				d.queueError(fmt.Errorf("%w (silent for %s)", ErrStalled, silent.Round(time.Second)))
			}
			batch := d.drainLocked()
			d.mu.Unlock()
			d.deliver(batch)
		}
	}
}

// =============================================================================
// TERMINATION
// =============================================================================

// Complete flushes any buffered partial frame as if a trailing blank line
// had arrived, stops the watchdog, and fires OnComplete. Exactly one of the
// read loop's exit paths must call it; repeat calls are no-ops.
func (d *Decoder) Complete() {
	d.mu.Lock()
	if d.completed || d.destroyed {
		d.mu.Unlock()
		return
	}
	d.completed = true

	// Best-effort flush: a dangling line without its terminator is still a
	// usable field at end of stream. A retained tail never exceeds the
	// line cap (Submit would have dropped it), but the remainder of an
	// already-dropped line is discarded, not parsed.
	if tail := d.buf.String(); tail != "" {
		d.buf.Reset()
		if !d.skipLine {
			d.processLine(tail)
		}
	}
	d.dispatchFrame()

	d.stopWatchdog()
	batch := d.drainLocked()
	cb := d.cb.OnComplete
	d.mu.Unlock()

	d.deliver(batch)
	if cb != nil {
		cb()
	}
}

// Destroy stops the watchdog and clears all buffers. Idempotent and safe to
// call at any point, including after Complete.
func (d *Decoder) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return
	}
	d.destroyed = true
	d.stopWatchdog()
	d.buf.Reset()
	d.resetFrame()
	d.pending = nil
	d.skipLine = false
}

// stopWatchdog closes the watchdog channel once. Caller holds d.mu.
func (d *Decoder) stopWatchdog() {
	select {
	case <-d.stopWatch:
		// Already closed.
	default:
		close(d.stopWatch)
	}
}
