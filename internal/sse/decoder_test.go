// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// collector records everything a Decoder emits.
type collector struct {
	mu        sync.Mutex
	events    []Event
	errs      []error
	completes int
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnEvent: func(ev Event) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.events = append(c.events, ev)
		},
		OnError: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errs = append(c.errs, err)
		},
		OnComplete: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.completes++
		},
	}
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// decodeAll runs a full stream through a fresh Decoder in the given chunks.
func decodeAll(t *testing.T, chunks ...string) (*collector, *Decoder) {
	t.Helper()
	col := &collector{}
	dec := NewDecoder(col.callbacks(), WithLivenessInterval(0))
	for _, chunk := range chunks {
		dec.Submit(chunk)
	}
	dec.Complete()
	dec.Destroy()
	return col, dec
}

// =============================================================================
// FRAME PARSING
// =============================================================================

func TestSubmit_SingleEvent(t *testing.T) {
	col, _ := decodeAll(t, "data: hello\n\n")

	if len(col.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(col.events))
	}
	if col.events[0].Type != "message" {
		t.Errorf("expected default type %q, got %q", "message", col.events[0].Type)
	}
	if col.events[0].Data != "hello" {
		t.Errorf("expected data %q, got %v", "hello", col.events[0].Data)
	}
}

func TestSubmit_SplitAcrossChunks(t *testing.T) {
	// A data field split mid-value: the terminator arrives in a later
	// chunk and must not be treated as a lost fragment.
	col, _ := decodeAll(t, "data: ab", "c\n\n")

	if len(col.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(col.events))
	}
	if col.events[0].Data != "abc" {
		t.Errorf("expected data %q, got %v", "abc", col.events[0].Data)
	}
}

func TestSubmit_ChunkSplitInvariance(t *testing.T) {
	// The same bytes delivered with different chunk boundaries must yield
	// an identical event sequence, including splits mid-line and mid-field.
	stream := "event: chunk\ndata: {\"delta\":\"hi\"}\nid: 7\n\n" +
		": keepalive\n\n" +
		"data: first\ndata: second\n\nretry: 1500\ndata: tail\n\n"

	baseline, _ := decodeAll(t, stream)

	for size := 1; size <= len(stream); size++ {
		var chunks []string
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			chunks = append(chunks, stream[i:end])
		}

		col, _ := decodeAll(t, chunks...)
		if !reflect.DeepEqual(col.snapshot(), baseline.snapshot()) {
			t.Fatalf("chunk size %d produced different events:\n got %+v\nwant %+v",
				size, col.events, baseline.events)
		}
	}
}

func TestSubmit_LargeChunkOfSmallEventsAllDelivered(t *testing.T) {
	// A single Submit carrying far more than one line's size cap of
	// perfectly ordinary events must decode identically to the same
	// bytes arriving in small reads.
	var b strings.Builder
	count := 0
	for b.Len() <= MaxLineSize+4096 {
		fmt.Fprintf(&b, "event: chunk\ndata: {\"seq\":%d}\n\n", count)
		count++
	}
	stream := b.String()

	whole, _ := decodeAll(t, stream)

	var chunks []string
	for i := 0; i < len(stream); i += 4096 {
		end := i + 4096
		if end > len(stream) {
			end = len(stream)
		}
		chunks = append(chunks, stream[i:end])
	}
	pieced, _ := decodeAll(t, chunks...)

	if len(whole.events) != count {
		t.Fatalf("single submit delivered %d of %d events", len(whole.events), count)
	}
	if len(whole.errs) != 0 {
		t.Fatalf("single submit reported errors: %v", whole.errs)
	}
	if !reflect.DeepEqual(whole.snapshot(), pieced.snapshot()) {
		t.Error("single-submit and chunked delivery produced different events")
	}
}

func TestSubmit_OversizedLineDropsFrameNotStream(t *testing.T) {
	huge := "data: " + strings.Repeat("x", MaxLineSize+10) + "\n\n"
	rest := "event: ok\ndata: fine\n\n"

	feeds := map[string][]string{
		"one submit": {huge + rest},
		"split mid-line": func() []string {
			stream := huge + rest
			var chunks []string
			for i := 0; i < len(stream); i += 4096 {
				end := i + 4096
				if end > len(stream) {
					end = len(stream)
				}
				chunks = append(chunks, stream[i:end])
			}
			return chunks
		}(),
	}

	for name, chunks := range feeds {
		t.Run(name, func(t *testing.T) {
			col, _ := decodeAll(t, chunks...)

			if len(col.errs) != 1 {
				t.Fatalf("expected 1 error, got %d: %v", len(col.errs), col.errs)
			}
			if !strings.Contains(col.errs[0].Error(), "line too large") {
				t.Errorf("unexpected error: %v", col.errs[0])
			}
			if len(col.events) != 1 {
				t.Fatalf("stream after the dropped frame must survive, got %d events", len(col.events))
			}
			if col.events[0].Type != "ok" || col.events[0].Data != "fine" {
				t.Errorf("unexpected surviving event: %+v", col.events[0])
			}
		})
	}
}

func TestSubmit_ReentrantCallbackDoesNotDeadlock(t *testing.T) {
	var events []Event
	var dec *Decoder
	dec = NewDecoder(Callbacks{
		OnEvent: func(ev Event) {
			events = append(events, ev)
			// Consumers may drive the decoder from inside a callback.
			dec.Submit("")
			dec.Destroy()
		},
	}, WithLivenessInterval(0))

	done := make(chan struct{})
	go func() {
		dec.Submit("data: once\n\n")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("decoder deadlocked on re-entrant callback")
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}

func TestSubmit_MultipleDataLines(t *testing.T) {
	col, _ := decodeAll(t, "data: line one\ndata: line two\ndata: line three\n\n")

	if len(col.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(col.events))
	}
	want := "line one\nline two\nline three"
	if col.events[0].Data != want {
		t.Errorf("expected %q, got %v", want, col.events[0].Data)
	}
}

func TestSubmit_JSONPayloadDecoded(t *testing.T) {
	col, _ := decodeAll(t, `data: {"content":"hi","n":3}`+"\n\n")

	payload, ok := col.events[0].Data.(map[string]any)
	if !ok {
		t.Fatalf("expected decoded JSON object, got %T", col.events[0].Data)
	}
	if payload["content"] != "hi" {
		t.Errorf("expected content %q, got %v", "hi", payload["content"])
	}
}

func TestSubmit_InvalidJSONKeptAsRawString(t *testing.T) {
	// Looks like JSON, is not. Best-effort decode keeps the raw string and
	// reports no error.
	col, _ := decodeAll(t, "data: {not json\n\n")

	if len(col.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(col.events))
	}
	if col.events[0].Data != "{not json" {
		t.Errorf("expected raw string, got %v", col.events[0].Data)
	}
	if len(col.errs) != 0 {
		t.Errorf("expected no errors, got %v", col.errs)
	}
}

func TestSubmit_FieldHandling(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   []Event
	}{
		{
			name:   "event field overrides default type",
			stream: "event: persona_done\ndata: p1\n\n",
			want:   []Event{{Type: "persona_done", Data: "p1"}},
		},
		{
			name:   "event field last write wins",
			stream: "event: first\nevent: second\ndata: x\n\n",
			want:   []Event{{Type: "second", Data: "x"}},
		},
		{
			name:   "id and retry fields",
			stream: "id: 42\nretry: 3000\ndata: x\n\n",
			want:   []Event{{Type: "message", Data: "x", ID: "42", Retry: 3000}},
		},
		{
			name:   "unparseable retry ignored",
			stream: "retry: soon\ndata: x\n\n",
			want:   []Event{{Type: "message", Data: "x"}},
		},
		{
			name:   "comment lines discarded",
			stream: ": keepalive\n\ndata: x\n\n",
			want:   []Event{{Type: "message", Data: "x"}},
		},
		{
			name:   "unknown fields ignored",
			stream: "unknown: field\nwhatever\ndata: x\n\n",
			want:   []Event{{Type: "message", Data: "x"}},
		},
		{
			name:   "empty frames discarded silently",
			stream: "\n\n\ndata: x\n\n\n\n",
			want:   []Event{{Type: "message", Data: "x"}},
		},
		{
			name:   "crlf terminators accepted",
			stream: "data: x\r\n\r\n",
			want:   []Event{{Type: "message", Data: "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, _ := decodeAll(t, tt.stream)
			if !reflect.DeepEqual(col.events, tt.want) {
				t.Errorf("got %+v, want %+v", col.events, tt.want)
			}
		})
	}
}

func TestSubmit_OrderPreserved(t *testing.T) {
	var stream strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&stream, "data: piece-%02d\n\n", i)
	}

	col, _ := decodeAll(t, stream.String())

	if len(col.events) != 50 {
		t.Fatalf("expected 50 events, got %d", len(col.events))
	}
	for i, ev := range col.events {
		want := fmt.Sprintf("piece-%02d", i)
		if ev.Data != want {
			t.Fatalf("event %d out of order: got %v, want %q", i, ev.Data, want)
		}
	}
}

// =============================================================================
// TERMINATION
// =============================================================================

func TestComplete_FlushesPartialFrame(t *testing.T) {
	// Stream ends without trailing blank line; Complete treats end of
	// stream as a frame boundary, best-effort.
	col, _ := decodeAll(t, "data: unterminated")

	if len(col.events) != 1 {
		t.Fatalf("expected flushed event, got %d events", len(col.events))
	}
	if col.events[0].Data != "unterminated" {
		t.Errorf("expected flushed data, got %v", col.events[0].Data)
	}
	if col.completes != 1 {
		t.Errorf("expected exactly 1 completion, got %d", col.completes)
	}
}

func TestComplete_Idempotent(t *testing.T) {
	col := &collector{}
	dec := NewDecoder(col.callbacks(), WithLivenessInterval(0))
	dec.Submit("data: x\n\n")
	dec.Complete()
	dec.Complete()
	dec.Complete()

	if col.completes != 1 {
		t.Errorf("expected exactly 1 completion, got %d", col.completes)
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	col := &collector{}
	dec := NewDecoder(col.callbacks())
	dec.Submit("data: buffered")
	dec.Destroy()
	dec.Destroy()

	// Buffers cleared: no flush on a later Complete.
	dec.Complete()
	if len(col.events) != 0 {
		t.Errorf("expected no events after destroy, got %d", len(col.events))
	}
	if col.completes != 0 {
		t.Errorf("expected no completion after destroy, got %d", col.completes)
	}
}

func TestSubmit_AfterCompleteIgnored(t *testing.T) {
	col := &collector{}
	dec := NewDecoder(col.callbacks(), WithLivenessInterval(0))
	dec.Complete()
	dec.Submit("data: late\n\n")

	if len(col.events) != 0 {
		t.Errorf("expected no events after complete, got %d", len(col.events))
	}
}

// =============================================================================
// ERROR HANDLING
// =============================================================================

func TestSubmit_ConsumerPanicReported(t *testing.T) {
	var errs []error
	var events int
	dec := NewDecoder(Callbacks{
		OnEvent: func(ev Event) {
			events++
			if events == 1 {
				panic("consumer bug")
			}
		},
		OnError: func(err error) { errs = append(errs, err) },
	}, WithLivenessInterval(0))
	defer dec.Destroy()

	dec.Submit("data: first\n\ndata: second\n\n")

	if events != 2 {
		t.Errorf("expected parsing to continue after consumer panic, got %d events", events)
	}
	if len(errs) != 1 {
		t.Errorf("expected 1 reported error, got %d", len(errs))
	}
}

func TestWatchdog_ReportsStall(t *testing.T) {
	errCh := make(chan error, 4)
	dec := NewDecoder(Callbacks{
		OnError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	}, WithLivenessInterval(10*time.Millisecond))
	defer dec.Destroy()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStalled) {
			t.Fatalf("expected ErrStalled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never reported a stall")
	}
}

func TestWatchdog_QuietWhileDataFlows(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	dec := NewDecoder(Callbacks{
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	}, WithLivenessInterval(20*time.Millisecond))
	defer dec.Destroy()

	deadline := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(deadline) {
		dec.Submit("data: tick\n\n")
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 0 {
		t.Errorf("expected no stall reports while data flows, got %v", errs)
	}
}

// =============================================================================
// WRITER ROUND TRIP
// =============================================================================

func TestWriter_RoundTrip(t *testing.T) {
	var wire strings.Builder
	w := NewWriter(&wire)

	if err := w.WriteRetry(2000); err != nil {
		t.Fatalf("WriteRetry: %v", err)
	}
	if err := w.WriteComment("keepalive"); err != nil {
		t.Fatalf("WriteComment: %v", err)
	}
	if err := w.WriteEvent("chunk", map[string]string{"delta": "hel"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteEvent("", "plain\nmultiline"); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	col, _ := decodeAll(t, wire.String())

	if len(col.events) != 3 {
		t.Fatalf("expected 3 events (retry, chunk, message), got %d: %+v", len(col.events), col.events)
	}
	if col.events[0].Retry != 2000 {
		t.Errorf("expected retry 2000, got %d", col.events[0].Retry)
	}
	if col.events[1].Type != "chunk" {
		t.Errorf("expected type chunk, got %q", col.events[1].Type)
	}
	payload, ok := col.events[1].Data.(map[string]any)
	if !ok || payload["delta"] != "hel" {
		t.Errorf("expected decoded delta payload, got %v", col.events[1].Data)
	}
	if col.events[2].Data != "plain\nmultiline" {
		t.Errorf("multiline payload mangled: %v", col.events[2].Data)
	}
}
