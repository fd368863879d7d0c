// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// =============================================================================
// FRAME WRITER
// =============================================================================

// Writer emits frames in the wire format the Decoder consumes. When the
// underlying writer implements http.Flusher, every frame is flushed so
// clients see events as they happen rather than on buffer boundaries.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps an io.Writer, detecting flush support.
func NewWriter(w io.Writer) *Writer {
	writer := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		writer.flusher = f
	}
	return writer
}

// PrepareResponse sets the response headers required for SSE delivery.
// Call before the first frame is written.
func PrepareResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent writes one complete frame. A non-string payload is JSON
// encoded; a string payload is written as-is, split into one data line per
// embedded newline so it round-trips through the Decoder unchanged.
func (s *Writer) WriteEvent(eventType string, payload any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	var frame strings.Builder
	if eventType != "" && eventType != DefaultEventType {
		frame.WriteString("event: ")
		frame.WriteString(eventType)
		frame.WriteString("\n")
	}
	for _, line := range strings.Split(data, "\n") {
		frame.WriteString("data: ")
		frame.WriteString(line)
		frame.WriteString("\n")
	}
	frame.WriteString("\n")

	if _, err := io.WriteString(s.w, frame.String()); err != nil {
		return fmt.Errorf("write event frame: %w", err)
	}
	s.flush()
	return nil
}

// WriteComment writes a comment line, useful as a keepalive.
func (s *Writer) WriteComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write comment frame: %w", err)
	}
	s.flush()
	return nil
}

// WriteRetry advises the client reconnect delay in milliseconds.
func (s *Writer) WriteRetry(ms int) error {
	if _, err := fmt.Fprintf(s.w, "retry: %d\n\n", ms); err != nil {
		return fmt.Errorf("write retry frame: %w", err)
	}
	s.flush()
	return nil
}

func (s *Writer) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// encodePayload renders a payload as frame data text.
func encodePayload(payload any) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
