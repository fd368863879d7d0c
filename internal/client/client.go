// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/sse"
)

// =============================================================================
// TURN EVENTS
// =============================================================================

// TurnEventKind discriminates TurnEvent variants.
type TurnEventKind int

const (
	// KindChunk is an incremental piece of one persona's reply.
	KindChunk TurnEventKind = iota
	// KindPersonaDone marks one persona's completed durable reply.
	KindPersonaDone
	// KindError is a persona-level failure; the turn continues.
	KindError
	// KindDone closes the turn.
	KindDone
)

// TurnEvent is a typed view of one streamed frame of a group turn.
type TurnEvent struct {
	Kind        TurnEventKind
	PersonaID   string
	PersonaName string
	Delta       string
	Message     *model.Message // set for KindPersonaDone
	Err         string         // set for KindError
	Replies     int            // set for KindDone
}

// TurnCallbacks is the consumer surface StreamTurn drives.
type TurnCallbacks struct {
	// OnTurnEvent receives each typed event in arrival order.
	OnTurnEvent func(TurnEvent)
	// OnError receives advisory errors: framing problems, liveness
	// warnings, unrecognized frames. The stream continues.
	OnError func(error)
	// OnComplete fires exactly once when the stream ends.
	OnComplete func()
}

// =============================================================================
// CLIENT
// =============================================================================

// streamReadSize is the read buffer for the turn stream. Deliberately not
// line-aligned; the decoder owns reassembly.
const streamReadSize = 4096

// Client talks to a parley server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// LivenessInterval configures the stream watchdog. Zero means the
	// decoder default.
	LivenessInterval time.Duration
}

// New creates a Client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// No overall timeout: turn streams are long-lived and paced.
			// Cancellation comes from the caller's context.
		},
	}
}

// =============================================================================
// TURN STREAMING
// =============================================================================

// StreamTurn posts content as a group turn for sessionID and decodes the
// streamed reply. It blocks until the stream ends and always runs the
// decoder's Complete exactly once before returning. The returned error
// covers transport-level failure only; persona-level failures arrive as
// KindError events.
func (c *Client) StreamTurn(ctx context.Context, sessionID, content string, cb TurnCallbacks) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal turn request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/sessions/%s/turns", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("turn request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("turn rejected (HTTP %d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	opts := []sse.Option{}
	if c.LivenessInterval > 0 {
		opts = append(opts, sse.WithLivenessInterval(c.LivenessInterval))
	}
	dec := sse.NewDecoder(sse.Callbacks{
		OnEvent:    func(ev sse.Event) { dispatchTurnEvent(ev, cb) },
		OnError:    cb.OnError,
		OnComplete: cb.OnComplete,
	}, opts...)
	defer dec.Destroy()

	// Read loop: both exit paths (EOF and read error) fall through to the
	// single Complete below, so timers are always released.
	buf := make([]byte, streamReadSize)
	var readErr error
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			dec.Submit(string(buf[:n]))
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}
	dec.Complete()

	if readErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("turn stream aborted: %w", readErr)
	}
	return nil
}

// dispatchTurnEvent converts a decoded frame into a typed TurnEvent.
// Unknown event types are reported through OnError and skipped.
func dispatchTurnEvent(ev sse.Event, cb TurnCallbacks) {
	if cb.OnTurnEvent == nil {
		return
	}

	payload, _ := ev.Data.(map[string]any)
	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}

	switch ev.Type {
	case "chunk":
		cb.OnTurnEvent(TurnEvent{
			Kind:        KindChunk,
			PersonaID:   str("persona_id"),
			PersonaName: str("persona_name"),
			Delta:       str("delta"),
		})

	case "persona_done":
		msg := decodeMessagePayload(payload["message"])
		if msg == nil {
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("persona_done frame without message payload"))
			}
			return
		}
		cb.OnTurnEvent(TurnEvent{
			Kind:        KindPersonaDone,
			PersonaID:   msg.PersonaID,
			PersonaName: msg.PersonaName,
			Message:     msg,
		})

	case "error":
		cb.OnTurnEvent(TurnEvent{
			Kind:      KindError,
			PersonaID: str("persona_id"),
			Err:       str("error"),
		})

	case "done":
		replies, _ := payload["replies"].(float64)
		cb.OnTurnEvent(TurnEvent{Kind: KindDone, Replies: int(replies)})

	default:
		if cb.OnError != nil {
			cb.OnError(fmt.Errorf("unrecognized turn event %q: %s", ev.Type, ev.Text()))
		}
	}
}

// decodeMessagePayload re-decodes a JSON object into a Message.
func decodeMessagePayload(v any) *model.Message {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.ID == "" {
		return nil
	}
	return &msg
}

// =============================================================================
// DURABLE LOG FETCH
// =============================================================================

// ListMessages fetches the ordered durable log for a session. Implements
// reconcile.Lister.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error) {
	url := fmt.Sprintf("%s/v1/sessions/%s/messages", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create list request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rejected (HTTP %d)", resp.StatusCode)
	}

	var payload struct {
		Messages []*model.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}
	return payload.Messages, nil
}

// Health checks server reachability.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy (HTTP %d)", resp.StatusCode)
	}
	return nil
}
