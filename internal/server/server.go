// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/backend"
	"github.com/jeranaias/parley/internal/chunker"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/sse"
	"github.com/jeranaias/parley/internal/store"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize limits turn request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxTurnContentLength is the maximum user message length.
	MaxTurnContentLength = 100000

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// TurnRequest is the body for POST /v1/sessions/{id}/turns.
type TurnRequest struct {
	Content string `json:"content"`
}

// ChunkPayload is the JSON payload of a "chunk" event.
type ChunkPayload struct {
	PersonaID   string `json:"persona_id"`
	PersonaName string `json:"persona_name"`
	Delta       string `json:"delta"`
}

// PersonaDonePayload is the JSON payload of a "persona_done" event.
type PersonaDonePayload struct {
	Message *model.Message `json:"message"`
}

// ErrorPayload is the JSON payload of an "error" event.
type ErrorPayload struct {
	PersonaID string `json:"persona_id,omitempty"`
	Error     string `json:"error"`
}

// DonePayload is the JSON payload of the final "done" event.
type DonePayload struct {
	SessionID string `json:"session_id"`
	Replies   int    `json:"replies"`
}

// ============================================================================
// SERVER
// ============================================================================

// Server wires the store, the generation backend, and the persona roster
// into the HTTP API. The persona roster and stream tunables are swappable
// at runtime via UpdateConfig (config hot reload).
type Server struct {
	store *store.Store
	gen   *backend.Client

	mu      sync.RWMutex
	cfg     *config.Config
	limiter *rate.Limiter

	httpServer *http.Server
}

// New creates a Server.
func New(cfg *config.Config, st *store.Store, gen *backend.Client) *Server {
	return &Server{
		store:   st,
		gen:     gen,
		cfg:     cfg,
		limiter: newRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst),
	}
}

// UpdateConfig swaps the active configuration. In-flight turns finish with
// the roster they started with. The rate limiter is rebuilt only when its
// settings changed, so an unrelated reload keeps the current token bucket.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Server.RateLimitPerSec != s.cfg.Server.RateLimitPerSec ||
		cfg.Server.RateLimitBurst != s.cfg.Server.RateLimitBurst {
		s.limiter = newRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst)
	}
	s.cfg = cfg
	log.Printf("server: configuration updated (%d personas)", len(cfg.Personas))
}

// rateLimiter returns the active limiter for the middleware.
func (s *Server) rateLimiter() *rate.Limiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limiter
}

// snapshot returns the active configuration.
func (s *Server) snapshot() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions/{id}/turns", s.handleTurn)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /health", s.handleHealth)

	return Chain(mux,
		RecoveryMiddleware,
		LoggingMiddleware,
		SecurityHeadersMiddleware,
		RateLimitMiddleware(s.rateLimiter),
	)
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.snapshot()
	s.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: turn streams are long-lived and paced.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", cfg.Server.ListenAddr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ============================================================================
// TURN HANDLER
// ============================================================================

// handleTurn runs one group turn and streams it as SSE.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	cfg := s.snapshot()
	sessionID := r.PathValue("id")
	ctx := r.Context()

	var req TurnRequest
	body := io.LimitReader(r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		httpError(w, http.StatusBadRequest, "content must not be empty")
		return
	}
	if len(content) > MaxTurnContentLength {
		httpError(w, http.StatusBadRequest, "content too long")
		return
	}

	sess, err := s.store.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "session unavailable")
		return
	}

	userMsg := model.NewUserMessage(content)
	if err := s.store.AppendMessage(ctx, sess.ID, userMsg); err != nil {
		httpError(w, http.StatusInternalServerError, "could not record message")
		return
	}

	// From here on the response is a stream; errors become SSE events.
	sse.PrepareResponse(w)
	w.WriteHeader(http.StatusOK)
	out := sse.NewWriter(w)

	replies := 0
	for i := range cfg.Personas {
		persona := &cfg.Personas[i]
		if err := ctx.Err(); err != nil {
			// Client went away; nothing left to stream to.
			return
		}
		if s.runPersonaTurn(ctx, out, sess.ID, persona, cfg) {
			replies++
		}
	}

	out.WriteEvent("done", DonePayload{SessionID: sess.ID, Replies: replies})
}

// runPersonaTurn generates and streams one persona's reply, appending it
// durably on success. Returns true when a reply was produced.
func (s *Server) runPersonaTurn(ctx context.Context, out *sse.Writer, sessionID string, persona *model.Persona, cfg *config.Config) bool {
	// Each persona sees the log as it stands, including earlier personas'
	// replies from this same turn.
	history, err := s.historyTurns(ctx, sessionID)
	if err != nil {
		log.Printf("turn: history fetch for %s failed: %v", sessionID, err)
		out.WriteEvent("error", ErrorPayload{PersonaID: persona.ID, Error: "history unavailable"})
		return false
	}

	producer := chunker.NewProducer(s.gen.WithModel(persona.Model),
		chunker.WithPieceSize(cfg.Stream.PieceSize),
		chunker.WithPaceDelay(cfg.Stream.PaceDelay()),
	)

	stream, err := producer.Stream(ctx, history, persona.SystemPrompt)
	if err != nil {
		// Generation failure is fatal to this persona's attempt only.
		log.Printf("turn: persona %s generation failed: %v", persona.ID, err)
		out.WriteEvent("error", ErrorPayload{PersonaID: persona.ID, Error: err.Error()})
		return false
	}

	reply := model.NewPersonaMessage(persona.ID, persona.Name)
	for {
		piece, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Context cancellation mid-stream: client is gone, drop the
			// partial reply rather than persisting a truncated message.
			log.Printf("turn: persona %s stream aborted: %v", persona.ID, err)
			return false
		}
		reply.AppendToken(piece)
		out.WriteEvent("chunk", ChunkPayload{
			PersonaID:   persona.ID,
			PersonaName: persona.Name,
			Delta:       piece,
		})
	}
	reply.FinalizeStream()

	if err := s.store.AppendMessage(ctx, sessionID, reply); err != nil {
		log.Printf("turn: persona %s append failed: %v", persona.ID, err)
		out.WriteEvent("error", ErrorPayload{PersonaID: persona.ID, Error: "could not record reply"})
		return false
	}

	out.WriteEvent("persona_done", PersonaDonePayload{Message: reply})
	return true
}

// historyTurns loads the durable log as backend chat turns, labelling each
// persona's words so models can tell the participants apart.
func (s *Server) historyTurns(ctx context.Context, sessionID string) ([]model.ChatTurn, error) {
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	turns := make([]model.ChatTurn, 0, len(msgs))
	for _, msg := range msgs {
		turn := msg.Turn()
		if msg.PersonaName != "" {
			turn.Content = fmt.Sprintf("[%s] %s", msg.PersonaName, turn.Content)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// ============================================================================
// READ HANDLERS
// ============================================================================

// handleListMessages serves the ordered durable log for one session.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "session not found")
			return
		}
		httpError(w, http.StatusInternalServerError, "session unavailable")
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "could not list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// sessionSummary is one entry of the sessions listing.
type sessionSummary struct {
	*store.Session
	MessageCount int `json:"message_count"`
}

// handleListSessions serves session metadata with message counts, most
// recent first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		n, err := s.store.MessageCount(r.Context(), sess.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "could not count messages")
			return
		}
		summaries = append(summaries, sessionSummary{Session: sess, MessageCount: n})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

// handleHealth serves the health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  Version,
		"personas": len(s.snapshot().Personas),
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("server: write response: %v", err)
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
