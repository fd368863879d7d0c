// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultPieceSize is the number of runes per emitted piece. Small
	// enough that rendering looks smooth, large enough to keep frame
	// overhead low.
	DefaultPieceSize = 24

	// DefaultPaceDelay is the pause between pieces.
	DefaultPaceDelay = 30 * time.Millisecond
)

// ErrEmptyOutput is returned when the backend call succeeds but produces no
// usable text.
var ErrEmptyOutput = errors.New("generation produced no output")

// =============================================================================
// GENERATOR INTERFACE
// =============================================================================

// Generator is the opaque one-shot generation backend. The system directive,
// when non-empty, is prepended as the first turn of the request. Generate is
// potentially slow and fallible; the Producer treats it as a black box.
type Generator interface {
	Generate(ctx context.Context, history []model.ChatTurn, system string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, history []model.ChatTurn, system string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, history []model.ChatTurn, system string) (string, error) {
	return f(ctx, history, system)
}

// =============================================================================
// PRODUCER
// =============================================================================

// Producer turns one-shot generations into paced piece streams.
type Producer struct {
	gen       Generator
	pieceSize int
	paceDelay time.Duration
}

// Option configures a Producer.
type Option func(*Producer)

// WithPieceSize sets the rune count per piece. Values below 1 are ignored.
func WithPieceSize(n int) Option {
	return func(p *Producer) {
		if n >= 1 {
			p.pieceSize = n
		}
	}
}

// WithPaceDelay sets the delay between pieces. Zero disables pacing.
func WithPaceDelay(d time.Duration) Option {
	return func(p *Producer) {
		if d >= 0 {
			p.paceDelay = d
		}
	}
}

// NewProducer creates a Producer wrapping the given backend.
func NewProducer(gen Generator, opts ...Option) *Producer {
	p := &Producer{
		gen:       gen,
		pieceSize: DefaultPieceSize,
		paceDelay: DefaultPaceDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream invokes the backend once and, on success, returns the completed
// output as a lazy piece sequence. Backend failure or empty output is
// returned here, synchronously, before any piece exists — a PieceStream
// never represents a failed generation.
func (p *Producer) Stream(ctx context.Context, history []model.ChatTurn, system string) (*PieceStream, error) {
	text, err := p.gen.Generate(ctx, history, system)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyOutput
	}

	return &PieceStream{
		ctx:       ctx,
		runes:     []rune(text),
		pieceSize: p.pieceSize,
		paceDelay: p.paceDelay,
	}, nil
}

// Accumulate is a convenience for callers that do not need incremental
// delivery: it drains the stream and returns the full output.
func (p *Producer) Accumulate(ctx context.Context, history []model.ChatTurn, system string) (string, error) {
	stream, err := p.Stream(ctx, history, system)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for {
		piece, err := stream.Next()
		if err == io.EOF {
			return out.String(), nil
		}
		if err != nil {
			return "", err
		}
		out.WriteString(piece)
	}
}

// =============================================================================
// PIECE STREAM
// =============================================================================

// PieceStream is a finite, non-restartable sequence of text pieces. Pieces
// come back in strict generation order and concatenate exactly to the
// original output. Not safe for concurrent use; one consumer per stream.
type PieceStream struct {
	ctx       context.Context
	runes     []rune
	pos       int
	pieceSize int
	paceDelay time.Duration
	started   bool
}

// Next returns the next piece, or io.EOF when the sequence is exhausted.
// A pacing delay runs before every piece after the first; cancellation of
// the stream's context aborts the wait and ends the sequence early.
func (s *PieceStream) Next() (string, error) {
	if s.pos >= len(s.runes) {
		return "", io.EOF
	}

	if s.started && s.paceDelay > 0 {
		timer := time.NewTimer(s.paceDelay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return "", s.ctx.Err()
		case <-timer.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}
	s.started = true

	end := s.pos + s.pieceSize
	if end > len(s.runes) {
		end = len(s.runes)
	}
	piece := string(s.runes[s.pos:end])
	s.pos = end
	return piece, nil
}

// Remaining returns how many runes have not yet been emitted.
func (s *PieceStream) Remaining() int {
	return len(s.runes) - s.pos
}
