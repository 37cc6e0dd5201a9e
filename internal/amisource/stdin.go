package amisource

import (
	"context"
	"errors"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/vsgroup/ami-kafka/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin events.
	DefaultStdinBuffer = 50_000
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize   int
	MaxFrameSize int
	Logger       *zap.Logger
}

// StdinSource reads manager frames piped into stdin, typically a capture
// being replayed.
type StdinSource struct {
	ch     chan model.Event
	cancel context.CancelFunc
}

// NewStdinSource creates a StdinSource that reads from stdin in a background goroutine.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *StdinSource {
	return newStdinSourceWithReader(ctx, os.Stdin, conf...)
}

func newStdinSourceWithReader(ctx context.Context, r io.Reader, conf ...StdinConfig) *StdinSource {
	bufferSize := DefaultStdinBuffer
	maxFrameSize := DefaultMaxFrameSize
	logger := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxFrameSize > 0 {
			maxFrameSize = conf[0].MaxFrameSize
		}
		if conf[0].Logger != nil {
			logger = conf[0].Logger
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		ch:     make(chan model.Event, bufferSize),
		cancel: cancel,
	}
	go s.read(ctx, r, maxFrameSize, logger)
	return s
}

func (s *StdinSource) read(ctx context.Context, r io.Reader, maxFrameSize int, logger *zap.Logger) {
	defer close(s.ch)

	// Use a single goroutine for blocking scan with a done channel to
	// detect context cancellation without spawning a goroutine per frame.
	results := make(chan model.Event)
	go func() {
		defer close(results)
		scanner := NewFrameScanner(r, maxFrameSize)
		for {
			frame, err := scanner.Next()
			if err != nil {
				switch {
				case errors.Is(err, io.EOF):
				case errors.Is(err, ErrFrameTooLarge):
					logger.Warn("stdin frame exceeded max size, stopping stdin source", zap.Int("max_frame_size", maxFrameSize))
				default:
					logger.Warn("stdin read error", zap.Error(err))
				}
				return
			}
			ev, ok := frame.Event(s.Name())
			if !ok {
				continue
			}
			select {
			case results <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-results:
			if !ok {
				return
			}
			select {
			case s.ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *StdinSource) Events() <-chan model.Event { return s.ch }
func (s *StdinSource) Stop()                      { s.cancel() }
func (s *StdinSource) Name() string               { return "stdin" }
