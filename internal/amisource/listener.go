package amisource

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/vsgroup/ami-kafka/internal/model"
)

const (
	// DefaultEventChannelSize is the default buffer size for received events.
	DefaultEventChannelSize = 100_000

	// DefaultListenAddr is where the relay listener binds when none is given.
	DefaultListenAddr = "127.0.0.1:5039"
)

// ListenerConfig holds tunable parameters for the relay listener.
type ListenerConfig struct {
	EventChannelSize int
	MaxFrameSize     int
	Logger           *zap.Logger
}

// Listener accepts TCP peers that push manager event frames, such as a
// relay or a capture being replayed.
type Listener struct {
	listener     net.Listener
	addr         string
	events       chan model.Event
	maxFrameSize int
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	stopOnce     sync.Once
}

// NewListener creates a relay listener. Default addr is DefaultListenAddr.
func NewListener(addr string, conf ...ListenerConfig) *Listener {
	if addr == "" {
		addr = DefaultListenAddr
	}
	channelSize := DefaultEventChannelSize
	maxFrameSize := DefaultMaxFrameSize
	logger := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].EventChannelSize > 0 {
			channelSize = conf[0].EventChannelSize
		}
		if conf[0].MaxFrameSize > 0 {
			maxFrameSize = conf[0].MaxFrameSize
		}
		if conf[0].Logger != nil {
			logger = conf[0].Logger
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		addr:         addr,
		events:       make(chan model.Event, channelSize),
		maxFrameSize: maxFrameSize,
		logger:       logger.With(zap.String("source", "tcp")),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins accepting TCP connections.
func (l *Listener) Start() error {
	listener, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.listener = listener

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-l.ctx.Done():
					return
				default:
					continue
				}
			}
			l.wg.Add(1)
			go l.handleConnection(conn)
		}
	}()

	return nil
}

func (l *Listener) handleConnection(conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	// Unblock the scanner when the listener stops.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-l.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	scanner := NewFrameScanner(conn, l.maxFrameSize)
	for {
		frame, err := scanner.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), l.ctx.Err() != nil:
			case errors.Is(err, ErrFrameTooLarge):
				l.logger.Warn("dropped connection due to frame exceeding max size",
					zap.Stringer("remote", conn.RemoteAddr()),
					zap.Int("max_frame_size", l.maxFrameSize))
			default:
				l.logger.Warn("read error", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}
		ev, ok := frame.Event(l.Name())
		if !ok {
			continue
		}
		select {
		case l.events <- ev:
		case <-l.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the listener and closes Events.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		if l.listener != nil {
			_ = l.listener.Close()
		}
		l.wg.Wait()
		close(l.events)
	})
}

// Events returns the channel of received events.
func (l *Listener) Events() <-chan model.Event { return l.events }

func (l *Listener) Name() string { return "tcp" }

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (l *Listener) Addr() string {
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return l.addr
}
