package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vsgroup/ami-kafka/internal/amisource"
	"github.com/vsgroup/ami-kafka/internal/httpserver"
	"github.com/vsgroup/ami-kafka/internal/model"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 50_000

// sessionSource is implemented by inputs that hold a manager session.
type sessionSource interface {
	Connected() bool
}

type sourceCounters struct {
	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// SourceMultiplexer merges the event inputs into one stream and counts what
// each of them delivered. Events without a name are dropped here.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources  []amisource.Source
	counters []*sourceCounters
	events   chan model.Event

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSourceMultiplexer(parent context.Context, sources []amisource.Source, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	counters := make([]*sourceCounters, len(sources))
	for i := range counters {
		counters[i] = &sourceCounters{}
	}
	ctx, cancel := context.WithCancel(parent)
	return &SourceMultiplexer{
		ctx:      ctx,
		cancel:   cancel,
		sources:  sources,
		counters: counters,
		events:   make(chan model.Event, buffer),
	}
}

func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		if len(m.sources) == 0 {
			m.closeOutput()
			return
		}

		for i, src := range m.sources {
			m.wg.Add(1)
			go m.forward(src, m.counters[i])
		}

		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		m.wg.Wait()
		m.closeOutput()
	})
}

// SourceNames lists the sources in start order.
func (m *SourceMultiplexer) SourceNames() []string {
	names := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		names = append(names, src.Name())
	}
	return names
}

// SourceStatus reports per-source counters, plus the session state of the
// manager client.
func (m *SourceMultiplexer) SourceStatus() []httpserver.SourceStatus {
	out := make([]httpserver.SourceStatus, 0, len(m.sources))
	for i, src := range m.sources {
		st := httpserver.SourceStatus{
			Name:      src.Name(),
			Forwarded: m.counters[i].forwarded.Load(),
			Dropped:   m.counters[i].dropped.Load(),
		}
		if s, ok := src.(sessionSource); ok {
			connected := s.Connected()
			st.Connected = &connected
		}
		out = append(out, st)
	}
	return out
}

func (m *SourceMultiplexer) Events() <-chan model.Event {
	return m.events
}

func (m *SourceMultiplexer) forward(src amisource.Source, counters *sourceCounters) {
	defer m.wg.Done()

	sourceEvents := src.Events()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-sourceEvents:
			if !ok {
				return
			}
			if ev.Name == "" {
				counters.dropped.Add(1)
				continue
			}
			select {
			case m.events <- ev:
				counters.forwarded.Add(1)
			case <-m.ctx.Done():
				return
			}
		}
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.events)
	})
}
