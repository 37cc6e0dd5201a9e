package publisher

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vsgroup/ami-kafka/internal/amievent"
	"github.com/vsgroup/ami-kafka/internal/conf"
	"github.com/vsgroup/ami-kafka/internal/model"
)

// Producer accepts a payload for asynchronous delivery. Produce must not
// block on the broker.
type Producer interface {
	Produce(topic, key string, payload []byte) error
}

// Config wires a Publisher.
type Config struct {
	Encoder *amievent.Encoder
	Metrics *Metrics
	Logger  *zap.Logger
}

// producerRef lets an interface value sit behind an atomic.Pointer.
type producerRef struct {
	Producer
}

// Publisher filters events against the active snapshot and hands the
// survivors to the producer. Handle may be called from any number of
// goroutines while Reload swaps the configuration underneath.
type Publisher struct {
	snapshot atomic.Pointer[conf.Snapshot]
	producer atomic.Pointer[producerRef]

	encoder   *amievent.Encoder
	metrics   *Metrics
	logger    *zap.Logger
	// sampled, for per-event failures
	hotLogger *zap.Logger
}

func New(cfg Config) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Encoder == nil {
		cfg.Encoder = amievent.NewEncoder(amievent.Identity{EntityID: amievent.DefaultEntityID()})
	}
	sampled := cfg.Logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, time.Second, 5, 100)
	}))
	return &Publisher{
		encoder:   cfg.Encoder,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		hotLogger: sampled,
	}
}

// Reload publishes a new snapshot. A nil producer keeps the current one.
func (p *Publisher) Reload(snap *conf.Snapshot, producer Producer) {
	if producer != nil {
		p.producer.Store(&producerRef{producer})
	}
	p.snapshot.Store(snap)

	if snap != nil && snap.Filters != nil {
		p.logger.Info("configuration applied",
			zap.Bool("enabled", snap.Enabled),
			zap.Stringer("format", snap.Format),
			zap.String("topic", snap.Topic),
			zap.String("connection", snap.Connection),
			zap.Int("include_filters", len(snap.Filters.Include())),
			zap.Int("exclude_filters", len(snap.Filters.Exclude())),
			zap.Int("rejected_filters", len(snap.Errors)))
		p.metrics.Filters.WithLabelValues("include").Set(float64(len(snap.Filters.Include())))
		p.metrics.Filters.WithLabelValues("exclude").Set(float64(len(snap.Filters.Exclude())))
		p.metrics.CompileErrors.Add(float64(len(snap.Errors)))
	}
}

// Snapshot returns the active configuration, or nil before the first Reload.
func (p *Publisher) Snapshot() *conf.Snapshot {
	return p.snapshot.Load()
}

func (p *Publisher) Metrics() *Metrics { return p.metrics }

// HasProducer reports whether a producer has been installed.
func (p *Publisher) HasProducer() bool {
	return p.producer.Load() != nil
}

// Handle runs one event through the filters and, if it passes, produces
// it keyed by event name. It never blocks on the broker and returns the
// outcome recorded in metrics.
func (p *Publisher) Handle(ev model.Event) string {
	snap := p.snapshot.Load()
	result, payload := p.evaluate(snap, ev)
	switch result {
	case ResultDisabled:
		p.metrics.eventsDisabled.Inc()
		return result
	case ResultFiltered:
		p.metrics.eventsFiltered.Inc()
		return result
	case ResultUnrouted:
		p.metrics.eventsUnrouted.Inc()
		return result
	}

	ref := p.producer.Load()
	if ref == nil {
		p.metrics.eventsUnrouted.Inc()
		return ResultUnrouted
	}
	if err := ref.Produce(snap.Topic, ev.Name, payload); err != nil {
		p.metrics.ProduceErrors.Inc()
		p.metrics.eventsUnrouted.Inc()
		p.hotLogger.Warn("failed to produce event",
			zap.String("event", ev.Name),
			zap.String("topic", snap.Topic),
			zap.Error(err))
		return ResultUnrouted
	}
	p.metrics.eventsSent.Inc()
	return ResultSent
}

// Evaluation is the dry-run outcome for one event.
type Evaluation struct {
	Result  string `json:"result"`
	Send    bool   `json:"send"`
	Topic   string `json:"topic,omitempty"`
	Key     string `json:"key,omitempty"`
	Format  string `json:"format,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Evaluate reports what Handle would do with ev without producing it.
func (p *Publisher) Evaluate(ev model.Event) Evaluation {
	snap := p.snapshot.Load()
	result, payload := p.evaluate(snap, ev)
	if result == ResultSent && p.producer.Load() == nil {
		result = ResultUnrouted
	}
	out := Evaluation{Result: result, Send: result == ResultSent}
	if payload != nil {
		out.Topic = snap.Topic
		out.Key = ev.Name
		out.Format = snap.Format.String()
		out.Payload = string(payload)
	}
	return out
}

func (p *Publisher) evaluate(snap *conf.Snapshot, ev model.Event) (string, []byte) {
	if snap == nil || !snap.Enabled {
		return ResultDisabled, nil
	}
	if !snap.Filters.ShouldSend(ev.Name, ev.Body) {
		return ResultFiltered, nil
	}
	if snap.Topic == "" {
		return ResultUnrouted, nil
	}
	payload, err := p.encoder.Encode(snap.Format, ev.Name, ev.Body)
	if err != nil {
		p.hotLogger.Warn("failed to encode event", zap.String("event", ev.Name), zap.Error(err))
		return ResultUnrouted, nil
	}
	return ResultSent, payload
}

// ObserveDelivery records the asynchronous outcome of a produced record.
func (p *Publisher) ObserveDelivery(topic string, err error) {
	if err == nil {
		return
	}
	p.metrics.ProduceErrors.Inc()
	p.hotLogger.Warn("kafka delivery failed", zap.String("topic", topic), zap.Error(err))
}
