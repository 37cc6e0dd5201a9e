package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// ErrClosed is returned by Produce after Close.
var ErrClosed = errors.New("kafka producer closed")

// DeliveryFunc observes the outcome of an asynchronous delivery. err is nil
// on success.
type DeliveryFunc func(topic string, err error)

// Producer hands records to a franz-go client without waiting for the
// broker.
type Producer struct {
	name       string
	client     *kgo.Client
	ctx        context.Context
	cancel     context.CancelFunc
	closed     atomic.Bool
	onDelivery DeliveryFunc
	closeOnce  sync.Once
}

func newProducer(conn Connection, logger *zap.Logger, onDelivery DeliveryFunc) (*Producer, error) {
	opts, err := conn.clientOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, kgo.WithLogger(newClientLogger(logger.With(zap.String("connection", conn.Name)))))

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "create kafka client %q", conn.Name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Producer{
		name:       conn.Name,
		client:     client,
		ctx:        ctx,
		cancel:     cancel,
		onDelivery: onDelivery,
	}, nil
}

func (p *Producer) Name() string { return p.name }

// Produce buffers one record and returns immediately. The only error is
// ErrClosed. A full buffer (kgo.ErrMaxBuffered) and broker failures are
// reported to the delivery callback instead.
func (p *Producer) Produce(topic, key string, payload []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}
	p.client.TryProduce(p.ctx, rec, p.promise)
	return nil
}

func (p *Producer) promise(r *kgo.Record, err error) {
	if p.onDelivery != nil {
		p.onDelivery(r.Topic, err)
	}
}

// Close flushes buffered records, waiting at most until ctx is done, and
// releases the client.
func (p *Producer) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if ferr := p.client.Flush(ctx); ferr != nil {
			err = errors.Wrapf(ferr, "flush kafka client %q", p.name)
		}
		p.cancel()
		p.client.Close()
	})
	return err
}

// RegistryConfig holds tunables shared by every producer of a Registry.
type RegistryConfig struct {
	Logger       *zap.Logger
	OnDelivery   DeliveryFunc
	CloseTimeout time.Duration
}

// Registry builds producers on first use, one per connection name.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]Connection
	producers map[string]*Producer
	conf      RegistryConfig
}

func NewRegistry(conns map[string]Connection, conf RegistryConfig) *Registry {
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	if conf.CloseTimeout <= 0 {
		conf.CloseTimeout = 10 * time.Second
	}
	return &Registry{
		conns:     conns,
		producers: make(map[string]*Producer),
		conf:      conf,
	}
}

// Connections lists the configured connection names.
func (r *Registry) Connections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	return names
}

// Producer returns the producer for the named connection.
func (r *Registry) Producer(name string) (*Producer, error) {
	if name == "" {
		return nil, errors.New("no kafka connection configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.producers[name]; ok {
		return p, nil
	}
	conn, ok := r.conns[name]
	if !ok {
		return nil, errors.Newf("kafka connection %q not found", name)
	}
	p, err := newProducer(conn, r.conf.Logger, r.conf.OnDelivery)
	if err != nil {
		return nil, err
	}
	r.producers[name] = p
	r.conf.Logger.Info("kafka producer ready",
		zap.String("connection", name),
		zap.Strings("brokers", conn.Brokers))
	return p, nil
}

// Close flushes and closes every producer built so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.conf.CloseTimeout)
	defer cancel()

	var errs error
	for name, p := range r.producers {
		errs = errors.CombineErrors(errs, p.Close(ctx))
		delete(r.producers, name)
	}
	return errs
}
