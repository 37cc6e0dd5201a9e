package publisher

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vsgroup/ami-kafka/internal/amievent"
	"github.com/vsgroup/ami-kafka/internal/conf"
	"github.com/vsgroup/ami-kafka/internal/filter"
	"github.com/vsgroup/ami-kafka/internal/model"
)

const sampleBody = "Privilege: call,all\r\n" +
	"Channel: PJSIP/100-00000001\r\n" +
	"ChannelState: 6\r\n" +
	"CallerIDNum: 100\r\n" +
	"Context: from-internal\r\n"

type produced struct {
	topic   string
	key     string
	payload string
}

type fakeProducer struct {
	mu      sync.Mutex
	records []produced
	err     error
}

func (f *fakeProducer) Produce(topic, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, produced{topic: topic, key: key, payload: string(payload)})
	return nil
}

func (f *fakeProducer) all() []produced {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]produced(nil), f.records...)
}

func newTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	return New(Config{
		Encoder: amievent.NewEncoder(amievent.Identity{EntityID: "02:42:ac:11:00:02"}),
		Metrics: NewMetrics(prometheus.NewRegistry()),
		Logger:  zaptest.NewLogger(t),
	})
}

func snapshot(t *testing.T, mutate func(*conf.Settings), decls ...filter.Declaration) *conf.Snapshot {
	t.Helper()
	s := conf.DefaultSettings()
	s.Connection = "default"
	s.Filters = decls
	if mutate != nil {
		mutate(&s)
	}
	snap, err := conf.Build(s, nil)
	require.NoError(t, err)
	return snap
}

func TestHandle_SendsJSONKeyedByEventName(t *testing.T) {
	t.Parallel()

	p := newTestPublisher(t)
	prod := &fakeProducer{}
	p.Reload(snapshot(t, nil), prod)

	result := p.Handle(model.Event{Name: "Newchannel", Body: "Channel: PJSIP/100\r\n"})
	assert.Equal(t, ResultSent, result)

	records := prod.all()
	require.Len(t, records, 1)
	assert.Equal(t, "asterisk_ami", records[0].topic)
	assert.Equal(t, "Newchannel", records[0].key)
	assert.JSONEq(t, `{"Event":"Newchannel","EntityID":"02:42:ac:11:00:02","Channel":"PJSIP/100"}`, records[0].payload)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().Events.WithLabelValues(ResultSent)))
}

func TestHandle_AMIFormat(t *testing.T) {
	t.Parallel()

	p := newTestPublisher(t)
	prod := &fakeProducer{}
	p.Reload(snapshot(t, func(s *conf.Settings) { s.Format = amievent.FormatAMI }), prod)

	p.Handle(model.Event{Name: "Hangup", Body: "Event: Hangup\r\nCause: 16\r\n\r\n"})

	records := prod.all()
	require.Len(t, records, 1)
	assert.Equal(t, "EntityID: 02:42:ac:11:00:02\r\nEvent: Hangup\r\nCause: 16\r\n\r\n", records[0].payload)
}

func TestHandle_Outcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		snap     func(t *testing.T) *conf.Snapshot
		producer bool
		want     string
	}{
		{
			name:     "no snapshot",
			snap:     func(*testing.T) *conf.Snapshot { return nil },
			producer: true,
			want:     ResultDisabled,
		},
		{
			name: "disabled",
			snap: func(t *testing.T) *conf.Snapshot {
				return snapshot(t, func(s *conf.Settings) { s.Enabled = false })
			},
			producer: true,
			want:     ResultDisabled,
		},
		{
			name: "filtered out",
			snap: func(t *testing.T) *conf.Snapshot {
				return snapshot(t, nil, filter.Declaration{Name: "eventfilter", Value: "!Channel: PJSIP/"})
			},
			producer: true,
			want:     ResultFiltered,
		},
		{
			name: "empty topic",
			snap: func(t *testing.T) *conf.Snapshot {
				return snapshot(t, func(s *conf.Settings) { s.Topic = "" })
			},
			producer: true,
			want:     ResultUnrouted,
		},
		{
			name:     "no producer",
			snap:     func(t *testing.T) *conf.Snapshot { return snapshot(t, nil) },
			producer: false,
			want:     ResultUnrouted,
		},
		{
			name: "include passes",
			snap: func(t *testing.T) *conf.Snapshot {
				return snapshot(t, nil, filter.Declaration{Name: "eventfilter(name(Newchannel))"})
			},
			producer: true,
			want:     ResultSent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newTestPublisher(t)
			prod := &fakeProducer{}
			var producer Producer
			if tt.producer {
				producer = prod
			}
			p.Reload(tt.snap(t), producer)

			assert.Equal(t, tt.want, p.Handle(model.Event{Name: "Newchannel", Body: sampleBody}))
			if tt.want == ResultSent {
				assert.Len(t, prod.all(), 1)
			} else {
				assert.Empty(t, prod.all())
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().Events.WithLabelValues(tt.want)))
		})
	}
}

func TestHandle_ProduceError(t *testing.T) {
	t.Parallel()

	p := newTestPublisher(t)
	p.Reload(snapshot(t, nil), &fakeProducer{err: errors.New("producer closed")})

	assert.Equal(t, ResultUnrouted, p.Handle(model.Event{Name: "Newchannel", Body: sampleBody}))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().ProduceErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().Events.WithLabelValues(ResultUnrouted)))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.Metrics().Events.WithLabelValues(ResultSent)))
}

func TestReload_KeepsProducerWhenNil(t *testing.T) {
	t.Parallel()

	p := newTestPublisher(t)
	prod := &fakeProducer{}
	p.Reload(snapshot(t, nil), prod)
	p.Reload(snapshot(t, func(s *conf.Settings) { s.Topic = "other" }), nil)

	p.Handle(model.Event{Name: "Newchannel", Body: sampleBody})
	records := prod.all()
	require.Len(t, records, 1)
	assert.Equal(t, "other", records[0].topic)
}

func TestEvaluate_DoesNotProduce(t *testing.T) {
	t.Parallel()

	p := newTestPublisher(t)
	prod := &fakeProducer{}
	p.Reload(snapshot(t, nil, filter.Declaration{Name: "eventfilter", Value: "Channel: PJSIP/"}), prod)

	ev := p.Evaluate(model.Event{Name: "Newchannel", Body: sampleBody})
	assert.True(t, ev.Send)
	assert.Equal(t, ResultSent, ev.Result)
	assert.Equal(t, "asterisk_ami", ev.Topic)
	assert.Equal(t, "Newchannel", ev.Key)
	assert.Equal(t, "json", ev.Format)
	assert.Contains(t, ev.Payload, `"Channel":"PJSIP/100-00000001"`)

	ev = p.Evaluate(model.Event{Name: "Newchannel", Body: "Channel: SIP/1\r\n"})
	assert.False(t, ev.Send)
	assert.Equal(t, ResultFiltered, ev.Result)
	assert.Empty(t, ev.Payload)

	assert.Empty(t, prod.all())
}

func TestObserveDelivery(t *testing.T) {
	t.Parallel()

	p := newTestPublisher(t)
	p.ObserveDelivery("asterisk_ami", nil)
	p.ObserveDelivery("asterisk_ami", errors.New("leader not available"))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().ProduceErrors))
}

func TestHandle_ConcurrentWithReload(t *testing.T) {
	t.Parallel()

	p := newTestPublisher(t)
	prod := &fakeProducer{}
	include := snapshot(t, nil, filter.Declaration{Name: "eventfilter(name(Newchannel))"})
	exclude := snapshot(t, nil, filter.Declaration{Name: "eventfilter", Value: "!Channel: PJSIP/"})
	p.Reload(include, prod)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				got := p.Handle(model.Event{Name: "Newchannel", Body: sampleBody})
				if got != ResultSent && got != ResultFiltered {
					t.Errorf("Handle() = %q, want sent or filtered", got)
					return
				}
			}
		}()
	}
	for i := range 100 {
		if i%2 == 0 {
			p.Reload(exclude, nil)
		} else {
			p.Reload(include, nil)
		}
	}
	wg.Wait()

	sent := testutil.ToFloat64(p.Metrics().Events.WithLabelValues(ResultSent))
	filtered := testutil.ToFloat64(p.Metrics().Events.WithLabelValues(ResultFiltered))
	assert.Equal(t, 2000.0, sent+filtered)
	assert.Len(t, prod.all(), int(sent))
}
