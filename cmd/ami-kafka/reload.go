package main

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/vsgroup/ami-kafka/internal/conf"
	"github.com/vsgroup/ami-kafka/internal/kafka"
	"github.com/vsgroup/ami-kafka/internal/publisher"
)

const (
	reloadOK    = "ok"
	reloadError = "error"
)

// reloader re-reads ami_kafka.conf and swaps the result into the publisher.
// SIGHUP and POST /api/reload share it.
type reloader struct {
	mu       sync.Mutex
	path     string
	registry *kafka.Registry
	pub      *publisher.Publisher
	logger   *zap.Logger
}

// Reload applies a fresh snapshot. A file that fails to load leaves the
// running configuration untouched. A connection that cannot be resolved
// keeps the previous producer while the new filters take effect.
func (r *reloader) Reload(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := conf.Load(r.path, r.logger)
	if err != nil {
		r.pub.Metrics().Reloads.WithLabelValues(reloadError).Inc()
		r.logger.Error("reload failed, keeping current configuration", zap.Error(err))
		return errors.Wrap(err, "reload")
	}

	var producer publisher.Producer
	if snap.Enabled {
		p, err := r.registry.Producer(snap.Connection)
		if err != nil {
			r.logger.Warn("kafka connection unavailable, keeping previous producer",
				zap.String("connection", snap.Connection),
				zap.Error(err))
		} else {
			producer = p
		}
	}

	r.pub.Reload(snap, producer)
	r.pub.Metrics().Reloads.WithLabelValues(reloadOK).Inc()
	return nil
}
