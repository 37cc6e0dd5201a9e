package amisource

import "github.com/vsgroup/ami-kafka/internal/model"

// Source is a unified interface for all event inputs (manager client, TCP
// relay, stdin).
type Source interface {
	Events() <-chan model.Event // read-only channel of manager events
	Stop()                      // graceful shutdown
	Name() string               // "ami", "tcp", "stdin"
}
