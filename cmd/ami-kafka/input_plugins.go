package main

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/vsgroup/ami-kafka/internal/amisource"
)

// InputSourcePlugin is a small plugin primitive for wiring event inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (amisource.Source, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	AMIEnabled    bool
	AMI           amisource.ClientConfig
	ListenEnabled bool
	ListenAddr    string
	Logger        *zap.Logger
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ami := cfg.AMI
	ami.Logger = cfg.Logger

	plugins := make([]InputSourcePlugin, 0, 3)
	plugins = append(plugins, amiInputPlugin{
		conf:    ami,
		enabled: cfg.AMIEnabled,
	})
	plugins = append(plugins, tcpInputPlugin{
		addr:    cfg.ListenAddr,
		enabled: cfg.ListenEnabled,
		logger:  cfg.Logger,
	})
	plugins = append(plugins, stdinInputPlugin{logger: cfg.Logger})
	return plugins
}

type amiInputPlugin struct {
	conf    amisource.ClientConfig
	enabled bool
}

func (p amiInputPlugin) Name() string { return "ami" }

func (p amiInputPlugin) Enabled() bool { return p.enabled }

func (p amiInputPlugin) Build(_ context.Context) (amisource.Source, error) {
	client := amisource.NewClient(p.conf)
	client.Start()
	return client, nil
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
	logger  *zap.Logger
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (amisource.Source, error) {
	listener := amisource.NewListener(p.addr, amisource.ListenerConfig{Logger: p.logger})
	if err := listener.Start(); err != nil {
		return nil, errors.Wrap(err, "start tcp listener")
	}
	return listener, nil
}

type stdinInputPlugin struct {
	logger *zap.Logger
}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (amisource.Source, error) {
	return amisource.NewStdinSource(ctx, amisource.StdinConfig{Logger: p.logger}), nil
}
