package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vsgroup/ami-kafka/internal/amievent"
	"github.com/vsgroup/ami-kafka/internal/amisource"
	"github.com/vsgroup/ami-kafka/internal/conf"
	"github.com/vsgroup/ami-kafka/internal/httpserver"
	"github.com/vsgroup/ami-kafka/internal/kafka"
	"github.com/vsgroup/ami-kafka/internal/publisher"
)

// runServer connects the event sources to Kafka until a shutdown signal
// arrives or every source has ended.
func runServer(cfg appConfig, logger *zap.Logger) error {
	if err := cfg.validateForRun(); err != nil {
		return err
	}

	snap, err := conf.Load(cfg.ModuleConfig, logger)
	if err != nil {
		return errors.Wrap(err, "load module config")
	}
	if !snap.Enabled {
		logger.Info("module disabled in configuration, nothing to do", zap.String("path", snap.Path))
		return nil
	}

	conns, err := kafka.LoadConnections(cfg.KafkaConfig)
	if err != nil {
		return errors.Wrap(err, "load kafka config")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pub := publisher.New(publisher.Config{
		Encoder: amievent.NewEncoder(cfg.identity()),
		Metrics: publisher.NewMetrics(reg),
		Logger:  logger,
	})

	registry := kafka.NewRegistry(conns, kafka.RegistryConfig{
		Logger:     logger,
		OnDelivery: pub.ObserveDelivery,
	})
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("closing kafka producers", zap.Error(err))
		}
	}()

	producer, err := registry.Producer(snap.Connection)
	if err != nil {
		return errors.Wrap(err, "resolve kafka connection")
	}
	pub.Reload(snap, producer)

	rl := &reloader{
		path:     cfg.ModuleConfig,
		registry: registry,
		pub:      pub,
		logger:   logger,
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	go func() {
		<-sigCh
		logger.Info("shutting down gracefully (signal again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			logger.Warn("forced shutdown")
		case <-deadline.C:
			logger.Warn("shutdown timed out, forcing exit")
		}
		_ = logger.Sync()
		os.Exit(1)
	}()

	// Build input plugins and source multiplexer
	plugins := buildInputPlugins(InputPluginConfig{
		AMIEnabled: cfg.AMIEnabled,
		AMI: amisource.ClientConfig{
			Addr:         cfg.AMIAddr,
			Username:     cfg.AMIUsername,
			Secret:       cfg.AMISecret,
			Events:       cfg.AMIEvents,
			ReconnectMax: cfg.AMIReconnectMax,
		},
		ListenEnabled: cfg.ListenEnabled,
		ListenAddr:    cfg.ListenAddr,
		Logger:        logger,
	})

	sources := make([]amisource.Source, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logger.Error("failed to initialize input plugin", zap.String("plugin", plugin.Name()), zap.Error(err))
			continue
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return errors.New("no event sources available: enable ami-enabled or listen-enabled, or pipe frames to stdin")
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(httpserver.Config{
			Addr:     cfg.APIAddr,
			Engine:   pub,
			Sources:  mux,
			Reload:   rl.Reload,
			Gatherer: reg,
			Logger:   logger,
		})
		if err := apiServer.Start(); err != nil {
			mux.Stop()
			return errors.Wrap(err, "start admin api")
		}
		defer apiServer.Stop()
	}

	printStartupBanner(cfg, snap, mux.SourceNames())

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Publishing loop. Ends the run once every source has closed.
	g.Go(func() error {
		for ev := range mux.Events() {
			pub.Handle(ev)
		}
		cancel()
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hupCh:
				logger.Info("SIGHUP received, reloading configuration")
				_ = rl.Reload(gctx)
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("server: errgroup exited with error", zap.Error(err))
	}

	cancel()
	mux.Stop()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

func printStartupBanner(cfg appConfig, snap *conf.Snapshot, sources []string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")
	warn := yellow.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╔╦╗╦  ╦╔═╔═╗╔═╗╦╔═╔═╗
    ╠═╣║║║║  ╠╩╗╠═╣╠╣ ╠╩╗╠═╣
    ╩ ╩╩ ╩╩  ╩ ╩╩ ╩╚  ╩ ╩╩ ╩`)

	active := make(map[string]bool, len(sources))
	for _, name := range sources {
		active[name] = true
	}
	row := func(on bool, label, value string) string {
		if on {
			return fmt.Sprintf("    %s  %-14s %s", check, label, cyan.Render(value))
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, label, dim.Render("disabled"))
	}

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+dim.Render("v"+version))
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Sources"))
	lines = append(lines, "")
	lines = append(lines, row(active["ami"], "Manager", cfg.AMIAddr))
	lines = append(lines, row(active["tcp"], "TCP Relay", cfg.ListenAddr))
	lines = append(lines, row(active["stdin"], "Stdin", "piped"))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Publishing"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Connection", cyan.Render(snap.Connection)))
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Topic", cyan.Render(snap.Topic)))
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Format", dim.Render(snap.Format.String())))
	filters := fmt.Sprintf("%d include, %d exclude", len(snap.Filters.Include()), len(snap.Filters.Exclude()))
	if len(snap.Errors) > 0 {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", warn, "Filters",
			dim.Render(filters)+yellow.Render(fmt.Sprintf(", %d rejected", len(snap.Errors)))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Filters", dim.Render(filters)))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")
	lines = append(lines, row(cfg.APIEnabled, "Admin API", cfg.APIAddr))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Config File", dim.Render(cfg.ConfigPath)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Config File", dim.Render("default (no file)")))
	}
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Module", dim.Render(cfg.ModuleConfig)))

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Send ")+yellow.Render("SIGHUP")+dim.Render(" to reload, ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}
