package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errCheckFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ami-kafka",
		Short:         "Filter Asterisk manager events and publish them to Kafka",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is "+defaultConfigPath+")")

	setup := func() (appConfig, *zap.Logger, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return cfg, nil, errors.Wrap(err, "loading config")
		}
		logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return cfg, nil, err
		}
		return cfg, logger, nil
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Stream manager events to Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runServer(cfg, logger)
		},
	}

	var output string
	check := &cobra.Command{
		Use:   "check",
		Short: "Compile ami_kafka.conf and list the resulting filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !validOutput(output) {
				return errors.Newf("unknown output format %q (want text or yaml)", output)
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return runCheck(cfg, cmd.OutOrStdout(), output, logger)
		},
	}
	check.Flags().StringVarP(&output, "output", "o", "text", "output format: text or yaml")

	var eventName, bodyFile string
	eval := &cobra.Command{
		Use:   "eval",
		Short: "Show whether one event would be published, and its payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return runEval(cfg, cmd.OutOrStdout(), eventName, bodyFile, logger)
		},
	}
	eval.Flags().StringVar(&eventName, "event", "", "event name")
	eval.Flags().StringVar(&bodyFile, "body-file", "", "file holding the full event frame, - for stdin")
	_ = eval.MarkFlagRequired("event")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ami-kafka - Asterisk manager events to Kafka\n")
			fmt.Fprintf(w, "  Version:    %s\n", version)
			fmt.Fprintf(w, "  Commit:     %s\n", commit)
			fmt.Fprintf(w, "  Built:      %s\n", buildTime)
			fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
		},
	}

	root.AddCommand(run, check, eval, versionCmd)
	return root
}
