package main

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/vsgroup/ami-kafka/internal/amievent"
	"github.com/vsgroup/ami-kafka/internal/amisource"
	"github.com/vsgroup/ami-kafka/internal/httpserver"
)

const (
	defaultConfigPath      = "/etc/ami-kafka/config.yml"
	defaultModuleConfig    = "/etc/asterisk/ami_kafka.conf"
	defaultKafkaConfig     = "/etc/asterisk/kafka.conf"
	defaultAMIEvents       = "on"
	defaultAMIReconnectMax = 30 * time.Second
	defaultMuxBufferSize   = DefaultMuxBuffer
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	ModuleConfig    string        `mapstructure:"module-config"`
	KafkaConfig     string        `mapstructure:"kafka-config"`
	EntityID        string        `mapstructure:"entity-id"`
	SystemName      string        `mapstructure:"system-name"`
	AMIEnabled      bool          `mapstructure:"ami-enabled"`
	AMIAddr         string        `mapstructure:"ami-addr"`
	AMIUsername     string        `mapstructure:"ami-username"`
	AMISecret       string        `mapstructure:"ami-secret"`
	AMIEvents       string        `mapstructure:"ami-events"`
	AMIReconnectMax time.Duration `mapstructure:"ami-reconnect-max"`
	ListenEnabled   bool          `mapstructure:"listen-enabled"`
	ListenAddr      string        `mapstructure:"listen-addr"`
	MuxBufferSize   int           `mapstructure:"mux-buffer-size"`
	APIEnabled      bool          `mapstructure:"api-enabled"`
	APIAddr         string        `mapstructure:"api-addr"`
	LogLevel        string        `mapstructure:"log-level"`
	LogFormat       string        `mapstructure:"log-format"`
	ConfigPath      string        `mapstructure:"-"` // not from config file
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	v := viper.New()
	v.SetEnvPrefix("AMI_KAFKA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("module-config", defaultModuleConfig)
	v.SetDefault("kafka-config", defaultKafkaConfig)
	v.SetDefault("entity-id", "")
	v.SetDefault("system-name", "")
	v.SetDefault("ami-enabled", true)
	v.SetDefault("ami-addr", amisource.DefaultManagerAddr)
	v.SetDefault("ami-username", "")
	v.SetDefault("ami-secret", "")
	v.SetDefault("ami-events", defaultAMIEvents)
	v.SetDefault("ami-reconnect-max", defaultAMIReconnectMax)
	v.SetDefault("listen-enabled", false)
	v.SetDefault("listen-addr", amisource.DefaultListenAddr)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-addr", httpserver.DefaultAddr)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, errors.Wrap(err, "read config")
		}
	} else {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decode config")
	}

	if cfg.EntityID != "" {
		id, err := amievent.ParseEntityID(cfg.EntityID)
		if err != nil {
			return cfg, errors.Wrap(err, "invalid entity-id")
		}
		cfg.EntityID = id
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, errors.Newf("invalid log-level: %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return cfg, errors.Newf("invalid log-format: %q (want json or console)", cfg.LogFormat)
	}
	if cfg.AMIReconnectMax <= 0 {
		return cfg, errors.Newf("invalid ami-reconnect-max: %s", cfg.AMIReconnectMax)
	}
	if cfg.MuxBufferSize <= 0 {
		return cfg, errors.Newf("invalid mux-buffer-size: %d", cfg.MuxBufferSize)
	}

	return cfg, nil
}

// validateForRun checks settings only the daemon needs.
func (c appConfig) validateForRun() error {
	if c.AMIEnabled && c.AMIUsername == "" {
		return errors.New("ami-username is required when ami-enabled is set")
	}
	return nil
}

func (c appConfig) identity() amievent.Identity {
	id := amievent.Identity{EntityID: c.EntityID, SystemName: c.SystemName}
	if id.EntityID == "" {
		id.EntityID = amievent.DefaultEntityID()
	}
	return id
}
