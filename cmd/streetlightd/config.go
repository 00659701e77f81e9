package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/engine"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
)

// Config represents the configuration file structure
type Config struct {
	Database struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"database" yaml:"database"`

	HTTP struct {
		Addr string `mapstructure:"addr" yaml:"addr"`
	} `mapstructure:"http" yaml:"http"`

	GRPC struct {
		Addr string `mapstructure:"addr" yaml:"addr"`
	} `mapstructure:"grpc" yaml:"grpc"`

	Bus struct {
		Transport      string        `mapstructure:"transport" yaml:"transport"`
		Broker         string        `mapstructure:"broker" yaml:"broker"`
		ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
		Username       string        `mapstructure:"username" yaml:"username"`
		Password       string        `mapstructure:"password" yaml:"password"`
		QoS            byte          `mapstructure:"qos" yaml:"qos"`
		PublishTimeout time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
		ControlTopic   string        `mapstructure:"control_topic" yaml:"control_topic"`
		TelemetryTopic string        `mapstructure:"telemetry_topic" yaml:"telemetry_topic"`
		ZMQEventURL    string        `mapstructure:"zmq_event_url" yaml:"zmq_event_url"`
		ZMQCommandURL  string        `mapstructure:"zmq_command_url" yaml:"zmq_command_url"`
	} `mapstructure:"bus" yaml:"bus"`

	Dispatch struct {
		Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	} `mapstructure:"dispatch" yaml:"dispatch"`

	Telemetry struct {
		Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
		PruneInterval time.Duration `mapstructure:"prune_interval" yaml:"prune_interval"`
	} `mapstructure:"telemetry" yaml:"telemetry"`

	Faults struct {
		DefaultSeverity string `mapstructure:"default_severity" yaml:"default_severity"`
	} `mapstructure:"faults" yaml:"faults"`

	Logging struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
		File   string `mapstructure:"file" yaml:"file"`
	} `mapstructure:"logging" yaml:"logging"`
}

func setDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()

	v.SetDefault("database.path", def.DatabasePath)
	v.SetDefault("http.addr", def.HTTPAddr)
	v.SetDefault("grpc.addr", def.GRPCAddr)

	v.SetDefault("bus.transport", def.Bus.Transport)
	v.SetDefault("bus.broker", def.Bus.Broker)
	v.SetDefault("bus.client_id", def.Bus.ClientID)
	v.SetDefault("bus.username", "")
	v.SetDefault("bus.password", "")
	v.SetDefault("bus.qos", def.Bus.QoS)
	v.SetDefault("bus.publish_timeout", def.Bus.PublishTimeout)
	v.SetDefault("bus.control_topic", def.Bus.ControlTopic)
	v.SetDefault("bus.telemetry_topic", def.Bus.TelemetryTopic)
	v.SetDefault("bus.zmq_event_url", def.Bus.ZMQEventURL)
	v.SetDefault("bus.zmq_command_url", def.Bus.ZMQCommandURL)

	v.SetDefault("dispatch.concurrency", def.DispatchConcurrency)
	v.SetDefault("telemetry.retention", def.TelemetryRetention)
	v.SetDefault("telemetry.prune_interval", def.PruneInterval)
	v.SetDefault("faults.default_severity", string(def.DefaultSeverity))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}

// loadConfig reads path if it exists, then applies STREETLIGHT_* environment
// overrides on top of the defaults
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STREETLIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// engineConfig validates cfg and maps it onto the engine
func (cfg *Config) engineConfig(logger *slog.Logger) (engine.Config, error) {
	ec := engine.DefaultConfig()

	switch cfg.Bus.Transport {
	case engine.TransportMQTT, engine.TransportZMQ:
	default:
		return ec, fmt.Errorf("bus.transport must be %q or %q, got %q",
			engine.TransportMQTT, engine.TransportZMQ, cfg.Bus.Transport)
	}
	if cfg.Bus.QoS > 2 {
		return ec, fmt.Errorf("bus.qos must be 0, 1 or 2, got %d", cfg.Bus.QoS)
	}
	severity, err := fleet.ParseSeverity(cfg.Faults.DefaultSeverity)
	if err != nil {
		return ec, fmt.Errorf("faults.default_severity: %w", err)
	}

	ec.DatabasePath = cfg.Database.Path
	ec.HTTPAddr = cfg.HTTP.Addr
	ec.GRPCAddr = cfg.GRPC.Addr
	ec.Bus = engine.BusConfig{
		Transport:      cfg.Bus.Transport,
		Broker:         cfg.Bus.Broker,
		ClientID:       cfg.Bus.ClientID,
		Username:       cfg.Bus.Username,
		Password:       cfg.Bus.Password,
		QoS:            cfg.Bus.QoS,
		PublishTimeout: cfg.Bus.PublishTimeout,
		ControlTopic:   cfg.Bus.ControlTopic,
		TelemetryTopic: cfg.Bus.TelemetryTopic,
		ZMQEventURL:    cfg.Bus.ZMQEventURL,
		ZMQCommandURL:  cfg.Bus.ZMQCommandURL,
	}
	if cfg.Dispatch.Concurrency > 0 {
		ec.DispatchConcurrency = cfg.Dispatch.Concurrency
	}
	ec.TelemetryRetention = cfg.Telemetry.Retention
	if cfg.Telemetry.PruneInterval > 0 {
		ec.PruneInterval = cfg.Telemetry.PruneInterval
	}
	ec.DefaultSeverity = severity
	ec.Logger = logger
	return ec, nil
}

// newLogger builds the process logger. The returned closer releases the log
// file, if one was opened.
func newLogger(cfg *Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return nil, nil, fmt.Errorf("logging.level: %w", err)
	}

	out := stderr
	closer := func() error { return nil }
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closer = f.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Logging.Format) {
	case "json":
		h = slog.NewJSONHandler(out, opts)
	case "text", "":
		h = slog.NewTextHandler(out, opts)
	default:
		closer()
		return nil, nil, fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	return slog.New(h), closer, nil
}
