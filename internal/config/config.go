package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultIntervals is the ordered list of tumbling interval periods.
var DefaultIntervals = []string{"1ms", "5ms", "10ms", "20ms", "50ms", "100ms", "200ms", "500ms"}

// EngineConfig holds the flow accounting parameters.
type EngineConfig struct {
	// Intervals lists the tumbling periods in ascending order. Every period
	// must be an exact multiple of the first one.
	Intervals       []string `yaml:"intervals"`
	ReferenceWindow string   `yaml:"reference_window"`
	// ReferenceSlack is added to ReferenceWindow to form the maximum packet age
	// kept in the sliding reference table.
	ReferenceSlack string `yaml:"reference_slack"`
	// RefreshInterval is how often the ingest loop recomputes the published
	// snapshot. Empty means the smallest interval.
	RefreshInterval string `yaml:"refresh_interval"`
}

// CaptureConfig describes the live capture collaborator.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	BPFFilter   string `yaml:"bpf_filter"`
	BufferSize  int    `yaml:"buffer_size"`
}

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	// Encoding is either "json" or "proto".
	Encoding string `yaml:"encoding"`
}

// ClickHouseConfig holds the connection details for the history sink.
type ClickHouseConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	CommitInterval string `yaml:"commit_interval"`
	QueueSize      int    `yaml:"queue_size"`
}

// PublishConfig groups the publish collaborators.
type PublishConfig struct {
	NATS       NATSConfig       `yaml:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// APIConfig holds the query API listen addresses.
type APIConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Capture CaptureConfig `yaml:"capture"`
	Publish PublishConfig `yaml:"publish"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Intervals:       append([]string(nil), DefaultIntervals...),
			ReferenceWindow: "5s",
			ReferenceSlack:  "1ms",
		},
		Capture: CaptureConfig{
			SnapshotLen: 1600,
			Promiscuous: true,
			BufferSize:  10000,
		},
		Publish: PublishConfig{
			NATS: NATSConfig{
				URL:      "nats://127.0.0.1:4222",
				Subject:  "toptalk",
				Encoding: "json",
			},
			ClickHouse: ClickHouseConfig{
				Host:           "127.0.0.1",
				Port:           9000,
				Database:       "default",
				CommitInterval: "1s",
				QueueSize:      1 << 16,
			},
		},
		API: APIConfig{
			ListenAddr:     ":8080",
			GRPCListenAddr: ":9090",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks that every duration parses and that the intervals form a
// usable schedule.
func (c *Config) Validate() error {
	periods, err := c.Engine.Periods()
	if err != nil {
		return err
	}
	if len(periods) == 0 {
		return errors.New("engine.intervals must not be empty")
	}
	if _, err := c.Engine.MaxAge(); err != nil {
		return err
	}
	if _, err := c.Engine.Refresh(); err != nil {
		return err
	}
	switch c.Publish.NATS.Encoding {
	case "json", "proto":
	default:
		return fmt.Errorf("unknown publish.nats.encoding %q", c.Publish.NATS.Encoding)
	}
	if c.Publish.ClickHouse.Enabled {
		if _, err := time.ParseDuration(c.Publish.ClickHouse.CommitInterval); err != nil {
			return fmt.Errorf("invalid publish.clickhouse.commit_interval: %w", err)
		}
	}
	return nil
}

// Periods parses the configured interval list.
func (e EngineConfig) Periods() ([]time.Duration, error) {
	periods := make([]time.Duration, 0, len(e.Intervals))
	for _, s := range e.Intervals {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid engine interval %q: %w", s, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("engine interval %q must be positive", s)
		}
		periods = append(periods, d)
	}
	return periods, nil
}

// MaxAge returns the maximum age of a packet in the reference window.
func (e EngineConfig) MaxAge() (time.Duration, error) {
	window, err := time.ParseDuration(e.ReferenceWindow)
	if err != nil {
		return 0, fmt.Errorf("invalid engine.reference_window: %w", err)
	}
	slack, err := time.ParseDuration(e.ReferenceSlack)
	if err != nil {
		return 0, fmt.Errorf("invalid engine.reference_slack: %w", err)
	}
	if window <= 0 || slack < 0 {
		return 0, fmt.Errorf("engine.reference_window must be positive and reference_slack non-negative")
	}
	return window + slack, nil
}

// Refresh returns the snapshot refresh period, defaulting to the smallest
// configured interval.
func (e EngineConfig) Refresh() (time.Duration, error) {
	if e.RefreshInterval != "" {
		d, err := time.ParseDuration(e.RefreshInterval)
		if err != nil {
			return 0, fmt.Errorf("invalid engine.refresh_interval: %w", err)
		}
		if d <= 0 {
			return 0, errors.New("engine.refresh_interval must be positive")
		}
		return d, nil
	}
	periods, err := e.Periods()
	if err != nil {
		return 0, err
	}
	if len(periods) == 0 {
		return 0, errors.New("engine.intervals must not be empty")
	}
	smallest := periods[0]
	for _, p := range periods[1:] {
		if p < smallest {
			smallest = p
		}
	}
	return smallest, nil
}
