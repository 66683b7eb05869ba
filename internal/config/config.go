package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CoordinationConfig holds the settings for the ZooKeeper-shaped
// coordination service used for node registration, leader election,
// and ID block allocation.
type CoordinationConfig struct {
	Hosts    []string      `json:"hosts" yaml:"hosts"`         // comma-separated in CLI form, default localhost:2181
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`     // session timeout, default 3000ms
	BasePath string        `json:"base_path" yaml:"base_path"` // znode namespace root, default /pork
}

// GRPCConfig holds the broker's client-facing and replication server settings.
type GRPCConfig struct {
	Address string `json:"address" yaml:"address"` // advertised host:port, published to the leader znode
	Port    int    `json:"port" yaml:"port"`        // bind port; serve takes it from --address when --port is not given
}

// EngineConfig holds per-queue engine defaults.
type EngineConfig struct {
	DefaultPopTimeout time.Duration `json:"default_pop_timeout" yaml:"default_pop_timeout"` // default 5000ms
	IDBlockLowWater   uint32        `json:"id_block_low_water" yaml:"id_block_low_water"`   // allocate a new block once the counter is within this of exhaustion
}

// FlowControlConfig holds default low/high water marks for worker-side
// flow-control queues. Nothing in this repository reads it.
type FlowControlConfig struct {
	LowWaterMark  int `json:"low_water_mark" yaml:"low_water_mark"`
	HighWaterMark int `json:"high_water_mark" yaml:"high_water_mark"`
}

// NotifyConfig selects and configures the push notification fan-out
// used alongside the engine's own condition-variable wakeups.
type NotifyConfig struct {
	Backend  string `json:"backend" yaml:"backend"`     // noop, channel, redis
	RedisDSN string `json:"redis_dsn" yaml:"redis_dsn"` // redis://host:port/db, only used when backend == "redis"
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"`         // otlp-http (or otlp), stdout
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // localhost:4318
	ServiceName string  `json:"service_name" yaml:"service_name"` // pork
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled" yaml:"enabled"`
	Namespace        string    `json:"namespace" yaml:"namespace"` // pork
	HistogramBuckets []float64 `json:"histogram_buckets" yaml:"histogram_buckets"`
	ListenAddr       string    `json:"listen_addr" yaml:"listen_addr"` // :9091, serves /metrics
}

// LoggingConfig holds structured operational logging settings.
type LoggingConfig struct {
	Level          string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format         string `json:"format" yaml:"format"` // text, json
	IncludeTraceID bool   `json:"include_trace_id" yaml:"include_trace_id"`
	MessageLogPath string `json:"message_log_path" yaml:"message_log_path"` // optional file for the message lifecycle log
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// Config is the central configuration struct for the broker process.
type Config struct {
	Coordination CoordinationConfig `json:"coordination" yaml:"coordination"`
	GRPC         GRPCConfig         `json:"grpc" yaml:"grpc"`
	Engine       EngineConfig       `json:"engine" yaml:"engine"`
	FlowControl  FlowControlConfig  `json:"flow_control" yaml:"flow_control"`
	Notify       NotifyConfig       `json:"notify" yaml:"notify"`

	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// DefaultConfig returns a Config with the defaults from the broker's CLI.
func DefaultConfig() *Config {
	return &Config{
		Coordination: CoordinationConfig{
			Hosts:    []string{"localhost:2181"},
			Timeout:  3000 * time.Millisecond,
			BasePath: "/pork",
		},
		GRPC: GRPCConfig{
			Address: "localhost:7330",
			Port:    7330,
		},
		Engine: EngineConfig{
			DefaultPopTimeout: 5000 * time.Millisecond,
			IDBlockLowWater:   1 << 16,
		},
		FlowControl: FlowControlConfig{
			LowWaterMark:  10,
			HighWaterMark: 100,
		},
		Notify: NotifyConfig{
			Backend: "noop",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "pork",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "pork",
				HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
				ListenAddr:       ":9091",
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, starting from defaults
// so a file that only overrides a handful of fields leaves the rest intact.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PORK_ZOOKEEPER"); v != "" {
		cfg.Coordination.Hosts = strings.Split(v, ",")
	}
	if v := os.Getenv("PORK_ZOOKEEPER_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Coordination.Timeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("PORK_ZOOKEEPER_BASE_PATH"); v != "" {
		cfg.Coordination.BasePath = v
	}

	if v := os.Getenv("PORK_ADDRESS"); v != "" {
		cfg.GRPC.Address = v
	}
	if v := os.Getenv("PORK_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GRPC.Port = n
		}
	}

	if v := os.Getenv("PORK_POP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.DefaultPopTimeout = d
		}
	}
	if v := os.Getenv("PORK_ID_BLOCK_LOW_WATER"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Engine.IDBlockLowWater = uint32(n)
		}
	}

	if v := os.Getenv("PORK_FLOWCONTROL_LOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FlowControl.LowWaterMark = n
		}
	}
	if v := os.Getenv("PORK_FLOWCONTROL_HIGH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FlowControl.HighWaterMark = n
		}
	}

	if v := os.Getenv("PORK_NOTIFY_BACKEND"); v != "" {
		cfg.Notify.Backend = v
	}
	if v := os.Getenv("PORK_NOTIFY_REDIS_DSN"); v != "" {
		cfg.Notify.RedisDSN = v
		cfg.Notify.Backend = "redis"
	}

	if v := os.Getenv("PORK_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("PORK_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("PORK_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("PORK_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("PORK_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("PORK_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("PORK_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("PORK_METRICS_LISTEN_ADDR"); v != "" {
		cfg.Observability.Metrics.ListenAddr = v
	}
	if v := os.Getenv("PORK_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("PORK_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("PORK_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}
	if v := os.Getenv("PORK_MESSAGE_LOG_PATH"); v != "" {
		cfg.Observability.Logging.MessageLogPath = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
