package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// NetworkConfig holds schematic-registry settings for the network service.
type NetworkConfig struct {
	ManifestDir      string `json:"manifest_dir"`       // directory of schematic YAML manifests
	OutputBufferSize int    `json:"output_buffer_size"` // bounded size of the caller's output channel
	BufferHighWater  int    `json:"buffer_high_water"`  // per-port input buffer warning threshold
}

// GRPCConfig holds dial defaults for the Remote provider.
type GRPCConfig struct {
	DialTimeout time.Duration `json:"dial_timeout"`
	CallTimeout time.Duration `json:"call_timeout"`
}

// WasmConfig holds WASM host bridge settings.
type WasmConfig struct {
	AgentPath      string        `json:"agent_path"`
	PortRangeMin   int           `json:"port_range_min"`
	PortRangeMax   int           `json:"port_range_max"`
	DefaultTimeout time.Duration `json:"default_timeout"`
	AgentTimeout   time.Duration `json:"agent_timeout"`
	UseVsock       bool          `json:"use_vsock"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`     // otlp-http (or otlp, or empty); stdout/noop discard spans
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // flowhost
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets"`
}

// LoggingConfig holds structured operational logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`
	Format         string `json:"format"`
	IncludeTraceID bool   `json:"include_trace_id"`
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// SigningConfig holds the host's invocation-claim signing key material.
// The key itself is treated as opaque ("abstract signer"); this struct
// only carries enough to select and load it.
type SigningConfig struct {
	Algorithm string `json:"algorithm"` // HS256, RS256
	Secret    string `json:"secret"`    // HMAC secret, or empty if using a key file
	KeyFile   string `json:"key_file"`  // RSA/EC private key file path
	Issuer    string `json:"issuer"`    // host public key / issuer identifier
}

// TransactionConfig holds transaction-engine tunables.
type TransactionConfig struct {
	InheritParentDeadline bool          `json:"inherit_parent_deadline"` // see DESIGN.md open question (iii)
	DefaultTimeout        time.Duration `json:"default_timeout"`
}

// CircuitBreakerConfig holds the default policy applied to every provider
// instance's breaker; a zero value (ErrorPct/WindowDuration/OpenDuration
// all 0) disables circuit breaking entirely, per circuitbreaker.Registry.Get.
type CircuitBreakerConfig struct {
	Enabled        bool          `json:"enabled"`
	ErrorPct       float64       `json:"error_pct"`
	WindowDuration time.Duration `json:"window_duration"`
	OpenDuration   time.Duration `json:"open_duration"`
	HalfOpenProbes int           `json:"half_open_probes"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Network        NetworkConfig        `json:"network"`
	GRPC           GRPCConfig           `json:"grpc"`
	Wasm           WasmConfig           `json:"wasm"`
	Observability  ObservabilityConfig  `json:"observability"`
	Signing        SigningConfig        `json:"signing"`
	Transaction    TransactionConfig    `json:"transaction"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			ManifestDir:      "./schematics",
			OutputBufferSize: 64,
			BufferHighWater:  1024,
		},
		GRPC: GRPCConfig{
			DialTimeout: 5 * time.Second,
			CallTimeout: 30 * time.Second,
		},
		Wasm: WasmConfig{
			AgentPath:      "flowhost-agent",
			PortRangeMin:   9000,
			PortRangeMax:   9999,
			DefaultTimeout: 30 * time.Second,
			AgentTimeout:   10 * time.Second,
			UseVsock:       false,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "flowhost",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "flowhost",
				HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
		Signing: SigningConfig{
			Algorithm: "HS256",
		},
		Transaction: TransactionConfig{
			InheritParentDeadline: true,
			DefaultTimeout:        30 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        false,
			ErrorPct:       50,
			WindowDuration: 10 * time.Second,
			OpenDuration:   5 * time.Second,
			HalfOpenProbes: 3,
		},
	}
}

// LoadFromFile loads configuration from a JSON file, overlaying defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies FLOWHOST_* environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FLOWHOST_MANIFEST_DIR"); v != "" {
		cfg.Network.ManifestDir = v
	}
	if v := os.Getenv("FLOWHOST_OUTPUT_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Network.OutputBufferSize = n
		}
	}
	if v := os.Getenv("FLOWHOST_BUFFER_HIGH_WATER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Network.BufferHighWater = n
		}
	}

	if v := os.Getenv("FLOWHOST_GRPC_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GRPC.DialTimeout = d
		}
	}
	if v := os.Getenv("FLOWHOST_GRPC_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GRPC.CallTimeout = d
		}
	}

	if v := os.Getenv("FLOWHOST_WASM_AGENT_PATH"); v != "" {
		cfg.Wasm.AgentPath = v
	}
	if v := os.Getenv("FLOWHOST_WASM_PORT_RANGE_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Wasm.PortRangeMin = n
		}
	}
	if v := os.Getenv("FLOWHOST_WASM_PORT_RANGE_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Wasm.PortRangeMax = n
		}
	}
	if v := os.Getenv("FLOWHOST_WASM_USE_VSOCK"); v != "" {
		cfg.Wasm.UseVsock = parseBool(v)
	}

	if v := os.Getenv("FLOWHOST_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLOWHOST_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("FLOWHOST_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("FLOWHOST_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("FLOWHOST_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("FLOWHOST_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLOWHOST_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("FLOWHOST_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("FLOWHOST_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("FLOWHOST_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}

	if v := os.Getenv("FLOWHOST_SIGNING_ALGORITHM"); v != "" {
		cfg.Signing.Algorithm = v
	}
	if v := os.Getenv("FLOWHOST_SIGNING_SECRET"); v != "" {
		cfg.Signing.Secret = v
	}
	if v := os.Getenv("FLOWHOST_SIGNING_KEY_FILE"); v != "" {
		cfg.Signing.KeyFile = v
	}
	if v := os.Getenv("FLOWHOST_SIGNING_ISSUER"); v != "" {
		cfg.Signing.Issuer = v
	}

	if v := os.Getenv("FLOWHOST_TX_INHERIT_PARENT_DEADLINE"); v != "" {
		cfg.Transaction.InheritParentDeadline = parseBool(v)
	}
	if v := os.Getenv("FLOWHOST_TX_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Transaction.DefaultTimeout = d
		}
	}

	if v := os.Getenv("FLOWHOST_BREAKER_ENABLED"); v != "" {
		cfg.CircuitBreaker.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLOWHOST_BREAKER_ERROR_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CircuitBreaker.ErrorPct = f
		}
	}
	if v := os.Getenv("FLOWHOST_BREAKER_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CircuitBreaker.WindowDuration = d
		}
	}
	if v := os.Getenv("FLOWHOST_BREAKER_OPEN_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CircuitBreaker.OpenDuration = d
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
