// Package config provides configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Substrate   SubstrateConfig   `mapstructure:"substrate"`
	Block       BlockConfig       `mapstructure:"block"`
	Metadata    MetadataConfig    `mapstructure:"metadata"`
	Decode      DecodeConfig      `mapstructure:"decode"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Health      HealthConfig      `mapstructure:"health"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// SubstrateConfig holds node endpoints and connection policy.
type SubstrateConfig struct {
	URL                   string             `mapstructure:"url"`
	MultiChain            []MultiChainConfig `mapstructure:"-"`
	ReconnectInitialDelay int                `mapstructure:"reconnect_initial_delay"` // ms
	ReconnectMaxDelay     int                `mapstructure:"reconnect_max_delay"`     // ms
	RequestTimeout        int                `mapstructure:"request_timeout"`         // ms
	MaxReconnects         int                `mapstructure:"max_reconnects"`          // 0 = infinite
	RequestsPerSecond     float64            `mapstructure:"requests_per_second"`     // 0 = unlimited
}

// MultiChainConfig is one additional chain endpoint.
type MultiChainConfig struct {
	URL  string `mapstructure:"url" json:"url"`
	Type string `mapstructure:"type" json:"type"`
}

// InitialDelay returns the first reconnect delay.
func (c SubstrateConfig) InitialDelay() time.Duration {
	return time.Duration(c.ReconnectInitialDelay) * time.Millisecond
}

// MaxDelay returns the reconnect delay cap.
func (c SubstrateConfig) MaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelay) * time.Millisecond
}

// Timeout returns the per-request timeout.
func (c SubstrateConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// BlockConfig holds block resolution settings.
type BlockConfig struct {
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	CacheSize        int           `mapstructure:"cache_size"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	HeadMode         string        `mapstructure:"head_mode"` // finalized | best
}

// MetadataConfig holds metadata persistence settings.
type MetadataConfig struct {
	StorePath string `mapstructure:"store_path"`
}

// DecodeConfig holds value rendering settings.
type DecodeConfig struct {
	SS58Prefix int `mapstructure:"ss58_prefix"` // -1 renders AccountId32 as hex
}

// CorrelationConfig tunes relay chain block correlation.
type CorrelationConfig struct {
	Window         time.Duration `mapstructure:"window"`
	RelayBlockTime time.Duration `mapstructure:"relay_block_time"`
	MaxForwardScan int           `mapstructure:"max_forward_scan"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`   // key=value[,key=value]
	TraceExporter  string `mapstructure:"trace_exporter"` // otlp-grpc | otlp-http | zipkin | console | none
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// HealthConfig holds the probe server settings.
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("SIDECAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	chains, err := loadMultiChain(v)
	if err != nil {
		return nil, err
	}
	cfg.Substrate.MultiChain = chains

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// loadMultiChain accepts either a YAML list or a JSON array string (env form).
func loadMultiChain(v *viper.Viper) ([]MultiChainConfig, error) {
	raw := v.Get("substrate.multi_chain")
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		var chains []MultiChainConfig
		if err := json.Unmarshal([]byte(val), &chains); err != nil {
			return nil, fmt.Errorf("substrate.multi_chain: expected JSON array of {url, type}: %w", err)
		}
		return chains, nil
	default:
		var chains []MultiChainConfig
		if err := v.UnmarshalKey("substrate.multi_chain", &chains); err != nil {
			return nil, fmt.Errorf("substrate.multi_chain: %w", err)
		}
		return chains, nil
	}
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "SIDECAR_APP_NAME", "SAS_EXPRESS_NAME")
	v.BindEnv("app.environment", "SIDECAR_ENVIRONMENT", "NODE_ENV")
	v.BindEnv("app.log_level", "SIDECAR_LOG_LEVEL", "SAS_LOG_LEVEL")

	// Substrate
	v.BindEnv("substrate.url", "SIDECAR_SUBSTRATE_URL", "SAS_SUBSTRATE_URL")
	v.BindEnv("substrate.multi_chain", "SIDECAR_SUBSTRATE_MULTI_CHAIN", "SAS_SUBSTRATE_MULTI_CHAIN_URL")
	v.BindEnv("substrate.reconnect_initial_delay", "SIDECAR_SUBSTRATE_RECONNECT_INITIAL_DELAY", "SAS_SUBSTRATE_RECONNECT_INITIAL_DELAY")
	v.BindEnv("substrate.reconnect_max_delay", "SIDECAR_SUBSTRATE_RECONNECT_MAX_DELAY", "SAS_SUBSTRATE_RECONNECT_MAX_DELAY")
	v.BindEnv("substrate.request_timeout", "SIDECAR_SUBSTRATE_REQUEST_TIMEOUT", "SAS_SUBSTRATE_REQUEST_TIMEOUT")
	v.BindEnv("substrate.max_reconnects", "SIDECAR_SUBSTRATE_MAX_RECONNECTS")
	v.BindEnv("substrate.requests_per_second", "SIDECAR_SUBSTRATE_REQUESTS_PER_SECOND")

	// Block
	v.BindEnv("block.fetch_concurrency", "SIDECAR_BLOCK_FETCH_CONCURRENCY", "SAS_EXPRESS_BLOCK_FETCH_CONCURRENCY")
	v.BindEnv("block.head_mode", "SIDECAR_BLOCK_HEAD_MODE")

	// Telemetry
	v.BindEnv("telemetry.enabled", "SIDECAR_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "SIDECAR_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "SIDECAR_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.otlp_headers", "SIDECAR_OTEL_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS")
	v.BindEnv("telemetry.trace_exporter", "SIDECAR_OTEL_TRACE_EXPORTER")
	v.BindEnv("telemetry.prometheus_port", "SIDECAR_METRICS_PORT", "SAS_METRICS_PROM_PORT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "substrate-sidecar")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Substrate defaults
	v.SetDefault("substrate.reconnect_initial_delay", 100)
	v.SetDefault("substrate.reconnect_max_delay", 10000)
	v.SetDefault("substrate.request_timeout", 30000)
	v.SetDefault("substrate.max_reconnects", 0)
	v.SetDefault("substrate.requests_per_second", 0)

	// Block defaults
	v.SetDefault("block.fetch_concurrency", 10)
	v.SetDefault("block.cache_size", 1000)
	v.SetDefault("block.cache_ttl", "10m")
	v.SetDefault("block.head_mode", "finalized")

	v.SetDefault("decode.ss58_prefix", -1)

	// Correlation defaults
	v.SetDefault("correlation.window", "6s")
	v.SetDefault("correlation.relay_block_time", "6s")
	v.SetDefault("correlation.max_forward_scan", 8)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "substrate-sidecar")
	v.SetDefault("telemetry.prometheus_port", 9100)
	v.SetDefault("telemetry.trace_exporter", "otlp-grpc")

	v.SetDefault("health.port", 8081)
}

var traceExporters = map[string]bool{"otlp-grpc": true, "otlp-http": true, "zipkin": true, "console": true, "none": true}

var chainTypes = map[string]bool{"relay": true, "assethub": true, "coretime": true, "parachain": true}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Substrate.URL == "" {
		return fmt.Errorf("substrate.url is required")
	}
	if err := validateRPCURL(c.Substrate.URL); err != nil {
		return fmt.Errorf("substrate.url: %w", err)
	}
	seen := make(map[string]bool)
	for i, mc := range c.Substrate.MultiChain {
		t := strings.ToLower(mc.Type)
		if !chainTypes[t] {
			return fmt.Errorf("substrate.multi_chain[%d]: unknown type %q (want relay, assethub, coretime or parachain)", i, mc.Type)
		}
		if seen[t] {
			return fmt.Errorf("substrate.multi_chain[%d]: duplicate type %q", i, mc.Type)
		}
		seen[t] = true
		if err := validateRPCURL(mc.URL); err != nil {
			return fmt.Errorf("substrate.multi_chain[%d].url: %w", i, err)
		}
	}
	if c.Substrate.ReconnectInitialDelay <= 0 {
		return fmt.Errorf("substrate.reconnect_initial_delay must be positive")
	}
	if c.Substrate.ReconnectMaxDelay < c.Substrate.ReconnectInitialDelay {
		return fmt.Errorf("substrate.reconnect_max_delay must be >= reconnect_initial_delay")
	}
	if c.Substrate.RequestTimeout <= 0 {
		return fmt.Errorf("substrate.request_timeout must be positive")
	}
	if c.Block.FetchConcurrency < 1 {
		return fmt.Errorf("block.fetch_concurrency must be >= 1")
	}
	if c.Block.HeadMode != "finalized" && c.Block.HeadMode != "best" {
		return fmt.Errorf("block.head_mode must be finalized or best, got %q", c.Block.HeadMode)
	}
	if c.Decode.SS58Prefix < -1 || c.Decode.SS58Prefix > 16383 {
		return fmt.Errorf("decode.ss58_prefix out of range: %d", c.Decode.SS58Prefix)
	}
	if c.Correlation.Window < 0 || c.Correlation.RelayBlockTime <= 0 {
		return fmt.Errorf("correlation.window must be >= 0 and relay_block_time > 0")
	}
	if c.Correlation.MaxForwardScan < 0 {
		return fmt.Errorf("correlation.max_forward_scan must be >= 0")
	}
	if c.Telemetry.Enabled && !traceExporters[c.Telemetry.TraceExporter] {
		return fmt.Errorf("telemetry.trace_exporter: unknown exporter %q", c.Telemetry.TraceExporter)
	}
	return nil
}

func validateRPCURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported protocol %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
