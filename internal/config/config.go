// Package config loads the daemon's configuration via Viper, layering
// defaults, an optional YAML file, and NEXUS_-prefixed environment
// variables, the same way the ambient stack's logging and metrics
// packages expect a single populated Config to be threaded through.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// VaultConfig controls the optional secrets.Resolver backed by Vault.
type VaultConfig struct {
	Enabled        bool
	Address        string
	Namespace      string
	Token          string
	TokenFile      string
	RequestTimeout time.Duration
	TLSSkipVerify  bool
	MountPath      string
	KVVersion      int
	CacheTTL       time.Duration
	TLS            struct {
		CAFile   string
		CertFile string
		KeyFile  string
	}
}

// TelemetryConfig controls the optional OTLP trace exporter.
type TelemetryConfig struct {
	OTLP struct {
		Endpoint    string
		Insecure    bool
		Timeout     time.Duration
		Compression string
		SampleRatio float64
		Headers     map[string]string
	}
}

// TraceSinkConfig controls the optional Azure Blob decision-record sink.
type TraceSinkConfig struct {
	AzureBlob struct {
		Enabled         bool
		ContainerURL    string
		FlushInterval   time.Duration
		FlushBytes      int64
		LocalBufferPath string
		LocalBufferMax  int64
	}
}

// Config is the full daemon configuration.
type Config struct {
	GPUID int

	Model struct {
		MaxBatch            int
		AdmissionMultiplier int
		BatchPolicy         string // "earliest" | "sliding_window"
		SlidingWindowMS      int
		EWMAAlpha           float64
		RateBucket          time.Duration
		PreBatchQueueDepth  int
		NumPreprocessWorkers int
		MaxConsecutiveForwardFailures uint32
	}

	UDP struct {
		ListenAddr string
		RXCPU      int
		WorkerCPUs []int
		NumThreads int
		QueueDepth int
	}

	Admin struct {
		ListenAddr string
	}

	Beacon struct {
		IntervalSeconds int
	}

	Logging struct {
		Level  string // debug|info|warn|error
		Format string // text|json
	}

	Telemetry TelemetryConfig
	Vault     VaultConfig
	TraceSink TraceSinkConfig

	NetInfo struct {
		GeoIPPath string
	}
}

// Load reads configuration from ./config.yaml (if present), then applies
// NEXUS_-prefixed environment variable overrides (NEXUS_MODEL_MAX_BATCH
// overrides model.max_batch, etc.), layered on top of defaults.
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("gpu_id", 0)

	v.SetDefault("model.max_batch", 32)
	v.SetDefault("model.admission_multiplier", 2)
	v.SetDefault("model.batch_policy", "earliest")
	v.SetDefault("model.sliding_window_ms", 20)
	v.SetDefault("model.ewma_alpha", 0.2)
	v.SetDefault("model.rate_bucket_ms", 1000)
	v.SetDefault("model.pre_batch_queue_depth", 4096)
	v.SetDefault("model.num_preprocess_workers", 4)
	v.SetDefault("model.max_consecutive_forward_failures", 8)

	v.SetDefault("udp.listen_addr", "0.0.0.0:9700")
	v.SetDefault("udp.rx_cpu", -1)
	v.SetDefault("udp.pin_cpus", []int{})
	v.SetDefault("udp.num_threads", 4)
	v.SetDefault("udp.queue_depth", 4096)

	v.SetDefault("admin.listen_addr", "127.0.0.1:9701")

	v.SetDefault("beacon.interval_seconds", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("telemetry.otlp.endpoint", "")
	v.SetDefault("telemetry.otlp.insecure", true)
	v.SetDefault("telemetry.otlp.timeout", "5s")
	v.SetDefault("telemetry.otlp.sample_ratio", 1.0)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.request_timeout", "10s")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.kv_version", 2)
	v.SetDefault("vault.cache_ttl", "5m")

	v.SetDefault("trace_sink.azure_blob.enabled", false)
	v.SetDefault("trace_sink.azure_blob.flush_interval", "5s")
	v.SetDefault("trace_sink.azure_blob.flush_bytes", 1<<20)
	v.SetDefault("trace_sink.azure_blob.local_buffer_path", "./data/trace-buffer.ndjson")
	v.SetDefault("trace_sink.azure_blob.local_buffer_max", 256<<20)

	v.SetDefault("netinfo.geoip_path", "")

	_ = v.ReadInConfig()

	cfg := &Config{}
	cfg.GPUID = v.GetInt("gpu_id")

	cfg.Model.MaxBatch = v.GetInt("model.max_batch")
	cfg.Model.AdmissionMultiplier = v.GetInt("model.admission_multiplier")
	cfg.Model.BatchPolicy = v.GetString("model.batch_policy")
	cfg.Model.SlidingWindowMS = v.GetInt("model.sliding_window_ms")
	cfg.Model.EWMAAlpha = v.GetFloat64("model.ewma_alpha")
	cfg.Model.RateBucket = time.Duration(v.GetInt("model.rate_bucket_ms")) * time.Millisecond
	cfg.Model.PreBatchQueueDepth = v.GetInt("model.pre_batch_queue_depth")
	cfg.Model.NumPreprocessWorkers = v.GetInt("model.num_preprocess_workers")
	cfg.Model.MaxConsecutiveForwardFailures = uint32(v.GetInt("model.max_consecutive_forward_failures"))

	cfg.UDP.ListenAddr = v.GetString("udp.listen_addr")
	cfg.UDP.RXCPU = v.GetInt("udp.rx_cpu")
	cfg.UDP.WorkerCPUs = readIntSlice(v.Get("udp.pin_cpus"))
	cfg.UDP.NumThreads = v.GetInt("udp.num_threads")
	cfg.UDP.QueueDepth = v.GetInt("udp.queue_depth")

	cfg.Admin.ListenAddr = v.GetString("admin.listen_addr")

	cfg.Beacon.IntervalSeconds = v.GetInt("beacon.interval_seconds")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")

	cfg.Telemetry.OTLP.Endpoint = v.GetString("telemetry.otlp.endpoint")
	cfg.Telemetry.OTLP.Insecure = v.GetBool("telemetry.otlp.insecure")
	cfg.Telemetry.OTLP.Timeout = v.GetDuration("telemetry.otlp.timeout")
	cfg.Telemetry.OTLP.Compression = v.GetString("telemetry.otlp.compression")
	cfg.Telemetry.OTLP.SampleRatio = v.GetFloat64("telemetry.otlp.sample_ratio")

	cfg.Vault.Enabled = v.GetBool("vault.enabled")
	cfg.Vault.Address = v.GetString("vault.address")
	cfg.Vault.Namespace = v.GetString("vault.namespace")
	cfg.Vault.Token = v.GetString("vault.token")
	cfg.Vault.TokenFile = v.GetString("vault.token_file")
	cfg.Vault.RequestTimeout = v.GetDuration("vault.request_timeout")
	cfg.Vault.TLSSkipVerify = v.GetBool("vault.tls_skip_verify")
	cfg.Vault.TLS.CAFile = v.GetString("vault.tls.ca_file")
	cfg.Vault.TLS.CertFile = v.GetString("vault.tls.cert_file")
	cfg.Vault.TLS.KeyFile = v.GetString("vault.tls.key_file")
	cfg.Vault.MountPath = v.GetString("vault.mount_path")
	cfg.Vault.KVVersion = v.GetInt("vault.kv_version")
	cfg.Vault.CacheTTL = v.GetDuration("vault.cache_ttl")

	cfg.TraceSink.AzureBlob.Enabled = v.GetBool("trace_sink.azure_blob.enabled")
	cfg.TraceSink.AzureBlob.ContainerURL = v.GetString("trace_sink.azure_blob.container_url")
	cfg.TraceSink.AzureBlob.FlushInterval = v.GetDuration("trace_sink.azure_blob.flush_interval")
	cfg.TraceSink.AzureBlob.FlushBytes = v.GetInt64("trace_sink.azure_blob.flush_bytes")
	cfg.TraceSink.AzureBlob.LocalBufferPath = v.GetString("trace_sink.azure_blob.local_buffer_path")
	cfg.TraceSink.AzureBlob.LocalBufferMax = v.GetInt64("trace_sink.azure_blob.local_buffer_max")

	cfg.NetInfo.GeoIPPath = v.GetString("netinfo.geoip_path")

	return cfg
}

// Validate performs static validation and returns error/warning messages.
func (c *Config) Validate() (errs []string, warnings []string) {
	if c.Model.MaxBatch <= 0 {
		errs = append(errs, "model.max_batch must be > 0")
	}
	if c.Model.AdmissionMultiplier < 1 {
		errs = append(errs, "model.admission_multiplier must be >= 1")
	}
	switch c.Model.BatchPolicy {
	case "earliest", "sliding_window":
	default:
		errs = append(errs, "model.batch_policy must be earliest|sliding_window")
	}
	if c.Model.BatchPolicy == "sliding_window" && c.Model.SlidingWindowMS <= 0 {
		errs = append(errs, "model.sliding_window_ms must be > 0 when batch_policy=sliding_window")
	}
	if c.Model.EWMAAlpha <= 0 || c.Model.EWMAAlpha > 1 {
		errs = append(errs, "model.ewma_alpha must be in (0, 1]")
	}
	if c.UDP.NumThreads <= 0 {
		errs = append(errs, "udp.num_threads must be > 0")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug|info|warn|error")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, "logging.format must be text|json")
	}
	if c.Vault.Enabled && c.Vault.Token == "" && c.Vault.TokenFile == "" {
		errs = append(errs, "vault.token or vault.token_file required when vault.enabled")
	}
	if c.TraceSink.AzureBlob.Enabled && c.TraceSink.AzureBlob.ContainerURL == "" {
		errs = append(errs, "trace_sink.azure_blob.container_url required when enabled")
	}
	if c.Beacon.IntervalSeconds <= 0 {
		warnings = append(warnings, "beacon.interval_seconds <= 0, control plane will not receive liveness beacons")
	}
	return errs, warnings
}

func readIntSlice(value interface{}) []int {
	switch v := value.(type) {
	case []int:
		out := make([]int, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]int, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case float64:
				out = append(out, int(n))
			case string:
				var parsed int
				if _, err := fmt.Sscanf(n, "%d", &parsed); err == nil {
					out = append(out, parsed)
				}
			}
		}
		return out
	default:
		return nil
	}
}
