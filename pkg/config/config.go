package config

import "time"

// Config is the root configuration snapshot for the gateway.
type Config struct {
	// Proxy contains the gateway's own HTTP server settings.
	Proxy ProxyConfig `yaml:"proxy"`

	// Lifecycle contains the defaults governing model start/stop behavior,
	// the global concurrency cap, and the idle reaper.
	Lifecycle LifecycleConfig `yaml:"lifecycle"`

	// Queue contains the defaults for each model's request queue.
	Queue QueueConfig `yaml:"queue"`

	// EventLog contains settings for the optional lifecycle event journal.
	EventLog EventLogConfig `yaml:"event_log"`

	// Telemetry contains logging, metrics, and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Security contains TLS settings for the gateway's own listener.
	Security SecurityConfig `yaml:"security"`

	// Models maps a unique model name to its configuration. The map key
	// is the authoritative name; any "name" field inside the YAML model
	// block itself is rejected by the strict decoder (see load.go).
	Models map[string]ModelConfig `yaml:"models"`
}

// ProxyConfig contains the gateway's own HTTP server settings.
type ProxyConfig struct {
	// ListenAddress is the host:port the gateway's single stable endpoint
	// binds to. Default "127.0.0.1:8080".
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading the full request including the body.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing the response. Streaming responses flush
	// incrementally and are not subject to this timeout once headers are
	// sent (see pkg/proxy/middleware.TimeoutMiddleware).
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout bounds how long a keep-alive connection may sit idle.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes caps request header size.
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxRequestBodyBytes caps buffered request bodies: streaming bodies
	// above this cap are rejected with 413.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin access to the client-facing surface.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	MaxAge           int      `yaml:"max_age"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// LifecycleConfig contains the defaults shared by every model's Process
// Supervisor and the Lifecycle Controller's global admission policy.
type LifecycleConfig struct {
	// BinaryPath is the default backend executable. Default "llama-server".
	BinaryPath string `yaml:"binary_path"`

	// HealthCheckPath is the readiness probe path. Default "/health".
	HealthCheckPath string `yaml:"health_check_path"`

	// HealthCheckInterval is the polling interval between readiness
	// probe attempts. Default 500ms.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// HealthCheckTimeout bounds a single readiness probe attempt.
	// Default 2s.
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`

	// StartTimeout bounds the whole cold-start window. Default 180s.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// StopTimeout bounds graceful SIGTERM before escalating to SIGKILL.
	// Default 15s.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// StderrTailLines is the number of trailing stdout/stderr lines kept
	// for diagnostics. Default 200.
	StderrTailLines int `yaml:"stderr_tail_lines"`

	// MaxConcurrentModels is the global cap on models in
	// {STARTING, READY, RELOADING}. Default 3.
	MaxConcurrentModels int `yaml:"max_concurrent_models"`

	// OnDemandOnly disables auto-start of auto_start models at boot;
	// only preload=true models still start immediately. Default false.
	OnDemandOnly bool `yaml:"on_demand_only"`

	// InactivityTimeout is how long a READY, non-preloaded model may sit
	// idle before the reaper stops it. Default 10m.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// CleanupInterval is how often the reaper sweeps. Default 30s.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// TransportFailureThreshold is the number of consecutive backend
	// transport errors that demote a READY model to FAILED. Fixed at 3
	// by default; still configurable for tests.
	TransportFailureThreshold int `yaml:"transport_failure_threshold"`
}

// QueueConfig contains the defaults for a model's Request Queue, overridable
// per model via ModelConfig.MaxQueueSize / ModelConfig.RequestTimeout.
type QueueConfig struct {
	// MaxSize is the default bounded FIFO capacity. Default 100.
	MaxSize int `yaml:"max_size"`

	// RequestTimeout is the default age at which a queued entry is
	// resolved with 504 by the timeout sweep. Default 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// SweepInterval is how often the timeout sweep runs. Default 5s.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// EventLogConfig controls the optional SQLite-backed lifecycle event
// journal (pkg/eventlog). This is diagnostic state, not request history.
type EventLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig controls the slog-based structured logger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error". Default "info".
	Level string `yaml:"level"`

	// Format is "json" or "text". Default "json".
	Format string `yaml:"format"`
}

// MetricsConfig controls the internal Prometheus registry, exposed at a
// path distinct from the required JSON GET /metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig controls OpenTelemetry span emission.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"` // only "otlp" is currently implemented
	Endpoint    string  `yaml:"endpoint"`
	Sampler     string  `yaml:"sampler"` // "always", "never", or "ratio"
	SampleRatio float64 `yaml:"sample_ratio"`
	OTLP        OTLPConfig `yaml:"otlp"`
}

// OTLPConfig controls the OTLP gRPC exporter.
type OTLPConfig struct {
	Insecure bool          `yaml:"insecure"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SecurityConfig contains TLS settings for the gateway's own listener.
type SecurityConfig struct {
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains certificate settings for the gateway's listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ModelConfig is the immutable per-model configuration. Name is
// populated from the YAML map key, not a YAML field.
type ModelConfig struct {
	Name string `yaml:"-"`

	// Port is the loopback TCP port owned exclusively by this model.
	// Unique across all ModelConfigs (validated at load).
	Port int `yaml:"port"`

	// ModelPath is the path to the model weights file passed to the
	// backend binary as --model.
	ModelPath string `yaml:"model_path"`

	ContextLength int    `yaml:"context_length"`
	GPULayers     int    `yaml:"gpu_layers"`
	ChatFormat    string `yaml:"chat_format"`

	// AdditionalArgs is an ordered list of opaque launch flags. Entries
	// may be pre-tokenized ("-c", "4096") or space-joined ("-c 4096");
	// the latter is split on whitespace before exec (always treated as
	// whitespace-splittable).
	AdditionalArgs []string `yaml:"additional_args"`

	// Priority is 1-10; higher wins auto-start ordering and eviction
	// preference. Default 5.
	Priority int `yaml:"priority"`

	// ResourceGroup is a free-form tag for bulk admin operations. No
	// scheduling semantics.
	ResourceGroup string `yaml:"resource_group"`

	// AutoStart, when true and on_demand_only is false, launches this
	// model at boot in priority-descending order.
	AutoStart bool `yaml:"auto_start"`

	// Preload, when true, starts this model immediately at boot
	// regardless of on_demand_only, and exempts it from idle reaping and
	// bulk stop-all.
	Preload bool `yaml:"preload"`

	// MaxQueueSize overrides QueueConfig.MaxSize for this model. Zero
	// means "use the default".
	MaxQueueSize int `yaml:"max_queue_size"`

	// RequestTimeout overrides QueueConfig.RequestTimeout for this model.
	// Zero means "use the default".
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// BinaryPath overrides LifecycleConfig.BinaryPath for this model.
	// Empty means "use the default".
	BinaryPath string `yaml:"binary_path"`
}

// EffectiveMaxQueueSize returns the model's queue capacity, falling back
// to the gateway default when unset.
func (m ModelConfig) EffectiveMaxQueueSize(def int) int {
	if m.MaxQueueSize > 0 {
		return m.MaxQueueSize
	}
	return def
}

// EffectiveRequestTimeout returns the model's queue entry timeout, falling
// back to the gateway default when unset.
func (m ModelConfig) EffectiveRequestTimeout(def time.Duration) time.Duration {
	if m.RequestTimeout > 0 {
		return m.RequestTimeout
	}
	return def
}

// EffectiveBinaryPath returns the backend executable for this model,
// falling back to the gateway default when unset.
func (m ModelConfig) EffectiveBinaryPath(def string) string {
	if m.BinaryPath != "" {
		return m.BinaryPath
	}
	return def
}

// Equal reports whether two ModelConfigs are identical for the purposes of
// reload diffing. Name is always compared since callers pass configs keyed
// by the same map.
func (m ModelConfig) Equal(other ModelConfig) bool {
	if m.Name != other.Name || m.Port != other.Port || m.ModelPath != other.ModelPath ||
		m.ContextLength != other.ContextLength || m.GPULayers != other.GPULayers ||
		m.ChatFormat != other.ChatFormat || m.Priority != other.Priority ||
		m.ResourceGroup != other.ResourceGroup || m.AutoStart != other.AutoStart ||
		m.Preload != other.Preload || m.MaxQueueSize != other.MaxQueueSize ||
		m.RequestTimeout != other.RequestTimeout || m.BinaryPath != other.BinaryPath {
		return false
	}
	if len(m.AdditionalArgs) != len(other.AdditionalArgs) {
		return false
	}
	for i := range m.AdditionalArgs {
		if m.AdditionalArgs[i] != other.AdditionalArgs[i] {
			return false
		}
	}
	return true
}

// RespawnRequired reports whether a config change requires the entry to
// be driven to STOPPED and restarted rather than updated in place:
// port/path/args changes respawn, everything else updates.
func (m ModelConfig) RespawnRequired(other ModelConfig) bool {
	if m.Port != other.Port || m.ModelPath != other.ModelPath {
		return true
	}
	if len(m.AdditionalArgs) != len(other.AdditionalArgs) {
		return true
	}
	for i := range m.AdditionalArgs {
		if m.AdditionalArgs[i] != other.AdditionalArgs[i] {
			return true
		}
	}
	return false
}
