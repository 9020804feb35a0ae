package config

import "time"

// Default values for configuration fields, applied by ApplyDefaults.
const (
	DefaultListenAddress       = "127.0.0.1:8080"
	DefaultReadTimeout         = 30 * time.Second
	DefaultWriteTimeout        = 0 // streaming responses must not be write-timeout bound
	DefaultIdleTimeout         = 120 * time.Second
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultMaxHeaderBytes      = 1 << 20
	DefaultMaxRequestBodyBytes = 10 << 20

	DefaultCORSEnabled = true
	DefaultCORSMaxAge  = 3600

	DefaultBinaryPath                = "llama-server"
	DefaultHealthCheckPath           = "/health"
	DefaultHealthCheckInterval       = 500 * time.Millisecond
	DefaultHealthCheckTimeout        = 2 * time.Second
	DefaultStartTimeout              = 180 * time.Second
	DefaultStopTimeout               = 15 * time.Second
	DefaultStderrTailLines           = 200
	DefaultMaxConcurrentModels       = 3
	DefaultInactivityTimeout         = 10 * time.Minute
	DefaultCleanupInterval           = 30 * time.Second
	DefaultTransportFailureThreshold = 3

	DefaultQueueMaxSize        = 100
	DefaultQueueRequestTimeout = 30 * time.Second
	DefaultQueueSweepInterval  = 5 * time.Second

	DefaultModelPriority = 5

	DefaultEventLogEnabled = false
	DefaultEventLogPath    = "ember-events.db"

	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "json"

	DefaultMetricsEnabled = true
	DefaultMetricsPath    = "/internal/metrics"

	DefaultTracingServiceName = "ember-gateway"
	DefaultTracingExporter    = "otlp"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingOTLPTimeout = 10 * time.Second
)

// ApplyDefaults fills in zero-valued fields of cfg with package defaults.
// It must run after YAML decode and before Validate.
func ApplyDefaults(cfg *Config) {
	if cfg.Proxy.ListenAddress == "" {
		cfg.Proxy.ListenAddress = DefaultListenAddress
	}
	if cfg.Proxy.ReadTimeout == 0 {
		cfg.Proxy.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Proxy.IdleTimeout == 0 {
		cfg.Proxy.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Proxy.MaxHeaderBytes == 0 {
		cfg.Proxy.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Proxy.MaxRequestBodyBytes == 0 {
		cfg.Proxy.MaxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	if !cfg.Proxy.CORS.Enabled && len(cfg.Proxy.CORS.AllowedOrigins) == 0 {
		cfg.Proxy.CORS.Enabled = DefaultCORSEnabled
		cfg.Proxy.CORS.AllowedOrigins = []string{"*"}
		cfg.Proxy.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
		cfg.Proxy.CORS.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID"}
		cfg.Proxy.CORS.ExposedHeaders = []string{"X-Request-ID"}
		cfg.Proxy.CORS.MaxAge = DefaultCORSMaxAge
	}

	if cfg.Lifecycle.BinaryPath == "" {
		cfg.Lifecycle.BinaryPath = DefaultBinaryPath
	}
	if cfg.Lifecycle.HealthCheckPath == "" {
		cfg.Lifecycle.HealthCheckPath = DefaultHealthCheckPath
	}
	if cfg.Lifecycle.HealthCheckInterval == 0 {
		cfg.Lifecycle.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.Lifecycle.HealthCheckTimeout == 0 {
		cfg.Lifecycle.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if cfg.Lifecycle.StartTimeout == 0 {
		cfg.Lifecycle.StartTimeout = DefaultStartTimeout
	}
	if cfg.Lifecycle.StopTimeout == 0 {
		cfg.Lifecycle.StopTimeout = DefaultStopTimeout
	}
	if cfg.Lifecycle.StderrTailLines == 0 {
		cfg.Lifecycle.StderrTailLines = DefaultStderrTailLines
	}
	if cfg.Lifecycle.MaxConcurrentModels == 0 {
		cfg.Lifecycle.MaxConcurrentModels = DefaultMaxConcurrentModels
	}
	if cfg.Lifecycle.InactivityTimeout == 0 {
		cfg.Lifecycle.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.Lifecycle.CleanupInterval == 0 {
		cfg.Lifecycle.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Lifecycle.TransportFailureThreshold == 0 {
		cfg.Lifecycle.TransportFailureThreshold = DefaultTransportFailureThreshold
	}

	if cfg.Queue.MaxSize == 0 {
		cfg.Queue.MaxSize = DefaultQueueMaxSize
	}
	if cfg.Queue.RequestTimeout == 0 {
		cfg.Queue.RequestTimeout = DefaultQueueRequestTimeout
	}
	if cfg.Queue.SweepInterval == 0 {
		cfg.Queue.SweepInterval = DefaultQueueSweepInterval
	}

	if cfg.EventLog.Path == "" {
		cfg.EventLog.Path = DefaultEventLogPath
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.Exporter == "" {
		cfg.Telemetry.Tracing.Exporter = DefaultTracingExporter
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.OTLP.Timeout == 0 {
		cfg.Telemetry.Tracing.OTLP.Timeout = DefaultTracingOTLPTimeout
	}

	for name, m := range cfg.Models {
		m.Name = name
		if m.Priority == 0 {
			m.Priority = DefaultModelPriority
		}
		cfg.Models[name] = m
	}
}
