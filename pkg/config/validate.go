package config

import (
	"fmt"
	"os"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g. "models.m1.port").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates every FieldError found while validating a
// Config. It is the concrete type behind the ConfigError kind.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any rule fails, or nil if the configuration is valid. All errors are
// collected and returned together rather than failing on the first.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateLifecycle(&cfg.Lifecycle)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateModels(cfg.Models)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateProxy(p *ProxyConfig) []FieldError {
	var errs []FieldError
	if p.ListenAddress == "" {
		errs = append(errs, FieldError{"proxy.listen_address", "must not be empty"})
	}
	if p.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{"proxy.max_header_bytes", "must not be negative"})
	}
	return errs
}

func validateLifecycle(l *LifecycleConfig) []FieldError {
	var errs []FieldError
	if l.MaxConcurrentModels < 1 {
		errs = append(errs, FieldError{"lifecycle.max_concurrent_models", "must be at least 1"})
	}
	if l.StartTimeout <= 0 {
		errs = append(errs, FieldError{"lifecycle.start_timeout", "must be positive"})
	}
	if l.StopTimeout <= 0 {
		errs = append(errs, FieldError{"lifecycle.stop_timeout", "must be positive"})
	}
	if l.HealthCheckInterval <= 0 {
		errs = append(errs, FieldError{"lifecycle.health_check_interval", "must be positive"})
	}
	if l.TransportFailureThreshold < 1 {
		errs = append(errs, FieldError{"lifecycle.transport_failure_threshold", "must be at least 1"})
	}
	return errs
}

func validateQueue(q *QueueConfig) []FieldError {
	var errs []FieldError
	if q.MaxSize < 1 {
		errs = append(errs, FieldError{"queue.max_size", "must be at least 1"})
	}
	if q.RequestTimeout <= 0 {
		errs = append(errs, FieldError{"queue.request_timeout", "must be positive"})
	}
	return errs
}

// validateModels enforces port uniqueness plus per-field constraints.
// Model paths are checked for readability: an unreadable model_path is
// a ConfigError.
func validateModels(models map[string]ModelConfig) []FieldError {
	var errs []FieldError
	portOwners := make(map[int]string, len(models))

	for name, m := range models {
		field := func(suffix string) string { return fmt.Sprintf("models.%s.%s", name, suffix) }

		if name == "" {
			errs = append(errs, FieldError{"models", "model name must not be empty"})
			continue
		}
		if m.Port <= 0 || m.Port > 65535 {
			errs = append(errs, FieldError{field("port"), "must be a valid TCP port (1-65535)"})
		} else if owner, taken := portOwners[m.Port]; taken {
			errs = append(errs, FieldError{field("port"),
				fmt.Sprintf("port %d is already used by model %q", m.Port, owner)})
		} else {
			portOwners[m.Port] = name
		}

		if m.ModelPath == "" {
			errs = append(errs, FieldError{field("model_path"), "must not be empty"})
		} else if _, err := os.Stat(m.ModelPath); err != nil {
			errs = append(errs, FieldError{field("model_path"),
				fmt.Sprintf("path is not readable: %v", err)})
		}

		if m.Priority < 1 || m.Priority > 10 {
			errs = append(errs, FieldError{field("priority"), "must be between 1 and 10"})
		}

		if m.MaxQueueSize < 0 {
			errs = append(errs, FieldError{field("max_queue_size"), "must not be negative"})
		}
		if m.RequestTimeout < 0 {
			errs = append(errs, FieldError{field("request_timeout"), "must not be negative"})
		}
	}

	return errs
}
