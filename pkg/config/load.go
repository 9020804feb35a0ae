package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path. It
// applies defaults, environment variable overrides, then validates the
// result. Unknown top-level or model fields are rejected as a ConfigError:
// this is a closed record, not a loose map.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	expandModelPaths(&cfg)
	splitAdditionalArgs(&cfg)
	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// expandModelPaths expands a leading "~" in model_path and binary_path
// against the invoking user's home directory.
func expandModelPaths(cfg *Config) {
	for name, m := range cfg.Models {
		m.ModelPath = expandHome(m.ModelPath)
		m.BinaryPath = expandHome(m.BinaryPath)
		cfg.Models[name] = m
	}
	cfg.Lifecycle.BinaryPath = expandHome(cfg.Lifecycle.BinaryPath)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

// splitAdditionalArgs whitespace-splits any space-joined entry in
// additional_args so the launched process receives a proper argument
// vector either way.
func splitAdditionalArgs(cfg *Config) {
	for name, m := range cfg.Models {
		var out []string
		for _, arg := range m.AdditionalArgs {
			out = append(out, strings.Fields(arg)...)
		}
		m.AdditionalArgs = out
		cfg.Models[name] = m
	}
}

// applyEnvOverrides applies the fixed set of environment variables that
// override the loaded config file.
func applyEnvOverrides(cfg *Config) {
	host, hasHost := os.LookupEnv("PROXY_HOST")
	portStr, hasPort := os.LookupEnv("PROXY_PORT")
	if hasHost || hasPort {
		h, p := splitHostPort(cfg.Proxy.ListenAddress)
		if hasHost {
			h = host
		}
		if hasPort {
			p = portStr
		}
		cfg.Proxy.ListenAddress = h + ":" + p
	}

	if val := os.Getenv("TIMEOUT_MINUTES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Lifecycle.InactivityTimeout = time.Duration(n) * time.Minute
		}
	}

	if val := os.Getenv("MAX_CONCURRENT_MODELS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Lifecycle.MaxConcurrentModels = n
		}
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
}

func splitHostPort(addr string) (host, port string) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, "8080"
	}
	return addr[:idx], addr[idx+1:]
}

// ConfigPathFromEnv resolves the config file path following CONFIG_PATH,
// falling back to the given default when unset.
func ConfigPathFromEnv(def string) string {
	if val := os.Getenv("CONFIG_PATH"); val != "" {
		return val
	}
	return def
}
