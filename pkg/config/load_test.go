package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	modelPath := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(modelPath, []byte("fake weights"), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	body = strings.ReplaceAll(body, "__MODEL_PATH__", modelPath)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
models:
  m1:
    port: 19001
    model_path: "__MODEL_PATH__"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Lifecycle.MaxConcurrentModels != DefaultMaxConcurrentModels {
		t.Errorf("max_concurrent_models = %d, want %d", cfg.Lifecycle.MaxConcurrentModels, DefaultMaxConcurrentModels)
	}
	m := cfg.Models["m1"]
	if m.Priority != DefaultModelPriority {
		t.Errorf("priority = %d, want %d", m.Priority, DefaultModelPriority)
	}
	if m.Name != "m1" {
		t.Errorf("name = %q, want m1", m.Name)
	}
}

func TestLoadConfig_DuplicatePortRejected(t *testing.T) {
	path := writeConfigFile(t, `
models:
  m1:
    port: 19001
    model_path: "__MODEL_PATH__"
  m2:
    port: 19001
    model_path: "__MODEL_PATH__"
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected duplicate port to be rejected")
	}
}

func TestLoadConfig_UnknownFieldRejected(t *testing.T) {
	path := writeConfigFile(t, `
models:
  m1:
    port: 19001
    model_path: "__MODEL_PATH__"
    bogus_field: true
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestLoadConfig_AdditionalArgsSplitting(t *testing.T) {
	path := writeConfigFile(t, `
models:
  m1:
    port: 19001
    model_path: "__MODEL_PATH__"
    additional_args: ["-c 4096", "--no-mmap"]
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	got := cfg.Models["m1"].AdditionalArgs
	want := []string{"-c", "4096", "--no-mmap"}
	if len(got) != len(want) {
		t.Fatalf("additional_args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("additional_args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
models:
  m1:
    port: 19001
    model_path: "__MODEL_PATH__"
`)

	t.Setenv("MAX_CONCURRENT_MODELS", "7")
	t.Setenv("TIMEOUT_MINUTES", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Lifecycle.MaxConcurrentModels != 7 {
		t.Errorf("max_concurrent_models = %d, want 7", cfg.Lifecycle.MaxConcurrentModels)
	}
	if cfg.Lifecycle.InactivityTimeout.Minutes() != 5 {
		t.Errorf("inactivity_timeout = %v, want 5m", cfg.Lifecycle.InactivityTimeout)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Telemetry.Logging.Level)
	}
}
