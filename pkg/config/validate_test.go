package config

import "testing"

func baseValidConfig() *Config {
	cfg := &Config{
		Models: map[string]ModelConfig{
			"m1": {Name: "m1", Port: 19001, ModelPath: "/dev/null", Priority: 5},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_OK(t *testing.T) {
	cfg := baseValidConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_InvalidPriority(t *testing.T) {
	cfg := baseValidConfig()
	m := cfg.Models["m1"]
	m.Priority = 11
	cfg.Models["m1"] = m

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected priority out of range to fail validation")
	}
}

func TestValidate_MissingModelPath(t *testing.T) {
	cfg := baseValidConfig()
	m := cfg.Models["m1"]
	m.ModelPath = ""
	cfg.Models["m1"] = m

	if err := Validate(cfg); err == nil {
		t.Fatal("expected empty model_path to fail validation")
	}
}

func TestValidate_MaxConcurrentModelsFloor(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Lifecycle.MaxConcurrentModels = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("expected max_concurrent_models < 1 to fail validation")
	}
}
