package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileOverrides is an optional YAML document that seeds environment
// defaults, for deployments that prefer a config file over a flat env.
// Explicitly set environment variables always win.
type FileOverrides struct {
	// Env maps environment variable names to default values.
	Env     map[string]string `yaml:"env"`
	Logging struct {
		// Level is the minimum log level name.
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Metrics struct {
		// Port exposes Prometheus metrics when non-zero.
		Port int `yaml:"port"`
	} `yaml:"metrics"`
}

// LoadOverrides reads and parses a YAML overrides file.
func LoadOverrides(path string) (*FileOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	overrides := &FileOverrides{}
	if err := yaml.Unmarshal(data, overrides); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return overrides, nil
}

// ApplyToEnv sets every Env entry that is not already present in the
// process environment.
func (o *FileOverrides) ApplyToEnv() {
	for key, value := range o.Env {
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}
