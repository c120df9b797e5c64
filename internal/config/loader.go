package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxConfigFileSize rejects runaway config files.
const maxConfigFileSize = 1 << 20

// Load reads configuration from the YAML file at configPath, applies
// environment variable overrides, fills defaults, and validates. An
// empty path uses ~/.config/answerd/config.yaml; a missing file is not
// an error.
//
// Environment variables map to section.field with the first underscore
// as separator: SERVER_PORT -> server.port, LLM_API_KEY -> llm.api_key,
// ENGINE_RELEVANCE_THRESHOLD -> engine.relevance_threshold.
func Load(configPath string) (*Config, error) {
	cfg, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStorage reads configuration like Load but validates only the
// storage-facing sections, so maintenance commands run on hosts
// without provider credentials.
func LoadStorage(configPath string) (*Config, error) {
	cfg, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Cache.Validate(); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return cfg, nil
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "answerd", "config.yaml")
	}

	if content, err := readConfigFile(configPath); err != nil {
		return nil, err
	} else if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// readConfigFile returns the file's content, or nil when the file does
// not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stating config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%w: config file %s exceeds %d bytes", ErrInvalidConfig, path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return content, nil
}

// envTransform maps SECTION_FIELD_NAME to section.field_name. Only the
// first underscore separates the section; the rest stay in the field
// name.
func envTransform(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}
