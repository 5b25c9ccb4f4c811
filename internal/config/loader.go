package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// checksumTracked are the files `config lock` pins next to the config file.
var checksumTracked = []string{".env"}

// Load reads, verifies and parses the configuration file at configPath.
// When a .checksums manifest sits next to the file, every tracked file must
// match it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if err := verifyChecksums(absPath); err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse interpolates ${VAR} references, decodes YAML, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Lock writes the .checksums manifest for the config file and its .env.
func Lock(configPath string, dryRun bool) (*HashUpdateReport, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("config file not found: %s", absPath)
	}
	return GenerateChecksumsWithReport(filepath.Dir(absPath), trackedFiles(absPath), dryRun)
}

func trackedFiles(absPath string) []string {
	return append([]string{filepath.Base(absPath)}, checksumTracked...)
}

func verifyChecksums(absPath string) error {
	dir := filepath.Dir(absPath)
	if _, err := os.Stat(filepath.Join(dir, checksumFile)); os.IsNotExist(err) {
		return nil
	}
	manifest, err := LoadChecksums(dir)
	if err != nil {
		return err
	}
	return VerifyScopeFiles(dir, manifest, trackedFiles(absPath))
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Wallet.BaseURL == "" {
		cfg.Wallet.BaseURL = defaults.Wallet.BaseURL
	}
	if cfg.P2P.BaseURL == "" {
		cfg.P2P.BaseURL = defaults.P2P.BaseURL
	}

	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = defaults.Client.Timeout
	}

	if cfg.Webhooks.Listen == "" {
		cfg.Webhooks.Listen = defaults.Webhooks.Listen
	}
	if cfg.Webhooks.TransactionPath == "" {
		cfg.Webhooks.TransactionPath = defaults.Webhooks.TransactionPath
	}
	if cfg.Webhooks.BillPath == "" {
		cfg.Webhooks.BillPath = defaults.Webhooks.BillPath
	}
	if cfg.Webhooks.MaxBodySize == "" {
		cfg.Webhooks.MaxBodySize = defaults.Webhooks.MaxBodySize
	}

	if cfg.Delivery.Backend == "" {
		cfg.Delivery.Backend = defaults.Delivery.Backend
	}
	if cfg.Delivery.Retention == 0 {
		cfg.Delivery.Retention = defaults.Delivery.Retention
	}
	if cfg.Delivery.Backend == "sqlite" && cfg.Delivery.Path == "" {
		cfg.Delivery.Path = "./qiwigw-deliveries.db"
	}

	if cfg.Polling.Every == 0 {
		cfg.Polling.Every = defaults.Polling.Every
	}
	if cfg.Polling.Lookback == 0 {
		cfg.Polling.Lookback = defaults.Polling.Lookback
	}
	if cfg.Polling.Rows == 0 {
		cfg.Polling.Rows = defaults.Polling.Rows
	}
	if cfg.Polling.FailureThreshold == 0 {
		cfg.Polling.FailureThreshold = defaults.Polling.FailureThreshold
	}
	if cfg.Polling.ResetAfter == 0 {
		cfg.Polling.ResetAfter = defaults.Polling.ResetAfter
	}

	for i := range cfg.Handlers {
		if cfg.Handlers[i].Event == "" {
			cfg.Handlers[i].Event = "any"
		}
		if cfg.Handlers[i].Action == "" {
			cfg.Handlers[i].Action = "log"
		}
		if cfg.Handlers[i].Level == "" {
			cfg.Handlers[i].Level = "info"
		}
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate reports it for secret fields.
		return match
	})
}
