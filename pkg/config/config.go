// Package config handles configuration loading and management
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poltergeist/invoker/pkg/types"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration operations
type Manager struct {
	homeDir func() (string, error)
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{homeDir: os.UserHomeDir}
}

// LoadConfig loads configuration from a JSON or YAML file on top of the
// defaults and validates the result.
func (m *Manager) LoadConfig(path string) (*types.InvokerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := m.GetDefaultConfig()

	if isJSON(path, data) {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config as JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config as YAML: %w", err)
		}
	}

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isJSON(path string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.InvokerConfig) error {
	if strings.TrimSpace(cfg.ProjectsDirectory) == "" && cfg.Pom == "" {
		return fmt.Errorf("projectsDirectory must not be empty")
	}

	if cfg.ParallelThreads < 1 {
		return fmt.Errorf("parallelThreads must be at least 1, got %d", cfg.ParallelThreads)
	}

	if cfg.TimeoutInSeconds < 0 {
		return fmt.Errorf("timeoutInSeconds must not be negative, got %d", cfg.TimeoutInSeconds)
	}

	if len(cfg.PomIncludes) == 0 && cfg.InvokerTest == "" && cfg.Pom == "" {
		return fmt.Errorf("no pomIncludes defined")
	}

	if strings.TrimSpace(cfg.MavenExecutable) == "" {
		return fmt.Errorf("mavenExecutable must not be empty")
	}

	if cfg.CloneProjectsTo != "" && samePath(cfg.CloneProjectsTo, cfg.ProjectsDirectory) {
		return fmt.Errorf("cloneProjectsTo must differ from projectsDirectory")
	}

	switch cfg.Logging.Level {
	case "", types.LogLevelDebug, types.LogLevelInfo, types.LogLevelWarn, types.LogLevelError:
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	for key := range cfg.EnvironmentVariables {
		if key == "" || strings.Contains(key, "=") {
			return fmt.Errorf("invalid environment variable name: %q", key)
		}
	}

	return nil
}

// ResolvePaths makes every path in cfg absolute against root and fills
// in the local repository default.
func (m *Manager) ResolvePaths(cfg *types.InvokerConfig, root string) error {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}

	cfg.ProjectsDirectory = abs(cfg.ProjectsDirectory)
	cfg.CloneProjectsTo = abs(cfg.CloneProjectsTo)
	cfg.ReportsDirectory = abs(cfg.ReportsDirectory)
	cfg.Pom = abs(cfg.Pom)
	cfg.SettingsFile = abs(cfg.SettingsFile)
	cfg.TestProperties = abs(cfg.TestProperties)
	cfg.MetricsFile = abs(cfg.MetricsFile)
	cfg.MavenHome = abs(cfg.MavenHome)
	cfg.Logging.File = abs(cfg.Logging.File)
	for i, entry := range cfg.ScriptClassPath {
		cfg.ScriptClassPath[i] = abs(entry)
	}

	if cfg.LocalRepositoryPath == "" {
		home, err := m.homeDir()
		if err != nil {
			return fmt.Errorf("failed to determine local repository: %w", err)
		}
		cfg.LocalRepositoryPath = filepath.Join(home, ".m2", "repository")
	}
	cfg.LocalRepositoryPath = abs(cfg.LocalRepositoryPath)

	return nil
}

// GetDefaultConfig returns the default configuration
func (m *Manager) GetDefaultConfig() *types.InvokerConfig {
	return &types.InvokerConfig{
		ProjectsDirectory:     "src/it",
		PomIncludes:           []string{"*/pom.xml"},
		SetupIncludes:         []string{"setup*/pom.xml"},
		Goals:                 []string{"package"},
		GoalsFile:             "goals.txt",
		ProfilesFile:          "profiles.txt",
		InvokerPropertiesFile: "invoker.properties",
		TestPropertiesFile:    "test.properties",
		SelectorScript:        "selector",
		PreBuildHookScript:    "prebuild",
		PostBuildHookScript:   "postbuild",
		MavenExecutable:       "mvn",
		ParallelThreads:       1,
		ReportsDirectory:      "target/invoker-reports",
		Logging: types.LoggingConfig{
			Level: types.LogLevelInfo,
		},
	}
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
