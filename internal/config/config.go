// Package config provides configuration loading and structs for the matome engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Storage      StorageConfig      `yaml:"storage"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Generation   GenerationConfig   `yaml:"generation"`
	Matching     MatchingConfig     `yaml:"matching"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Watch        WatchConfig        `yaml:"watch"`
	Blueprints   BlueprintsConfig   `yaml:"blueprints"`
}

// StorageConfig holds paths for the database, the document workspace, and
// the on-disk indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	WorkspaceDir    string `yaml:"workspace_dir"`
	VectorIndexDir  string `yaml:"vector_index_dir"`
	KeywordIndexDir string `yaml:"keyword_index_dir"`
}

// EmbeddingConfig holds settings for the embedding collaborator.
type EmbeddingConfig struct {
	ServerURL      string  `yaml:"server_url"`
	Model          string  `yaml:"model"`
	Dimensions     int     `yaml:"dimensions"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	CacheSize      int     `yaml:"cache_size"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
}

// GenerationConfig holds settings for the generative merge collaborator.
type GenerationConfig struct {
	ServerURL      string  `yaml:"server_url"`
	Model          string  `yaml:"model"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
}

// MatchingConfig holds section matching thresholds. AcceptThreshold is the
// minimum cosine similarity for a semantic match; leaving it at zero selects
// the default rather than accepting every candidate.
type MatchingConfig struct {
	AcceptThreshold float64 `yaml:"accept_threshold"`
	FuzzyEnabled    *bool   `yaml:"fuzzy_enabled"`
	Fuzziness       int     `yaml:"fuzziness"`
	MinKeywordScore float64 `yaml:"min_keyword_score"`
	MaxSuggestions  int     `yaml:"max_suggestions"`
}

// FuzzyOrDefault returns whether fuzzy keyword fallback is enabled;
// defaults to true when unset.
func (m *MatchingConfig) FuzzyOrDefault() bool {
	if m.FuzzyEnabled != nil {
		return *m.FuzzyEnabled
	}
	return true
}

// OrchestratorConfig holds merge task queue settings.
type OrchestratorConfig struct {
	QueueSize      int `yaml:"queue_size"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	RetainMinutes  int `yaml:"retain_minutes"`
}

// WatchConfig holds workspace watch settings.
type WatchConfig struct {
	DebounceMillis int      `yaml:"debounce_millis"`
	Extensions     []string `yaml:"extensions"`
}

// BlueprintsConfig points at a directory of section blueprint files. When
// empty, only the built-in blueprints are available.
type BlueprintsConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.WorkspaceDir = expandPath(cfg.Storage.WorkspaceDir, configDir)
	cfg.Storage.VectorIndexDir = expandPath(cfg.Storage.VectorIndexDir, configDir)
	cfg.Storage.KeywordIndexDir = expandPath(cfg.Storage.KeywordIndexDir, configDir)
	if cfg.Blueprints.Dir != "" {
		cfg.Blueprints.Dir = expandPath(cfg.Blueprints.Dir, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting settings changed from the CLI.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
