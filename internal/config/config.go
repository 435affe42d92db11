// Package config loads and saves the workspace's recognized option set
// (domain, TLS, workspace identity, conflict-resolution policy, log
// level), following the load-or-default/Save shape of carya's former
// housekeeping.Config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConflictResolution selects the startup conflict-resolution policy
// (decision recorded in DESIGN.md).
type ConflictResolution string

const (
	ConflictRemote ConflictResolution = "remote"
	ConflictLocal  ConflictResolution = "local"
	ConflictMerge  ConflictResolution = "merge"
)

const FileName = "config.json"

// Config is the recognized option set for a workspace.
type Config struct {
	Domain             string             `json:"domain"`
	UseTLS             bool               `json:"useTLS"`
	WorkspaceName      string             `json:"workspaceName"`
	WorkspacePass      string             `json:"workspacePass,omitempty"`
	ConflictResolution ConflictResolution `json:"conflictResolution"`
	LogLevel           string             `json:"logLevel"`
}

// Default returns the configuration used when no config file exists yet.
func Default() *Config {
	return &Config{
		Domain:             "localhost:8443",
		UseTLS:             true,
		ConflictResolution: ConflictMerge,
		LogLevel:           "info",
	}
}

// Path returns the config file path under caryaDir (a repository's
// ".carya" directory).
func Path(caryaDir string) string {
	return filepath.Join(caryaDir, FileName)
}

// Load reads the config file under caryaDir, returning Default() if it
// does not exist yet. Values are overridden by CARYA_-prefixed
// environment variables when present, so a daemon can be reconfigured
// without rewriting the file (e.g. in a container).
func Load(caryaDir string) (*Config, error) {
	path := Path(caryaDir)

	cfg := Default()
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("CARYA_DOMAIN"); ok {
		cfg.Domain = v
	}
	if v, ok := os.LookupEnv("CARYA_USE_TLS"); ok {
		cfg.UseTLS = v == "true" || v == "1"
	}
	if v, ok := os.LookupEnv("CARYA_WORKSPACE_NAME"); ok {
		cfg.WorkspaceName = v
	}
	if v, ok := os.LookupEnv("CARYA_WORKSPACE_PASS"); ok {
		cfg.WorkspacePass = v
	}
	if v, ok := os.LookupEnv("CARYA_CONFLICT_RESOLUTION"); ok {
		cfg.ConflictResolution = ConflictResolution(v)
	}
	if v, ok := os.LookupEnv("CARYA_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}

// Save writes the config to caryaDir, creating the directory if needed.
func (c *Config) Save(caryaDir string) error {
	if err := os.MkdirAll(caryaDir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", caryaDir, err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(Path(caryaDir), data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", Path(caryaDir), err)
	}
	return nil
}

// Valid reports whether c.ConflictResolution is a recognized policy.
func (c *Config) Valid() bool {
	switch c.ConflictResolution {
	case ConflictRemote, ConflictLocal, ConflictMerge:
		return true
	default:
		return false
	}
}
