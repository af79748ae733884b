// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the shared configuration structs and environment
// expansion helpers the CLI and daemon use. YAML parsing of workflow and
// agent files is performed by the callers; this package only owns the
// shapes and the config-dir layout.
package config

import (
	"os"
	"path/filepath"
)

// ConfigDirName is the directory under the user's home that holds agent
// definitions, persistent context, and the daemon discovery file.
const ConfigDirName = ".agent-worker"

// DaemonConfig configures the control-plane process.
type DaemonConfig struct {
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	Token     string `yaml:"token,omitempty"`
	ConfigDir string `yaml:"configDir,omitempty"`
	LogLevel  string `yaml:"logLevel,omitempty"`
}

// SetDefaults fills unset fields.
func (c *DaemonConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 7777
	}
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// DefaultConfigDir returns <home>/.agent-worker, falling back to the
// working directory when the home dir cannot be resolved.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ConfigDirName
	}
	return filepath.Join(home, ConfigDirName)
}

// DiscoveryPath returns the daemon discovery file location under configDir.
func DiscoveryPath(configDir string) string {
	return filepath.Join(configDir, "daemon.json")
}
