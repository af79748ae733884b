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

// Package agent implements agent definitions, the runtime AgentHandle
// with its persistent context directory, conversation log, bounded thin
// thread, and the name-keyed registry that owns them.
package agent

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definition describes one agent. Serialized to
// YAML at <config-dir>/agents/<name>.yaml for persistent agents.
type Definition struct {
	Name           string         `yaml:"name" json:"name"`
	Model          string         `yaml:"model,omitempty" json:"model,omitempty"`
	Backend        string         `yaml:"backend,omitempty" json:"backend,omitempty"`
	ProviderConfig map[string]any `yaml:"provider,omitempty" json:"provider,omitempty"`
	SystemPrompt   string         `yaml:"system,omitempty" json:"system,omitempty"`
	Schedule       string         `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	MaxTokens      int            `yaml:"maxTokens,omitempty" json:"maxTokens,omitempty"`
	MaxSteps       int            `yaml:"maxSteps,omitempty" json:"maxSteps,omitempty"`
	ContextConfig  map[string]any `yaml:"context,omitempty" json:"context,omitempty"`
}

// Validate checks required fields.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("agent definition requires a name")
	}
	return nil
}

// MarshalYAMLFile renders the definition as a YAML document.
func (d *Definition) MarshalYAMLFile() ([]byte, error) {
	return yaml.Marshal(d)
}

// ParseDefinition parses a YAML agent definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid agent definition: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
