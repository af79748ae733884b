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

// Package workflow implements workflow definitions, the per-workflow
// handle grouping agent loops over one shared workspace, the idle-detection
// algorithm that decides when a batch of agents has collectively finished,
// and the run-mode driver.
package workflow

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agentworker/agentworker/pkg/agent"
	"github.com/agentworker/agentworker/pkg/loop"
	"github.com/agentworker/agentworker/pkg/workspace"
)

// DefaultTag is used when a workflow file names no instance tag.
const DefaultTag = "main"

// File is the YAML shape of a workflow definition.
type File struct {
	Name       string             `yaml:"name" json:"name"`
	Tag        string             `yaml:"tag,omitempty" json:"tag,omitempty"`
	Agents     []agent.Definition `yaml:"agents" json:"agents"`
	Kickoff    string             `yaml:"kickoff,omitempty" json:"kickoff,omitempty"`
	Document   string             `yaml:"document,omitempty" json:"document,omitempty"`
	Hint       string             `yaml:"hint,omitempty" json:"hint,omitempty"`
	Persistent bool               `yaml:"persistent,omitempty" json:"persistent,omitempty"`

	// SourcePath is the on-disk YAML file this definition was parsed from.
	// Set by clients, not by the file itself; when present the daemon
	// watches it for edits while the instance runs.
	SourcePath string `yaml:"-" json:"sourcePath,omitempty"`
}

// ParseFile parses a YAML workflow definition.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid workflow file: %w", err)
	}
	if f.Name == "" {
		return nil, fmt.Errorf("workflow file requires a name")
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("workflow %q defines no agents", f.Name)
	}
	for i := range f.Agents {
		if err := f.Agents[i].Validate(); err != nil {
			return nil, err
		}
	}
	if f.Tag == "" {
		f.Tag = DefaultTag
	}
	return &f, nil
}

// Key returns the "name:tag" map key for this workflow instance.
func (f *File) Key() string { return f.Name + ":" + f.Tag }

// AgentNames returns the names of all agents the file defines.
func (f *File) AgentNames() []string {
	names := make([]string, len(f.Agents))
	for i, d := range f.Agents {
		names[i] = d.Name
	}
	return names
}

// Handle is one running workflow instance: its workspace and the loops of
// its agents, keyed by agent name.
type Handle struct {
	Name      string
	Tag       string
	Workspace *workspace.Workspace

	mu    sync.RWMutex
	loops map[string]*loop.Loop
}

// NewHandle builds a Handle over ws.
func NewHandle(name, tag string, ws *workspace.Workspace) *Handle {
	return &Handle{
		Name:      name,
		Tag:       tag,
		Workspace: ws,
		loops:     make(map[string]*loop.Loop),
	}
}

// Key returns "name:tag".
func (h *Handle) Key() string { return h.Name + ":" + h.Tag }

// AddLoop registers an agent loop on the handle.
func (h *Handle) AddLoop(agentName string, l *loop.Loop) {
	h.mu.Lock()
	h.loops[agentName] = l
	h.mu.Unlock()
}

// Loop returns the loop for agentName.
func (h *Handle) Loop(agentName string) (*loop.Loop, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.loops[agentName]
	return l, ok
}

// Loops returns a snapshot of the loops map.
func (h *Handle) Loops() map[string]*loop.Loop {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*loop.Loop, len(h.loops))
	for k, v := range h.loops {
		out[k] = v
	}
	return out
}

// AgentStates reports each agent's loop state.
func (h *Handle) AgentStates() map[string]loop.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]loop.State, len(h.loops))
	for name, l := range h.loops {
		out[name] = l.State()
	}
	return out
}

// StopAll stops every loop in the workflow.
func (h *Handle) StopAll() {
	for _, l := range h.Loops() {
		l.Stop()
	}
}

// StartAll starts every loop in the workflow.
func (h *Handle) StartAll() {
	for _, l := range h.Loops() {
		l.Start()
	}
}
