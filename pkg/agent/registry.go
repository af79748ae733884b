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

package agent

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/agentworker/agentworker/pkg/apperr"
)

// Registry maps agent names to handles. ConfigDir is the
// daemon's config root; definitions live under ConfigDir/agents/<name>.yaml
// and persistent context dirs under ConfigDir/context/<name>/.
type Registry struct {
	ConfigDir string

	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry builds an empty Registry rooted at configDir.
func NewRegistry(configDir string) *Registry {
	return &Registry{
		ConfigDir: configDir,
		handles:   make(map[string]*Handle),
	}
}

func (r *Registry) definitionPath(name string) string {
	return filepath.Join(r.ConfigDir, "agents", name+".yaml")
}

func (r *Registry) contextDir(name string) string {
	return filepath.Join(r.ConfigDir, "context", name)
}

// RegisterDefinition creates or replaces the handle for def, ensuring the
// persistent context dir subtree exists. Replacement keeps reload semantics:
// any prior handle of the same name is discarded (its loop must already be
// stopped by the caller).
func (r *Registry) RegisterDefinition(def *Definition) (*Handle, error) {
	if err := def.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, "invalid definition", err)
	}
	h := NewHandle(def, r.contextDir(def.Name), false)
	if err := h.EnsureContextDirs(); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "cannot create context dirs", err)
	}

	r.mu.Lock()
	r.handles[def.Name] = h
	r.mu.Unlock()
	return h, nil
}

// RegisterEphemeral registers def without any disk artifact.
func (r *Registry) RegisterEphemeral(def *Definition) (*Handle, error) {
	if err := def.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, "invalid definition", err)
	}
	h := NewHandle(def, "", true)

	r.mu.Lock()
	r.handles[def.Name] = h
	r.mu.Unlock()
	return h, nil
}

// Create writes the definition YAML then registers it. Fails with
// AlreadyExists if the file is already present.
func (r *Registry) Create(def *Definition) (*Handle, error) {
	if err := def.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, "invalid definition", err)
	}
	path := r.definitionPath(def.Name)
	if _, err := os.Stat(path); err == nil {
		return nil, apperr.Newf(apperr.AlreadyExists, "agent %q already exists", def.Name)
	}
	data, err := def.MarshalYAMLFile()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "cannot create agents dir", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "cannot write agent definition", err)
	}
	return r.RegisterDefinition(def)
}

// Get returns the handle for name.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all handles in name order.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Handle, 0, len(names))
	for _, name := range names {
		out = append(out, r.handles[name])
	}
	return out
}

// Delete best-effort removes the definition YAML and context dir, then
// unregisters the handle. The caller stops the loop first.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	h, ok := r.handles[name]
	delete(r.handles, name)
	r.mu.Unlock()
	if !ok {
		return apperr.Newf(apperr.NotFound, "agent %q not found", name)
	}

	_ = os.Remove(r.definitionPath(name))
	if !h.Ephemeral && h.ContextDir != "" {
		_ = os.RemoveAll(h.ContextDir)
	}
	return nil
}

// Count returns the number of registered handles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
