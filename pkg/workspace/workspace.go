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

// Package workspace implements the factory bundling one ContextProvider
// with one tool-server mount and its MCP URL, for one workflow or one
// standalone agent. Lifecycle is create -> shutdown; shutdown of a
// non-persistent workspace clears transient inbox cursors while the channel
// and documents are always preserved.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentworker/agentworker/pkg/apperr"
	contextstore "github.com/agentworker/agentworker/pkg/context"
	"github.com/agentworker/agentworker/pkg/proposal"
	"github.com/agentworker/agentworker/pkg/storage"
	"github.com/agentworker/agentworker/pkg/toolserver"
)

// Options configures CreateMinimalRuntime.
type Options struct {
	// WorkflowName and Tag identify a bound workflow; both empty for a
	// standalone agent workspace.
	WorkflowName string
	Tag          string
	// AgentName identifies a standalone agent workspace.
	AgentName string
	// AgentNames is the identity whitelist for the tool mount.
	AgentNames []string
	// ConfigDir is the daemon config root; persistent context dirs live
	// under it. Empty selects an in-memory store (tests).
	ConfigDir string
	// Persistent keeps inbox cursors across restarts. Non-persistent
	// workspaces get a temp-style context dir and Destroy-on-shutdown.
	Persistent bool
	// BaseURL is the daemon's external base URL for the MCP mount.
	BaseURL string
	// Proposals overrides the voting subsystem; Noop when nil.
	Proposals proposal.Service
}

// Workspace bundles a provider and tool mount for one workflow or agent.
type Workspace struct {
	Key      string
	Provider *contextstore.Provider
	Mount    *toolserver.Mount
	MCPURL   string

	persistent bool
	contextDir string

	mu       sync.Mutex
	shutdown bool
}

// Key computes the registry key for a workspace: "agent:<name>" or
// "workflow:<name>:<tag>".
func Key(opts Options) string {
	if opts.WorkflowName != "" {
		return "workflow:" + opts.WorkflowName + ":" + opts.Tag
	}
	return "agent:" + opts.AgentName
}

// CreateMinimalRuntime builds storage, composed stores, provider, and a
// tool-server mount for the given identities.
func CreateMinimalRuntime(ctx context.Context, opts Options) (*Workspace, error) {
	key := Key(opts)

	var store storage.Storage
	var contextDir string
	if opts.ConfigDir == "" {
		store = storage.NewMemory()
	} else {
		if opts.Persistent {
			if opts.WorkflowName != "" {
				contextDir = filepath.Join(opts.ConfigDir, "workflows", opts.WorkflowName, opts.Tag)
			} else {
				contextDir = filepath.Join(opts.ConfigDir, "context", opts.AgentName, "workspace")
			}
		} else {
			dir, err := os.MkdirTemp("", "agentworker-ws-")
			if err != nil {
				return nil, apperr.Wrap(apperr.Transient, "cannot create workspace dir", err)
			}
			contextDir = dir
		}
		fs, err := storage.NewFile(contextDir)
		if err != nil {
			return nil, apperr.Wrap(apperr.Transient, "cannot open workspace storage", err)
		}
		store = fs
	}

	provider := contextstore.New(store)
	provider.SetValidAgents(opts.AgentNames)
	if err := provider.Load(ctx); err != nil {
		return nil, err
	}

	proposals := opts.Proposals
	if proposals == nil {
		proposals = proposal.NewNoop()
	}

	names := append([]string{}, opts.AgentNames...)
	sort.Strings(names)
	mount, err := toolserver.NewMount(toolserver.MountConfig{
		Name:       key,
		Provider:   provider,
		Proposals:  proposals,
		AgentNames: func() []string { return names },
		Allowed:    opts.AgentNames,
	})
	if err != nil {
		return nil, err
	}

	mcpURL := ""
	if opts.BaseURL != "" {
		mcpURL = fmt.Sprintf("%s/mcp?workspace=%s", opts.BaseURL, key)
	}

	return &Workspace{
		Key:        key,
		Provider:   provider,
		Mount:      mount,
		MCPURL:     mcpURL,
		persistent: opts.Persistent,
		contextDir: contextDir,
	}, nil
}

// ToolNames returns the collaboration tool names exposed by the mount.
func (w *Workspace) ToolNames() []string { return w.Mount.ToolNames() }

// ContextDir returns the on-disk context directory, if file-backed.
func (w *Workspace) ContextDir() string { return w.contextDir }

// Shutdown stops the mount and, for non-persistent workspaces, destroys
// transient inbox cursors. Idempotent.
func (w *Workspace) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return nil
	}
	w.shutdown = true
	w.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Mount.Shutdown(gctx) })
	if !w.persistent {
		g.Go(func() error { return w.Provider.Destroy(gctx) })
	}
	return g.Wait()
}

// Registry maps workspace keys to live workspaces. Mutation happens only
// from the daemon's HTTP and shutdown paths under the daemon-scope mutex.
type Registry struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace
}

// NewRegistry builds an empty workspace registry.
func NewRegistry() *Registry {
	return &Registry{workspaces: make(map[string]*Workspace)}
}

// Put stores ws under its key.
func (r *Registry) Put(ws *Workspace) {
	r.mu.Lock()
	r.workspaces[ws.Key] = ws
	r.mu.Unlock()
}

// Get returns the workspace for key.
func (r *Registry) Get(key string) (*Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.workspaces[key]
	return ws, ok
}

// Remove deletes the registry entry for key, returning the workspace.
func (r *Registry) Remove(key string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[key]
	delete(r.workspaces, key)
	return ws, ok
}

// All returns every registered workspace.
func (r *Registry) All() []*Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	return out
}
