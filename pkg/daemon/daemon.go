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

// Package daemon implements the long-lived control-plane process that
// owns the agent and workspace registries and the workflows map, and
// exposes the HTTP surface through which everything is driven. All registry
// mutation happens on HTTP/shutdown paths under a single daemon-scope
// mutex.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/agentworker/agentworker/pkg/agent"
	"github.com/agentworker/agentworker/pkg/apperr"
	"github.com/agentworker/agentworker/pkg/backend"
	"github.com/agentworker/agentworker/pkg/chanstore"
	"github.com/agentworker/agentworker/pkg/config"
	"github.com/agentworker/agentworker/pkg/loop"
	"github.com/agentworker/agentworker/pkg/message"
	"github.com/agentworker/agentworker/pkg/proposal"
	"github.com/agentworker/agentworker/pkg/toolserver"
	"github.com/agentworker/agentworker/pkg/workflow"
	"github.com/agentworker/agentworker/pkg/workspace"
)

// Daemon owns the registries and the workflows map.
type Daemon struct {
	cfg       config.DaemonConfig
	agents    *agent.Registry
	wspaces   *workspace.Registry
	proposals proposal.Service
	startedAt time.Time

	// mu is the daemon-scope mutex guarding workflow/registry mutation.
	mu        sync.Mutex
	workflows map[string]*workflow.Handle
	watchers  map[string]*workflow.Watcher

	shutdownCh chan struct{}
	shutdownFn sync.Once

	// BackendFactory builds a Backend from a definition. Tests override it;
	// the default dispatches on Definition.Backend.
	BackendFactory func(def *agent.Definition) (backend.Backend, error)
}

// New constructs a Daemon.
func New(cfg config.DaemonConfig) *Daemon {
	cfg.SetDefaults()
	d := &Daemon{
		cfg:        cfg,
		agents:     agent.NewRegistry(cfg.ConfigDir),
		wspaces:    workspace.NewRegistry(),
		proposals:  proposal.NewNoop(),
		startedAt:  time.Now(),
		workflows:  make(map[string]*workflow.Handle),
		watchers:   make(map[string]*workflow.Watcher),
		shutdownCh: make(chan struct{}),
	}
	d.BackendFactory = d.defaultBackend
	return d
}

// Agents exposes the agent registry.
func (d *Daemon) Agents() *agent.Registry { return d.agents }

// Config returns the effective daemon configuration.
func (d *Daemon) Config() config.DaemonConfig { return d.cfg }

// ShutdownRequested returns a channel closed when POST /shutdown arrives.
func (d *Daemon) ShutdownRequested() <-chan struct{} { return d.shutdownCh }

func (d *Daemon) baseURL() string {
	return fmt.Sprintf("http://%s:%d", d.cfg.Host, d.cfg.Port)
}

func (d *Daemon) defaultBackend(def *agent.Definition) (backend.Backend, error) {
	provider := func(key string) string {
		if def.ProviderConfig == nil {
			return ""
		}
		v, _ := def.ProviderConfig[key].(string)
		return v
	}

	switch def.Backend {
	case "", "anthropic":
		apiKey := provider("apiKey")
		if apiKey == "" {
			apiKey = config.ProviderAPIKey("anthropic")
		}
		return backend.NewAnthropic(backend.AnthropicConfig{
			APIKey:    apiKey,
			Model:     def.Model,
			MaxTokens: def.MaxTokens,
			BaseURL:   provider("baseURL"),
		}), nil
	case "openai":
		apiKey := provider("apiKey")
		if apiKey == "" {
			apiKey = config.ProviderAPIKey("openai")
		}
		return backend.NewOpenAI(backend.OpenAIConfig{
			APIKey:    apiKey,
			Model:     def.Model,
			MaxTokens: def.MaxTokens,
			BaseURL:   provider("baseURL"),
		}), nil
	case "subprocess":
		command := provider("command")
		if command == "" {
			return nil, apperr.New(apperr.Invalid, "subprocess backend requires provider.command")
		}
		var args []string
		if raw, ok := def.ProviderConfig["args"].([]any); ok {
			for _, a := range raw {
				if s, ok := a.(string); ok {
					args = append(args, s)
				}
			}
		}
		return backend.NewSubprocess(backend.SubprocessConfig{
			Command: command,
			Args:    args,
		}), nil
	case "mock":
		return backend.NewMock(), nil
	default:
		return nil, apperr.Newf(apperr.Invalid, "unknown backend %q", def.Backend)
	}
}

// findLoop locates the loop serving an agent: the handle's own loop first,
// then the first workflow whose loops map contains the name.
func (d *Daemon) findLoop(name string) (*loop.Loop, bool) {
	if h, ok := d.agents.Get(name); ok {
		if l := h.GetLoop(); l != nil {
			if al, ok := l.(*loop.Loop); ok {
				return al, true
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, wf := range d.workflows {
		if l, ok := wf.Loop(name); ok {
			return l, true
		}
	}
	return nil, false
}

// ensureAgentLoop returns the loop for a registered agent, creating a
// standalone workspace + loop on demand and storing it on the handle.
func (d *Daemon) ensureAgentLoop(ctx context.Context, name string) (*loop.Loop, error) {
	if l, ok := d.findLoop(name); ok {
		return l, nil
	}

	h, ok := d.agents.Get(name)
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "agent %q not found", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Re-check under the daemon mutex: a concurrent request may have won.
	if l := h.GetLoop(); l != nil {
		if al, ok := l.(*loop.Loop); ok {
			return al, nil
		}
	}

	opts := workspace.Options{
		AgentName:  name,
		AgentNames: []string{name},
		ConfigDir:  d.cfg.ConfigDir,
		Persistent: !h.Ephemeral,
		BaseURL:    d.baseURL(),
		Proposals:  d.proposals,
	}
	ws, err := workspace.CreateMinimalRuntime(ctx, opts)
	if err != nil {
		return nil, err
	}
	if h.Ephemeral {
		// Transient agents ignore anything that predates this invocation;
		// persistent ones resume from their saved cursors instead.
		if err := ws.Provider.MarkRunStart(ctx); err != nil {
			slog.Warn("run-start mark failed", "agent", name, "error", err)
		}
	}
	d.wspaces.Put(ws)

	b, err := d.BackendFactory(h.Definition)
	if err != nil {
		return nil, err
	}

	tc := toolserver.ToolContext{
		Caller:     name,
		Provider:   ws.Provider,
		AgentNames: func() []string { return []string{name} },
		Proposals:  d.proposals,
	}
	l := loop.New(h, ws.Provider, b, loop.Config{
		Tools:     toolserver.InProcessTools(ws.Mount.Tools(), tc),
		MCPURL:    ws.MCPURL,
		ToolNames: ws.ToolNames(),
	})
	h.SetLoop(l)
	return l, nil
}

// StartWorkflow creates the workspace, registers the agents, and starts
// one loop per agent. 409 when name:tag is already running.
func (d *Daemon) StartWorkflow(ctx context.Context, f *workflow.File) (*workflow.Handle, error) {
	key := f.Key()

	d.mu.Lock()
	if _, exists := d.workflows[key]; exists {
		d.mu.Unlock()
		return nil, apperr.Newf(apperr.Conflict, "workflow %q already running", key)
	}
	d.mu.Unlock()

	ws, err := workspace.CreateMinimalRuntime(ctx, workspace.Options{
		WorkflowName: f.Name,
		Tag:          f.Tag,
		AgentNames:   f.AgentNames(),
		ConfigDir:    d.cfg.ConfigDir,
		Persistent:   f.Persistent,
		BaseURL:      d.baseURL(),
		Proposals:    d.proposals,
	})
	if err != nil {
		return nil, err
	}
	if !f.Persistent {
		if err := ws.Provider.MarkRunStart(ctx); err != nil {
			slog.Warn("run-start mark failed", "workflow", key, "error", err)
		}
	}

	wf := workflow.NewHandle(f.Name, f.Tag, ws)
	names := f.AgentNames()

	for i := range f.Agents {
		def := f.Agents[i]
		h, err := d.agents.RegisterEphemeral(&def)
		if err != nil {
			_ = ws.Shutdown(ctx)
			return nil, err
		}
		b, err := d.BackendFactory(&def)
		if err != nil {
			_ = ws.Shutdown(ctx)
			return nil, err
		}
		tc := toolserver.ToolContext{
			Caller:     def.Name,
			Provider:   ws.Provider,
			AgentNames: func() []string { return names },
			Proposals:  d.proposals,
		}
		l := loop.New(h, ws.Provider, b, loop.Config{
			Tools:        toolserver.InProcessTools(ws.Mount.Tools(), tc),
			MCPURL:       ws.MCPURL,
			ToolNames:    ws.ToolNames(),
			Project:      f.Name,
			WorkflowHint: f.Hint,
			ExitGuidance: "Reply without mentioning anyone when your part is finished; acknowledge your inbox so the workflow can complete.",
		})
		h.SetLoop(l)
		wf.AddLoop(def.Name, l)
	}

	d.mu.Lock()
	d.workflows[key] = wf
	d.mu.Unlock()
	d.wspaces.Put(ws)

	if f.Kickoff != "" {
		if _, err := ws.Provider.AppendChannel(ctx, "user", f.Kickoff, chanstore.AppendOptions{}); err != nil {
			slog.Warn("kickoff append failed", "workflow", key, "error", err)
		}
	}

	wf.StartAll()
	if f.Kickoff != "" {
		// Skip the initial poll sleep so mentioned agents pick the kickoff
		// up immediately.
		for _, l := range wf.Loops() {
			l.Wake()
		}
	}

	if f.SourcePath != "" {
		watcher, err := workflow.WatchFile(f.SourcePath, func(path string) {
			slog.Info("workflow definition changed on disk; restart the instance to apply",
				"workflow", key, "path", path)
		})
		if err != nil {
			slog.Warn("workflow file watch failed", "workflow", key, "path", f.SourcePath, "error", err)
		} else {
			d.mu.Lock()
			d.watchers[key] = watcher
			d.mu.Unlock()
		}
	}

	event := message.New("system", fmt.Sprintf("workflow %s started with agents %v", key, names), nil)
	event.Kind = message.KindLog
	if err := ws.Provider.Timeline.Append(ctx, event); err != nil {
		slog.Warn("timeline append failed", "workflow", key, "error", err)
	}
	slog.Info("workflow started", "workflow", f.Name, "tag", f.Tag, "agents", len(f.Agents))
	return wf, nil
}

// StopWorkflow shuts a workflow down and removes it.
func (d *Daemon) StopWorkflow(ctx context.Context, name, tag string) error {
	key := name + ":" + tag

	d.mu.Lock()
	wf, ok := d.workflows[key]
	delete(d.workflows, key)
	watcher := d.watchers[key]
	delete(d.watchers, key)
	d.mu.Unlock()
	if !ok {
		return apperr.Newf(apperr.NotFound, "workflow %q not found", key)
	}
	if watcher != nil {
		_ = watcher.Close()
	}

	wf.StopAll()
	event := message.New("system", "workflow "+key+" stopped", nil)
	event.Kind = message.KindLog
	if err := wf.Workspace.Provider.Timeline.Append(ctx, event); err != nil {
		slog.Warn("timeline append failed", "workflow", key, "error", err)
	}
	if ws, found := d.wspaces.Remove(wf.Workspace.Key); found {
		if err := ws.Shutdown(ctx); err != nil {
			slog.Warn("workspace shutdown failed", "workflow", key, "error", err)
		}
	}
	for agentName := range wf.Loops() {
		if h, ok := d.agents.Get(agentName); ok && h.Ephemeral {
			_ = d.agents.Delete(agentName)
		}
	}
	slog.Info("workflow stopped", "workflow", name, "tag", tag)
	return nil
}

// DriveWorkflow blocks until the workflow completes (all loops idle, all
// inboxes drained, no active proposals, debounce elapsed) or the timeout
// elapses, then tears a completed workflow down. On timeout the instance is
// left running.
func (d *Daemon) DriveWorkflow(ctx context.Context, wf *workflow.Handle, timeout time.Duration) (workflow.RunResult, error) {
	result, err := workflow.Drive(ctx, wf, workflow.RunOptions{
		Timeout:   timeout,
		Proposals: d.proposals,
	})
	if err != nil {
		return result, err
	}
	if result.Complete {
		if err := d.StopWorkflow(ctx, wf.Name, wf.Tag); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Workflows returns a snapshot of running workflow handles.
func (d *Daemon) Workflows() map[string]*workflow.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*workflow.Handle, len(d.workflows))
	for k, v := range d.workflows {
		out[k] = v
	}
	return out
}

// DeleteAgent stops the agent's loop, shuts its workspace down, and
// unregisters it.
func (d *Daemon) DeleteAgent(ctx context.Context, name string) error {
	h, ok := d.agents.Get(name)
	if !ok {
		return apperr.Newf(apperr.NotFound, "agent %q not found", name)
	}
	if l := h.GetLoop(); l != nil {
		l.Stop()
	}
	if ws, found := d.wspaces.Remove("agent:" + name); found {
		if err := ws.Shutdown(ctx); err != nil {
			slog.Warn("workspace shutdown failed", "agent", name, "error", err)
		}
	}
	return d.agents.Delete(name)
}

// Shutdown performs the graceful teardown sequence: every loop, then every
// workflow, then remaining workspaces, then the discovery file.
func (d *Daemon) Shutdown(ctx context.Context) {
	d.shutdownFn.Do(func() { close(d.shutdownCh) })

	for _, h := range d.agents.List() {
		if l := h.GetLoop(); l != nil {
			l.Stop()
		}
	}

	d.mu.Lock()
	keys := make([]string, 0, len(d.workflows))
	for k := range d.workflows {
		keys = append(keys, k)
	}
	for k, watcher := range d.watchers {
		_ = watcher.Close()
		delete(d.watchers, k)
	}
	d.mu.Unlock()
	for _, key := range keys {
		d.mu.Lock()
		wf := d.workflows[key]
		delete(d.workflows, key)
		d.mu.Unlock()
		if wf != nil {
			wf.StopAll()
		}
	}

	for _, ws := range d.wspaces.All() {
		if err := ws.Shutdown(ctx); err != nil {
			slog.Warn("workspace shutdown failed", "workspace", ws.Key, "error", err)
		}
	}

	if err := RemoveDiscovery(d.cfg.ConfigDir); err != nil {
		slog.Warn("discovery file removal failed", "error", err)
	}
	slog.Info("daemon shut down", "pid", os.Getpid())
}
