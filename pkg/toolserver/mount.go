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

package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	contextstore "github.com/agentworker/agentworker/pkg/context"
	"github.com/agentworker/agentworker/pkg/proposal"
)

type ctxKey int

const (
	ctxKeyAgent ctxKey = iota
	ctxKeySession
)

const sessionHeader = "Mcp-Session-Id"

// MountConfig configures one protocol mount.
type MountConfig struct {
	Name       string
	Provider   *contextstore.Provider
	Proposals  proposal.Service
	AgentNames func() []string
	// Allowed is the whitelist of agent identities this mount accepts.
	Allowed []string
}

// Mount exposes the tool registry over the MCP streamable-HTTP transport.
// A session is bound to one agent identity at initialization, derived from
// the `agent` query parameter or X-Agent-Name header and validated against
// the whitelist; subsequent requests on the session keep that identity.
type Mount struct {
	cfg     MountConfig
	defs    []ToolDef
	mcpSrv  *server.MCPServer
	httpSrv *server.StreamableHTTPServer

	mu       sync.Mutex
	allowed  map[string]bool
	sessions map[string]string // session id -> agent name
}

// NewMount builds the mount and registers every tool from the registry
// table. The table is constructed once here, at workspace boot.
func NewMount(cfg MountConfig) (*Mount, error) {
	m := &Mount{
		cfg:      cfg,
		defs:     BuildRegistry(),
		allowed:  make(map[string]bool, len(cfg.Allowed)),
		sessions: make(map[string]string),
	}
	for _, name := range cfg.Allowed {
		m.allowed[name] = true
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(m.onRegisterSession)
	hooks.AddOnUnregisterSession(m.onUnregisterSession)

	m.mcpSrv = server.NewMCPServer(cfg.Name, "1.0.0",
		server.WithToolCapabilities(false),
		server.WithHooks(hooks),
	)

	for _, def := range m.defs {
		def := def
		raw, err := json.Marshal(def.Schema)
		if err != nil {
			return nil, err
		}
		tool := mcp.NewToolWithRawSchema(def.Name, def.Description, raw)
		m.mcpSrv.AddTool(tool, m.wrap(def))
	}

	m.httpSrv = server.NewStreamableHTTPServer(m.mcpSrv,
		server.WithHTTPContextFunc(m.httpContext),
	)
	return m, nil
}

// Tools returns the registry table backing this mount.
func (m *Mount) Tools() []ToolDef { return m.defs }

// ToolNames returns the exposed tool names in table order.
func (m *Mount) ToolNames() []string { return Names(m.defs) }

// Handler returns the HTTP handler to mount at the protocol path.
func (m *Mount) Handler() http.Handler { return m.httpSrv }

// AllowAgents extends the identity whitelist after boot.
func (m *Mount) AllowAgents(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.allowed[n] = true
	}
}

// Shutdown releases all sessions.
func (m *Mount) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.sessions = make(map[string]string)
	m.mu.Unlock()
	return nil
}

// httpContext stashes the declared agent identity and session id on the
// request context before the protocol layer dispatches it.
func (m *Mount) httpContext(ctx context.Context, r *http.Request) context.Context {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		agent = r.Header.Get("X-Agent-Name")
	}
	ctx = context.WithValue(ctx, ctxKeyAgent, agent)
	return context.WithValue(ctx, ctxKeySession, r.Header.Get(sessionHeader))
}

// onRegisterSession binds the session to the identity declared at
// initialization. Unknown identities leave the session unbound; every tool
// call on it will fail identity resolution.
func (m *Mount) onRegisterSession(ctx context.Context, session server.ClientSession) {
	agent, _ := ctx.Value(ctxKeyAgent).(string)
	if agent == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.allowed[agent] {
		return
	}
	m.sessions[session.SessionID()] = agent
}

func (m *Mount) onUnregisterSession(ctx context.Context, session server.ClientSession) {
	m.mu.Lock()
	delete(m.sessions, session.SessionID())
	m.mu.Unlock()
}

// caller resolves the calling agent for a dispatched request: the session
// binding wins; a directly-declared whitelisted identity is accepted for
// sessionless clients.
func (m *Mount) caller(ctx context.Context) (string, bool) {
	sessionID, _ := ctx.Value(ctxKeySession).(string)
	declared, _ := ctx.Value(ctxKeyAgent).(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID != "" {
		if agent, ok := m.sessions[sessionID]; ok {
			return agent, true
		}
	}
	if declared != "" && m.allowed[declared] {
		return declared, true
	}
	return "", false
}

func (m *Mount) wrap(def ToolDef) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller, ok := m.caller(ctx)
		if !ok {
			return mcp.NewToolResultError("unknown or unbound agent identity"), nil
		}
		tc := ToolContext{
			Caller:     caller,
			Provider:   m.cfg.Provider,
			AgentNames: m.cfg.AgentNames,
			Proposals:  m.cfg.Proposals,
		}
		out, err := def.Handler(ctx, tc, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
