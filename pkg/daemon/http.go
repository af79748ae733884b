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

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentworker/agentworker/pkg/agent"
	"github.com/agentworker/agentworker/pkg/apperr"
	"github.com/agentworker/agentworker/pkg/loop"
	"github.com/agentworker/agentworker/pkg/metrics"
	"github.com/agentworker/agentworker/pkg/workflow"
)

// Router builds the control-plane HTTP handler.
func (d *Daemon) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(d.metricsMiddleware)
	r.Use(d.authMiddleware)

	r.Get("/health", d.handleHealth)
	r.Post("/shutdown", d.handleShutdown)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/agents", d.handleListAgents)
	r.Post("/agents", d.handleCreateAgent)
	r.Get("/agents/{name}", d.handleGetAgent)
	r.Delete("/agents/{name}", d.handleDeleteAgent)
	r.Get("/agents/{name}/conversation", d.handleAgentConversation)

	r.Post("/run", d.handleRun)
	r.Post("/serve", d.handleServe)

	r.Handle("/mcp", http.HandlerFunc(d.handleMCP))
	r.Handle("/mcp/*", http.HandlerFunc(d.handleMCP))

	r.Post("/workflows", d.handleStartWorkflow)
	r.Get("/workflows", d.handleListWorkflows)
	r.Delete("/workflows/{name}/{tag}", d.handleStopWorkflow)

	return r
}

// ListenAndServe runs the control plane until ctx is cancelled or a
// shutdown request arrives, then tears the daemon down gracefully.
func (d *Daemon) ListenAndServe(ctx context.Context) error {
	info := DiscoveryInfo{
		PID:       os.Getpid(),
		Host:      d.cfg.Host,
		Port:      d.cfg.Port,
		StartedAt: d.startedAt.UnixMilli(),
		Token:     d.cfg.Token,
	}
	if err := WriteDiscovery(d.cfg.ConfigDir, info); err != nil {
		return fmt.Errorf("cannot write discovery file: %w", err)
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port),
		Handler:     d.Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("daemon listening", "host", d.cfg.Host, "port", d.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		d.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	case <-d.shutdownCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	d.Shutdown(shutdownCtx)
	return nil
}

func (d *Daemon) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.Token != "" {
			header := r.Header.Get("Authorization")
			if header != "Bearer "+d.cfg.Token {
				writeError(w, apperr.New(apperr.Unauthorized, "missing or invalid bearer token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (d *Daemon) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if ctx := chi.RouteContext(r.Context()); ctx != nil && ctx.RoutePattern() != "" {
			route = ctx.RoutePattern()
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

func httpStatus(code apperr.Code) int {
	switch code {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.AlreadyExists, apperr.Conflict:
		return http.StatusConflict
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.Invalid:
		return http.StatusBadRequest
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	case apperr.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(apperr.CodeOf(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.Invalid, "malformed JSON body", err)
	}
	return nil
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	workflows := make([]string, 0)
	for key := range d.Workflows() {
		workflows = append(workflows, key)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pid":       os.Getpid(),
		"uptime":    time.Since(d.startedAt).String(),
		"port":      d.cfg.Port,
		"agents":    d.agents.Names(),
		"workflows": workflows,
	})
}

func (d *Daemon) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	// Schedule after the response is flushed.
	go func() {
		time.Sleep(100 * time.Millisecond)
		d.shutdownFn.Do(func() { close(d.shutdownCh) })
	}()
}

type agentSummary struct {
	Name     string `json:"name"`
	Model    string `json:"model,omitempty"`
	Backend  string `json:"backend,omitempty"`
	State    string `json:"state"`
	Workflow string `json:"workflow,omitempty"`
}

func (d *Daemon) handleListAgents(w http.ResponseWriter, r *http.Request) {
	byName := make(map[string]*agentSummary)
	for _, h := range d.agents.List() {
		state := string(h.State())
		if l := h.GetLoop(); l == nil {
			state = string(agent.StateIdle)
		}
		byName[h.Name()] = &agentSummary{
			Name:    h.Name(),
			Model:   h.Definition.Model,
			Backend: h.Definition.Backend,
			State:   state,
		}
	}
	for key, wf := range d.Workflows() {
		for name, l := range wf.Loops() {
			if s, ok := byName[name]; ok {
				s.Workflow = key
				s.State = string(l.State())
			} else {
				byName[name] = &agentSummary{Name: name, State: string(l.State()), Workflow: key}
			}
		}
	}
	out := make([]*agentSummary, 0, len(byName))
	for _, name := range sortedKeys(byName) {
		out = append(out, byName[name])
	}
	writeJSON(w, http.StatusOK, out)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

type createAgentRequest struct {
	Name     string         `json:"name"`
	Model    string         `json:"model"`
	System   string         `json:"system"`
	Backend  string         `json:"backend"`
	Provider map[string]any `json:"provider"`
	Workflow string         `json:"workflow"`
	Tag      string         `json:"tag"`
	Schedule string         `json:"schedule"`
}

func (d *Daemon) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, apperr.New(apperr.Invalid, "name is required"))
		return
	}
	if _, exists := d.agents.Get(req.Name); exists {
		writeError(w, apperr.Newf(apperr.AlreadyExists, "agent %q already exists", req.Name))
		return
	}

	def := &agent.Definition{
		Name:           req.Name,
		Model:          req.Model,
		Backend:        req.Backend,
		ProviderConfig: req.Provider,
		SystemPrompt:   req.System,
		Schedule:       req.Schedule,
	}
	if _, err := d.agents.Create(def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (d *Daemon) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h, ok := d.agents.Get(name)
	if !ok {
		writeError(w, apperr.Newf(apperr.NotFound, "agent %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"definition": h.Definition,
		"state":      h.State(),
		"ephemeral":  h.Ephemeral,
		"contextDir": h.ContextDir,
	})
}

func (d *Daemon) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := d.DeleteAgent(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (d *Daemon) handleAgentConversation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h, ok := d.agents.Get(name)
	if !ok {
		writeError(w, apperr.Newf(apperr.NotFound, "agent %q not found", name))
		return
	}
	tail, err := h.ConversationTail(50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thinThread":   h.Thread.Messages(),
		"conversation": tail,
	})
}

type sendRequest struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

func (d *Daemon) handleServe(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Agent == "" || req.Message == "" {
		writeError(w, apperr.New(apperr.Invalid, "agent and message are required"))
		return
	}

	l, err := d.ensureAgentLoop(r.Context(), req.Agent)
	if err != nil {
		writeError(w, err)
		return
	}
	result := l.SendDirect(r.Context(), req.Message)
	writeJSON(w, http.StatusOK, result)
}

// handleRun streams a direct-send turn as server-sent events with named
// events chunk, done, error.
func (d *Daemon) handleRun(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Agent == "" || req.Message == "" {
		writeError(w, apperr.New(apperr.Invalid, "agent and message are required"))
		return
	}

	l, err := d.ensureAgentLoop(r.Context(), req.Agent)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperr.New(apperr.Transient, "streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	result := l.SendDirect(r.Context(), req.Message)
	if result.Error != "" && !result.Success {
		writeSSE(w, flusher, "error", map[string]string{"error": result.Error})
		return
	}
	if result.Content != "" {
		writeSSE(w, flusher, "chunk", map[string]string{"content": result.Content})
	}
	writeSSE(w, flusher, "done", result)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// handleMCP routes protocol traffic to the owning workspace's tool mount.
// The workspace is selected by the `workspace` query parameter; with a
// single live workspace the parameter may be omitted.
func (d *Daemon) handleMCP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("workspace")
	if key == "" {
		all := d.wspaces.All()
		if len(all) == 1 {
			all[0].Mount.Handler().ServeHTTP(w, r)
			return
		}
		writeError(w, apperr.New(apperr.Invalid, "workspace query parameter is required"))
		return
	}
	ws, ok := d.wspaces.Get(key)
	if !ok {
		writeError(w, apperr.Newf(apperr.NotFound, "workspace %q not found", key))
		return
	}
	ws.Mount.Handler().ServeHTTP(w, r)
}

type startWorkflowRequest struct {
	workflow.File

	// Run drives the workflow to idle-termination before responding, then
	// tears it down; on timeout the instance is left running.
	Run        bool `json:"run,omitempty"`
	TimeoutSec int  `json:"timeoutSec,omitempty"`
}

func (d *Daemon) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || len(req.Agents) == 0 {
		writeError(w, apperr.New(apperr.Invalid, "name and agents are required"))
		return
	}
	if req.Tag == "" {
		req.Tag = workflow.DefaultTag
	}
	for i := range req.Agents {
		if err := req.Agents[i].Validate(); err != nil {
			writeError(w, apperr.Wrap(apperr.Invalid, "invalid agent", err))
			return
		}
	}

	wf, err := d.StartWorkflow(r.Context(), &req.File)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Run {
		timeout := time.Duration(req.TimeoutSec) * time.Second
		result, err := d.DriveWorkflow(r.Context(), wf, timeout)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"workflow": wf.Name,
			"tag":      wf.Tag,
			"agents":   agentNames(wf),
			"complete": result.Complete,
			"timedOut": result.TimedOut,
			"elapsed":  result.Elapsed.String(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"workflow": wf.Name,
		"tag":      wf.Tag,
		"agents":   agentNames(wf),
	})
}

func agentNames(wf *workflow.Handle) []string {
	names := make([]string, 0)
	for name := range wf.Loops() {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

func (d *Daemon) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	type workflowInfo struct {
		Name   string                `json:"name"`
		Tag    string                `json:"tag"`
		Agents map[string]loop.State `json:"agents"`
	}
	out := make([]workflowInfo, 0)
	for _, wf := range d.Workflows() {
		out = append(out, workflowInfo{Name: wf.Name, Tag: wf.Tag, Agents: wf.AgentStates()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Daemon) handleStopWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")
	if err := d.StopWorkflow(r.Context(), name, tag); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stopped": name + ":" + tag})
}

// ParseWorkflowBody trims surrounding whitespace from a YAML workflow file
// and parses it into the request shape the control plane accepts.
func ParseWorkflowBody(data []byte) (*workflow.File, error) {
	expanded := []byte(strings.TrimSpace(string(data)))
	return workflow.ParseFile(expanded)
}
