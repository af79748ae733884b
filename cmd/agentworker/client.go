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

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/agentworker/agentworker/pkg/daemon"
	"github.com/agentworker/agentworker/pkg/workflow"
)

var errInterrupted = errors.New("interrupted")

// client talks to a running daemon over its control plane.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

// dialDaemon locates the daemon through the discovery file.
func dialDaemon(configDir string) (*client, error) {
	info, err := daemon.ReadDiscovery(configDir)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("no daemon is running (start one with `agentworker daemon`)")
	}
	return &client{
		baseURL: fmt.Sprintf("http://%s:%d", info.Host, info.Port),
		token:   info.Token,
		http:    &http.Client{Timeout: 15 * time.Minute},
	}, nil
}

func (c *client) do(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func (c *client) doJSON(method, path string, body, out any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			return errors.New(errBody.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *client) Health(w io.Writer) error {
	var health map[string]any
	if err := c.doJSON(http.MethodGet, "/health", nil, &health); err != nil {
		return err
	}
	fmt.Fprintf(w, "daemon pid %v, up %v, port %v\n", health["pid"], health["uptime"], health["port"])
	if agents, ok := health["agents"].([]any); ok && len(agents) > 0 {
		fmt.Fprintf(w, "agents: %v\n", joinAny(agents))
	}
	if workflows, ok := health["workflows"].([]any); ok && len(workflows) > 0 {
		fmt.Fprintf(w, "workflows: %v\n", joinAny(workflows))
	}
	return nil
}

func joinAny(items []any) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprint(it))
	}
	return strings.Join(parts, ", ")
}

func (c *client) CreateAgent(name, model, backendName, system string) error {
	return c.doJSON(http.MethodPost, "/agents", map[string]any{
		"name":    name,
		"model":   model,
		"backend": backendName,
		"system":  system,
	}, nil)
}

func (c *client) ListAgents(w io.Writer) error {
	var agents []struct {
		Name     string `json:"name"`
		Model    string `json:"model"`
		State    string `json:"state"`
		Workflow string `json:"workflow"`
	}
	if err := c.doJSON(http.MethodGet, "/agents", nil, &agents); err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Fprintln(w, "no agents registered")
		return nil
	}
	for _, a := range agents {
		line := fmt.Sprintf("%-20s %-10s", a.Name, a.State)
		if a.Workflow != "" {
			line += " " + a.Workflow
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	return nil
}

func (c *client) ShutdownDaemon() error {
	return c.doJSON(http.MethodPost, "/shutdown", map[string]any{}, nil)
}

// StopWorkflow parses "@name[:tag]".
func (c *client) StopWorkflow(target string) error {
	target = strings.TrimPrefix(target, "@")
	name, tag := target, workflow.DefaultTag
	if idx := strings.IndexByte(target, ':'); idx >= 0 {
		name, tag = target[:idx], target[idx+1:]
	}
	return c.doJSON(http.MethodDelete, "/workflows/"+name+"/"+tag, nil, nil)
}

func (c *client) Send(agentName, message string, w io.Writer) error {
	var result struct {
		Success bool   `json:"success"`
		Content string `json:"content"`
		Error   string `json:"error"`
	}
	if err := c.doJSON(http.MethodPost, "/serve", map[string]string{
		"agent":   agentName,
		"message": message,
	}, &result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("agent turn failed: %s", result.Error)
	}
	fmt.Fprintln(w, result.Content)
	return nil
}

func (c *client) Peek(agentName string, w io.Writer) error {
	var out struct {
		Conversation []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"conversation"`
	}
	if err := c.doJSON(http.MethodGet, "/agents/"+agentName+"/conversation", nil, &out); err != nil {
		return err
	}
	if len(out.Conversation) == 0 {
		fmt.Fprintln(w, "no conversation yet")
		return nil
	}
	for _, m := range out.Conversation {
		fmt.Fprintf(w, "%s: %s\n", m.Role, m.Content)
	}
	return nil
}

func (c *client) loadWorkflowFile(path string) (*workflow.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := workflow.ParseFile(data)
	if err != nil {
		return nil, err
	}
	// The daemon watches the source file while the instance runs.
	if abs, err := filepath.Abs(path); err == nil {
		f.SourcePath = abs
	}
	return f, nil
}

func (c *client) StartWorkflow(path string, w io.Writer) error {
	f, err := c.loadWorkflowFile(path)
	if err != nil {
		return err
	}
	if err := c.doJSON(http.MethodPost, "/workflows", f, nil); err != nil {
		return err
	}
	fmt.Fprintf(w, "started workflow %s:%s with %d agent(s)\n", f.Name, f.Tag, len(f.Agents))
	return nil
}

// RunWorkflow asks the daemon to drive the workflow to idle-termination.
// The daemon owns the completion decision (all loops idle, inboxes drained,
// no active proposals, debounce elapsed); the client just waits for the
// blocking response, stopping the instance on interrupt.
func (c *client) RunWorkflow(path string, timeoutSec int, w io.Writer) error {
	f, err := c.loadWorkflowFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "running workflow %s:%s...\n", f.Name, f.Tag)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	body := struct {
		*workflow.File
		Run        bool `json:"run"`
		TimeoutSec int  `json:"timeoutSec,omitempty"`
	}{File: f, Run: true, TimeoutSec: timeoutSec}

	var result struct {
		Complete bool   `json:"complete"`
		TimedOut bool   `json:"timedOut"`
		Elapsed  string `json:"elapsed"`
	}
	done := make(chan error, 1)
	go func() {
		done <- c.doJSON(http.MethodPost, "/workflows", body, &result)
	}()

	select {
	case <-sigCh:
		_ = c.StopWorkflow(f.Name + ":" + f.Tag)
		return errInterrupted
	case err := <-done:
		if err != nil {
			return err
		}
	}

	if result.TimedOut {
		fmt.Fprintln(w, "timeout waiting for workflow completion (left running)")
		return nil
	}
	fmt.Fprintf(w, "workflow %s:%s complete in %s\n", f.Name, f.Tag, result.Elapsed)
	return nil
}
