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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworker/agentworker/pkg/agent"
	"github.com/agentworker/agentworker/pkg/backend"
	"github.com/agentworker/agentworker/pkg/config"
)

func newTestDaemon(t *testing.T, token string) (*Daemon, *httptest.Server) {
	t.Helper()
	d := New(config.DaemonConfig{
		Host:      "127.0.0.1",
		Port:      0,
		Token:     token,
		ConfigDir: t.TempDir(),
	})
	d.BackendFactory = func(def *agent.Definition) (backend.Backend, error) {
		return backend.MockReplies("mock reply"), nil
	}
	srv := httptest.NewServer(d.Router())
	t.Cleanup(srv.Close)
	return d, srv
}

func doRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	_, srv := newTestDaemon(t, "")
	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	decodeBody(t, resp, &health)
	assert.NotZero(t, health["pid"])
	assert.NotNil(t, health["agents"])
}

func TestAuth(t *testing.T) {
	_, srv := newTestDaemon(t, "sekrit")

	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/health", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/health", "sekrit", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAgentCRUD(t *testing.T) {
	_, srv := newTestDaemon(t, "")

	create := map[string]any{"name": "alice", "model": "m1", "backend": "mock", "system": "be helpful"}
	resp := doRequest(t, http.MethodPost, srv.URL+"/agents", "", create)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, srv.URL+"/agents", "", create)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/agents/alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var details map[string]any
	decodeBody(t, resp, &details)
	assert.Equal(t, false, details["ephemeral"])

	resp = doRequest(t, http.MethodGet, srv.URL+"/agents/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/agents", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	decodeBody(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0]["name"])

	resp = doRequest(t, http.MethodDelete, srv.URL+"/agents/alice", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodDelete, srv.URL+"/agents/alice", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestMalformedJSON(t *testing.T) {
	_, srv := newTestDaemon(t, "")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/agents", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_DirectTurn(t *testing.T) {
	_, srv := newTestDaemon(t, "")

	resp := doRequest(t, http.MethodPost, srv.URL+"/agents", "", map[string]any{"name": "alice", "backend": "mock"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, srv.URL+"/serve", "", map[string]string{"agent": "alice", "message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Success bool   `json:"success"`
		Content string `json:"content"`
	}
	decodeBody(t, resp, &result)
	assert.True(t, result.Success)
	assert.Equal(t, "mock reply", result.Content)

	resp = doRequest(t, http.MethodPost, srv.URL+"/serve", "", map[string]string{"agent": "ghost", "message": "hello"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRun_StreamsEvents(t *testing.T) {
	_, srv := newTestDaemon(t, "")

	resp := doRequest(t, http.MethodPost, srv.URL+"/agents", "", map[string]any{"name": "alice", "backend": "mock"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, srv.URL+"/run", "", map[string]string{"agent": "alice", "message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: chunk")
	assert.Contains(t, string(body), "event: done")
	assert.Contains(t, string(body), "mock reply")
}

func workflowBody() map[string]any {
	return map[string]any{
		"name": "team",
		"tag":  "main",
		"agents": []map[string]any{
			{"name": "a", "backend": "mock"},
			{"name": "b", "backend": "mock"},
		},
		"kickoff": "@a start",
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	_, srv := newTestDaemon(t, "")

	resp := doRequest(t, http.MethodPost, srv.URL+"/workflows", "", workflowBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, srv.URL+"/workflows", "", workflowBody())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/workflows", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []struct {
		Name   string            `json:"name"`
		Tag    string            `json:"tag"`
		Agents map[string]string `json:"agents"`
	}
	decodeBody(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "team", list[0].Name)
	assert.Len(t, list[0].Agents, 2)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/workflows/team/main", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/workflows", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = nil
	decodeBody(t, resp, &list)
	assert.Empty(t, list)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/workflows/team/main", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestDiscoveryFile(t *testing.T) {
	dir := t.TempDir()
	info := DiscoveryInfo{PID: 999999999, Host: "127.0.0.1", Port: 7777, StartedAt: 1}
	require.NoError(t, WriteDiscovery(dir, info))

	// A dead pid is GC'd on read.
	got, err := ReadDiscovery(dir)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoFileExists(t, config.DiscoveryPath(dir))

	// A live pid round-trips.
	live := DiscoveryInfo{PID: os.Getpid(), Host: "127.0.0.1", Port: 7777, StartedAt: 1, Token: "tok"}
	require.NoError(t, WriteDiscovery(dir, live))
	got, err = ReadDiscovery(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok", got.Token)

	require.NoError(t, RemoveDiscovery(dir))
	require.NoError(t, RemoveDiscovery(dir))
}

// Run mode: the daemon drives the workflow to idle-termination with the
// full completion check and tears it down before responding.
func TestWorkflowRunMode(t *testing.T) {
	_, srv := newTestDaemon(t, "")

	body := workflowBody()
	body["run"] = true
	body["timeoutSec"] = 30

	resp := doRequest(t, http.MethodPost, srv.URL+"/workflows", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Complete bool `json:"complete"`
		TimedOut bool `json:"timedOut"`
	}
	decodeBody(t, resp, &result)
	assert.True(t, result.Complete)
	assert.False(t, result.TimedOut)

	resp = doRequest(t, http.MethodGet, srv.URL+"/workflows", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []any
	decodeBody(t, resp, &list)
	assert.Empty(t, list, "completed run-mode workflow is torn down")
}

// A sourcePath in the start request registers a file watcher for the
// instance's lifetime; stopping the workflow releases it.
func TestWorkflowSourceWatch(t *testing.T) {
	d, srv := newTestDaemon(t, "")

	path := filepath.Join(t.TempDir(), "team.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: team\n"), 0o644))

	body := workflowBody()
	body["sourcePath"] = path
	resp := doRequest(t, http.MethodPost, srv.URL+"/workflows", "", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	d.mu.Lock()
	_, watching := d.watchers["team:main"]
	d.mu.Unlock()
	assert.True(t, watching)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/workflows/team/main", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	d.mu.Lock()
	_, watching = d.watchers["team:main"]
	d.mu.Unlock()
	assert.False(t, watching)
}
