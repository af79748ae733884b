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
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// HandleState is the runtime state stored on a handle.
type HandleState string

const (
	StateIdle    HandleState = "idle"
	StateRunning HandleState = "running"
	StateStopped HandleState = "stopped"
	StateError   HandleState = "error"
)

// contextSubdirs is the persistent context subtree every non-ephemeral
// agent owns.
var contextSubdirs = []string{"memory", "notes", "todo", "conversations"}

const conversationLogPath = "conversations/personal.jsonl"

// Loop is the subset of the agent loop the handle needs to own it. Defined
// here so the handle is the identity root without importing the scheduler.
type Loop interface {
	Start()
	Stop()
	Wake()
}

// Handle is the runtime wrapper around a Definition. It owns the agent's
// persistent context dir, conversation log, thin thread, and (mutable,
// nullable) loop reference. Loop mutation happens only inside daemon-scope
// critical sections.
type Handle struct {
	Definition *Definition
	ContextDir string
	Ephemeral  bool
	Thread     *ThinThread

	mu    sync.Mutex
	loop  Loop
	state HandleState

	logMu          sync.Mutex
	threadRestored bool
}

// NewHandle wraps def. For non-ephemeral handles the context dir subtree is
// created on first use via EnsureContextDirs.
func NewHandle(def *Definition, contextDir string, ephemeral bool) *Handle {
	return &Handle{
		Definition: def,
		ContextDir: contextDir,
		Ephemeral:  ephemeral,
		Thread:     NewThinThread(DefaultThinThreadCapacity),
		state:      StateIdle,
	}
}

// Name returns the agent name.
func (h *Handle) Name() string { return h.Definition.Name }

// EnsureContextDirs creates memory/, notes/, todo/, conversations/ under the
// context dir. No-op for ephemeral handles.
func (h *Handle) EnsureContextDirs() error {
	if h.Ephemeral || h.ContextDir == "" {
		return nil
	}
	for _, sub := range contextSubdirs {
		if err := os.MkdirAll(filepath.Join(h.ContextDir, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// SetLoop stores the loop reference. The handle owns its loop exclusively;
// a prior loop must be stopped by the caller before replacement.
func (h *Handle) SetLoop(l Loop) {
	h.mu.Lock()
	h.loop = l
	h.mu.Unlock()
}

// GetLoop returns the current loop reference, or nil.
func (h *Handle) GetLoop() Loop {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loop
}

// SetState updates the handle's runtime state.
func (h *Handle) SetState(s HandleState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// State returns the handle's runtime state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// AppendConversation records one user/assistant exchange: both entries go
// to the persisted conversation log (unless ephemeral) and onto the thin
// thread ring.
func (h *Handle) AppendConversation(ctx context.Context, msgs ...ConversationMessage) error {
	for _, m := range msgs {
		if m.Timestamp == "" {
			m.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
		}
		h.Thread.Push(m)
		if h.Ephemeral || h.ContextDir == "" {
			continue
		}
		line, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := h.appendLogLine(string(line)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handle) appendLogLine(line string) error {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	path := filepath.Join(h.ContextDir, conversationLogPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

// RestoreThread lazily rebuilds the thin thread from the tail of the
// persisted conversation log. Safe to call repeatedly; only the first call
// reads the file.
func (h *Handle) RestoreThread() error {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	if h.threadRestored || h.Ephemeral || h.ContextDir == "" {
		h.threadRestored = true
		return nil
	}
	h.threadRestored = true

	data, err := os.ReadFile(filepath.Join(h.ContextDir, conversationLogPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var msgs []ConversationMessage
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var m ConversationMessage
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	h.Thread.Restore(msgs)
	return nil
}

// ConversationTail returns up to n of the most recent persisted
// conversation messages, oldest first. Ephemeral handles persist nothing;
// for them it returns the whole thin thread.
func (h *Handle) ConversationTail(n int) ([]ConversationMessage, error) {
	if h.Ephemeral || h.ContextDir == "" {
		return h.Thread.Messages(), nil
	}
	data, err := os.ReadFile(filepath.Join(h.ContextDir, conversationLogPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var msgs []ConversationMessage
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var m ConversationMessage
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// OpenTodos parses todo/index.md and returns lines that are open items
// ("- [ ] …").
func (h *Handle) OpenTodos() ([]string, error) {
	if h.Ephemeral || h.ContextDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(h.ContextDir, "todo", "index.md"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var open []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- [ ]") {
			open = append(open, strings.TrimSpace(strings.TrimPrefix(trimmed, "- [ ]")))
		}
	}
	return open, nil
}
