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

// Package status implements the agent-status concern.
package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentworker/agentworker/pkg/storage"
)

const stateKey = "_state/agent-status.json"

// State identifies an agent's current scheduling state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// AgentStatus is one agent's current status.
type AgentStatus struct {
	State      State      `json:"state"`
	Task       string     `json:"task,omitempty"`
	LastUpdate time.Time  `json:"lastUpdate"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
}

// Store persists every agent's AgentStatus as one JSON document.
type Store struct {
	storage storage.Storage

	mu       sync.Mutex
	statuses map[string]AgentStatus
}

// New constructs a Store backed by storage.
func New(s storage.Storage) *Store {
	return &Store{storage: s, statuses: make(map[string]AgentStatus)}
}

// Load restores persisted statuses, if present.
func (s *Store) Load(ctx context.Context) error {
	raw, ok, err := s.storage.Read(ctx, stateKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var m map[string]AgentStatus
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	s.mu.Lock()
	s.statuses = m
	s.mu.Unlock()
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	data, err := json.Marshal(s.statuses)
	if err != nil {
		return err
	}
	return s.storage.Write(ctx, stateKey, string(data))
}

// Set updates agent A's status. Transitioning to running sets startedAt;
// transitioning to idle clears startedAt and task.
func (s *Store) Set(ctx context.Context, agent string, state State, task string) error {
	s.mu.Lock()
	now := time.Now()
	st := AgentStatus{State: state, Task: task, LastUpdate: now}
	switch state {
	case StateRunning:
		st.StartedAt = &now
	case StateIdle:
		st.Task = ""
		st.StartedAt = nil
	}
	s.statuses[agent] = st
	s.mu.Unlock()
	return s.persist(ctx)
}

// Get returns agent A's current status.
func (s *Store) Get(agent string) (AgentStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[agent]
	return st, ok
}

// All returns a snapshot of every agent's status.
func (s *Store) All() map[string]AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]AgentStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}
