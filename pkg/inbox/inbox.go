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

// Package inbox implements the inbox concern: per-agent read/seen cursors
// over the shared channel, plus the run-epoch floor used to hide messages
// that predate the current process invocation.
package inbox

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/agentworker/agentworker/pkg/chanstore"
	"github.com/agentworker/agentworker/pkg/message"
	"github.com/agentworker/agentworker/pkg/storage"
)

const stateKey = "_state/inbox.json"

// Priority classifies an inbox item's urgency.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Item is one entry in an agent's inbox view.
type Item struct {
	message.Message
	Priority Priority `json:"priority"`
	Seen     bool     `json:"seen"`
}

// state is the persisted {readCursors, seenCursors} document.
type state struct {
	ReadCursors map[string]string `json:"readCursors"`
	SeenCursors map[string]string `json:"seenCursors"`
}

// Store maintains inbox cursors for every agent of one channel.
type Store struct {
	storage storage.Storage
	channel *chanstore.ChannelStore

	mu            sync.Mutex
	state         state
	runStartIndex int
}

// New constructs an inbox Store. It does not load persisted cursors; call
// Load for that (persistent workspaces do so at startup).
func New(store storage.Storage, channel *chanstore.ChannelStore) *Store {
	return &Store{
		storage: store,
		channel: channel,
		state: state{
			ReadCursors: make(map[string]string),
			SeenCursors: make(map[string]string),
		},
	}
}

// Load restores persisted cursors from storage, if present.
func (s *Store) Load(ctx context.Context) error {
	raw, ok, err := s.storage.Read(ctx, stateKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var st state
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil // corrupt state file: start clean rather than fail the whole store
	}
	if st.ReadCursors == nil {
		st.ReadCursors = make(map[string]string)
	}
	if st.SeenCursors == nil {
		st.SeenCursors = make(map[string]string)
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	return s.storage.Write(ctx, stateKey, string(data))
}

// MarkRunStart records the current channel length as the floor below which
// getInbox never returns entries, for this process invocation.
func (s *Store) MarkRunStart(ctx context.Context) error {
	entries, err := s.channel.Sync(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.runStartIndex = len(entries)
	s.mu.Unlock()
	return nil
}

// GetInbox computes agent A's filtered, prioritized, seen-annotated inbox.
func (s *Store) GetInbox(ctx context.Context, agent string) ([]Item, error) {
	entries, err := s.channel.Sync(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	floor := s.runStartIndex
	readCursor, hasRead := s.state.ReadCursors[agent]
	seenCursor, hasSeen := s.state.SeenCursors[agent]
	s.mu.Unlock()

	if floor > 0 && floor <= len(entries) {
		entries = entries[floor:]
	}

	if hasRead {
		idx := indexOf(entries, readCursor)
		if idx >= 0 {
			entries = entries[idx+1:]
		}
		// stale cursor (id not found): keep all entries.
	}

	seenIdx := -1
	if hasSeen {
		seenIdx = indexOf(entries, seenCursor)
	}

	items := make([]Item, 0, len(entries))
	for i, m := range entries {
		if !message.InInbox(m, agent) {
			continue
		}
		priority := PriorityNormal
		if message.HighPriority(m) {
			priority = PriorityHigh
		}
		items = append(items, Item{
			Message:  m,
			Priority: priority,
			Seen:     seenIdx >= 0 && i <= seenIdx,
		})
	}
	return items, nil
}

func indexOf(entries []message.Message, id string) int {
	for i, m := range entries {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Ack advances agent A's read cursor to untilID. Idempotent.
func (s *Store) Ack(ctx context.Context, agent, untilID string) error {
	s.mu.Lock()
	s.state.ReadCursors[agent] = untilID
	s.mu.Unlock()
	return s.persist(ctx)
}

// MarkSeen advances agent A's seen cursor to untilID. Idempotent.
func (s *Store) MarkSeen(ctx context.Context, agent, untilID string) error {
	s.mu.Lock()
	s.state.SeenCursors[agent] = untilID
	s.mu.Unlock()
	return s.persist(ctx)
}

// Destroy deletes all persisted cursors. Used for non-persistent workspace
// teardown: channel and documents are always preserved, only
// transient inbox cursors are cleared.
func (s *Store) Destroy(ctx context.Context) error {
	s.mu.Lock()
	s.state = state{ReadCursors: make(map[string]string), SeenCursors: make(map[string]string)}
	s.runStartIndex = 0
	s.mu.Unlock()
	return s.storage.Delete(ctx, stateKey)
}
