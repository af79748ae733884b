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

// Package timeline implements the optional event-log back-reference: an
// append-only log using the identical Message
// schema and JSONL parsing rules as the channel, so that a unified view can
// merge both at read time. Unlike the channel it carries no inbox/visibility
// semantics of its own; callers decide what's worth recording here (e.g.
// tool_call and system-kind events that the channel hides from agents).
package timeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/agentworker/agentworker/pkg/message"
	"github.com/agentworker/agentworker/pkg/storage"
)

const timelineKey = "timeline.jsonl"

// Timeline is an append-only Message log independent of the channel.
type Timeline struct {
	storage storage.Storage
	mu      sync.Mutex
}

// New constructs a Timeline backed by storage.
func New(s storage.Storage) *Timeline {
	return &Timeline{storage: s}
}

// Append records one Message-shaped event.
func (t *Timeline) Append(ctx context.Context, msg message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.storage.Append(ctx, timelineKey, string(line)+"\n")
}

// All reads every event in the timeline, skipping malformed lines.
func (t *Timeline) All(ctx context.Context) ([]message.Message, error) {
	raw, ok, err := t.storage.Read(ctx, timelineKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var out []message.Message
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var m message.Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
