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

// Package chanstore implements the channel concern: an append-only,
// newline-delimited-JSON log of Messages shared by every agent of one
// workflow+tag.
package chanstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/agentworker/agentworker/pkg/message"
	"github.com/agentworker/agentworker/pkg/storage"
)

const channelKey = "channel.jsonl"

// AppendOptions customizes an append call.
type AppendOptions struct {
	To   string
	Kind message.Kind
}

// ReadOptions customizes a read call.
type ReadOptions struct {
	Agent string // if set, applies the visibility filter for this agent
	Since string // RFC3339Nano timestamp lower bound, exclusive
	Limit int    // if > 0, keep only the last Limit matching entries
}

// ChannelStore owns one channel's JSONL log plus the in-memory cache used to
// serve sync()/tail() without re-reading the whole file on every poll.
type ChannelStore struct {
	store storage.Storage

	appendMu sync.Mutex // serializes appends so each JSONL line stays atomic

	cacheMu    sync.RWMutex
	cache      []message.Message
	offset     int64
	validAgent func() map[string]bool

	group singleflight.Group
}

// New constructs a ChannelStore backed by store. validAgents is called lazily
// on every append to get the current valid-agent set (workflows can register
// agents after the store is created).
func New(store storage.Storage, validAgents func() map[string]bool) *ChannelStore {
	return &ChannelStore{store: store, validAgent: validAgents}
}

// Append assigns an id + timestamp, extracts mentions, serializes to one
// JSONL line, and appends it. Appends are serialized per channel.
func (c *ChannelStore) Append(ctx context.Context, from, content string, opts AppendOptions) (message.Message, error) {
	c.appendMu.Lock()
	defer c.appendMu.Unlock()

	var valid map[string]bool
	if c.validAgent != nil {
		valid = c.validAgent()
	}

	msg := message.New(from, content, valid)
	msg.To = opts.To
	if opts.Kind != "" {
		msg.Kind = opts.Kind
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return message.Message{}, err
	}
	if err := c.store.Append(ctx, channelKey, string(line)+"\n"); err != nil {
		return message.Message{}, err
	}

	// The cache is refreshed from the log rather than updated in place, so
	// the byte offset stays consistent with lines other writers appended
	// since the last sync.
	if _, err := c.Sync(ctx); err != nil {
		return message.Message{}, err
	}

	return msg, nil
}

// Read returns entries matching the given options.
func (c *ChannelStore) Read(ctx context.Context, opts ReadOptions) ([]message.Message, error) {
	all, err := c.Sync(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]message.Message, 0, len(all))
	for _, m := range all {
		if opts.Agent != "" && !message.VisibleTo(m, opts.Agent) {
			continue
		}
		if opts.Since != "" && m.Timestamp <= opts.Since {
			continue
		}
		out = append(out, m)
	}

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

// Tail returns entries after index cursor plus the new cursor (== length).
func (c *ChannelStore) Tail(ctx context.Context, cursor int) (entries []message.Message, newCursor int, err error) {
	all, err := c.Sync(ctx)
	if err != nil {
		return nil, cursor, err
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(all) {
		return nil, len(all), nil
	}
	return append([]message.Message{}, all[cursor:]...), len(all), nil
}

// Sync performs a single-flight incremental read of new JSONL bytes past the
// last offset, merges them into the cache, and returns the full cached
// entry list. Concurrent callers share one in-flight read.
func (c *ChannelStore) Sync(ctx context.Context) ([]message.Message, error) {
	v, err, _ := c.group.Do("sync", func() (any, error) {
		c.cacheMu.RLock()
		offset := c.offset
		c.cacheMu.RUnlock()

		chunk, newOffset, err := c.store.ReadFrom(ctx, channelKey, offset)
		if err != nil {
			return nil, err
		}

		var parsed []message.Message
		if chunk != "" {
			for _, line := range strings.Split(chunk, "\n") {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				var m message.Message
				if err := json.Unmarshal([]byte(line), &m); err != nil {
					// Malformed JSONL lines are skipped silently.
					continue
				}
				parsed = append(parsed, m)
			}
		}

		c.cacheMu.Lock()
		c.cache = append(c.cache, parsed...)
		c.offset = newOffset
		snapshot := append([]message.Message{}, c.cache...)
		c.cacheMu.Unlock()

		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]message.Message), nil
}

// Len returns the number of entries currently cached without forcing a sync.
func (c *ChannelStore) Len() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}

// IndexOf returns the index of the entry with the given id in the cached
// sequence, or -1 if not present.
func (c *ChannelStore) IndexOf(id string) int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	for i, m := range c.cache {
		if m.ID == id {
			return i
		}
	}
	return -1
}
