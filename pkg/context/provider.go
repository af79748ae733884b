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

// Package context implements the ContextProvider façade composing the
// channel, inbox, document, resource, status, and timeline stores behind one
// API. The only cross-store logic it owns is smartSend; every
// other method is a thin delegation.
package context

import (
	"context"
	"strings"
	"sync"

	"github.com/agentworker/agentworker/pkg/chanstore"
	"github.com/agentworker/agentworker/pkg/docstore"
	"github.com/agentworker/agentworker/pkg/inbox"
	"github.com/agentworker/agentworker/pkg/message"
	"github.com/agentworker/agentworker/pkg/resource"
	"github.com/agentworker/agentworker/pkg/status"
	"github.com/agentworker/agentworker/pkg/storage"
	"github.com/agentworker/agentworker/pkg/timeline"
)

// ResourceThreshold is the content-length cutoff above which smartSend
// offloads content to a resource instead of appending it inline.
const ResourceThreshold = 500

// Provider composes the domain stores for one workflow+tag or standalone
// agent context.
type Provider struct {
	Channel   *chanstore.ChannelStore
	Inbox     *inbox.Store
	Documents *docstore.Store
	Resources *resource.Store
	Status    *status.Store
	Timeline  *timeline.Timeline

	storage storage.Storage

	mu          sync.RWMutex
	validAgents map[string]bool
}

// New constructs a Provider over a single Storage instance, composing all
// six stores.
func New(s storage.Storage) *Provider {
	p := &Provider{storage: s, validAgents: make(map[string]bool)}
	p.Channel = chanstore.New(s, p.snapshotValidAgents)
	p.Inbox = inbox.New(s, p.Channel)
	p.Documents = docstore.New(s)
	p.Resources = resource.New(s)
	p.Status = status.New(s)
	p.Timeline = timeline.New(s)
	return p
}

func (p *Provider) snapshotValidAgents() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.validAgents))
	for k, v := range p.validAgents {
		out[k] = v
	}
	return out
}

// SetValidAgents updates the set of agent names mention-extraction may
// resolve against. Workspaces call this as agents are registered.
func (p *Provider) SetValidAgents(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validAgents = make(map[string]bool, len(names))
	for _, n := range names {
		p.validAgents[n] = true
	}
}

// Load restores persisted inbox cursors and agent statuses from storage.
func (p *Provider) Load(ctx context.Context) error {
	if err := p.Inbox.Load(ctx); err != nil {
		return err
	}
	return p.Status.Load(ctx)
}

// MarkRunStart floors the inbox at the current channel length for this
// process invocation.
func (p *Provider) MarkRunStart(ctx context.Context) error {
	return p.Inbox.MarkRunStart(ctx)
}

// ReadChannelOptions mirrors chanstore.ReadOptions for callers of Provider.
type ReadChannelOptions = chanstore.ReadOptions

// ReadChannel delegates to the channel store.
func (p *Provider) ReadChannel(ctx context.Context, opts ReadChannelOptions) ([]message.Message, error) {
	return p.Channel.Read(ctx, opts)
}

// AppendChannel delegates to the channel store.
func (p *Provider) AppendChannel(ctx context.Context, from, content string, opts chanstore.AppendOptions) (message.Message, error) {
	return p.Channel.Append(ctx, from, content, opts)
}

// GetInbox delegates to the inbox store.
func (p *Provider) GetInbox(ctx context.Context, agent string) ([]inbox.Item, error) {
	return p.Inbox.GetInbox(ctx, agent)
}

// SmartSend routes by size: short content is appended directly; long
// content is offloaded to a resource, logged in full under a debug-kind
// channel entry, and replaced in the visible channel by a short pointer
// message that preserves the original mentions so notification routing
// still works.
func (p *Provider) SmartSend(ctx context.Context, from, content string, to string) (message.Message, error) {
	if len(content) <= ResourceThreshold {
		return p.Channel.Append(ctx, from, content, chanstore.AppendOptions{To: to})
	}

	rtype := resource.DetectType(content)
	id, err := p.Resources.Create(ctx, content, rtype)
	if err != nil {
		return message.Message{}, err
	}

	// Preserve full content in the log, hidden from agent views.
	if _, err := p.Channel.Append(ctx, from, content, chanstore.AppendOptions{To: to, Kind: message.KindDebug}); err != nil {
		return message.Message{}, err
	}

	valid := p.snapshotValidAgents()
	originalMentions := message.ExtractMentions(content, valid)

	var b strings.Builder
	for _, m := range originalMentions {
		b.WriteString("@")
		b.WriteString(m)
		b.WriteString(" ")
	}
	b.WriteString("shared a longer update: resource:")
	b.WriteString(id)

	return p.Channel.Append(ctx, from, b.String(), chanstore.AppendOptions{To: to})
}

// Destroy clears transient inbox cursors. Channel, documents, and resources
// are always preserved.
func (p *Provider) Destroy(ctx context.Context) error {
	return p.Inbox.Destroy(ctx)
}
