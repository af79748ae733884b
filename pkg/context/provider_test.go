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

package context

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworker/agentworker/pkg/chanstore"
	"github.com/agentworker/agentworker/pkg/message"
	"github.com/agentworker/agentworker/pkg/storage"
)

func newProvider() *Provider {
	p := New(storage.NewMemory())
	p.SetValidAgents([]string{"alice", "bob"})
	return p
}

func TestSmartSend_ShortContentGoesInline(t *testing.T) {
	ctx := context.Background()
	p := newProvider()

	msg, err := p.SmartSend(ctx, "user", "@alice short note", "")
	require.NoError(t, err)
	assert.Equal(t, "@alice short note", msg.Content)

	all, err := p.ReadChannel(ctx, chanstore.ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSmartSend_ThresholdRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newProvider()

	long := "@alice " + strings.Repeat("x", 600)
	msg, err := p.SmartSend(ctx, "user", long, "")
	require.NoError(t, err)

	assert.Less(t, len(msg.Content), 600)
	assert.Contains(t, msg.Content, "resource:res_")
	assert.Contains(t, msg.Content, "@alice", "mentions are preserved for routing")
	assert.Equal(t, []string{"alice"}, msg.Mentions)

	// Exactly one visible message and one hidden debug copy.
	all, err := p.ReadChannel(ctx, chanstore.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, message.KindDebug, all[0].Kind)
	assert.Equal(t, long, all[0].Content)

	visible, err := p.ReadChannel(ctx, chanstore.ReadOptions{Agent: "bob"})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, msg.ID, visible[0].ID)

	// The resource holds the full original content.
	idx := strings.Index(msg.Content, "resource:")
	id := strings.TrimSpace(msg.Content[idx+len("resource:"):])
	content, err := p.Resources.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, long, content)
}

func TestSmartSend_MarkdownDetection(t *testing.T) {
	ctx := context.Background()
	p := newProvider()

	long := "# Report\n\n```go\nfunc main() {}\n```\n" + strings.Repeat("detail ", 100)
	msg, err := p.SmartSend(ctx, "alice", long, "")
	require.NoError(t, err)

	// The markdown-typed resource is still found by the extension probe.
	idx := strings.Index(msg.Content, "resource:")
	id := strings.TrimSpace(msg.Content[idx+len("resource:"):])
	content, err := p.Resources.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, long, content)
}

func TestSmartSend_ReachesInbox(t *testing.T) {
	ctx := context.Background()
	p := newProvider()

	long := "@bob " + strings.Repeat("y", 700)
	_, err := p.SmartSend(ctx, "alice", long, "")
	require.NoError(t, err)

	items, err := p.GetInbox(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, items, 1, "the pointer message routes to the mentioned agent")
	assert.Contains(t, items[0].Content, "resource:res_")
}

func TestDestroy_PreservesChannelAndDocuments(t *testing.T) {
	ctx := context.Background()
	p := newProvider()

	_, err := p.AppendChannel(ctx, "user", "@alice keep this", chanstore.AppendOptions{})
	require.NoError(t, err)
	require.NoError(t, p.Documents.Write(ctx, "notes.md", "important"))

	require.NoError(t, p.Destroy(ctx))

	all, err := p.ReadChannel(ctx, chanstore.ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	doc, err := p.Documents.Read(ctx, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "important", doc)
}
