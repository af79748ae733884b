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

package toolserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contextstore "github.com/agentworker/agentworker/pkg/context"
	"github.com/agentworker/agentworker/pkg/inbox"
	"github.com/agentworker/agentworker/pkg/proposal"
	"github.com/agentworker/agentworker/pkg/storage"
)

func testContext() ToolContext {
	p := contextstore.New(storage.NewMemory())
	p.SetValidAgents([]string{"alice", "bob"})
	return ToolContext{
		Caller:     "alice",
		Provider:   p,
		AgentNames: func() []string { return []string{"alice", "bob"} },
		Proposals:  proposal.NewNoop(),
	}
}

func handler(t *testing.T, name string) Handler {
	t.Helper()
	for _, d := range BuildRegistry() {
		if d.Name == name {
			return d.Handler
		}
	}
	t.Fatalf("tool %q not in registry", name)
	return nil
}

func TestRegistry_ExposesSpecTools(t *testing.T) {
	names := Names(BuildRegistry())
	for _, want := range []string{
		"channel_send", "channel_read", "my_inbox", "my_inbox_ack",
		"my_status_set", "team_members",
		"team_doc_read", "team_doc_write", "team_doc_append", "team_doc_list", "team_doc_create",
		"resource_create", "resource_read",
		"team_proposal_create", "team_proposal_vote", "team_proposal_status", "team_proposal_cancel",
	} {
		assert.Contains(t, names, want)
	}
}

func TestRegistry_SchemasAreObjects(t *testing.T) {
	for _, d := range BuildRegistry() {
		assert.Equal(t, "object", d.Schema["type"], "tool %s", d.Name)
		assert.NotContains(t, d.Schema, "$schema", "tool %s", d.Name)
	}
}

func TestChannelSendAndInboxFlow(t *testing.T) {
	ctx := context.Background()
	tc := testContext()

	out, err := handler(t, "channel_send")(ctx, tc, map[string]any{"message": "@bob take a look"})
	require.NoError(t, err)
	assert.Contains(t, out, "sent ")

	bob := tc
	bob.Caller = "bob"
	out, err = handler(t, "my_inbox")(ctx, bob, nil)
	require.NoError(t, err)

	var items []inbox.Item
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "@bob take a look", items[0].Content)

	_, err = handler(t, "my_inbox_ack")(ctx, bob, map[string]any{})
	require.NoError(t, err)

	out, err = handler(t, "my_inbox")(ctx, bob, nil)
	require.NoError(t, err)
	items = nil
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	assert.Empty(t, items)
}

func TestChannelSend_RequiresMessage(t *testing.T) {
	_, err := handler(t, "channel_send")(context.Background(), testContext(), map[string]any{})
	require.Error(t, err)
}

func TestStatusSet_Validation(t *testing.T) {
	ctx := context.Background()
	tc := testContext()

	_, err := handler(t, "my_status_set")(ctx, tc, map[string]any{"state": "running", "task": "reviewing"})
	require.NoError(t, err)

	st, ok := tc.Provider.Status.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "reviewing", st.Task)

	_, err = handler(t, "my_status_set")(ctx, tc, map[string]any{"state": "bogus"})
	require.Error(t, err)
}

func TestTeamMembers(t *testing.T) {
	ctx := context.Background()
	tc := testContext()

	out, err := handler(t, "team_members")(ctx, tc, map[string]any{})
	require.NoError(t, err)
	assert.JSONEq(t, `["alice","bob"]`, out)

	out, err = handler(t, "team_members")(ctx, tc, map[string]any{"includeStatus": true})
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"alice"`)
}

func TestDocTools(t *testing.T) {
	ctx := context.Background()
	tc := testContext()

	_, err := handler(t, "team_doc_create")(ctx, tc, map[string]any{"path": "plan.md", "content": "v1"})
	require.NoError(t, err)

	_, err = handler(t, "team_doc_create")(ctx, tc, map[string]any{"path": "plan.md", "content": "v2"})
	require.Error(t, err, "create fails when the document exists")

	_, err = handler(t, "team_doc_append")(ctx, tc, map[string]any{"path": "plan.md", "content": " more"})
	require.NoError(t, err)

	out, err := handler(t, "team_doc_read")(ctx, tc, map[string]any{"path": "plan.md"})
	require.NoError(t, err)
	assert.Equal(t, "v1 more", out)

	out, err = handler(t, "team_doc_list")(ctx, tc, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "plan.md")
}

func TestResourceTools_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tc := testContext()

	content := strings.Repeat("payload ", 100)
	id, err := handler(t, "resource_create")(ctx, tc, map[string]any{"content": content, "type": "text"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "res_"))

	out, err := handler(t, "resource_read")(ctx, tc, map[string]any{"id": id})
	require.NoError(t, err)
	assert.Equal(t, content, out)

	_, err = handler(t, "resource_read")(ctx, tc, map[string]any{"id": "res_missing"})
	require.Error(t, err)
}

func TestProposalTools_Unavailable(t *testing.T) {
	ctx := context.Background()
	tc := testContext()

	_, err := handler(t, "team_proposal_create")(ctx, tc, map[string]any{"title": "switch db"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}

func TestInProcessTools_BindCaller(t *testing.T) {
	ctx := context.Background()
	tc := testContext()

	tools := InProcessTools(BuildRegistry(), tc)
	require.Len(t, tools, len(BuildRegistry()))

	var send func(context.Context, map[string]any) (string, error)
	for _, tool := range tools {
		if tool.Name == "channel_send" {
			send = tool.Execute
		}
	}
	require.NotNil(t, send)

	_, err := send(ctx, map[string]any{"message": "from the tool"})
	require.NoError(t, err)

	all, err := tc.Provider.ReadChannel(ctx, contextstore.ReadChannelOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alice", all[0].From)
}
