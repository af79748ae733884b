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

package backend

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworker/agentworker/pkg/apperr"
)

func TestMock_ScriptedReplies(t *testing.T) {
	ctx := context.Background()
	m := MockReplies("first", "second")

	resp, err := m.Send(ctx, "p1", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = m.Send(ctx, "p2", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	// Exhausted scripts repeat the last entry.
	resp, err = m.Send(ctx, "p3", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	assert.Equal(t, 3, m.CallCount())
	assert.Equal(t, []string{"p1", "p2", "p3"}, m.Calls())
}

func TestMock_Failing(t *testing.T) {
	m := MockFailing("provider down")
	_, err := m.Send(context.Background(), "p", SendOptions{})
	require.Error(t, err)
	assert.Equal(t, apperr.BackendFailure, apperr.CodeOf(err))
}

func TestMock_Abort(t *testing.T) {
	m := NewMock()
	var b Backend = m
	ab, ok := b.(Aborter)
	require.True(t, ok)
	ab.Abort()
	assert.True(t, m.Aborted())
}

func TestParseStream_JSONEvents(t *testing.T) {
	out := bytes.NewBufferString(`{"type":"tool_call","name":"channel_send","args":{"message":"hi"},"result":"sent"}
{"type":"text","text":"final answer"}
`)
	resp := parseStream(out)
	assert.Equal(t, "final answer", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "channel_send", resp.ToolCalls[0].Name)
	assert.Equal(t, "sent", resp.ToolCalls[0].Result)
}

func TestParseStream_PlainTextFallback(t *testing.T) {
	out := bytes.NewBufferString("just a line\nand another\n")
	resp := parseStream(out)
	assert.Equal(t, "just a line\nand another", resp.Content)
	assert.Empty(t, resp.ToolCalls)
}

func TestParseStream_MalformedJSONKeptAsText(t *testing.T) {
	out := bytes.NewBufferString("{broken json\n")
	resp := parseStream(out)
	assert.Equal(t, "{broken json", resp.Content)
}

func TestParseStream_TextEventWinsOverPlain(t *testing.T) {
	out := bytes.NewBufferString("noise\n{\"type\":\"result\",\"text\":\"structured\"}\n")
	resp := parseStream(out)
	assert.Equal(t, "structured", resp.Content)
}
