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

package inbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworker/agentworker/pkg/chanstore"
	"github.com/agentworker/agentworker/pkg/message"
	"github.com/agentworker/agentworker/pkg/storage"
)

func team() map[string]bool {
	return map[string]bool{"alice": true, "bob": true}
}

func newFixture() (*chanstore.ChannelStore, *Store) {
	store := storage.NewMemory()
	channel := chanstore.New(store, team)
	return channel, New(store, channel)
}

func TestGetInbox_FiltersAndFlags(t *testing.T) {
	ctx := context.Background()
	channel, inbox := newFixture()

	_, err := channel.Append(ctx, "user", "@alice please start", chanstore.AppendOptions{})
	require.NoError(t, err)
	_, err = channel.Append(ctx, "user", "unaddressed chatter", chanstore.AppendOptions{})
	require.NoError(t, err)
	_, err = channel.Append(ctx, "alice", "@alice self ping", chanstore.AppendOptions{})
	require.NoError(t, err)
	_, err = channel.Append(ctx, "bob", "@alice @bob urgent sync", chanstore.AppendOptions{})
	require.NoError(t, err)
	_, err = channel.Append(ctx, "system", "@alice housekeeping", chanstore.AppendOptions{Kind: message.KindSystem})
	require.NoError(t, err)

	items, err := inbox.GetInbox(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "@alice please start", items[0].Content)
	assert.Equal(t, PriorityNormal, items[0].Priority)
	assert.Equal(t, "@alice @bob urgent sync", items[1].Content)
	assert.Equal(t, PriorityHigh, items[1].Priority)
	assert.False(t, items[0].Seen)
}

func TestAck_Monotonicity(t *testing.T) {
	ctx := context.Background()
	channel, inbox := newFixture()

	m1, err := channel.Append(ctx, "user", "@alice one", chanstore.AppendOptions{})
	require.NoError(t, err)
	_, err = channel.Append(ctx, "user", "@alice two", chanstore.AppendOptions{})
	require.NoError(t, err)

	require.NoError(t, inbox.Ack(ctx, "alice", m1.ID))

	items, err := inbox.GetInbox(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "@alice two", items[0].Content)

	// Idempotent re-ack of the same id changes nothing.
	require.NoError(t, inbox.Ack(ctx, "alice", m1.ID))
	items, err = inbox.GetInbox(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, inbox.Ack(ctx, "alice", items[0].ID))
	items, err = inbox.GetInbox(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGetInbox_StaleCursorKeepsAll(t *testing.T) {
	ctx := context.Background()
	channel, inbox := newFixture()

	_, err := channel.Append(ctx, "user", "@alice hello", chanstore.AppendOptions{})
	require.NoError(t, err)

	require.NoError(t, inbox.Ack(ctx, "alice", "msg_gone"))

	items, err := inbox.GetInbox(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestMarkRunStart_Floor(t *testing.T) {
	ctx := context.Background()
	channel, inbox := newFixture()

	_, err := channel.Append(ctx, "user", "@alice old news", chanstore.AppendOptions{})
	require.NoError(t, err)

	require.NoError(t, inbox.MarkRunStart(ctx))

	items, err := inbox.GetInbox(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = channel.Append(ctx, "user", "@alice fresh", chanstore.AppendOptions{})
	require.NoError(t, err)

	items, err = inbox.GetInbox(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "@alice fresh", items[0].Content)
}

func TestMarkSeen_Flags(t *testing.T) {
	ctx := context.Background()
	channel, inbox := newFixture()

	m1, err := channel.Append(ctx, "user", "@alice one", chanstore.AppendOptions{})
	require.NoError(t, err)
	_, err = channel.Append(ctx, "user", "@alice two", chanstore.AppendOptions{})
	require.NoError(t, err)

	require.NoError(t, inbox.MarkSeen(ctx, "alice", m1.ID))

	items, err := inbox.GetInbox(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].Seen)
	assert.False(t, items[1].Seen)
}

func TestCursors_SurviveReload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	channel := chanstore.New(store, team)
	inbox := New(store, channel)

	m1, err := channel.Append(ctx, "user", "@alice persisted", chanstore.AppendOptions{})
	require.NoError(t, err)
	require.NoError(t, inbox.Ack(ctx, "alice", m1.ID))

	reloaded := New(store, chanstore.New(store, team))
	require.NoError(t, reloaded.Load(ctx))

	items, err := reloaded.GetInbox(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDestroy_ClearsCursors(t *testing.T) {
	ctx := context.Background()
	channel, inbox := newFixture()

	m1, err := channel.Append(ctx, "user", "@alice hello", chanstore.AppendOptions{})
	require.NoError(t, err)
	require.NoError(t, inbox.Ack(ctx, "alice", m1.ID))

	require.NoError(t, inbox.Destroy(ctx))

	items, err := inbox.GetInbox(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 1, "cursor reset resurfaces the message")
}
