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

package timeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworker/agentworker/pkg/message"
	"github.com/agentworker/agentworker/pkg/storage"
)

func TestTimeline_AppendAll(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	tl := New(store)

	first := message.New("system", "workflow demo:main started", nil)
	first.Kind = message.KindLog
	require.NoError(t, tl.Append(ctx, first))

	// A truncated line mid-log must not break later reads.
	require.NoError(t, store.Append(ctx, "timeline.jsonl", "{half a rec\n"))

	second := message.New("system", "workflow demo:main stopped", nil)
	second.Kind = message.KindLog
	require.NoError(t, tl.Append(ctx, second))

	events, err := tl.All(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, second.ID, events[1].ID)
	assert.Equal(t, message.KindLog, events[1].Kind)
}
