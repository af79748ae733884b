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

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Storage {
	file, err := NewFile(t.TempDir())
	require.NoError(t, err)
	return map[string]Storage{
		"memory": NewMemory(),
		"file":   file,
	}
}

func TestStorage_AppendRead(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Read(ctx, "log.jsonl")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Append(ctx, "log.jsonl", "one\n"))
			require.NoError(t, s.Append(ctx, "log.jsonl", "two\n"))

			content, ok, err := s.Read(ctx, "log.jsonl")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "one\ntwo\n", content)
		})
	}
}

func TestStorage_ReadFrom(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Append(ctx, "log", "hello "))

			chunk, offset, err := s.ReadFrom(ctx, "log", 0)
			require.NoError(t, err)
			assert.Equal(t, "hello ", chunk)
			assert.Equal(t, int64(6), offset)

			// Nothing new past the offset.
			chunk, offset2, err := s.ReadFrom(ctx, "log", offset)
			require.NoError(t, err)
			assert.Empty(t, chunk)
			assert.Equal(t, offset, offset2)

			require.NoError(t, s.Append(ctx, "log", "world"))
			chunk, offset3, err := s.ReadFrom(ctx, "log", offset)
			require.NoError(t, err)
			assert.Equal(t, "world", chunk)
			assert.Equal(t, int64(11), offset3)
		})
	}
}

func TestStorage_ReadFromMissingKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			chunk, offset, err := s.ReadFrom(ctx, "absent", 0)
			require.NoError(t, err)
			assert.Empty(t, chunk)
			assert.Equal(t, int64(0), offset)
		})
	}
}

func TestStorage_WriteDeleteExists(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "doc", "v1"))
			require.NoError(t, s.Write(ctx, "doc", "v2"))

			content, ok, err := s.Read(ctx, "doc")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "v2", content)

			exists, err := s.Exists(ctx, "doc")
			require.NoError(t, err)
			assert.True(t, exists)

			size, err := s.Size(ctx, "doc")
			require.NoError(t, err)
			assert.Equal(t, int64(2), size)

			require.NoError(t, s.Delete(ctx, "doc"))
			exists, err = s.Exists(ctx, "doc")
			require.NoError(t, err)
			assert.False(t, exists)

			// Deleting an absent key is not an error.
			require.NoError(t, s.Delete(ctx, "doc"))
		})
	}
}

func TestStorage_List(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "documents/notes.md", "n"))
			require.NoError(t, s.Write(ctx, "documents/plans/q3.md", "p"))
			require.NoError(t, s.Write(ctx, "resources/res_1.txt", "r"))

			keys, err := s.List(ctx, "documents/")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"documents/notes.md", "documents/plans/q3.md"}, keys)
		})
	}
}
