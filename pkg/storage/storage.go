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

// Package storage implements the lowest-level append/read/write/delete
// primitives over flat UTF-8 string keys. Every domain store (channel, inbox,
// documents, resources, status, timeline) is built on top of one Storage
// instance; Storage itself knows nothing about Messages, cursors, or JSON.
package storage

import "context"

// Storage is a flat key/value store with an append-optimized path for
// JSONL-style logs. Implementations: File (on-disk) and Memory (tests).
type Storage interface {
	// Append adds content to the end of key, creating it if absent. Must be
	// atomic at the granularity of a single call so that concurrent
	// single-line appends (serialized by the caller's store-level mutex)
	// never interleave mid-line.
	Append(ctx context.Context, key string, content string) error

	// Read returns the full content of key, or ("", false) if absent.
	Read(ctx context.Context, key string) (string, bool, error)

	// ReadFrom returns the content of key starting at byte offset, plus the
	// new offset (== len of the full file) for the caller to remember.
	ReadFrom(ctx context.Context, key string, offset int64) (content string, newOffset int64, err error)

	// Write replaces the full content of key.
	Write(ctx context.Context, key string, content string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix (non-recursive key
	// namespace; callers that need directory semantics build paths with "/").
	List(ctx context.Context, prefix string) ([]string, error)

	// Size returns the byte length of key, or 0 if absent.
	Size(ctx context.Context, key string) (int64, error)
}
