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

// Package resource implements the resource concern: immutable,
// content-addressed blobs used to offload large payloads out of the channel
//.
package resource

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/agentworker/agentworker/pkg/apperr"
	"github.com/agentworker/agentworker/pkg/storage"
)

// Type selects the persisted file extension for a resource.
type Type string

const (
	TypeText     Type = "text"
	TypeMarkdown Type = "markdown"
	TypeJSON     Type = "json"
	TypeDiff     Type = "diff"
)

const prefix = "resources/"

// probeOrder is the fixed extension probe order used when reading a resource
// whose type tag is unknown to the caller.
var probeOrder = []struct {
	Type Type
	Ext  string
}{
	{TypeMarkdown, ".md"},
	{TypeJSON, ".json"},
	{TypeDiff, ".diff"},
	{TypeText, ".txt"},
}

func extFor(t Type) string {
	switch t {
	case TypeMarkdown:
		return ".md"
	case TypeJSON:
		return ".json"
	case TypeDiff:
		return ".diff"
	default:
		return ".txt"
	}
}

// Store manages content-addressed resources for one workflow/agent context.
type Store struct {
	storage storage.Storage
}

// New constructs a Store backed by storage.
func New(s storage.Storage) *Store {
	return &Store{storage: s}
}

func newID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return "res_" + hex.EncodeToString(buf)
}

// Create persists content as a new immutable resource and returns its id.
func (r *Store) Create(ctx context.Context, content string, t Type) (string, error) {
	if t == "" {
		t = TypeText
	}
	id := newID()
	key := fmt.Sprintf("%s%s%s", prefix, id, extFor(t))
	if err := r.storage.Write(ctx, key, content); err != nil {
		return "", err
	}
	return id, nil
}

// Read returns a resource's content by id, probing extensions in a fixed
// order since the type tag is not retained separately from the filename.
func (r *Store) Read(ctx context.Context, id string) (string, error) {
	for _, candidate := range probeOrder {
		key := prefix + id + candidate.Ext
		content, ok, err := r.storage.Read(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return content, nil
		}
	}
	return "", apperr.Newf(apperr.NotFound, "resource %q not found", id)
}

// DetectType guesses a content type tag for smartSend: fenced-code or heavy
// markdown syntax selects "markdown", everything else is "text".
func DetectType(content string) Type {
	if looksLikeMarkdown(content) {
		return TypeMarkdown
	}
	return TypeText
}

func looksLikeMarkdown(content string) bool {
	for i := 0; i+2 < len(content); i++ {
		if content[i] == '`' && content[i+1] == '`' && content[i+2] == '`' {
			return true
		}
	}
	return containsHeadingOrFence(content)
}

func containsHeadingOrFence(content string) bool {
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' && i+1 < len(content) && content[i+1] == '#' {
			return true
		}
	}
	return len(content) > 0 && content[0] == '#'
}
