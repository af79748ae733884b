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

// Package docstore implements the document concern: raw text keyed by path
// within a documents/ directory.
package docstore

import (
	"context"
	"strings"

	"github.com/agentworker/agentworker/pkg/apperr"
	"github.com/agentworker/agentworker/pkg/storage"
)

// DefaultPath is the conventional entry-point document for prompt assembly.
const DefaultPath = "notes.md"

const prefix = "documents/"

// Store manages documents for one workflow/agent context.
type Store struct {
	storage storage.Storage
}

// New constructs a Store backed by storage.
func New(s storage.Storage) *Store {
	return &Store{storage: s}
}

func key(path string) string {
	if path == "" {
		path = DefaultPath
	}
	return prefix + path
}

// Read returns a document's content, or "" if it does not exist.
func (d *Store) Read(ctx context.Context, path string) (string, error) {
	content, ok, err := d.storage.Read(ctx, key(path))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return content, nil
}

// Write replaces a document's content.
func (d *Store) Write(ctx context.Context, path, content string) error {
	return d.storage.Write(ctx, key(path), content)
}

// Append adds content to the end of a document.
func (d *Store) Append(ctx context.Context, path, content string) error {
	return d.storage.Append(ctx, key(path), content)
}

// Create writes a new document, failing with AlreadyExists if it is present.
func (d *Store) Create(ctx context.Context, path, content string) error {
	exists, err := d.storage.Exists(ctx, key(path))
	if err != nil {
		return err
	}
	if exists {
		return apperr.Newf(apperr.AlreadyExists, "document %q already exists", path)
	}
	return d.storage.Write(ctx, key(path), content)
}

// List recursively enumerates document paths (relative to documents/),
// skipping obviously binary entries by extension.
func (d *Store) List(ctx context.Context) ([]string, error) {
	keys, err := d.storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if isBinaryPath(k) {
			continue
		}
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	return out, nil
}

var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".pdf": true, ".zip": true, ".gz": true, ".exe": true, ".bin": true,
}

func isBinaryPath(path string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return false
	}
	return binaryExts[strings.ToLower(path[idx:])]
}
