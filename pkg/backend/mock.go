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
	"context"
	"sync"

	"github.com/agentworker/agentworker/pkg/apperr"
)

// Mock is a scripted Backend for tests. Each Send pops the next scripted
// reply; when the script is exhausted it repeats the last entry. An entry
// with a non-nil Err fails the call instead of replying.
type Mock struct {
	mu      sync.Mutex
	script  []MockReply
	pos     int
	calls   []string
	aborted bool
}

// MockReply is one scripted turn.
type MockReply struct {
	Content string
	Err     error
}

// NewMock builds a Mock from scripted replies. With no replies, every Send
// returns an empty response.
func NewMock(script ...MockReply) *Mock {
	return &Mock{script: script}
}

// MockReplies is a convenience constructor from plain strings.
func MockReplies(contents ...string) *Mock {
	script := make([]MockReply, len(contents))
	for i, c := range contents {
		script[i] = MockReply{Content: c}
	}
	return NewMock(script...)
}

// MockFailing returns a Mock whose every call fails with the given message.
func MockFailing(msg string) *Mock {
	return NewMock(MockReply{Err: apperr.New(apperr.BackendFailure, msg)})
}

// Send pops the next scripted reply.
func (m *Mock) Send(ctx context.Context, prompt string, opts SendOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	var reply MockReply
	if len(m.script) > 0 {
		idx := m.pos
		if idx >= len(m.script) {
			idx = len(m.script) - 1
		}
		reply = m.script[idx]
		m.pos++
	}
	m.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Response{Content: reply.Content}, nil
}

// Abort records the abort request.
func (m *Mock) Abort() {
	m.mu.Lock()
	m.aborted = true
	m.mu.Unlock()
}

// Calls returns the prompts Send has received, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

// CallCount returns the number of Send invocations so far.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Aborted reports whether Abort was called.
func (m *Mock) Aborted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}
