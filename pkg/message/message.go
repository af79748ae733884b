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

// Package message defines the shared Message data model used by
// the channel, inbox, and timeline stores, plus the pure functions
// (mention extraction, visibility, priority) that every reader of a channel
// must apply identically.
package message

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a Message. The zero value is Message.
type Kind string

const (
	KindMessage  Kind = "message"
	KindSystem   Kind = "system"
	KindDebug    Kind = "debug"
	KindOutput   Kind = "output"
	KindToolCall Kind = "tool_call"
	KindLog      Kind = "log"
)

// Message is immutable once appended to a channel.
type Message struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	From      string   `json:"from"`
	Content   string   `json:"content"`
	Mentions  []string `json:"mentions,omitempty"`
	To        string   `json:"to,omitempty"`
	Kind      Kind     `json:"kind,omitempty"`
}

// New builds a Message with a fresh id, current timestamp, default kind, and
// extracted mentions. validAgents is the set of names that may be mentioned.
func New(from, content string, validAgents map[string]bool) Message {
	kind := KindMessage
	return Message{
		ID:        "msg_" + uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		From:      from,
		Content:   content,
		Mentions:  ExtractMentions(content, validAgents),
		Kind:      kind,
	}
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// ExtractMentions returns the ordered, deduplicated set of names in content
// that are `@name` and present in validAgents. First occurrence wins;
// case-sensitive; never contains a name outside validAgents.
func ExtractMentions(content string, validAgents map[string]bool) []string {
	if len(validAgents) == 0 {
		return nil
	}
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		name := m[1]
		if !validAgents[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// VisibleTo reports whether msg is visible to agent A under the universal
// visibility rule: system/debug/output kinds are hidden from every
// agent; a direct message is visible only to its sender and recipient;
// everything else is public.
func VisibleTo(msg Message, agent string) bool {
	switch msg.Kind {
	case KindSystem, KindDebug, KindOutput:
		return false
	}
	if msg.To != "" {
		return agent == msg.From || agent == msg.To
	}
	return true
}

var urgentPattern = regexp.MustCompile(`(?i)\b(urgent|asap|blocked|critical)\b`)

// HighPriority reports whether an inbox item for agent A should be flagged
// high-priority: more than one mention, or urgent-language content.
func HighPriority(msg Message) bool {
	return len(msg.Mentions) > 1 || urgentPattern.MatchString(msg.Content)
}

// InInbox reports whether msg belongs in agent A's inbox view, an
// additional filter layered on top of VisibleTo: hides tool_call,
// hides messages the agent itself sent, and requires the agent to be
// mentioned or be the DM recipient.
func InInbox(msg Message, agent string) bool {
	if msg.Kind == KindToolCall {
		return false
	}
	if msg.From == agent {
		return false
	}
	if !VisibleTo(msg, agent) {
		return false
	}
	if msg.To == agent {
		return true
	}
	for _, m := range msg.Mentions {
		if m == agent {
			return true
		}
	}
	return false
}
