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

package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var team = map[string]bool{"alice": true, "bob": true, "carol": true}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"single", "@alice please review", []string{"alice"}},
		{"ordered", "@bob then @alice", []string{"bob", "alice"}},
		{"duplicates dropped", "@alice and @alice again", []string{"alice"}},
		{"unknown names excluded", "@dave @alice", []string{"alice"}},
		{"case sensitive", "@Alice @alice", []string{"alice"}},
		{"no mentions", "plain text", nil},
		{"at-sign inside a word still mentions", "mail me at x@alice", []string{"alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractMentions(tt.content, team))
		})
	}
}

func TestExtractMentions_NeverOutsideValidSet(t *testing.T) {
	got := ExtractMentions("@alice @mallory @bob @eve", team)
	for _, name := range got {
		assert.True(t, team[name], "mention %q outside valid agents", name)
	}
}

func TestVisibleTo(t *testing.T) {
	tests := []struct {
		name  string
		msg   Message
		agent string
		want  bool
	}{
		{"public message", Message{From: "alice", Kind: KindMessage}, "bob", true},
		{"system hidden", Message{From: "system", Kind: KindSystem}, "bob", false},
		{"debug hidden", Message{From: "alice", Kind: KindDebug}, "bob", false},
		{"output hidden", Message{From: "alice", Kind: KindOutput}, "bob", false},
		{"dm visible to recipient", Message{From: "alice", To: "bob", Kind: KindMessage}, "bob", true},
		{"dm visible to sender", Message{From: "alice", To: "bob", Kind: KindMessage}, "alice", true},
		{"dm hidden from third party", Message{From: "alice", To: "bob", Kind: KindMessage}, "carol", false},
		{"tool_call visible in channel reads", Message{From: "alice", Kind: KindToolCall}, "bob", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VisibleTo(tt.msg, tt.agent))
		})
	}
}

func TestInInbox(t *testing.T) {
	tests := []struct {
		name  string
		msg   Message
		agent string
		want  bool
	}{
		{"mentioned", Message{From: "user", Content: "@alice hi", Mentions: []string{"alice"}, Kind: KindMessage}, "alice", true},
		{"not mentioned", Message{From: "user", Content: "hello", Kind: KindMessage}, "alice", false},
		{"own message excluded", Message{From: "alice", Content: "@alice note to self", Mentions: []string{"alice"}, Kind: KindMessage}, "alice", false},
		{"dm recipient", Message{From: "bob", To: "alice", Kind: KindMessage}, "alice", true},
		{"tool_call excluded", Message{From: "bob", Mentions: []string{"alice"}, Kind: KindToolCall}, "alice", false},
		{"debug excluded", Message{From: "bob", Mentions: []string{"alice"}, Kind: KindDebug}, "alice", false},
		{"dm to someone else", Message{From: "bob", To: "carol", Mentions: []string{"alice"}, Kind: KindMessage}, "alice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InInbox(tt.msg, tt.agent))
		})
	}
}

func TestHighPriority(t *testing.T) {
	assert.False(t, HighPriority(Message{Content: "@alice hello", Mentions: []string{"alice"}}))
	assert.True(t, HighPriority(Message{Content: "@alice @bob sync up", Mentions: []string{"alice", "bob"}}))
	assert.True(t, HighPriority(Message{Content: "@alice this is URGENT", Mentions: []string{"alice"}}))
	assert.True(t, HighPriority(Message{Content: "@alice I am blocked on review", Mentions: []string{"alice"}}))
	assert.False(t, HighPriority(Message{Content: "@alice unblocked now", Mentions: []string{"alice"}}))
}

func TestNew_AssignsIDTimestampKind(t *testing.T) {
	m := New("user", "@alice hi", team)
	assert.NotEmpty(t, m.ID)
	assert.NotEmpty(t, m.Timestamp)
	assert.Equal(t, KindMessage, m.Kind)
	assert.Equal(t, []string{"alice"}, m.Mentions)

	m2 := New("user", "again", team)
	assert.NotEqual(t, m.ID, m2.ID)
}
