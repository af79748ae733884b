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

// Package prompt implements the composable prompt assembler. Each
// section is a pure function Context -> string; nil/empty outputs are
// dropped and the rest are joined with blank lines in a fixed canonical
// order.
package prompt

import (
	"fmt"
	"strings"

	"github.com/agentworker/agentworker/pkg/agent"
	"github.com/agentworker/agentworker/pkg/inbox"
	"github.com/agentworker/agentworker/pkg/message"
)

// Context carries everything a section may draw on when rendering.
type Context struct {
	AgentName     string
	Project       string
	Inbox         []inbox.Item
	ThinThread    []agent.ConversationMessage
	RecentChannel []message.Message
	Document      string
	DocumentPath  string
	Attempt       int
	ToolNames     []string
	WorkflowHint  string
	ExitGuidance  string
}

// Section renders one part of the final prompt, or "" to be skipped.
type Section func(Context) string

// Canonical returns the section chain in the fixed canonical order:
// Project, Inbox, ThinThread, Activity-hint, Document, Retry-notice,
// Instructions, Workflow, Exit-guidance.
func Canonical() []Section {
	return []Section{
		ProjectSection,
		InboxSection,
		ThinThreadSection,
		ActivitySection,
		DocumentSection,
		RetrySection,
		InstructionsSection,
		WorkflowSection,
		ExitSection,
	}
}

// Assemble renders the given sections against ctx and joins the non-empty
// outputs with blank lines.
func Assemble(ctx Context, sections []Section) string {
	var parts []string
	for _, s := range sections {
		if out := s(ctx); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Build assembles the canonical section chain.
func Build(ctx Context) string {
	return Assemble(ctx, Canonical())
}

// ProjectSection names the workflow or project the agent belongs to.
func ProjectSection(ctx Context) string {
	if ctx.Project == "" {
		return ""
	}
	return "## Project\n\n" + ctx.Project
}

// InboxSection lists unread inbox items in inbox order, one entry per line;
// high-priority items carry a leading "[high]" annotation.
func InboxSection(ctx Context) string {
	if len(ctx.Inbox) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Inbox\n\nYou have ")
	fmt.Fprintf(&b, "%d unread message(s):\n", len(ctx.Inbox))
	for _, item := range ctx.Inbox {
		b.WriteString("\n- ")
		if item.Priority == inbox.PriorityHigh {
			b.WriteString("[high] ")
		}
		fmt.Fprintf(&b, "%s: %s", item.From, item.Content)
	}
	return b.String()
}

// ThinThreadSection injects the bounded tail of the agent's own
// conversation for continuity across turns.
func ThinThreadSection(ctx Context) string {
	if len(ctx.ThinThread) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Recent conversation\n")
	for _, m := range ctx.ThinThread {
		fmt.Fprintf(&b, "\n%s: %s", m.Role, m.Content)
	}
	return b.String()
}

// ActivitySection summarizes recent channel traffic so the agent can see
// what happened around the messages addressed to it.
func ActivitySection(ctx Context) string {
	if len(ctx.RecentChannel) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Recent channel activity\n")
	for _, m := range ctx.RecentChannel {
		fmt.Fprintf(&b, "\n%s: %s", m.From, m.Content)
	}
	return b.String()
}

// DocumentSection includes the shared entry-point document.
func DocumentSection(ctx Context) string {
	if ctx.Document == "" {
		return ""
	}
	path := ctx.DocumentPath
	if path == "" {
		path = "notes.md"
	}
	return "## Shared document (" + path + ")\n\n" + ctx.Document
}

// RetrySection appears only after a failed attempt.
func RetrySection(ctx Context) string {
	if ctx.Attempt <= 1 {
		return ""
	}
	return fmt.Sprintf("## Retry notice\n\nThis is attempt %d; a previous attempt to respond failed. Keep the reply short and avoid whatever caused the failure.", ctx.Attempt)
}

// InstructionsSection enumerates the available tool names. The tool list is
// maintained here in one place only; the tool server supplies the names.
func InstructionsSection(ctx Context) string {
	var b strings.Builder
	b.WriteString("## Instructions\n\nYou are agent \"")
	b.WriteString(ctx.AgentName)
	b.WriteString("\" collaborating with other agents over a shared channel.")
	if len(ctx.ToolNames) > 0 {
		b.WriteString(" Available tools: ")
		b.WriteString(strings.Join(ctx.ToolNames, ", "))
		b.WriteString(".")
	}
	b.WriteString(" Mention an agent with @name to notify it. Use channel_send to reply; acknowledge your inbox when done.")
	return b.String()
}

// WorkflowSection adds workflow-supplied guidance, if any.
func WorkflowSection(ctx Context) string {
	if ctx.WorkflowHint == "" {
		return ""
	}
	return "## Workflow\n\n" + ctx.WorkflowHint
}

// ExitSection tells the agent how to stop cleanly.
func ExitSection(ctx Context) string {
	if ctx.ExitGuidance == "" {
		return ""
	}
	return "## When you are done\n\n" + ctx.ExitGuidance
}
