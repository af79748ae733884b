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

// Package toolserver implements the collaboration tool surface agents
// call during a turn. Tools are declared in an explicit registry table
// (name -> schema + handler) built once at workspace boot; the same table
// backs both the protocol mount and the in-process tool handlers handed to
// SDK backends.
package toolserver

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/agentworker/agentworker/pkg/apperr"
	"github.com/agentworker/agentworker/pkg/backend"
	"github.com/agentworker/agentworker/pkg/chanstore"
	contextstore "github.com/agentworker/agentworker/pkg/context"
	"github.com/agentworker/agentworker/pkg/docstore"
	"github.com/agentworker/agentworker/pkg/proposal"
	"github.com/agentworker/agentworker/pkg/resource"
	"github.com/agentworker/agentworker/pkg/status"
)

// ToolContext carries per-call state into a tool handler: who is calling
// and which provider serves the call.
type ToolContext struct {
	Caller     string
	Provider   *contextstore.Provider
	AgentNames func() []string
	Proposals  proposal.Service
}

// Handler executes one tool call and returns its textual result.
type Handler func(ctx context.Context, tc ToolContext, args map[string]any) (string, error)

// ToolDef is one registry entry.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     Handler
}

// BuildRegistry constructs the full collaboration tool table.
func BuildRegistry() []ToolDef {
	return []ToolDef{
		{
			Name:        "channel_send",
			Description: "Send a message to the shared channel. Mention agents with @name; long content is offloaded to a resource automatically.",
			Schema: schemaFor(struct {
				Message string `json:"message" jsonschema:"required,description=Message content"`
				To      string `json:"to,omitempty" jsonschema:"description=Optional direct-message recipient"`
			}{}),
			Handler: channelSend,
		},
		{
			Name:        "channel_read",
			Description: "Read recent channel messages visible to you.",
			Schema: schemaFor(struct {
				Limit int    `json:"limit,omitempty" jsonschema:"description=Keep only the last N entries"`
				Since string `json:"since,omitempty" jsonschema:"description=RFC3339 timestamp lower bound"`
			}{}),
			Handler: channelRead,
		},
		{
			Name:        "my_inbox",
			Description: "List your unread inbox messages with priority and seen flags.",
			Schema:      schemaFor(struct{}{}),
			Handler:     myInbox,
		},
		{
			Name:        "my_inbox_ack",
			Description: "Acknowledge inbox messages up to an id (defaults to the most recent).",
			Schema: schemaFor(struct {
				Until string `json:"until,omitempty" jsonschema:"description=Message id to ack through; omit for all current inbox items"`
			}{}),
			Handler: myInboxAck,
		},
		{
			Name:        "my_status_set",
			Description: "Publish your current status.",
			Schema: schemaFor(struct {
				State string `json:"state" jsonschema:"required,description=idle | running | stopped"`
				Task  string `json:"task,omitempty" jsonschema:"description=Short description of the current task"`
			}{}),
			Handler: myStatusSet,
		},
		{
			Name:        "team_members",
			Description: "List registered agents, optionally with their statuses.",
			Schema: schemaFor(struct {
				IncludeStatus bool `json:"includeStatus,omitempty" jsonschema:"description=Include each agent's status"`
			}{}),
			Handler: teamMembers,
		},
		{
			Name:        "team_doc_read",
			Description: "Read a shared document.",
			Schema:      schemaFor(docPathArgs{}),
			Handler:     teamDocRead,
		},
		{
			Name:        "team_doc_write",
			Description: "Replace a shared document's content.",
			Schema:      schemaFor(docWriteArgs{}),
			Handler:     teamDocWrite,
		},
		{
			Name:        "team_doc_append",
			Description: "Append to a shared document.",
			Schema:      schemaFor(docWriteArgs{}),
			Handler:     teamDocAppend,
		},
		{
			Name:        "team_doc_list",
			Description: "List shared documents.",
			Schema:      schemaFor(struct{}{}),
			Handler:     teamDocList,
		},
		{
			Name:        "team_doc_create",
			Description: "Create a shared document; fails if it already exists.",
			Schema:      schemaFor(docWriteArgs{}),
			Handler:     teamDocCreate,
		},
		{
			Name:        "resource_create",
			Description: "Store a large payload as a resource and get its id.",
			Schema: schemaFor(struct {
				Content string `json:"content" jsonschema:"required,description=Resource content"`
				Type    string `json:"type,omitempty" jsonschema:"description=text | markdown | json | diff"`
			}{}),
			Handler: resourceCreate,
		},
		{
			Name:        "resource_read",
			Description: "Read a resource's full content by id.",
			Schema: schemaFor(struct {
				ID string `json:"id" jsonschema:"required,description=Resource id (res_...)"`
			}{}),
			Handler: resourceRead,
		},
		{
			Name:        "team_proposal_create",
			Description: "Open a proposal for the team to vote on.",
			Schema: schemaFor(struct {
				Title string `json:"title" jsonschema:"required"`
				Body  string `json:"body,omitempty"`
			}{}),
			Handler: proposalCreate,
		},
		{
			Name:        "team_proposal_vote",
			Description: "Vote on an open proposal.",
			Schema: schemaFor(struct {
				ID     string `json:"id" jsonschema:"required"`
				Choice string `json:"choice" jsonschema:"required,description=yes | no | abstain"`
			}{}),
			Handler: proposalVote,
		},
		{
			Name:        "team_proposal_status",
			Description: "Check a proposal's status.",
			Schema: schemaFor(struct {
				ID string `json:"id" jsonschema:"required"`
			}{}),
			Handler: proposalStatus,
		},
		{
			Name:        "team_proposal_cancel",
			Description: "Cancel a proposal you created.",
			Schema: schemaFor(struct {
				ID string `json:"id" jsonschema:"required"`
			}{}),
			Handler: proposalCancel,
		},
	}
}

type docPathArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Document path; defaults to notes.md"`
}

type docWriteArgs struct {
	Path    string `json:"path,omitempty" jsonschema:"description=Document path; defaults to notes.md"`
	Content string `json:"content" jsonschema:"required"`
}

// Names returns the tool names of a registry, in table order. The prompt
// assembler's instructions section consumes this.
func Names(defs []ToolDef) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// InProcessTools binds the registry to a caller identity and provider,
// producing executable tool handlers for in-process SDK backends.
func InProcessTools(defs []ToolDef, tc ToolContext) []backend.Tool {
	tools := make([]backend.Tool, 0, len(defs))
	for _, d := range defs {
		def := d
		tools = append(tools, backend.Tool{
			Name:        def.Name,
			Description: def.Description,
			Schema:      def.Schema,
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				return def.Handler(ctx, tc, args)
			},
		})
	}
	return tools
}

func schemaFor(v any) map[string]any {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	// Tool schemas are plain object schemas; the draft URI is noise here.
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func jsonResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func channelSend(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	content := stringArg(args, "message")
	if content == "" {
		return "", apperr.New(apperr.Invalid, "message is required")
	}
	msg, err := tc.Provider.SmartSend(ctx, tc.Caller, content, stringArg(args, "to"))
	if err != nil {
		return "", err
	}
	return "sent " + msg.ID, nil
}

func channelRead(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	msgs, err := tc.Provider.ReadChannel(ctx, chanstore.ReadOptions{
		Agent: tc.Caller,
		Limit: intArg(args, "limit"),
		Since: stringArg(args, "since"),
	})
	if err != nil {
		return "", err
	}
	return jsonResult(msgs)
}

func myInbox(ctx context.Context, tc ToolContext, _ map[string]any) (string, error) {
	items, err := tc.Provider.GetInbox(ctx, tc.Caller)
	if err != nil {
		return "", err
	}
	return jsonResult(items)
}

func myInboxAck(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	until := stringArg(args, "until")
	if until == "" {
		items, err := tc.Provider.GetInbox(ctx, tc.Caller)
		if err != nil {
			return "", err
		}
		if len(items) == 0 {
			return "inbox already empty", nil
		}
		until = items[len(items)-1].ID
	}
	if err := tc.Provider.Inbox.Ack(ctx, tc.Caller, until); err != nil {
		return "", err
	}
	return "acked through " + until, nil
}

func myStatusSet(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	stateStr := stringArg(args, "state")
	switch status.State(stateStr) {
	case status.StateIdle, status.StateRunning, status.StateStopped:
	default:
		return "", apperr.Newf(apperr.Invalid, "invalid state %q", stateStr)
	}
	if err := tc.Provider.Status.Set(ctx, tc.Caller, status.State(stateStr), stringArg(args, "task")); err != nil {
		return "", err
	}
	return "status updated", nil
}

func teamMembers(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	names := tc.AgentNames()
	if !boolArg(args, "includeStatus") {
		return jsonResult(names)
	}
	type member struct {
		Name   string              `json:"name"`
		Status *status.AgentStatus `json:"status,omitempty"`
	}
	out := make([]member, 0, len(names))
	for _, name := range names {
		m := member{Name: name}
		if st, ok := tc.Provider.Status.Get(name); ok {
			m.Status = &st
		}
		out = append(out, m)
	}
	return jsonResult(out)
}

func docPath(args map[string]any) string {
	if p := stringArg(args, "path"); p != "" {
		return p
	}
	return docstore.DefaultPath
}

func teamDocRead(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	return tc.Provider.Documents.Read(ctx, docPath(args))
}

func teamDocWrite(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	if err := tc.Provider.Documents.Write(ctx, docPath(args), stringArg(args, "content")); err != nil {
		return "", err
	}
	return "written", nil
}

func teamDocAppend(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	if err := tc.Provider.Documents.Append(ctx, docPath(args), stringArg(args, "content")); err != nil {
		return "", err
	}
	return "appended", nil
}

func teamDocList(ctx context.Context, tc ToolContext, _ map[string]any) (string, error) {
	paths, err := tc.Provider.Documents.List(ctx)
	if err != nil {
		return "", err
	}
	return jsonResult(paths)
}

func teamDocCreate(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	if err := tc.Provider.Documents.Create(ctx, docPath(args), stringArg(args, "content")); err != nil {
		return "", err
	}
	return "created", nil
}

func resourceCreate(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	content := stringArg(args, "content")
	if content == "" {
		return "", apperr.New(apperr.Invalid, "content is required")
	}
	id, err := tc.Provider.Resources.Create(ctx, content, resource.Type(stringArg(args, "type")))
	if err != nil {
		return "", err
	}
	return id, nil
}

func resourceRead(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	id := stringArg(args, "id")
	if id == "" {
		return "", apperr.New(apperr.Invalid, "id is required")
	}
	return tc.Provider.Resources.Read(ctx, id)
}

func proposalCreate(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	id, err := tc.Proposals.Create(ctx, tc.Caller, stringArg(args, "title"), stringArg(args, "body"))
	if err != nil {
		return "", err
	}
	return id, nil
}

func proposalVote(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	if err := tc.Proposals.Vote(ctx, tc.Caller, stringArg(args, "id"), stringArg(args, "choice")); err != nil {
		return "", err
	}
	return "voted", nil
}

func proposalStatus(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	return tc.Proposals.Status(ctx, stringArg(args, "id"))
}

func proposalCancel(ctx context.Context, tc ToolContext, args map[string]any) (string, error) {
	if err := tc.Proposals.Cancel(ctx, tc.Caller, stringArg(args, "id")); err != nil {
		return "", err
	}
	return "cancelled", nil
}
