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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentworker/agentworker/pkg/apperr"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"
const anthropicDefaultMaxTokens = 4096

// AnthropicConfig configures the in-process Anthropic SDK backend.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
}

// Anthropic is the in-process SDK Backend variant: tool handlers
// supplied via SendOptions.Tools are executed in-process during step
// iteration, bounded by MaxSteps.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAnthropic builds an Anthropic backend.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Send runs one turn, iterating tool calls in-process until the model stops
// requesting tools or MaxSteps is reached.
func (a *Anthropic) Send(ctx context.Context, prompt string, opts SendOptions) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
	}()

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	toolsByName := make(map[string]Tool, len(opts.Tools))
	toolParams := make([]anthropic.ToolUnionParam, 0, len(opts.Tools))
	for _, t := range opts.Tools {
		toolsByName[t.Name] = t
		param, err := anthropicToolParam(t)
		if err != nil {
			return nil, err
		}
		toolParams = append(toolParams, param)
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}

	resp := &Response{}
	var finalText string

	for step := 0; step < maxSteps; step++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: int64(maxTokens),
			Messages:  messages,
		}
		if opts.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: opts.System}}
		}
		if len(toolParams) > 0 {
			params.Tools = toolParams
		}

		msg, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return nil, apperr.Wrap(apperr.BackendFailure, "anthropic call failed", err)
		}

		resp.Usage.InputTokens += int(msg.Usage.InputTokens)
		resp.Usage.OutputTokens += int(msg.Usage.OutputTokens)

		var toolUses []anthropic.ToolUseBlock
		for _, block := range msg.Content {
			switch b := block.AsAny().(type) {
			case anthropic.TextBlock:
				finalText = b.Text
			case anthropic.ToolUseBlock:
				toolUses = append(toolUses, b)
			}
		}

		if msg.StopReason != anthropic.StopReasonToolUse || len(toolUses) == 0 {
			break
		}

		messages = append(messages, msg.ToParam())
		var results []anthropic.ContentBlockParamUnion
		for _, use := range toolUses {
			var args map[string]any
			if err := json.Unmarshal(use.Input, &args); err != nil {
				args = map[string]any{}
			}
			record := ToolCall{Name: use.Name, Args: args}
			tool, ok := toolsByName[use.Name]
			if !ok {
				record.Result = fmt.Sprintf("unknown tool %q", use.Name)
				results = append(results, anthropic.NewToolResultBlock(use.ID, record.Result, true))
				resp.ToolCalls = append(resp.ToolCalls, record)
				continue
			}
			out, err := tool.Execute(ctx, args)
			if err != nil {
				record.Result = "error: " + err.Error()
				results = append(results, anthropic.NewToolResultBlock(use.ID, err.Error(), true))
			} else {
				record.Result = out
				results = append(results, anthropic.NewToolResultBlock(use.ID, out, false))
			}
			resp.ToolCalls = append(resp.ToolCalls, record)
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	resp.Content = finalText
	return resp, nil
}

// Abort cancels any in-flight Send.
func (a *Anthropic) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

func anthropicToolParam(t Tool) (anthropic.ToolUnionParam, error) {
	raw, err := json.Marshal(t.Schema)
	if err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
	}
	var schema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(raw, &schema); err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
	}
	param := anthropic.ToolUnionParamOfTool(schema, t.Name)
	if param.OfTool != nil && t.Description != "" {
		param.OfTool.Description = anthropic.String(t.Description)
	}
	return param, nil
}
