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
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentworker/agentworker/pkg/apperr"
)

const openaiDefaultModel = "gpt-4o"

// OpenAIConfig configures the in-process OpenAI SDK backend.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
}

// OpenAI is a second in-process SDK Backend variant, demonstrating the
// interface is adapter-agnostic. Tool handling mirrors the Anthropic
// variant: handlers run in-process, bounded by MaxSteps.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewOpenAI builds an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}
}

// Send runs one turn, iterating tool calls until the model answers in text.
func (o *OpenAI) Send(ctx context.Context, prompt string, opts SendOptions) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	toolsByName := make(map[string]Tool, len(opts.Tools))
	oaiTools := make([]openai.Tool, 0, len(opts.Tools))
	for _, t := range opts.Tools {
		toolsByName[t.Name] = t
		oaiTools = append(oaiTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}

	messages := []openai.ChatCompletionMessage{}
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp := &Response{}

	for step := 0; step < maxSteps; step++ {
		req := openai.ChatCompletionRequest{
			Model:    o.model,
			Messages: messages,
		}
		if opts.MaxTokens > 0 {
			req.MaxTokens = opts.MaxTokens
		} else if o.maxTokens > 0 {
			req.MaxTokens = o.maxTokens
		}
		if len(oaiTools) > 0 {
			req.Tools = oaiTools
		}

		completion, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, apperr.Wrap(apperr.BackendFailure, "openai call failed", err)
		}
		if len(completion.Choices) == 0 {
			return nil, apperr.New(apperr.BackendFailure, "openai returned no choices")
		}

		resp.Usage.InputTokens += completion.Usage.PromptTokens
		resp.Usage.OutputTokens += completion.Usage.CompletionTokens

		choice := completion.Choices[0].Message
		if len(choice.ToolCalls) == 0 {
			resp.Content = choice.Content
			return resp, nil
		}

		messages = append(messages, choice)
		for _, tc := range choice.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			record := ToolCall{Name: tc.Function.Name, Args: args}
			var result string
			if tool, ok := toolsByName[tc.Function.Name]; ok {
				out, err := tool.Execute(ctx, args)
				if err != nil {
					result = "error: " + err.Error()
				} else {
					result = out
				}
			} else {
				result = "unknown tool " + tc.Function.Name
			}
			record.Result = result
			resp.ToolCalls = append(resp.ToolCalls, record)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	return resp, nil
}

// Abort cancels any in-flight Send.
func (o *OpenAI) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}
