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

// Package loop implements the per-agent scheduler. One goroutine per
// agent turns inbox items into backend calls: poll, build context, run the
// backend with retry/backoff, acknowledge on success only. A synchronous
// direct-send path shares the same per-agent mutex so an agent never has
// two in-flight backend calls.
package loop

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentworker/agentworker/pkg/agent"
	"github.com/agentworker/agentworker/pkg/backend"
	"github.com/agentworker/agentworker/pkg/chanstore"
	contextstore "github.com/agentworker/agentworker/pkg/context"
	"github.com/agentworker/agentworker/pkg/docstore"
	"github.com/agentworker/agentworker/pkg/inbox"
	"github.com/agentworker/agentworker/pkg/metrics"
	"github.com/agentworker/agentworker/pkg/prompt"
	"github.com/agentworker/agentworker/pkg/status"
)

// State is the loop's lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// RetryConfig bounds the backend retry loop.
type RetryConfig struct {
	MaxAttempts       int
	BackoffMs         int
	BackoffMultiplier int
}

// Config configures one agent loop.
type Config struct {
	PollInterval       time.Duration
	Retry              RetryConfig
	RecentChannelLimit int

	// Tools are executable handlers for in-process SDK backends.
	Tools []backend.Tool
	// MCPURL is passed through to subprocess backends.
	MCPURL string
	// ToolNames feeds the prompt's instructions section.
	ToolNames []string

	Project      string
	DocumentPath string
	WorkflowHint string
	ExitGuidance string
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BackoffMs <= 0 {
		c.Retry.BackoffMs = 1000
	}
	if c.Retry.BackoffMultiplier <= 0 {
		c.Retry.BackoffMultiplier = 2
	}
	if c.RecentChannelLimit <= 0 {
		c.RecentChannelLimit = 50
	}
	if c.DocumentPath == "" {
		c.DocumentPath = docstore.DefaultPath
	}
}

// RunResult reports the outcome of one turn.
type RunResult struct {
	Success   bool               `json:"success"`
	Content   string             `json:"content,omitempty"`
	Duration  time.Duration      `json:"duration"`
	Steps     int                `json:"steps"`
	ToolCalls []backend.ToolCall `json:"toolCalls,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Loop is the per-agent scheduler.
type Loop struct {
	handle   *agent.Handle
	provider *contextstore.Provider
	backend  backend.Backend
	cfg      Config
	log      *slog.Logger
	tracer   trace.Tracer

	// runMu serializes turns: poll-cycle runs and sendDirect never overlap.
	runMu sync.Mutex

	mu          sync.Mutex
	state       State
	hasFailures bool
	lastError   string

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	onRunComplete func(RunResult)
}

// New constructs a Loop in the stopped state.
func New(h *agent.Handle, provider *contextstore.Provider, b backend.Backend, cfg Config) *Loop {
	cfg.setDefaults()
	return &Loop{
		handle:   h,
		provider: provider,
		backend:  b,
		cfg:      cfg,
		log:      slog.With("agent", h.Name()),
		tracer:   otel.Tracer("agentworker/loop"),
		state:    StateStopped,
		wakeCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// OnRunComplete registers a callback invoked after every turn, successful
// or not. Must be set before Start.
func (l *Loop) OnRunComplete(fn func(RunResult)) { l.onRunComplete = fn }

// State returns the loop state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// HasFailures reports whether any turn has exhausted its retries.
func (l *Loop) HasFailures() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasFailures
}

// LastError returns the most recent terminal backend error message.
func (l *Loop) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastError
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.handle.SetState(agent.HandleState(s))
}

// Start launches the poll goroutine. Starting a started loop is a no-op;
// starting after Stop restarts with fresh stop/wake channels.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.doneCh != nil {
		select {
		case <-l.doneCh:
		default:
			l.mu.Unlock()
			return
		}
	}
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	done := l.doneCh
	stop := l.stopCh
	l.state = StateIdle
	l.mu.Unlock()
	l.handle.SetState(agent.StateIdle)

	go l.run(stop, done)
}

// Stop sets the stopped flag and wakes the sleep. An in-flight backend call
// runs to completion, or is aborted when the backend supports it; the loop
// transitions to stopped without acking.
func (l *Loop) Stop() {
	l.mu.Lock()
	stop := l.stopCh
	done := l.doneCh
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	l.mu.Unlock()
	if ab, ok := l.backend.(backend.Aborter); ok {
		ab.Abort()
	}
	if done != nil {
		<-done
	}
	l.setState(StateStopped)
}

// Wake sets a one-shot signal; a sleeping loop returns to polling
// immediately. It never bypasses the per-agent run mutex.
func (l *Loop) Wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

func (l *Loop) run(stop, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		select {
		case <-stop:
			return
		case <-l.wakeCh:
		case <-time.After(l.cfg.PollInterval):
		}

		select {
		case <-stop:
			return
		default:
		}

		items, err := l.provider.GetInbox(ctx, l.handle.Name())
		if err != nil {
			l.log.Warn("inbox read failed", "error", err)
			continue
		}
		metrics.InboxDepth.WithLabelValues(l.handle.Name()).Set(float64(len(items)))
		if len(items) == 0 {
			continue
		}

		l.runMu.Lock()
		// Re-read under the mutex: a concurrent sendDirect may have
		// consumed and acked the items we saw.
		items, err = l.provider.GetInbox(ctx, l.handle.Name())
		if err != nil || len(items) == 0 {
			l.runMu.Unlock()
			continue
		}
		result := l.runTurn(ctx, items, stop)
		l.runMu.Unlock()

		if l.onRunComplete != nil {
			l.onRunComplete(result)
		}

		select {
		case <-stop:
			return
		default:
		}
	}
}

// SendDirect appends a user message addressed to this agent and runs one
// turn synchronously, serialized against the poll cycle. Works whether the
// poll loop is started or stopped.
func (l *Loop) SendDirect(ctx context.Context, content string) RunResult {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	mention := "@" + l.handle.Name()
	if !strings.Contains(content, mention) {
		content = mention + " " + content
	}
	if _, err := l.provider.AppendChannel(ctx, "user", content, chanstore.AppendOptions{}); err != nil {
		return RunResult{Error: err.Error()}
	}

	items, err := l.provider.GetInbox(ctx, l.handle.Name())
	if err != nil {
		return RunResult{Error: err.Error()}
	}
	if len(items) == 0 {
		return RunResult{Success: true}
	}

	result := l.runTurn(ctx, items, nil)
	if l.onRunComplete != nil {
		l.onRunComplete(result)
	}
	return result
}

// runTurn executes steps 3-9 of the poll cycle for the given inbox items.
// Callers hold runMu.
func (l *Loop) runTurn(ctx context.Context, items []inbox.Item, stop chan struct{}) RunResult {
	started := time.Now()
	name := l.handle.Name()

	turnCtx, span := l.tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("agent", name),
			attribute.Int("inbox.size", len(items)),
		))
	defer span.End()

	l.setState(StateRunning)
	task := items[0].Content
	if len(task) > 80 {
		task = task[:80]
	}
	if err := l.provider.Status.Set(turnCtx, name, status.StateRunning, task); err != nil {
		l.log.Warn("status publish failed", "error", err)
	}
	defer func() {
		if err := l.provider.Status.Set(context.Background(), name, status.StateIdle, ""); err != nil {
			l.log.Warn("status publish failed", "error", err)
		}
		l.setState(StateIdle)
	}()

	recent, err := l.provider.ReadChannel(turnCtx, chanstore.ReadOptions{
		Agent: name,
		Limit: l.cfg.RecentChannelLimit,
	})
	if err != nil {
		l.log.Warn("channel read failed", "error", err)
	}

	document, err := l.provider.Documents.Read(turnCtx, l.cfg.DocumentPath)
	if err != nil {
		l.log.Warn("document read failed", "error", err)
	}

	if err := l.handle.RestoreThread(); err != nil {
		l.log.Warn("thin thread restore failed", "error", err)
	}

	var resp *backend.Response
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= l.cfg.Retry.MaxAttempts; attempt++ {
		attempts = attempt
		userPrompt := prompt.Build(prompt.Context{
			AgentName:     name,
			Project:       l.cfg.Project,
			Inbox:         items,
			ThinThread:    l.handle.Thread.Messages(),
			RecentChannel: recent,
			Document:      document,
			DocumentPath:  l.cfg.DocumentPath,
			Attempt:       attempt,
			ToolNames:     l.cfg.ToolNames,
			WorkflowHint:  l.cfg.WorkflowHint,
			ExitGuidance:  l.cfg.ExitGuidance,
		})

		callStart := time.Now()
		resp, lastErr = l.backend.Send(turnCtx, userPrompt, backend.SendOptions{
			System:    l.handle.Definition.SystemPrompt,
			Tools:     l.cfg.Tools,
			MCPURL:    l.cfg.MCPURL,
			MaxTokens: l.handle.Definition.MaxTokens,
			MaxSteps:  l.handle.Definition.MaxSteps,
		})
		metrics.BackendCalls.WithLabelValues(name).Observe(time.Since(callStart).Seconds())
		if lastErr == nil {
			break
		}

		l.log.Warn("backend call failed", "attempt", attempt, "error", lastErr)
		if attempt == l.cfg.Retry.MaxAttempts {
			break
		}

		backoff := time.Duration(l.cfg.Retry.BackoffMs) * time.Millisecond
		for i := 1; i < attempt; i++ {
			backoff *= time.Duration(l.cfg.Retry.BackoffMultiplier)
		}
		if stop != nil {
			select {
			case <-stop:
				metrics.PollCycles.WithLabelValues(name, "stopped").Inc()
				return RunResult{Duration: time.Since(started), Steps: attempts, Error: "stopped during retry"}
			case <-time.After(backoff):
			}
		} else {
			select {
			case <-turnCtx.Done():
				return RunResult{Duration: time.Since(started), Steps: attempts, Error: turnCtx.Err().Error()}
			case <-time.After(backoff):
			}
		}
	}

	if lastErr != nil {
		// No ack: the same items reappear on the next cycle (at-least-once).
		l.mu.Lock()
		l.hasFailures = true
		l.lastError = lastErr.Error()
		l.mu.Unlock()
		metrics.PollCycles.WithLabelValues(name, "failure").Inc()
		return RunResult{
			Duration: time.Since(started),
			Steps:    attempts,
			Error:    lastErr.Error(),
		}
	}

	if resp.Content != "" && !sentViaTools(resp.ToolCalls) {
		if _, err := l.provider.AppendChannel(turnCtx, name, resp.Content, chanstore.AppendOptions{}); err != nil {
			l.log.Warn("reply append failed", "error", err)
		}
	}

	lastID := items[len(items)-1].ID
	if err := l.provider.Inbox.Ack(turnCtx, name, lastID); err != nil {
		l.log.Warn("ack failed", "error", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	joined := joinInbox(items)
	if err := l.handle.AppendConversation(turnCtx,
		agent.ConversationMessage{Role: "user", Content: joined, Timestamp: now},
		agent.ConversationMessage{Role: "assistant", Content: resp.Content, Timestamp: now},
	); err != nil {
		l.log.Warn("conversation log append failed", "error", err)
	}

	metrics.PollCycles.WithLabelValues(name, "success").Inc()
	return RunResult{
		Success:   true,
		Content:   resp.Content,
		Duration:  time.Since(started),
		Steps:     attempts,
		ToolCalls: resp.ToolCalls,
	}
}

// sentViaTools reports whether the backend already posted its reply to the
// channel through a tool during the turn.
func sentViaTools(calls []backend.ToolCall) bool {
	for _, c := range calls {
		if c.Name == "channel_send" {
			return true
		}
	}
	return false
}

func joinInbox(items []inbox.Item) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(item.From)
		b.WriteString(": ")
		b.WriteString(item.Content)
	}
	return b.String()
}
