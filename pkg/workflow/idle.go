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

package workflow

import (
	"context"
	"log/slog"
	"time"

	contextstore "github.com/agentworker/agentworker/pkg/context"
	"github.com/agentworker/agentworker/pkg/loop"
	"github.com/agentworker/agentworker/pkg/proposal"
)

// IdleState captures the four conditions of workflow completion. A
// workflow is complete iff all four hold.
type IdleState struct {
	AllLoopsIdle        bool `json:"allLoopsIdle"`
	NoUnreadMessages    bool `json:"noUnreadMessages"`
	NoActiveProposals   bool `json:"noActiveProposals"`
	IdleDebounceElapsed bool `json:"idleDebounceElapsed"`
}

// Complete reports whether every condition holds.
func (s IdleState) Complete() bool {
	return s.AllLoopsIdle && s.NoUnreadMessages && s.NoActiveProposals && s.IdleDebounceElapsed
}

// BuildIdleState computes the instantaneous idle conditions for the given
// loops over provider. IdleDebounceElapsed is asserted by the runner, not
// here.
func BuildIdleState(ctx context.Context, loops map[string]*loop.Loop, provider *contextstore.Provider, proposals proposal.Service) (IdleState, error) {
	st := IdleState{AllLoopsIdle: true, NoUnreadMessages: true, NoActiveProposals: true}

	for _, l := range loops {
		if l.State() != loop.StateIdle {
			st.AllLoopsIdle = false
			break
		}
	}

	for name := range loops {
		items, err := provider.GetInbox(ctx, name)
		if err != nil {
			return st, err
		}
		if len(items) > 0 {
			st.NoUnreadMessages = false
			break
		}
	}

	if proposals != nil {
		active, err := proposals.ActiveCount(ctx)
		if err != nil {
			return st, err
		}
		st.NoActiveProposals = active == 0
	}

	return st, nil
}

// RunOptions configures the run-mode driver.
type RunOptions struct {
	PollInterval time.Duration // workflow-level tick; default 1s
	IdleDebounce time.Duration // default 2s
	Timeout      time.Duration // default 10m
	Proposals    proposal.Service
}

func (o *RunOptions) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.IdleDebounce <= 0 {
		o.IdleDebounce = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Minute
	}
}

// RunResult reports how a run-mode drive ended.
type RunResult struct {
	Complete bool          `json:"complete"`
	TimedOut bool          `json:"timedOut"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Drive blocks until the workflow is complete or the timeout elapses. On
// timeout it reports and returns without force-killing any loop.
func Drive(ctx context.Context, h *Handle, opts RunOptions) (RunResult, error) {
	opts.setDefaults()
	started := time.Now()
	deadline := started.Add(opts.Timeout)
	log := slog.With("workflow", h.Name, "tag", h.Tag)

	var firstCompleteAt time.Time

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return RunResult{Elapsed: time.Since(started)}, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			log.Warn("run-mode timeout", "elapsed", time.Since(started))
			return RunResult{TimedOut: true, Elapsed: time.Since(started)}, nil
		}

		st, err := BuildIdleState(ctx, h.Loops(), h.Workspace.Provider, opts.Proposals)
		if err != nil {
			log.Warn("idle state check failed", "error", err)
			continue
		}

		if st.AllLoopsIdle && st.NoUnreadMessages && st.NoActiveProposals {
			if firstCompleteAt.IsZero() {
				firstCompleteAt = time.Now()
			}
			if time.Since(firstCompleteAt) >= opts.IdleDebounce {
				log.Info("workflow complete", "elapsed", time.Since(started))
				return RunResult{Complete: true, Elapsed: time.Since(started)}, nil
			}
		} else {
			firstCompleteAt = time.Time{}
		}
	}
}
