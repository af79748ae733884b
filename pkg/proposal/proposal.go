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

// Package proposal defines the optional voting subsystem interface. The
// team_proposal_* tools are part of the collaboration surface for interface
// completeness; this build ships the Noop implementation, which reports the
// subsystem as unavailable and never holds active proposals, so workflow
// idle detection treats noActiveProposals as trivially true.
package proposal

import (
	"context"

	"github.com/agentworker/agentworker/pkg/apperr"
)

// Service is the voting subsystem contract consumed by the tool server and
// the workflow idle detector.
type Service interface {
	Create(ctx context.Context, from, title, body string) (string, error)
	Vote(ctx context.Context, from, id, choice string) error
	Status(ctx context.Context, id string) (string, error)
	Cancel(ctx context.Context, from, id string) error

	// ActiveCount reports the number of open proposals.
	ActiveCount(ctx context.Context) (int, error)
}

// Noop is the shipped Service: every operation returns "not available".
type Noop struct{}

// NewNoop returns the Noop service.
func NewNoop() *Noop { return &Noop{} }

func unavailable() error {
	return apperr.New(apperr.Invalid, "proposal subsystem is not available")
}

func (*Noop) Create(context.Context, string, string, string) (string, error) {
	return "", unavailable()
}

func (*Noop) Vote(context.Context, string, string, string) error { return unavailable() }

func (*Noop) Status(context.Context, string) (string, error) { return "", unavailable() }

func (*Noop) Cancel(context.Context, string, string) error { return unavailable() }

func (*Noop) ActiveCount(context.Context) (int, error) { return 0, nil }
