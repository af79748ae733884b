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

// Package telemetry wires the OpenTelemetry SDK for the daemon. The
// default exporter writes spans to stdout for development; disabling
// telemetry installs no provider, leaving the global no-op tracer.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config controls telemetry setup.
type Config struct {
	Enabled bool
	// Pretty enables multi-line span output for human reading.
	Pretty bool
}

// Manager owns the installed tracer provider.
type Manager struct {
	provider *sdktrace.TracerProvider
}

// Init installs a tracer provider per cfg. With telemetry disabled it
// returns a Manager whose Shutdown is a no-op.
func Init(cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{}, nil
	}

	var opts []stdouttrace.Option
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	slog.Info("telemetry enabled", "exporter", "stdout")
	return &Manager{provider: provider}, nil
}

// Shutdown flushes and stops the provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
