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

// Command agentworker is the CLI for the agent orchestration daemon.
//
// Usage:
//
//	agentworker daemon --port 7777
//	agentworker new reviewer --model claude-sonnet-4-20250514
//	agentworker send reviewer "look at the open PRs"
//	agentworker run team.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/agentworker/agentworker/pkg/config"
	"github.com/agentworker/agentworker/pkg/daemon"
	"github.com/agentworker/agentworker/pkg/logger"
	"github.com/agentworker/agentworker/pkg/telemetry"
)

// CLI defines the command-line interface.
type CLI struct {
	Daemon DaemonCmd `cmd:"" help:"Start the orchestration daemon."`
	New    NewCmd    `cmd:"" help:"Create a new persistent agent."`
	Ls     LsCmd     `cmd:"" help:"List registered agents."`
	Stop   StopCmd   `cmd:"" help:"Stop the daemon, or a workflow with @name[:tag]."`
	Status StatusCmd `cmd:"" help:"Show daemon status."`
	Send   SendCmd   `cmd:"" help:"Send a message to an agent and print the reply."`
	Peek   PeekCmd   `cmd:"" help:"Peek at an agent's recent conversation."`
	Run    RunCmd    `cmd:"" help:"Run a workflow file to completion, then tear it down."`
	Start  StartCmd  `cmd:"" help:"Start a workflow file and leave it running."`

	ConfigDir string `help:"Config directory." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

func (c *CLI) configDir() string {
	if c.ConfigDir != "" {
		return c.ConfigDir
	}
	return config.DefaultConfigDir()
}

// DaemonCmd starts the daemon process.
type DaemonCmd struct {
	Host    string `help:"Bind host." default:"127.0.0.1"`
	Port    int    `help:"Bind port." default:"7777"`
	Token   string `help:"Bearer token for the control plane (empty disables auth)."`
	Observe bool   `help:"Enable span tracing to stdout."`
}

func (c *DaemonCmd) Run(cli *CLI) error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}

	tel, err := telemetry.Init(telemetry.Config{Enabled: c.Observe})
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	d := daemon.New(config.DaemonConfig{
		Host:      c.Host,
		Port:      c.Port,
		Token:     config.ExpandEnvVars(c.Token),
		ConfigDir: cli.configDir(),
		LogLevel:  cli.LogLevel,
	})
	return d.ListenAndServe(ctx)
}

// NewCmd creates a persistent agent via the daemon.
type NewCmd struct {
	Name    string `arg:"" help:"Agent name."`
	Model   string `help:"Model name."`
	Backend string `help:"Backend (anthropic, openai, subprocess, mock)." default:"anthropic"`
	System  string `help:"System prompt."`
}

func (c *NewCmd) Run(cli *CLI) error {
	client, err := dialDaemon(cli.configDir())
	if err != nil {
		return err
	}
	return client.CreateAgent(c.Name, c.Model, c.Backend, c.System)
}

// LsCmd lists agents.
type LsCmd struct{}

func (c *LsCmd) Run(cli *CLI) error {
	client, err := dialDaemon(cli.configDir())
	if err != nil {
		return err
	}
	return client.ListAgents(os.Stdout)
}

// StopCmd stops the daemon or one workflow.
type StopCmd struct {
	Target string `arg:"" optional:"" help:"@workflow[:tag] to stop one workflow; empty stops the daemon."`
}

func (c *StopCmd) Run(cli *CLI) error {
	client, err := dialDaemon(cli.configDir())
	if err != nil {
		return err
	}
	if c.Target == "" {
		return client.ShutdownDaemon()
	}
	return client.StopWorkflow(c.Target)
}

// StatusCmd prints daemon health.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	client, err := dialDaemon(cli.configDir())
	if err != nil {
		return err
	}
	return client.Health(os.Stdout)
}

// SendCmd sends one direct message to an agent.
type SendCmd struct {
	Agent   string `arg:"" help:"Agent name."`
	Message string `arg:"" help:"Message content."`
}

func (c *SendCmd) Run(cli *CLI) error {
	client, err := dialDaemon(cli.configDir())
	if err != nil {
		return err
	}
	return client.Send(c.Agent, c.Message, os.Stdout)
}

// PeekCmd shows an agent's recent conversation without running it.
type PeekCmd struct {
	Agent string `arg:"" help:"Agent name."`
}

func (c *PeekCmd) Run(cli *CLI) error {
	client, err := dialDaemon(cli.configDir())
	if err != nil {
		return err
	}
	return client.Peek(c.Agent, os.Stdout)
}

// RunCmd drives a workflow to idle-termination then tears it down.
type RunCmd struct {
	File    string `arg:"" help:"Workflow YAML file." type:"path"`
	Timeout int    `help:"Completion timeout in seconds." default:"600"`
}

func (c *RunCmd) Run(cli *CLI) error {
	client, err := dialDaemon(cli.configDir())
	if err != nil {
		return err
	}
	return client.RunWorkflow(c.File, c.Timeout, os.Stdout)
}

// StartCmd starts a workflow and leaves it running.
type StartCmd struct {
	File string `arg:"" help:"Workflow YAML file." type:"path"`
}

func (c *StartCmd) Run(cli *CLI) error {
	client, err := dialDaemon(cli.configDir())
	if err != nil {
		return err
	}
	return client.StartWorkflow(c.File, os.Stdout)
}

const exitCodeInterrupted = 130

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("agentworker"),
		kong.Description("Multi-agent orchestration daemon and client."),
		kong.UsageOnError(),
	)

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, cli.LogFormat)

	if err := kctx.Run(&cli); err != nil {
		if err == errInterrupted {
			os.Exit(exitCodeInterrupted)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
