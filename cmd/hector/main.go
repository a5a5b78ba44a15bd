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

// Command hector is the CLI for the agentkit conversational agent runtime.
//
// Usage:
//
//	hector chat --provider anthropic --model claude-sonnet-4-20250514
//	hector chat --session my-session --store ./.hector-sessions
//	hector version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/loomware/agentkit"
	"github.com/loomware/agentkit/pkg/agent"
	"github.com/loomware/agentkit/pkg/agentapi"
	"github.com/loomware/agentkit/pkg/conductor"
	"github.com/loomware/agentkit/pkg/contextmgr"
	"github.com/loomware/agentkit/pkg/logger"
	"github.com/loomware/agentkit/pkg/tokenest"
	"github.com/loomware/agentkit/pkg/tool"
	"github.com/loomware/agentkit/pkg/tool/todotool"
)

// CLI defines the command-line interface, following the teacher's Kong
// command-struct layout (one exported *Cmd type per subcommand, a Run
// method per command).
type CLI struct {
	Chat    ChatCmd    `cmd:"" help:"Start an interactive chat session."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(agentkit.GetVersion().String())
	return nil
}

// ChatCmd starts an interactive chat session against a single
// conductor-driven agent, per spec.md §6's Agent API.
type ChatCmd struct {
	Provider    string  `help:"LLM provider (anthropic, openai, gemini, ollama)." default:"anthropic"`
	Model       string  `help:"Model name (defaults to the provider's flagship model)."`
	APIKey      string  `name:"api-key" help:"API key (defaults to the provider's environment variable)."`
	BaseURL     string  `name:"base-url" help:"Custom API base URL."`
	Temperature float64 `help:"Temperature for generation." default:"0.7"`
	MaxTokens   int     `name:"max-tokens" help:"Max tokens for generation." default:"4096"`
	Instruction string  `help:"System instruction for the agent." default:"You are a helpful assistant."`

	Tools          string `help:"Enable built-in tools. Empty or 'all' enables all; comma-separated list enables specific tools." default:"all"`
	ApproveTools   string `name:"approve-tools" help:"Always allow these tools without prompting (comma-separated)." placeholder:"TOOL1,TOOL2"`
	NoApproveTools string `name:"no-approve-tools" help:"Always deny these tools without prompting (comma-separated)." placeholder:"TOOL1,TOOL2"`
	MCPURL         string `name:"mcp-url" help:"MCP server URL to register as an additional toolset."`

	Session string `help:"Session ID to create or resume. Generated if empty."`
	Store   string `help:"Directory for persisted sessions (default: in-memory only, lost on exit)." type:"path"`

	ContextBudget int `name:"context-budget" help:"Token budget for the managed conversation." default:"128000"`
	MaxIterations int `name:"max-iterations" help:"Max tool-use iterations per turn." default:"10"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	llm, err := buildLLM(c)
	if err != nil {
		return fmt.Errorf("build llm: %w", err)
	}
	defer llm.Close()

	estimator, err := tokenest.New(llm.Name())
	if err != nil {
		return fmt.Errorf("build estimator: %w", err)
	}

	registry := tool.NewRegistry()
	todos := todotool.NewTodoManager()
	if err := registerBuiltinTools(registry, todos); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	if err := registerMCPToolset(registry, c.MCPURL); err != nil {
		return fmt.Errorf("register mcp toolset: %w", err)
	}

	perm := tool.NewPermissionManager(time.Hour)
	predicate := toolsPredicate(c.Tools, perm, splitSet(c.ApproveTools), splitSet(c.NoApproveTools))

	executor := tool.NewExecutor(registry, tool.ExecutorConfig{DefaultTimeout: 60 * time.Second, CacheTTL: 30 * time.Second})

	state := newMemoryState()
	readonlyCtx := newTurnContext(ctx, "hector", "hector", "cli-user", c.Session, state)
	toolCtxFor := func(callID string) tool.Context { return newToolContext(readonlyCtx, callID) }

	manager, err := contextmgr.NewManager(contextmgr.ManagerConfig{
		SystemPrompt:    c.Instruction,
		Estimator:       estimator,
		MaxTokens:       c.ContextBudget,
		ResponseReserve: c.MaxTokens,
		Strategy:        contextmgr.NewRecencyStrategy(0.92, 8, estimator),
		Sections:        []contextmgr.Section{newTodoSection(todos, readonlyCtx.SessionID, estimator)},
	})
	if err != nil {
		return fmt.Errorf("build context manager: %w", err)
	}

	cfg := agentapi.Config{
		Manager:   manager,
		SessionID: c.Session,
		AutoSave:  c.Store != "",
		Conductor: conductor.Config{
			Registry:      registry,
			Executor:      executor,
			LLM:           llm,
			ReadonlyCtx:   readonlyCtx,
			ToolContext:   toolCtxFor,
			BasePredicate: predicate,
			MaxIterations: c.MaxIterations,
		},
	}

	if c.Store != "" {
		store, err := agentapi.NewFileStore(c.Store)
		if err != nil {
			return fmt.Errorf("build file store: %w", err)
		}
		cfg.Store = store
	} else {
		cfg.Store = agentapi.NewMemoryStore()
	}

	var a *agentapi.Agent
	if c.Session != "" && cfg.Store != nil {
		exists, err := cfg.Store.Exists(ctx, c.Session)
		if err != nil {
			return fmt.Errorf("check session %q: %w", c.Session, err)
		}
		if exists {
			a, err = agentapi.Resume(ctx, c.Session, cfg)
			if err != nil {
				return fmt.Errorf("resume session %q: %w", c.Session, err)
			}
		}
	}
	if a == nil {
		a, err = agentapi.Create(cfg)
		if err != nil {
			return fmt.Errorf("create agent: %w", err)
		}
	}
	readonlyCtx.sessionID = a.SessionID()
	readonlyCtx.invocationID = a.SessionID()

	return runChat(ctx, a, "hector")
}

func splitSet(csv string) map[string]bool {
	out := make(map[string]bool)
	if csv == "" {
		return out
	}
	for _, name := range strings.Split(csv, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			out[name] = true
		}
	}
	return out
}

var _ agent.ReadonlyContext = (*turnContext)(nil)

func main() {
	if err := loadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "load env files: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("hector"),
		kong.Description("Conversational agent runtime CLI."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		f, closeFn, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer closeFn()
		output = f
	}
	logger.Init(level, output, cli.LogFormat)

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
