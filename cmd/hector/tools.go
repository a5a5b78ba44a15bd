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

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/loomware/agentkit/pkg/agent"
	"github.com/loomware/agentkit/pkg/tool"
	"github.com/loomware/agentkit/pkg/tool/controltool"
	"github.com/loomware/agentkit/pkg/tool/filetool"
	"github.com/loomware/agentkit/pkg/tool/mcptoolset"
	"github.com/loomware/agentkit/pkg/tool/todotool"
	"github.com/loomware/agentkit/pkg/tool/webtool"
)

// registerBuiltinTools registers every built-in tool; the --tools flag then
// selects among them by tool name (see toolsPredicate).
func registerBuiltinTools(registry *tool.Registry, todos *todotool.TodoManager) error {
	readFile, err := filetool.NewReadFile(nil)
	if err != nil {
		return fmt.Errorf("read_file: %w", err)
	}
	writeFile, err := filetool.NewWriteFile(nil)
	if err != nil {
		return fmt.Errorf("write_file: %w", err)
	}
	searchReplace, err := filetool.NewSearchReplace(nil)
	if err != nil {
		return fmt.Errorf("search_replace: %w", err)
	}
	applyPatch, err := filetool.NewApplyPatch(nil)
	if err != nil {
		return fmt.Errorf("apply_patch: %w", err)
	}
	grepSearch, err := filetool.NewGrepSearch(nil)
	if err != nil {
		return fmt.Errorf("grep_search: %w", err)
	}
	webRequest, err := webtool.NewWebRequest(nil)
	if err != nil {
		return fmt.Errorf("web_request: %w", err)
	}
	todoWrite, err := todos.Tool()
	if err != nil {
		return fmt.Errorf("todo_write: %w", err)
	}

	for _, t := range []tool.Tool{
		readFile, writeFile, searchReplace, applyPatch, grepSearch,
		webRequest, todoWrite, controltool.ExitLoop(), controltool.Escalate(),
	} {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// registerMCPToolset wires an external MCP server into registry when the
// caller passed --mcp-url, lazily connecting on first use per
// mcptoolset's own design.
func registerMCPToolset(registry *tool.Registry, url string) error {
	if url == "" {
		return nil
	}
	ts, err := mcptoolset.New(mcptoolset.Config{
		Name:      "mcp",
		URL:       url,
		Transport: "streamable-http",
	})
	if err != nil {
		return fmt.Errorf("mcp toolset: %w", err)
	}
	return registry.RegisterToolset(ts)
}

// toolsPredicate builds the Predicate selecting which of the registered
// tools the conductor exposes to the LLM, combining the --tools allowlist
// with the approval-manager gate for tools RequiresApproval marks as
// needing human confirmation first.
func toolsPredicate(selected string, perm *tool.PermissionManager, approveAlways, approveNever map[string]bool) tool.Predicate {
	var allow tool.Predicate = tool.AllowAll()
	if selected != "" && selected != "all" {
		names := strings.Split(selected, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		allow = tool.StringPredicate(names)
	}

	return tool.Combine(allow, approvalPredicate(perm, approveAlways, approveNever))
}

// approvalPredicate consults perm for every tool that RequiresApproval,
// prompting interactively on stdin the first time a session encounters it
// and caching the answer for the rest of the session (tool.PolicySession).
// --approve-tools / --no-approve-tools override the prompt entirely.
func approvalPredicate(perm *tool.PermissionManager, always, never map[string]bool) tool.Predicate {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx agent.ReadonlyContext, t tool.Tool) bool {
		if !t.RequiresApproval() {
			return true
		}
		if never[t.Name()] {
			return false
		}
		if always[t.Name()] {
			return true
		}

		sessionID := ctx.SessionID()
		switch perm.Check(sessionID, t.Name(), tool.PolicySession) {
		case tool.DecisionApprove:
			return true
		case tool.DecisionDeny:
			return false
		}

		fmt.Printf("tool %q requires approval for this session. allow? [y/N] ", t.Name())
		line, _ := reader.ReadString('\n')
		approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
		decision := tool.DecisionDeny
		if approved {
			decision = tool.DecisionApprove
		}
		perm.Record(sessionID, t.Name(), tool.PolicySession, decision)
		return approved
	}
}
