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
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/loomware/agentkit/pkg/agentapi"
	"github.com/loomware/agentkit/pkg/conductor"
)

// runChat drives an interactive REPL against a, streaming interactive
// turns and printing a terminal summary for plan/approval/execution
// transitions, grounded on the teacher's chat_direct.go startDirectChat
// loop but speaking pkg/agentapi instead of the teacher's pkg/agent.Agent.
func runChat(ctx context.Context, a *agentapi.Agent, agentName string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("\nchat with %s (session %s)\n", agentName, a.SessionID())
	fmt.Println("commands: /quit, /exit, /cancel, /pause, /resume")
	fmt.Println()

	for {
		fmt.Print("you: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			if err.Error() == "EOF" {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if done, err := runCommand(ctx, a, input); done || err != nil {
				return err
			}
			continue
		}

		msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: input})

		fmt.Printf("%s: ", agentName)
		var resp *conductor.UniversalResponse
		var streamErr error
		for ev, err := range a.Stream(ctx, msg) {
			if err != nil {
				streamErr = err
				break
			}
			if ev.TextDelta != "" {
				fmt.Print(ev.TextDelta)
			}
			if ev.Done {
				resp = ev.Response
			}
		}
		fmt.Println()

		if streamErr != nil {
			fmt.Printf("error: %v\n\n", streamErr)
			continue
		}
		printTurn(resp)
	}
}

func runCommand(ctx context.Context, a *agentapi.Agent, cmd string) (exit bool, err error) {
	switch cmd {
	case "/quit", "/exit":
		if saveErr := a.Save(ctx); saveErr != nil {
			slog.Warn("save on exit failed", "error", saveErr)
		}
		fmt.Println("session ended")
		return true, nil
	case "/cancel":
		printTurn(a.Cancel())
		return false, nil
	case "/pause":
		resp, err := a.Pause()
		if err != nil {
			fmt.Printf("pause failed: %v\n", err)
			return false, nil
		}
		printTurn(resp)
		return false, nil
	case "/resume":
		resp, err := a.ResumeExecution(ctx)
		if err != nil {
			fmt.Printf("resume failed: %v\n", err)
			return false, nil
		}
		printTurn(resp)
		return false, nil
	default:
		fmt.Printf("unknown command: %s\n", cmd)
		return false, nil
	}
}

func printTurn(resp *conductor.UniversalResponse) {
	if resp == nil {
		return
	}
	if resp.Text != "" {
		fmt.Println(resp.Text)
	}
	if resp.Plan != nil {
		fmt.Printf("[plan %s, mode=%s]\n", resp.PlanStatus, resp.Mode)
	}
	if resp.TaskProgress != nil {
		tp := resp.TaskProgress
		fmt.Printf("[tasks: %d/%d complete, %d failed, %d in progress]\n",
			tp.Completed, tp.Total, tp.Failed, tp.InProgress)
	}
	if resp.NeedsUserAction {
		fmt.Printf("[awaiting %s]\n", resp.UserActionType)
	}
	fmt.Println()
}
