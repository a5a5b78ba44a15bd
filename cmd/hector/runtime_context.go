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
	"context"
	"iter"
	"sync"

	"github.com/loomware/agentkit/pkg/agent"
)

// memoryState is a process-local agent.State, grounded on the shape
// pkg/tool's own mockContext tests stub out (a bare map is all any tool in
// this CLI's registry ever needs to Get/Set/Delete against).
type memoryState struct {
	mu   sync.RWMutex
	data map[string]any
}

func newMemoryState() *memoryState {
	return &memoryState{data: make(map[string]any)}
}

func (s *memoryState) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key], nil
}

func (s *memoryState) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memoryState) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryState) All() iter.Seq2[string, any] {
	s.mu.RLock()
	snapshot := make(map[string]any, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.RUnlock()
	return func(yield func(string, any) bool) {
		for k, v := range snapshot {
			if !yield(k, v) {
				return
			}
		}
	}
}

// turnContext is the one agent.ReadonlyContext this CLI builds per process:
// a single interactive session, a single agent, a single mutable state
// store shared across every turn. It doubles as the tool.Context every
// tool call runs under, mirroring the mockContext shape pkg/tool's and
// pkg/tool/todotool's own tests are built against, but backed by a real
// memoryState instead of nil fields.
type turnContext struct {
	context.Context

	invocationID string
	agentName    string
	userID       string
	appName      string
	sessionID    string
	userContent  *agent.Content

	state     *memoryState
	artifacts agent.Artifacts
}

func newTurnContext(ctx context.Context, appName, agentName, userID, sessionID string, state *memoryState) *turnContext {
	return &turnContext{
		Context:      ctx,
		invocationID: sessionID,
		agentName:    agentName,
		userID:       userID,
		appName:      appName,
		sessionID:    sessionID,
		state:        state,
	}
}

func (c *turnContext) InvocationID() string                { return c.invocationID }
func (c *turnContext) AgentName() string                   { return c.agentName }
func (c *turnContext) UserContent() *agent.Content          { return c.userContent }
func (c *turnContext) ReadonlyState() agent.ReadonlyState   { return c.state }
func (c *turnContext) UserID() string                       { return c.userID }
func (c *turnContext) AppName() string                      { return c.appName }
func (c *turnContext) SessionID() string                    { return c.sessionID }
func (c *turnContext) Branch() string                        { return "" }
func (c *turnContext) Artifacts() agent.Artifacts           { return c.artifacts }
func (c *turnContext) State() agent.State                   { return c.state }

// toolContext adapts a turnContext into a tool.Context for one tool call,
// adding the per-invocation FunctionCallID and the EventActions sink the
// executed tool's callbacks may populate.
type toolContext struct {
	*turnContext
	callID  string
	actions *agent.EventActions
}

func newToolContext(tc *turnContext, callID string) *toolContext {
	return &toolContext{
		turnContext: tc,
		callID:      callID,
		actions:     &agent.EventActions{StateDelta: make(map[string]any)},
	}
}

func (c *toolContext) FunctionCallID() string { return c.callID }
func (c *toolContext) Actions() *agent.EventActions { return c.actions }

func (c *toolContext) SearchMemory(ctx context.Context, query string) (*agent.MemorySearchResponse, error) {
	// No memory backend is wired into this CLI; every search comes back
	// empty rather than erroring, so tools that opportunistically call it
	// degrade gracefully.
	return &agent.MemorySearchResponse{}, nil
}
