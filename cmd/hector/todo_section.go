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
	"encoding/json"

	"github.com/loomware/agentkit/pkg/contextmgr"
	"github.com/loomware/agentkit/pkg/tool/todotool"
)

// todoSection is the concrete contextmgr.Section this CLI registers: the
// live task list todo_write maintains, rendered into the preamble the same
// way todotool.FormatTodosForContext already formats it for a direct
// prompt injection. Compaction hides completed/canceled entries rather
// than deleting them from the TodoManager's own state, since the manager
// is the source of truth the todo_write tool keeps mutating independent of
// this section's rendering.
type todoSection struct {
	todos        *todotool.TodoManager
	sessionIDFor func() string
	estimator    contextmgr.Estimator

	hideCompleted bool
}

// newTodoSection takes sessionIDFor rather than a fixed session id because
// --session may be empty at Manager-construction time and only resolved to
// the agentapi.Agent's generated id afterward; the section must key
// TodoManager lookups on whatever id is current at render time.
func newTodoSection(todos *todotool.TodoManager, sessionIDFor func() string, estimator contextmgr.Estimator) *todoSection {
	return &todoSection{todos: todos, sessionIDFor: sessionIDFor, estimator: estimator}
}

func (s *todoSection) Name() string { return "todos" }

// Priority is non-zero (unlike the persistent instructions section) so a
// compaction strategy may compact the task list through CompactPlugin. The
// built-in RecencyStrategy never does; it only drops conversation messages.
func (s *todoSection) Priority() int { return 5 }

func (s *todoSection) Compactable() bool { return true }

func (s *todoSection) ProduceContent(_ context.Context) (string, error) {
	items := s.todos.GetTodos(s.sessionIDFor())
	if s.hideCompleted {
		filtered := items[:0]
		for _, item := range items {
			if item.Status != "completed" && item.Status != "canceled" {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	return todotool.FormatTodosForContext(items), nil
}

func (s *todoSection) TokenSize() int {
	content, _ := s.ProduceContent(context.Background())
	return s.estimator.EstimateText(content)
}

// Compact hides completed/canceled todos from the rendered section once,
// then reports zero further savings — there is nothing else in a task
// list safe to drop without destroying state todo_write still owns.
func (s *todoSection) Compact(target int) (int, error) {
	before := s.TokenSize()
	if before <= target || s.hideCompleted {
		return 0, nil
	}
	s.hideCompleted = true
	return before - s.TokenSize(), nil
}

type todoSectionState struct {
	HideCompleted bool `json:"hide_completed"`
}

func (s *todoSection) Serialize() ([]byte, error) {
	return json.Marshal(todoSectionState{HideCompleted: s.hideCompleted})
}

func (s *todoSection) Restore(data []byte) error {
	var state todoSectionState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.hideCompleted = state.HideCompleted
	return nil
}

var _ contextmgr.Section = (*todoSection)(nil)
