// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agent holds the shared invocation-context and event vocabulary
// that pkg/tool, pkg/agentloop and pkg/conductor are built against:
// ReadonlyContext/CallbackContext (what a tool call sees), State/
// ReadonlyState (session key-value access), Artifacts and
// MemorySearchResponse (the two side-channels a tool.Context exposes), and
// Event/Content (the per-turn record pkg/agentloop's own event taxonomy is
// modeled on).
//
// This package used to also define the full multi-agent runtime (Agent,
// InvocationContext, Session, Memory, sub-agent orchestration). That
// machinery sat a layer above what this runtime's C1-C5 core needs — a
// single conductor-driven agent, not a tree of delegating agents — and has
// been removed; only the context and event vocabulary those components
// still depend on remains.
package agent
