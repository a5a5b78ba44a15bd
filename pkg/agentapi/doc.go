// Package agentapi exposes the single external entry point spec.md §6
// calls the "Agent API": chat(input) / stream(input), plus the session
// lifecycle (create, resume, pause, resume, cancel, destroy). It wraps a
// pkg/conductor.Conductor — which already implements the three in-process
// lifecycle calls (Pause/Resume/Cancel) — and adds the one thing the
// conductor deliberately doesn't own: turning its in-memory state into an
// opaque snapshot a Store can persist and later rehydrate, grounded on
// pkg/checkpoint/storage.go's save/load shape and pkg/runner.Runner's
// streaming Run method.
package agentapi
