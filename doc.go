// Package agentkit is a conversational agent runtime: a token budget
// estimator (pkg/tokenest), a tool registry and executor (pkg/tool), a
// context manager that keeps a conversation within a token budget
// (pkg/contextmgr), an agentic tool-use loop (pkg/agentloop), and a mode
// conductor that classifies a turn as a plain exchange or a multi-step
// plan and drives it through interactive, planning, approval and
// execution modes (pkg/conductor).
//
// # Using as a Go library
//
// pkg/agentapi is the single exposed entry point: Create/Resume an Agent,
// then call Chat or Stream per turn.
//
//	a, err := agentapi.Create(agentapi.Config{
//	    Manager: mgr,
//	    Store:   agentapi.NewMemoryStore(),
//	    Conductor: conductor.Config{
//	        Registry: registry,
//	        Executor: executor,
//	        LLM:      llm,
//	    },
//	})
//	resp, err := a.Chat(ctx, input)
//
// # Command-line
//
//	go install github.com/loomware/agentkit/cmd/hector@latest
//	hector chat --provider anthropic --tools all
package agentkit
