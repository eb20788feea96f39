/*
Package agentrun is a resumable execution tracker for workflow graphs driven by an agent.

The agent decides where to go; agentrun keeps the authoritative record of what happened.
It holds one execution state per session (current node, bounded per-node visit counts,
a shared key/value blackboard and the full causal history), persists every change as a
snapshot plus an append-only trace, and streams the changes to dashboards in real time.

# Components

  - pkg/limits parses "@max_iterations: N" annotations from the Mermaid graph definition.
  - internal/runtime is the execution state machine: enter, complete, route, pause,
    blackboard access, sub-agent lookup and completion.
  - pkg/session opens, restores and serializes sessions over a ports.SessionStore
    (file, memory, redis or SQL).
  - pkg/observability fans session changes out to subscribers, replaying the full
    state to late joiners.
  - pkg/api is the transport-agnostic operation surface, served over MCP by
    pkg/adapters/mcp, over REST/SSE by pkg/adapters/http and line by line by pkg/runner.
  - pkg/dsl builds a bounded graph in Go for agents embedded in a program.

# Usage

	cfg, err := config.Load("./my-agent", ".env")
	if err != nil {
		log.Fatal(err)
	}
	rt, err := agentrun.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Close()

	if _, err := rt.Open(ctx, ""); err != nil {
		log.Fatal(err)
	}
	res, err := rt.Service.Enter(ctx, api.EnterRequest{NodeID: "draft"})

A rejected enter (the node hit its bound) is reported in the result, not as an error.
*/
package agentrun
