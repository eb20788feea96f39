/*
Package dsl builds agent graphs in Go instead of agent-mermaid.md files.

The builder emits a Mermaid flowchart carrying the @max_iterations annotations
and collects node instructions and sub-agent prompts into an in-memory library,
so an embedded agent runs without an agent directory on disk.

Example usage:

	b := dsl.New()
	b.Add("draft").Label("Draft").Max(3).
		Instructions("Write the first version.").
		Go("review")
	b.Add("review").Label("Review").
		Instructions("Check the draft.").
		Branch("needs work", "draft").
		Go("publish")
	b.Add("publish")
	b.Prompt("/agents/critic", "You are a strict critic.")

	lib, err := b.Build()
	// pass lib to agentrun.WithLibraries
*/
package dsl
