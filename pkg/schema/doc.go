// Package schema types the shared context of a session.
//
// An agent may declare the expected type of blackboard keys in agent-config.yaml:
//
//	context_schema:
//	  plan: "[string]"
//	  retries: int
//	  reviewer: string?
//
// Supported types are string, int, float, bool, object and any, a "[T]" slice of
// any of them, and a trailing "?" that also accepts null. Keys that are not
// declared accept any value.
package schema
