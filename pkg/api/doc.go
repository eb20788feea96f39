// Package api is the transport-agnostic operation surface of agentrun.
//
// Each operation takes a request struct and returns a result from pkg/domain.
// Transports (MCP tools, HTTP routes, the console runner) decode their arguments with Decode and
// either call the typed methods or dispatch by name through Service.Call.
package api
