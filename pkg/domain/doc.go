/*
Package domain contains the core domain models of the agentrun execution tracker.

It defines the session being tracked, the append-only events that make up its history,
and the request/result shapes of the operation set. This package is kept pure and free
of external dependencies like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Session: The authoritative snapshot of one traversal (position, counters, blackboard, history).
  - Event: One immutable record of a state transition. History is exactly the sequence of Events.
  - Summary: A condensed, size-bounded view of a Session used for live notifications.
  - Apply / Replay: The single place where Events mutate a Session, shared by the live
    state machine and the restore path.
*/
package domain
