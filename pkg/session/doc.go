/*
Package session manages live sessions and their durable state.

The Manager opens sessions by id, restores them from a ports.SessionStore (replaying the
append-only trace when the snapshot is missing, corrupt or behind it) and keeps one live
runtime.Machine per session. Access to a session is serialized with a local reference-counted
lock and, optionally, a distributed lock shared by several replicas.
*/
package session
