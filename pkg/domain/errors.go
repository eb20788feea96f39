package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrUninitializedSession is returned when an operation targets a session that was never opened.
var ErrUninitializedSession = errors.New("session not initialized: call agent_init first")

// ErrSessionCompleted is returned when a mutating operation targets a completed session.
var ErrSessionCompleted = errors.New("session already completed")

// ErrInvalidArgument is returned when a request is missing a required field.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrInvalidCompletionStatus is returned when complete_execution receives an unknown status.
var ErrInvalidCompletionStatus = errors.New("invalid completion status")

// ErrAgentNotFound is returned when the agent directory does not exist.
var ErrAgentNotFound = errors.New("agent directory not found")

// ErrCorruptSnapshot is returned by stores when a snapshot exists but cannot be decoded.
var ErrCorruptSnapshot = errors.New("corrupt session snapshot")
