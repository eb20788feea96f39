/*
Package ports defines the driven ports (interfaces) of the agentrun runtime.

These interfaces decouple the execution state machine from storage backends,
instruction sources and live observers.

# Key Interfaces

  - SessionStore: persists session snapshots and the append-only event trace.
  - Library: resolves graph definition, node instructions and sub-agent prompts.
  - Publisher: receives recorded events and state for live fan-out.
  - DistributedLocker: coordinates session access across replicas.
*/
package ports
