// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package stream coordinates at most one generation stream per resource.

# Lifecycle

A request for resource R reads R's liveness record. When a stream is marked
running, the coordinator asks it to abort through the in-process registry and
polls the record until it clears; once the wait budget is spent the record is
reclaimed and the caller receives an admission timeout. An admitted request
marks the record running, installs its own abort listener, persists the inbound
turn and starts the execution through the backoff executor.

While running, the liveness record is refreshed from the provider's chunk
callback and at every step checkpoint, at most once per heartbeat interval.
After each step the produced turns are buffered as unsaved and the abort flag
is checked. Every terminal path clears the record:

  - Aborted: the execution context is cancelled with ErrAborted and unsaved
    turns are drained to the conversation store.
  - Completed: every turn of the run is persisted and marked saved.
  - Errored: external resources are released and the error is surfaced from
    Run.Wait. Unsaved turns are only persisted when Config.FlushOnError is set.

Cancellation is cooperative. A run never stops mid-step.

# States

	Idle -> Admitting -> Preempting -> Running -> Draining -> Terminated

Terminated is absorbing: late heartbeats and buffer appends are refused.
*/
package stream
