// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package liveness tracks whether a generation stream is currently running for a
resource, using TTL-backed records in a store shared by every replica.

A record's presence never proves the stream is alive, since the owner may have
crashed. Its absence or expiry means no stream is guaranteed alive. Expiry is
enforced by the store, so a crashed owner's record disappears on its own.

# Implementations

  - RedisStore: SET key running EX ttl on top of internal/cache.Manager.
  - MemoryStore: in-process map with clock-enforced expiry.
*/
package liveness
