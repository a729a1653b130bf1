// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package abort provides the in-process registry that lets a new request ask the
stream currently running for the same resource to stop.

Delivery is intent only. The running stream observes the flag at its own
checkpoints and shuts itself down; nothing is interrupted forcibly. When no
listener is installed the request is dropped, and the caller falls back to
waiting for the liveness record to clear or expire.
*/
package abort
