// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package sandbox is a client for the hosted sandbox API that provisions git
// repositories and dev servers for apps. Overload responses (429, 529) are
// retried with exponential backoff.
package sandbox
