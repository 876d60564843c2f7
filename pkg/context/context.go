// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package context provides the default-timeout helper cmd/hpcc wraps
// around blocking resource-discovery probes (sinfo/pbsnodes/hostfile).
package context

import (
	"context"
	"time"
)

// DefaultTimeout bounds a scheduler-probe call that carries no deadline of
// its own.
const DefaultTimeout = 30 * time.Second

// EnsureTimeout returns ctx unchanged if it already carries a deadline,
// otherwise wraps it with defaultTimeout (or DefaultTimeout if zero).
func EnsureTimeout(ctx context.Context, defaultTimeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	if defaultTimeout == 0 {
		defaultTimeout = DefaultTimeout
	}

	return context.WithTimeout(ctx, defaultTimeout)
}
