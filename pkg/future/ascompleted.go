// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package future

import (
	"context"
	"time"

	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
)

// AsCompleted polls futures and invokes yield once for each, in the order
// each reaches a terminal state, grounded on original_source's module-level
// as_completed(). If timeout elapses before all futures are done, every
// future still pending is cancelled and AsCompleted returns a Timeout error.
// If cancelOnException is true and yield returns an error, the remaining
// pending futures are cancelled and that error is returned immediately.
func AsCompleted(ctx context.Context, futures []*Future, timeout, pollingInterval time.Duration, cancelOnException bool, yield func(*Future) error) error {
	if pollingInterval <= 0 {
		pollingInterval = DefaultPollInterval
	}

	pending := make(map[*Future]struct{}, len(futures))
	for _, f := range futures {
		pending[f] = struct{}{}
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		for f := range pending {
			if !f.Done() {
				continue
			}
			delete(pending, f)
			if err := yield(f); err != nil {
				if cancelOnException {
					cancelPending(ctx, pending)
				}
				return err
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			cancelPending(ctx, pending)
			return hpcerrors.New(hpcerrors.Timeout, "as_completed timed out with futures still pending")
		}

		select {
		case <-ctx.Done():
			cancelPending(ctx, pending)
			return hpcerrors.WithCause(hpcerrors.ContextCanceled, "as_completed context cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func cancelPending(ctx context.Context, pending map[*Future]struct{}) {
	for f := range pending {
		f.Cancel(ctx)
	}
}
