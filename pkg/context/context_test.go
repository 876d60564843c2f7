// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package context

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureTimeout(t *testing.T) {
	t.Run("no existing deadline", func(t *testing.T) {
		ctx := context.Background()
		defaultTimeout := 30 * time.Second

		timeoutCtx, cancel := EnsureTimeout(ctx, defaultTimeout)
		defer cancel()

		deadline, hasDeadline := timeoutCtx.Deadline()
		assert.True(t, hasDeadline)

		expectedDeadline := time.Now().Add(defaultTimeout)
		assert.WithinDuration(t, expectedDeadline, deadline, 100*time.Millisecond)
	})

	t.Run("existing deadline", func(t *testing.T) {
		existingDeadline := time.Now().Add(1 * time.Hour)
		ctx, cancel := context.WithDeadline(context.Background(), existingDeadline)
		defer cancel()

		timeoutCtx, cancelFunc := EnsureTimeout(ctx, 30*time.Second)

		// Cancel function should be a no-op
		cancelFunc()

		actualDeadline, hasDeadline := timeoutCtx.Deadline()
		assert.True(t, hasDeadline)
		assert.Equal(t, existingDeadline, actualDeadline)
		assert.Equal(t, ctx, timeoutCtx)
	})

	t.Run("zero default timeout", func(t *testing.T) {
		ctx := context.Background()

		timeoutCtx, cancel := EnsureTimeout(ctx, 0)
		defer cancel()

		deadline, hasDeadline := timeoutCtx.Deadline()
		assert.True(t, hasDeadline)

		// Should use DefaultTimeout
		expectedDeadline := time.Now().Add(DefaultTimeout)
		assert.WithinDuration(t, expectedDeadline, deadline, 100*time.Millisecond)
	})
}

func TestDefaultTimeoutConstant(t *testing.T) {
	assert.Equal(t, 30*time.Second, DefaultTimeout)
}
