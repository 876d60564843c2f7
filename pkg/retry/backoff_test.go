// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantBackoffStopsAfterMaxAttempts(t *testing.T) {
	b := NewConstantBackoff(time.Millisecond, 3)
	for i := 0; i < 3; i++ {
		delay, ok := b.NextDelay(i)
		assert.True(t, ok)
		assert.Equal(t, time.Millisecond, delay)
	}
	_, ok := b.NextDelay(3)
	assert.False(t, ok)
}

func TestRetryWithResultReturnsFirstSuccess(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), NewConstantBackoff(time.Millisecond, 5), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("not ready")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithResultExhaustsAttempts(t *testing.T) {
	attempts := 0
	_, err := RetryWithResult(context.Background(), NewConstantBackoff(time.Millisecond, 2), func() (int, error) {
		attempts++
		return 0, errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts) // attempts 0, 1 and 2 run; NextDelay(2) then stops the loop
}

func TestRetryWithResultStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryWithResult(ctx, NewConstantBackoff(time.Second, 5), func() (int, error) {
		return 0, errors.New("fails")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
