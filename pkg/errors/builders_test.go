// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPassesThroughHPCError(t *testing.T) {
	original := New(InvalidTopology, "bad topology")
	assert.Same(t, original, Wrap(original))
}

func TestWrapContextErrors(t *testing.T) {
	assert.Equal(t, ContextCanceled, Wrap(context.Canceled).Code)
	assert.Equal(t, DeadlineExceeded, Wrap(context.DeadlineExceeded).Code)
}

func TestWrapUnknown(t *testing.T) {
	err := Wrap(stderrors.New("something else"))
	assert.Equal(t, Unknown, err.Code)
}

func TestWrapNetworkPatterns(t *testing.T) {
	assert.Equal(t, ConnectionRefused, Wrap(stderrors.New("dial tcp: connection refused")).Code)
	assert.Equal(t, NetworkTimeout, Wrap(stderrors.New("context: timeout exceeded")).Code)
}

func TestNewSubmissionError(t *testing.T) {
	err := NewSubmissionError("slurm", stderrors.New("exit status 1"), "", "sbatch: error: Batch job submission failed")
	assert.Equal(t, SubmissionFailed, err.Code)
	assert.Equal(t, "slurm", err.Backend)
	assert.Contains(t, err.Details, "Batch job submission failed")
}

func TestNewAccountingError(t *testing.T) {
	err := NewAccountingError("slurm", "12345", 20, nil)
	assert.Equal(t, AccountingUnavailable, err.Code)
	assert.Equal(t, "12345", err.JobID)
	assert.True(t, err.IsRetryable())
}

func TestNewMissingBinaryError(t *testing.T) {
	err := NewMissingBinaryError("pbs", "qsub")
	assert.Equal(t, MissingBinary, err.Code)
	assert.Contains(t, err.Message, "qsub")
}

func TestNewTopologyError(t *testing.T) {
	err := NewTopologyError("requested 4 gpus per socket, topology has 2")
	assert.Equal(t, InvalidTopology, err.Code)
	assert.Contains(t, err.Details, "4 gpus")
}

func TestIsRetryableAndTemporary(t *testing.T) {
	retryable := New(AccountingUnavailable, "x")
	notRetryable := New(InvalidTopology, "x")
	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsRetryable(notRetryable))
	assert.True(t, IsTemporary(retryable))
}

func TestCodeHelpers(t *testing.T) {
	assert.Equal(t, Unknown, Code(stderrors.New("plain")))
	assert.True(t, IsTimeout(New(Timeout, "x")))
	assert.True(t, IsJobCancelled(New(JobCancelled, "x")))
}
