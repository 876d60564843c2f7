// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Wrap converts a generic error into a structured HPCError, classifying network and
// context errors along the way. Errors already of type *HPCError pass through unchanged.
func Wrap(err error) *HPCError {
	if err == nil {
		return nil
	}

	var hpcErr *HPCError
	if stderrors.As(err, &hpcErr) {
		return hpcErr
	}

	if stderrors.Is(err, context.Canceled) {
		return WithCause(ContextCanceled, "operation was canceled", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return WithCause(DeadlineExceeded, "operation timed out", err)
	}

	if netErr := classifyNetworkError(err); netErr != nil {
		return netErr
	}

	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return classifyURLError(urlErr)
	}

	return WithCause(Unknown, err.Error(), err)
}

func classifyNetworkError(err error) *HPCError {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, context.Canceled) {
		return WithCause(ContextCanceled, "operation was canceled", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return WithCause(DeadlineExceeded, "operation deadline exceeded", err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return WithCause(NetworkTimeout, "network operation timed out", err)
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return WithCause(ConnectionRefused, "connection refused by Flux bridge", err)
	case strings.Contains(errStr, "timeout"):
		return WithCause(NetworkTimeout, "network timeout", err)
	case strings.Contains(errStr, "connection reset"), strings.Contains(errStr, "broken pipe"):
		return WithCause(ConnectionRefused, "temporary network failure", err)
	}

	return nil
}

func classifyURLError(urlErr *url.Error) *HPCError {
	if netErr := classifyNetworkError(urlErr.Err); netErr != nil {
		return netErr
	}
	return WithCause(NetworkTimeout, "url error: "+urlErr.Op, urlErr)
}

// NewSubmissionError builds a SubmissionFailed error for a backend's submit invocation,
// capturing the subprocess stdout/stderr as Details.
func NewSubmissionError(backend string, cause error, stdout, stderr string) *HPCError {
	err := WithCause(SubmissionFailed, fmt.Sprintf("submission failed for backend %q", backend), cause)
	err.Backend = backend
	if stderr != "" {
		err.Details = stderr
	} else if stdout != "" {
		err.Details = stdout
	}
	return err
}

// NewAccountingError builds an AccountingUnavailable error after a backend's poll retry
// budget is exhausted without accounting data for jobID.
func NewAccountingError(backend, jobID string, tries int, cause error) *HPCError {
	err := WithCause(AccountingUnavailable, fmt.Sprintf("accounting data for job %s not available after %d attempts", jobID, tries), cause)
	err.Backend = backend
	err.JobID = jobID
	return err
}

// NewMissingBinaryError builds a MissingBinary error for an executable not found on PATH.
func NewMissingBinaryError(backend, exe string) *HPCError {
	err := New(MissingBinary, fmt.Sprintf("executable %q not found on PATH", exe))
	err.Backend = backend
	return err
}

// NewTopologyError builds an InvalidTopology error for a resource request that could not
// be resolved against the discovered topology.
func NewTopologyError(detail string) *HPCError {
	err := New(InvalidTopology, "unable to resolve resource request against discovered topology")
	err.Details = detail
	return err
}

// IsRetryable reports whether err indicates an operation that may be retried.
func IsRetryable(err error) bool {
	var hpcErr *HPCError
	if stderrors.As(err, &hpcErr) {
		return hpcErr.IsRetryable()
	}
	return false
}

// IsTemporary reports whether err is likely transient.
func IsTemporary(err error) bool {
	var hpcErr *HPCError
	if stderrors.As(err, &hpcErr) {
		return hpcErr.IsTemporary()
	}
	return false
}

// Code extracts the ErrorCode from err, or Unknown if err is not an *HPCError.
func Code(err error) ErrorCode {
	var hpcErr *HPCError
	if stderrors.As(err, &hpcErr) {
		return hpcErr.Code
	}
	return Unknown
}

// IsTimeout reports whether err is a Timeout error.
func IsTimeout(err error) bool {
	return Code(err) == Timeout
}

// IsJobCancelled reports whether err is a JobCancelled error.
func IsJobCancelled(err error) bool {
	return Code(err) == JobCancelled
}
