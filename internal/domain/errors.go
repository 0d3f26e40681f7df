package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobCanceled signals a user-initiated cancellation. Never retried.
	ErrJobCanceled = errors.New("job canceled")
	// ErrQueueStopped is returned by Enqueue after the queue shut down.
	ErrQueueStopped = errors.New("queue stopped")
	// ErrNotFound covers lookups of unknown job or user identifiers.
	ErrNotFound = errors.New("not found")
)

// SubmissionRejectedError means the engine refused the job graph outright.
// The same parameters are never resubmitted.
type SubmissionRejectedError struct {
	Reason string
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("engine rejected submission: %s", e.Reason)
}

// SilentFailureError means the engine accepted the job, is no longer running
// it, and produced no retrievable output. ResourceExhaustion is set when the
// recorded engine error matches a known out-of-memory signature.
type SilentFailureError struct {
	Handle       string
	EngineStatus string
}

func (e *SilentFailureError) Error() string {
	msg := fmt.Sprintf("engine completed %s without outputs (resource exhaustion suspected)", e.Handle)
	if e.EngineStatus != "" {
		msg += ": " + e.EngineStatus
	}
	return msg
}

// WaitTimeoutError means the completion deadline elapsed with no resolvable
// artifact. Retryable at the job level.
type WaitTimeoutError struct {
	Handle  string
	Elapsed string
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("no response from engine for %s within %s", e.Handle, e.Elapsed)
}

// DownloadError means an artifact was located but its bytes could not be
// fetched after the gateway's internal retries.
type DownloadError struct {
	Filename string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Filename, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Retryable reports whether the queue should spend a retry on err. Rejected
// submissions are deterministic validation failures and cancellation is
// terminal; everything else (network, timeout, silent failure, download) may
// succeed on a fresh attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrJobCanceled) {
		return false
	}
	var rejected *SubmissionRejectedError
	return !errors.As(err, &rejected)
}
