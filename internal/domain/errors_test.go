package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", ErrJobCanceled, false},
		{"wrapped canceled", fmt.Errorf("attempt: %w", ErrJobCanceled), false},
		{"rejected", &SubmissionRejectedError{Reason: "bad graph"}, false},
		{"wrapped rejected", fmt.Errorf("submit: %w", &SubmissionRejectedError{Reason: "x"}), false},
		{"silent failure", &SilentFailureError{Handle: "h"}, true},
		{"timeout", &WaitTimeoutError{Handle: "h", Elapsed: "10m"}, true},
		{"download", &DownloadError{Filename: "f", Err: errors.New("refused")}, true},
		{"generic", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestSilentFailureErrorMessage(t *testing.T) {
	base := &SilentFailureError{Handle: "h-1"}
	if got := base.Error(); got != "engine completed h-1 without outputs (resource exhaustion suspected)" {
		t.Fatalf("message = %q", got)
	}
	withStatus := &SilentFailureError{Handle: "h-1", EngineStatus: "error"}
	if got := withStatus.Error(); got != "engine completed h-1 without outputs (resource exhaustion suspected): error" {
		t.Fatalf("message = %q", got)
	}
}

func TestDownloadErrorUnwrap(t *testing.T) {
	inner := errors.New("status 500")
	err := &DownloadError{Filename: "a.mp4", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("expected Unwrap to expose the inner error")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusDone, JobStatusFailed, JobStatusCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%q must be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusRetrying} {
		if s.Terminal() {
			t.Fatalf("%q must not be terminal", s)
		}
	}
}

func TestJobCancellationFlag(t *testing.T) {
	j := NewJob(JobKindImage, 1, 1, JobPayload{Prompt: "p"})
	if j.ID == "" {
		t.Fatalf("missing job id")
	}
	if j.Canceled() {
		t.Fatalf("fresh job must not be canceled")
	}
	j.MarkCanceled()
	if !j.Canceled() {
		t.Fatalf("flag not observed")
	}
}
