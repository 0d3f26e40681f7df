package domain

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusRetrying JobStatus = "retrying"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// Terminal reports whether a status is final. Terminal statuses are reported
// to the caller exactly once and never transitioned out of.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// JobPayload carries the caller-provided generation parameters. The pipeline
// interprets it per kind; the queue treats it as opaque.
type JobPayload struct {
	Prompt         string
	NegativePrompt string
	WorkflowName   string
	InputImageName string
	Quality        bool
	Locale         string
}

// StatusObserver receives every status transition with a human-readable message.
type StatusObserver func(job *Job, status JobStatus, message string)

// DoneCallback receives the job result after a successful run.
type DoneCallback func(job *Job, result *JobResult)

// ErrorCallback receives the terminal error after the retry budget is spent.
type ErrorCallback func(job *Job, err error)

// JobResult describes the artifact produced for a completed job.
type JobResult struct {
	Filename   string
	MIME       string
	StorageKey string
	Size       int64
	PresetName string
}

// Job is one unit of generation work. Identity and admission parameters are
// fixed before enqueue and never change; the tracked execution state behind
// the mutex is written by the executing worker while status lookups read it
// from other goroutines.
type Job struct {
	ID     string
	Kind   JobKind
	UserID int64
	ChatID int64

	Payload JobPayload

	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	CreatedAt time.Time

	mu          sync.Mutex
	status      JobStatus
	attempt     int
	lastError   string
	lastMessage string
	result      *JobResult

	canceled atomic.Bool

	OnStatus StatusObserver
	OnDone   DoneCallback
	OnError  ErrorCallback
}

// NewJob constructs a queued job with a fresh identifier.
func NewJob(kind JobKind, userID, chatID int64, payload JobPayload) *Job {
	return &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		UserID:      userID,
		ChatID:      chatID,
		Payload:     payload,
		Timeout:     10 * time.Minute,
		MaxRetries:  2,
		BackoffBase: 2 * time.Second,
		BackoffMax:  30 * time.Second,
		status:      JobStatusQueued,
		CreatedAt:   time.Now(),
	}
}

// Status returns the last recorded lifecycle status.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Transition records a new status unless a terminal status was already
// recorded. Terminal statuses are sticky; the report of false tells the
// caller no observer notification is due.
func (j *Job) Transition(status JobStatus) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	return true
}

// Attempt returns the current attempt counter.
func (j *Job) Attempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempt
}

// SetAttempt records the attempt counter.
func (j *Job) SetAttempt(n int) {
	j.mu.Lock()
	j.attempt = n
	j.mu.Unlock()
}

// LastError returns the text of the most recent attempt failure.
func (j *Job) LastError() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastError
}

// SetLastError records an attempt failure's text.
func (j *Job) SetLastError(msg string) {
	j.mu.Lock()
	j.lastError = msg
	j.mu.Unlock()
}

// LastMessage returns the most recent human-readable status message.
func (j *Job) LastMessage() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastMessage
}

// SetLastMessage records a human-readable status message.
func (j *Job) SetLastMessage(msg string) {
	j.mu.Lock()
	j.lastMessage = msg
	j.mu.Unlock()
}

// Result returns the produced artifact descriptor, nil until completion.
func (j *Job) Result() *JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// SetResult records the produced artifact descriptor.
func (j *Job) SetResult(r *JobResult) {
	j.mu.Lock()
	j.result = r
	j.mu.Unlock()
}

// JobSnapshot is a consistent copy of a job's tracked execution state.
type JobSnapshot struct {
	Status      JobStatus
	Attempt     int
	LastError   string
	LastMessage string
	Result      *JobResult
}

// Snapshot captures the execution state under one lock acquisition.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		Status:      j.status,
		Attempt:     j.attempt,
		LastError:   j.lastError,
		LastMessage: j.lastMessage,
		Result:      j.result,
	}
}

// MarkCanceled sets the cooperative cancellation flag. Workers observe it at
// attempt boundaries and at poll ticks; in-flight network calls are not
// aborted.
func (j *Job) MarkCanceled() {
	j.canceled.Store(true)
}

// Canceled reports whether cancellation has been requested.
func (j *Job) Canceled() bool {
	return j.canceled.Load()
}
