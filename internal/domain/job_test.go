package domain

import "testing"

func TestJobTransitionSticksAtTerminal(t *testing.T) {
	j := NewJob(JobKindImage, 1, 1, JobPayload{Prompt: "p"})

	if j.Status() != JobStatusQueued {
		t.Fatalf("new job status = %q, want queued", j.Status())
	}
	if !j.Transition(JobStatusRunning) {
		t.Fatalf("queued -> running must be recorded")
	}
	if !j.Transition(JobStatusCanceled) {
		t.Fatalf("running -> canceled must be recorded")
	}
	if j.Transition(JobStatusDone) {
		t.Fatalf("terminal status must not be overwritten")
	}
	if j.Status() != JobStatusCanceled {
		t.Fatalf("status = %q, want canceled to stick", j.Status())
	}
}

func TestJobSnapshotCapturesTrackedState(t *testing.T) {
	j := NewJob(JobKindVideo, 7, 9, JobPayload{Prompt: "p"})
	j.Transition(JobStatusRunning)
	j.SetAttempt(2)
	j.SetLastError("transient engine failure")
	j.SetLastMessage("running (attempt 2)")
	res := &JobResult{Filename: "clip.mp4", MIME: "video/mp4"}
	j.SetResult(res)

	snap := j.Snapshot()
	if snap.Status != JobStatusRunning || snap.Attempt != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.LastError != "transient engine failure" || snap.LastMessage != "running (attempt 2)" {
		t.Fatalf("snapshot messages = %+v", snap)
	}
	if snap.Result != res {
		t.Fatalf("snapshot result = %+v, want the recorded result", snap.Result)
	}

	// Later writes must not show through an already-taken snapshot.
	j.SetAttempt(3)
	if snap.Attempt != 2 {
		t.Fatalf("snapshot attempt mutated to %d", snap.Attempt)
	}
}
