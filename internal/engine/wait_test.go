package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"renderbot/internal/domain"
)

var fastWait = WaitConfig{
	PollInterval:    time.Millisecond,
	QueueCheckAfter: 2,
	GraceRetries:    3,
	GraceDelay:      time.Millisecond,
}

func TestWaitForResultSuccess(t *testing.T) {
	var historyCalls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/history/"):
			if historyCalls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{}`))
				return
			}
			_, _ = w.Write([]byte(`{"h1": {"outputs": {"8": {"videos": [{"filename": "done.mp4", "type": "output"}]}}}}`))
		case r.URL.Path == "/view":
			_, _ = w.Write([]byte("video-bytes"))
		case r.URL.Path == "/queue":
			_, _ = w.Write([]byte(`{"queue_running": [[0, "h1"]], "queue_pending": []}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	res, err := c.WaitForResult(context.Background(), "h1", 5*time.Second, fastWait)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Filename != "done.mp4" {
		t.Fatalf("filename = %q", res.Filename)
	}
	if res.MIME != "video/mp4" {
		t.Fatalf("mime = %q", res.MIME)
	}
	if string(res.Data) != "video-bytes" {
		t.Fatalf("data = %q", res.Data)
	}
}

func TestWaitForResultSilentFailureAfterGrace(t *testing.T) {
	var historyCalls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/history/"):
			historyCalls.Add(1)
			_, _ = w.Write([]byte(`{}`))
		case r.URL.Path == "/queue":
			_, _ = w.Write([]byte(`{"queue_running": [], "queue_pending": []}`))
		}
	}))

	_, err := c.WaitForResult(context.Background(), "gone", 5*time.Second, fastWait)
	var silent *domain.SilentFailureError
	if !errors.As(err, &silent) {
		t.Fatalf("error = %v, want SilentFailureError", err)
	}
	if silent.Handle != "gone" {
		t.Fatalf("handle = %q", silent.Handle)
	}
	// The empty history is re-checked once per grace retry after the queue
	// first comes back empty.
	min := int32(fastWait.QueueCheckAfter + fastWait.GraceRetries)
	if got := historyCalls.Load(); got <= min {
		t.Fatalf("history calls = %d, want more than %d", got, min)
	}
	if domain.Retryable(err) != true {
		t.Fatalf("silent failure should be retryable at the job level")
	}
}

func TestWaitForResultHistoryWithoutOutputsFailsImmediately(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/history/"):
			_, _ = w.Write([]byte(`{"h2": {"outputs": {}, "status": {"status_str": "error", "completed": false}}}`))
		case r.URL.Path == "/queue":
			_, _ = w.Write([]byte(`{"queue_running": [], "queue_pending": []}`))
		}
	}))

	start := time.Now()
	_, err := c.WaitForResult(context.Background(), "h2", 5*time.Second, fastWait)
	var silent *domain.SilentFailureError
	if !errors.As(err, &silent) {
		t.Fatalf("error = %v, want SilentFailureError", err)
	}
	if silent.EngineStatus != "error" {
		t.Fatalf("engine status = %q, want error", silent.EngineStatus)
	}
	// No grace loop: the engine has already said how the job ended.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("took %v, expected a fast failure", elapsed)
	}
}

func TestWaitForResultTimeout(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/history/"):
			_, _ = w.Write([]byte(`{}`))
		case r.URL.Path == "/queue":
			// Still pending, so the silent-failure path never triggers.
			_, _ = w.Write([]byte(`{"queue_running": [], "queue_pending": [[0, "slow"]]}`))
		}
	}))

	_, err := c.WaitForResult(context.Background(), "slow", 50*time.Millisecond, fastWait)
	var timeout *domain.WaitTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("error = %v, want WaitTimeoutError", err)
	}
	if timeout.Handle != "slow" {
		t.Fatalf("handle = %q", timeout.Handle)
	}
}

func TestWaitForResultHonorsContext(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.WaitForResult(ctx, "h3", time.Minute, fastWait)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestWaitForResultRetriesFailedFetch(t *testing.T) {
	var viewCalls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/history/"):
			_, _ = w.Write([]byte(`{"h4": {"outputs": {"2": {"images": [{"filename": "a.png"}]}}}}`))
		case r.URL.Path == "/view":
			if viewCalls.Add(1) < 2 {
				// Empty body: the artifact is still flushing to disk.
				return
			}
			_, _ = w.Write([]byte("pixels"))
		}
	}))

	res, err := c.WaitForResult(context.Background(), "h4", 5*time.Second, fastWait)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(res.Data) != "pixels" {
		t.Fatalf("data = %q", res.Data)
	}
}
