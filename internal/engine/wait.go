package engine

import (
	"context"
	"time"

	"renderbot/internal/domain"
)

// WaitConfig tunes the completion polling loop. Zero values fall back to the
// production defaults; tests shrink the intervals.
type WaitConfig struct {
	// PollInterval separates history checks.
	PollInterval time.Duration
	// QueueCheckAfter is the number of ticks before the queue snapshot is
	// consulted, avoiding spurious failures on jobs the engine has not yet
	// registered.
	QueueCheckAfter int
	// GraceRetries bounds the extra "empty history" checks allowed after a
	// submission vanished from the queue without any history entry; some
	// engines report completion before history is queryable.
	GraceRetries int
	// GraceDelay separates those extra checks.
	GraceDelay time.Duration
}

func (c WaitConfig) withDefaults() WaitConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.QueueCheckAfter <= 0 {
		c.QueueCheckAfter = 3
	}
	if c.GraceRetries <= 0 {
		c.GraceRetries = 5
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = 2 * time.Second
	}
	return c
}

// Result is a downloaded artifact ready for delivery.
type Result struct {
	Ref      ArtifactRef
	Filename string
	MIME     string
	Data     []byte
}

// WaitForResult polls until the submission yields an artifact, is confirmed
// gone from the engine's queue with no output (silent failure), or the
// timeout elapses. Cancellation is observed at tick boundaries through ctx.
func (c *Client) WaitForResult(ctx context.Context, handle string, timeout time.Duration, cfg WaitConfig) (*Result, error) {
	cfg = cfg.withDefaults()
	deadline := time.Now().Add(timeout)
	ticks := 0
	graceLeft := cfg.GraceRetries

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ticks++

		h := c.History(ctx, handle)
		if ref, ok := Resolve(h, handle); ok {
			data, err := c.FetchArtifact(ctx, ref)
			if err == nil && len(data) > 0 {
				if c.logger != nil {
					c.logger.Info().Str("handle", handle).Int("ticks", ticks).Str("filename", ref.Filename).Msg("engine: result ready")
				}
				return &Result{Ref: ref, Filename: ref.Filename, MIME: ref.MIME(), Data: data}, nil
			}
			// Fetch failed or returned nothing; the artifact may still be
			// flushing, retry on the next tick.
			if c.logger != nil {
				c.logger.Warn().Err(err).Str("handle", handle).Str("filename", ref.Filename).Msg("engine: artifact fetch failed, retrying")
			}
		} else if ticks > cfg.QueueCheckAfter {
			running, pending := c.QueueSnapshot(ctx)
			if !containsHandle(running, handle) && !containsHandle(pending, handle) {
				entry, seen := h[handle]
				if !seen {
					if graceLeft > 0 {
						graceLeft--
						if err := sleepCtx(ctx, cfg.GraceDelay); err != nil {
							return nil, err
						}
						continue
					}
					c.setLastError("engine completed submission without outputs")
					return nil, &domain.SilentFailureError{Handle: handle}
				}
				// History exists but carries nothing resolvable: the engine
				// finished without producing an artifact.
				c.setLastError("engine completed submission without outputs")
				return nil, &domain.SilentFailureError{Handle: handle, EngineStatus: entry.Status.StatusStr}
			}
		}

		if err := sleepCtx(ctx, cfg.PollInterval); err != nil {
			return nil, err
		}
	}

	err := &domain.WaitTimeoutError{Handle: handle, Elapsed: timeout.String()}
	c.setLastError(err.Error())
	return nil, err
}

func containsHandle(handles []string, handle string) bool {
	for _, h := range handles {
		if h == handle {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
