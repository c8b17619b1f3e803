package session

import (
	"context"
	"errors"
	"time"

	"appgen/internal/artifact"
	"appgen/internal/metrics"
	"appgen/internal/progress"
	"appgen/internal/stream"
)

type activation struct {
	path      string
	token     string
	expiresAt time.Time
}

// consume reads the event stream of session gen until it ends, the session
// turns terminal, or the session is replaced.
func (c *Controller) consume(ctx context.Context, gen uint64, prompt string) {
	defer c.wg.Done()

	body, err := c.streamer.OpenStream(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			c.fail(gen, MsgCanceled, ctx.Err())
			return
		}
		c.fail(gen, MsgConnectFailed, err)
		return
	}
	defer body.Close()
	// unblock a pending Read once the session is cleared or replaced
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	dec := stream.NewDecoder()
	events := 0
	err = dec.Decode(ctx, body, func(ev stream.Event) error {
		events++
		if !c.apply(gen, ev) {
			return errStopReading
		}
		return nil
	})
	if dec.Dropped() > 0 {
		c.logger.Debug().Uint64("gen", gen).Int("dropped", dec.Dropped()).Msg("malformed frames dropped")
	}

	switch {
	case err == nil || errors.Is(err, errStopReading):
		c.fail(gen, MsgEndedEarly, nil)
	case ctx.Err() != nil:
		c.fail(gen, MsgCanceled, ctx.Err())
	case events == 0:
		c.fail(gen, MsgConnectFailed, err)
	default:
		c.fail(gen, MsgConnectionLost, err)
	}
}

// apply runs one event through the stage machine. It returns false once the
// stream should no longer be read.
func (c *Controller) apply(gen uint64, ev stream.Event) bool {
	c.opMu.Lock()
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.opMu.Unlock()
		return false
	}

	tr := c.machine.Apply(ev.Update())
	c.mirrorLocked()

	var act *activation
	var result *progress.Result
	switch {
	case tr.Entered(progress.PhaseCompleted):
		c.active = false
		c.completeLocked(ev)
		if ev.HasPreview() {
			c.previewGen = gen
			act = &activation{path: ev.PreviewPath, token: ev.PreviewToken, expiresAt: ev.ExpiresAt()}
			if act.expiresAt.IsZero() {
				act.expiresAt = c.now().Add(DefaultPreviewLifetime)
			}
		}
		result = &progress.Result{SessionID: c.id, Phase: progress.PhaseCompleted}
	case tr.Entered(progress.PhaseFailed):
		c.active = false
		result = &progress.Result{SessionID: c.id, Phase: progress.PhaseFailed, Failure: c.machine.Failure()}
	}
	terminal := c.machine.Phase().Terminal()
	c.mu.Unlock()

	if act != nil {
		c.preview.Activate(act.path, act.token, act.expiresAt)
	}
	c.opMu.Unlock()

	if tr.Applied {
		c.logger.Debug().
			Uint64("gen", gen).
			Str("status", string(ev.Status)).
			Str("stage", string(ev.Stage)).
			Str("phase", tr.To.String()).
			Msg("event applied")
	}
	if result != nil {
		c.finished(*result)
	}
	c.report()
	if result != nil {
		c.emitResult(*result)
	}
	return !terminal
}

// fail ends session gen with msg unless it is stale or already terminal.
func (c *Controller) fail(gen uint64, msg string, cause error) {
	c.opMu.Lock()
	c.mu.Lock()
	if gen != c.gen || c.machine.Phase().Terminal() {
		c.mu.Unlock()
		c.opMu.Unlock()
		return
	}
	c.machine.Fail(msg)
	c.active = false
	c.mirrorLocked()
	result := progress.Result{SessionID: c.id, Phase: progress.PhaseFailed, Failure: msg, Err: cause}
	c.mu.Unlock()
	c.opMu.Unlock()

	c.finished(result)
	c.report()
	c.emitResult(result)
}

func (c *Controller) finished(r progress.Result) {
	metrics.Sessions.WithLabelValues(r.Phase.String()).Inc()
	if r.Phase == progress.PhaseFailed {
		c.logger.Error().Err(r.Err).Str("session_id", r.SessionID).Str("failure", r.Failure).Msg("session failed")
		return
	}
	c.logger.Info().Str("session_id", r.SessionID).Msg("session completed")
}

func (c *Controller) completeLocked(ev stream.Event) {
	c.art.count = ev.ArtifactItemCount
	if !ev.HasArtifact() {
		return
	}
	data, err := artifact.Decode(ev.ArtifactPayload)
	if err != nil {
		c.art.err = err
		c.logger.Warn().Err(err).Str("session_id", c.id).Msg("artifact decode failed")
		return
	}
	c.art.data = data
	c.art.ready = true
	if entries, err := artifact.Inspect(data); err == nil {
		c.art.entries = entries
	}
}

// mirrorLocked shows the latest status message in place of the placeholder.
func (c *Controller) mirrorLocked() {
	if c.statusIdx > 0 && c.statusIdx < len(c.messages) {
		c.messages[c.statusIdx].Text = c.machine.Message()
	}
}

func (c *Controller) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now()
}
