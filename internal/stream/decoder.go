package stream

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	applog "appgen/internal/log"
	"appgen/internal/metrics"
)

const readChunkSize = 32 * 1024

// Decoder reassembles events from arbitrarily split chunks of the stream.
// It is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	decoded int
	dropped int
	logger  zerolog.Logger
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{logger: applog.WithComponent("stream")}
}

// Feed appends chunk to the pending buffer and returns every event completed
// by it, in order. An incomplete trailing line stays buffered.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)
	var out []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]
		if ev, ok := d.parse(line); ok {
			out = append(out, ev)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Flush handles end-of-stream: a final unterminated frame is parsed with the
// same drop policy as any other line. The buffer is empty afterwards.
func (d *Decoder) Flush() []Event {
	rest := string(d.buf)
	d.buf = nil
	if ev, ok := d.parse(rest); ok {
		return []Event{ev}
	}
	return nil
}

// Decoded returns the number of events produced so far.
func (d *Decoder) Decoded() int { return d.decoded }

// Dropped returns the number of prefixed lines that failed to parse.
func (d *Decoder) Dropped() int { return d.dropped }

// Decode reads r until EOF, calling fn for each event in arrival order.
// It returns nil on a clean end of stream, ctx.Err() when cancelled, fn's
// error if fn fails, or the read error otherwise.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, fn func(Event) error) error {
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			for _, ev := range d.Feed(chunk[:n]) {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(ev); err != nil {
					return err
				}
			}
		}
		if rerr == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(rerr, io.EOF) {
			return rerr
		}
		for _, ev := range d.Flush() {
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	}
}

func (d *Decoder) parse(line string) (Event, bool) {
	ev, err := ParseFrame(line)
	switch {
	case err == nil:
		d.decoded++
		metrics.FramesDecoded.Inc()
		return ev, true
	case errors.Is(err, ErrNotFrame):
		return Event{}, false
	default:
		d.dropped++
		metrics.FramesDropped.Inc()
		d.logger.Debug().Err(err).Int("dropped", d.dropped).Msg("dropping malformed frame")
		return Event{}, false
	}
}
