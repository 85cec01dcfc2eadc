package trace

import "errors"

// TeeTracer streams events to a writer while keeping the latest ones in a
// ring for failure dumps. It backs ModeBoth.
type TeeTracer struct {
	Stream *StreamTracer
	Ring   *RingTracer
	level  Level
}

// NewTeeTracer pairs a stream and a ring under one level.
func NewTeeTracer(level Level, stream *StreamTracer, ring *RingTracer) *TeeTracer {
	return &TeeTracer{Stream: stream, Ring: ring, level: level}
}

// Emit hands each side its own copy so the ring keeps the sequence number the
// stream assigned.
func (t *TeeTracer) Emit(ev *Event) {
	if !t.level.ShouldEmit(ev.Scope) {
		return
	}
	if ev.Seq == 0 {
		ev.Seq = NextSeq()
	}
	streamed, kept := *ev, *ev
	t.Stream.Emit(&streamed)
	t.Ring.Emit(&kept)
}

// Flush flushes the stream; the ring has nothing buffered.
func (t *TeeTracer) Flush() error { return t.Stream.Flush() }

// Close closes both sides.
func (t *TeeTracer) Close() error {
	return errors.Join(t.Stream.Close(), t.Ring.Close())
}

func (t *TeeTracer) Level() Level  { return t.level }
func (t *TeeTracer) Enabled() bool { return t.level > LevelOff }
