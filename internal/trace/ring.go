package trace

import (
	"io"
	"sync"
)

// RingTracer keeps the most recent events of a run in memory so a failed
// resolution can be replayed after the fact.
type RingTracer struct {
	mu    sync.Mutex
	buf   []Event
	next  int // slot the next event is written to
	count int // stored events, at most len(buf)
	level Level
}

// NewRingTracer creates a RingTracer holding up to capacity events.
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingTracer{buf: make([]Event, capacity), level: level}
}

// Emit stores a copy of ev, overwriting the oldest event when full.
func (t *RingTracer) Emit(ev *Event) {
	if !t.level.ShouldEmit(ev.Scope) {
		return
	}
	stored := *ev
	if stored.Seq == 0 {
		stored.Seq = NextSeq()
	}

	t.mu.Lock()
	t.buf[t.next] = stored
	t.next = (t.next + 1) % len(t.buf)
	t.count = min(t.count+1, len(t.buf))
	t.mu.Unlock()
}

// Snapshot returns the stored events oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Event, 0, t.count)
	start := (t.next - t.count + len(t.buf)) % len(t.buf)
	for i := range t.count {
		out = append(out, t.buf[(start+i)%len(t.buf)])
	}
	return out
}

// Subtree returns the stored events that belong to span root: the span's own
// begin and end, every span opened beneath it and every point emitted inside
// one of those spans. Events older than the ring are lost, so a subtree whose
// begin was overwritten comes back empty.
func (t *RingTracer) Subtree(root uint64) []Event {
	events := t.Snapshot()
	if root == 0 {
		return events
	}
	inside := map[uint64]bool{root: true}
	out := events[:0]
	for _, ev := range events {
		switch {
		case ev.SpanID != 0 && inside[ev.SpanID]:
		case inside[ev.ParentID]:
			if ev.Kind == KindSpanBegin {
				inside[ev.SpanID] = true
			}
		default:
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Dump writes the events of span root to w; root 0 writes everything kept.
func (t *RingTracer) Dump(w io.Writer, format Format, root uint64) error {
	for _, ev := range t.Subtree(root) {
		if _, err := w.Write(FormatEvent(&ev, format)); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Flush() error  { return nil }
func (t *RingTracer) Close() error  { return nil }
func (t *RingTracer) Level() Level  { return t.level }
func (t *RingTracer) Enabled() bool { return t.level > LevelOff }
